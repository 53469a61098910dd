package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/postdeck/internal/model"
)

// adminBootstrapLockKey は管理者ブートストラップ用のアドバイザリロックキー。
const adminBootstrapLockKey = 7283490113

// pqUniqueViolation はPostgreSQLの一意制約違反エラーコード。
const pqUniqueViolation = "23505"

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(s rowScanner) (*model.User, error) {
	user := &model.User{}
	var role string
	if err := s.Scan(&user.ID, &user.Username, &user.PasswordHash, &role, &user.CreatedAt); err != nil {
		return nil, err
	}
	user.Role = model.Role(role)
	return user, nil
}

// FindByUsername はユーザー名でユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, role, created_at FROM app_users WHERE username = $1`,
		username,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by username: %w", err)
	}
	return user, nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, role, created_at FROM app_users WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// Create はユーザーを作成する。ユーザー名が重複する場合はErrUsernameTakenを返す。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO app_users (id, username, password_hash, role, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		user.ID, user.Username, user.PasswordHash, string(user.Role), user.CreatedAt,
	)
	if err != nil {
		return wrapInsertUserError(err)
	}
	return nil
}

// CreateFirstAdmin は管理者が1人も存在しない場合に限り管理者を作成する。
// 同時に複数のブートストラップ要求が来てもpg_advisory_xact_lockで直列化される。
func (r *PostgresUserRepo) CreateFirstAdmin(ctx context.Context, user *model.User) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, adminBootstrapLockKey); err != nil {
		return false, fmt.Errorf("failed to acquire bootstrap lock: %w", err)
	}

	var exists bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM app_users WHERE role = 'admin')`,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check existing admin: %w", err)
	}
	if exists {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO app_users (id, username, password_hash, role, created_at)
		 VALUES ($1, $2, $3, 'admin', $4)`,
		user.ID, user.Username, user.PasswordHash, user.CreatedAt,
	); err != nil {
		return false, wrapInsertUserError(err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	user.Role = model.RoleAdmin
	return true, nil
}

// AdminExists は管理者ロールのユーザーが存在するかどうかを返す。
func (r *PostgresUserRepo) AdminExists(ctx context.Context) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM app_users WHERE role = 'admin')`,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check existing admin: %w", err)
	}
	return exists, nil
}

// ListByRole は指定ロールのユーザー一覧をユーザー名昇順で返す。
func (r *PostgresUserRepo) ListByRole(ctx context.Context, role model.Role) ([]*model.User, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, username, password_hash, role, created_at
		 FROM app_users
		 WHERE role = $1
		 ORDER BY username ASC`,
		string(role),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	users := []*model.User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return users, nil
}

// wrapInsertUserError は一意制約違反をErrUsernameTakenに変換する。
func wrapInsertUserError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
		return ErrUsernameTaken
	}
	return fmt.Errorf("failed to insert user: %w", err)
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
