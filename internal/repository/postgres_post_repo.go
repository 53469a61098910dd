package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/postdeck/internal/model"
)

const postColumns = `id, title, platform, scheduled_at, status, copy, assets, media, client_id, author_username, created_at`

// PostgresPostRepo はPostgreSQLを使用した投稿リポジトリ。
type PostgresPostRepo struct {
	db *sql.DB
}

// NewPostgresPostRepo はPostgresPostRepoを生成する。
func NewPostgresPostRepo(db *sql.DB) *PostgresPostRepo {
	return &PostgresPostRepo{db: db}
}

func scanPost(s rowScanner) (*model.Post, error) {
	var (
		p           model.Post
		scheduledAt sql.NullTime
		status      string
		clientID    sql.NullString
		media       []string
	)
	if err := s.Scan(
		&p.ID, &p.Title, &p.Platform, &scheduledAt, &status, &p.Copy, &p.Assets,
		pq.Array(&media), &clientID, &p.AuthorUsername, &p.CreatedAt,
	); err != nil {
		return nil, err
	}
	p.Status = model.PostStatus(status)
	if scheduledAt.Valid {
		t := scheduledAt.Time
		p.ScheduledAt = &t
	}
	if clientID.Valid {
		id := clientID.String
		p.ClientID = &id
	}
	if media == nil {
		media = []string{}
	}
	p.Media = media
	return &p, nil
}

// FindByID は指定IDの投稿を取得する。見つからない場合はnilを返す。
func (r *PostgresPostRepo) FindByID(ctx context.Context, id string) (*model.Post, error) {
	post, err := scanPost(r.db.QueryRowContext(ctx,
		`SELECT `+postColumns+` FROM posts WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find post: %w", err)
	}
	return post, nil
}

// List は投稿一覧をコメント付きでscheduled_at昇順に返す。
// clientIDがnilでない場合はそのクライアントに割り当てられた投稿のみを返す。
func (r *PostgresPostRepo) List(ctx context.Context, clientID *string) ([]model.PostWithComments, error) {
	query := `SELECT ` + postColumns + ` FROM posts`
	var args []any
	if clientID != nil {
		query += ` WHERE client_id = $1`
		args = append(args, *clientID)
	}
	query += ` ORDER BY scheduled_at ASC NULLS LAST, created_at ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	defer rows.Close()

	posts := []model.PostWithComments{}
	index := make(map[string]int)
	var ids []string
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan post: %w", err)
		}
		index[p.ID] = len(posts)
		ids = append(ids, p.ID)
		posts = append(posts, model.PostWithComments{Post: *p, Comments: []model.Comment{}})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate posts: %w", err)
	}

	if len(ids) == 0 {
		return posts, nil
	}

	// コメントは投稿IDの一覧でまとめて取得する
	crows, err := r.db.QueryContext(ctx,
		`SELECT id, post_id, body, author_username, created_at
		 FROM comments
		 WHERE post_id = ANY($1::uuid[])
		 ORDER BY created_at ASC`,
		pq.Array(ids),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}
	defer crows.Close()

	for crows.Next() {
		var c model.Comment
		if err := crows.Scan(&c.ID, &c.PostID, &c.Body, &c.AuthorUsername, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}
		if i, ok := index[c.PostID]; ok {
			posts[i].Comments = append(posts[i].Comments, c)
		}
	}
	if err := crows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate comments: %w", err)
	}

	return posts, nil
}

// Create は投稿を作成する。
func (r *PostgresPostRepo) Create(ctx context.Context, post *model.Post) error {
	media := post.Media
	if media == nil {
		media = []string{}
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO posts (id, title, platform, scheduled_at, status, copy, assets, media, client_id, author_username, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		post.ID, post.Title, post.Platform, post.ScheduledAt, string(post.Status), post.Copy, post.Assets,
		pq.Array(media), post.ClientID, post.AuthorUsername, post.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create post: %w", err)
	}
	return nil
}

// UpdateStatus は投稿のステータスを更新する。該当行がない場合はfalseを返す。
func (r *PostgresPostRepo) UpdateStatus(ctx context.Context, id string, status model.PostStatus) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE posts SET status = $1 WHERE id = $2`,
		string(status), id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update post status: %w", err)
	}
	return affected(result)
}

// Delete は投稿を削除する。コメントはCASCADE削除される。
func (r *PostgresPostRepo) Delete(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM posts WHERE id = $1`,
		id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete post: %w", err)
	}
	return affected(result)
}

func affected(result sql.Result) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// compile-time interface check
var _ PostRepository = (*PostgresPostRepo)(nil)
