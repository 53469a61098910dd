package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/postdeck/internal/model"
	"github.com/hitoshi/postdeck/internal/repository"
	"github.com/hitoshi/postdeck/internal/security"
)

// --- モック定義 ---

type mockUserRepo struct {
	findByUsernameFn   func(ctx context.Context, username string) (*model.User, error)
	createFn           func(ctx context.Context, user *model.User) error
	createFirstAdminFn func(ctx context.Context, user *model.User) (bool, error)
	adminExistsFn      func(ctx context.Context) (bool, error)
}

func (m *mockUserRepo) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	if m.findByUsernameFn != nil {
		return m.findByUsernameFn(ctx, username)
	}
	return nil, nil
}

func (m *mockUserRepo) FindByID(_ context.Context, _ string) (*model.User, error) {
	return nil, nil
}

func (m *mockUserRepo) Create(ctx context.Context, user *model.User) error {
	if m.createFn != nil {
		return m.createFn(ctx, user)
	}
	return nil
}

func (m *mockUserRepo) CreateFirstAdmin(ctx context.Context, user *model.User) (bool, error) {
	if m.createFirstAdminFn != nil {
		return m.createFirstAdminFn(ctx, user)
	}
	return true, nil
}

func (m *mockUserRepo) AdminExists(ctx context.Context) (bool, error) {
	if m.adminExistsFn != nil {
		return m.adminExistsFn(ctx)
	}
	return false, nil
}

func (m *mockUserRepo) ListByRole(_ context.Context, _ model.Role) ([]*model.User, error) {
	return nil, nil
}

// --- compile-time interface checks ---
var _ repository.UserRepository = (*mockUserRepo)(nil)

const testCost = 4

func mustHash(t *testing.T, password string) string {
	t.Helper()
	hash, err := HashPassword(password, testCost)
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	return hash
}

func apiErrCode(t *testing.T, err error) string {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *model.APIError, got %T (%v)", err, err)
	}
	return apiErr.Code
}

func apiErrMessage(t *testing.T, err error) string {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *model.APIError, got %T (%v)", err, err)
	}
	return apiErr.Message
}

func aliceRepo(t *testing.T) *mockUserRepo {
	hash := mustHash(t, "correct-horse")
	return &mockUserRepo{
		findByUsernameFn: func(_ context.Context, username string) (*model.User, error) {
			if username != "alice" {
				return nil, nil
			}
			return &model.User{ID: "u-1", Username: "alice", PasswordHash: hash, Role: model.RoleClient}, nil
		},
	}
}

// --- Login ---

func TestLogin_Success(t *testing.T) {
	svc := NewService(aliceRepo(t), nil, nil, ServiceConfig{BcryptCost: testCost})

	user, err := svc.Login(context.Background(), "alice", "correct-horse", "10.0.0.1")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if user.ID != "u-1" || user.Role != model.RoleClient {
		t.Errorf("user = %+v, want u-1/client", user)
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	svc := NewService(aliceRepo(t), nil, nil, ServiceConfig{BcryptCost: testCost})

	_, err := svc.Login(context.Background(), "alice", "wrong", "10.0.0.1")
	if got := apiErrMessage(t, err); got != "Invalid credentials" {
		t.Errorf("message = %q, want Invalid credentials", got)
	}
	if got := apiErrCode(t, err); got != model.ErrCodeUnauthorized {
		t.Errorf("code = %q, want %q", got, model.ErrCodeUnauthorized)
	}
}

func TestLogin_UnknownUserSameError(t *testing.T) {
	svc := NewService(aliceRepo(t), nil, nil, ServiceConfig{BcryptCost: testCost})

	_, err := svc.Login(context.Background(), "mallory", "whatever", "")
	if got := apiErrMessage(t, err); got != "Invalid credentials" {
		t.Errorf("message = %q, want Invalid credentials", got)
	}
}

func TestLogin_MissingCredentials(t *testing.T) {
	svc := NewService(aliceRepo(t), nil, nil, ServiceConfig{BcryptCost: testCost})

	for _, tc := range []struct{ username, password string }{
		{"", "x"},
		{"alice", ""},
		{"   ", "x"},
	} {
		_, err := svc.Login(context.Background(), tc.username, tc.password, "")
		if got := apiErrMessage(t, err); got != "Missing credentials" {
			t.Errorf("(%q,%q): message = %q, want Missing credentials", tc.username, tc.password, got)
		}
	}
}

func TestLogin_StorageErrorPassesThrough(t *testing.T) {
	dbErr := errors.New("db down")
	repo := &mockUserRepo{
		findByUsernameFn: func(context.Context, string) (*model.User, error) {
			return nil, dbErr
		},
	}
	svc := NewService(repo, nil, nil, ServiceConfig{BcryptCost: testCost})

	_, err := svc.Login(context.Background(), "alice", "pw", "")
	if got := apiErrCode(t, err); got != model.ErrCodeStorage {
		t.Errorf("code = %q, want %q", got, model.ErrCodeStorage)
	}
	if got := apiErrMessage(t, err); got != "db down" {
		t.Errorf("message = %q, want db down", got)
	}
	if !errors.Is(err, dbErr) {
		t.Error("cause should be preserved")
	}
}

func TestLogin_ThrottledAfterRepeatedFailures(t *testing.T) {
	limiter := security.NewMemoryLoginLimiter(security.LoginLimiterConfig{MaxAttempts: 2, Window: time.Minute})
	svc := NewService(aliceRepo(t), limiter, nil, ServiceConfig{BcryptCost: testCost})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := svc.Login(ctx, "alice", "wrong", "10.0.0.1"); apiErrCode(t, err) != model.ErrCodeUnauthorized {
			t.Fatalf("attempt %d: expected invalid credentials", i+1)
		}
	}

	// 正しいパスワードでもロックアウト中は拒否される
	_, err := svc.Login(ctx, "alice", "correct-horse", "10.0.0.2")
	if got := apiErrCode(t, err); got != model.ErrCodeRateLimited {
		t.Errorf("code = %q, want %q", got, model.ErrCodeRateLimited)
	}
}

func TestLogin_SuccessResetsThrottle(t *testing.T) {
	limiter := security.NewMemoryLoginLimiter(security.LoginLimiterConfig{MaxAttempts: 2, Window: time.Minute})
	svc := NewService(aliceRepo(t), limiter, nil, ServiceConfig{BcryptCost: testCost})
	ctx := context.Background()

	_, _ = svc.Login(ctx, "alice", "wrong", "")
	if _, err := svc.Login(ctx, "alice", "correct-horse", ""); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	_, _ = svc.Login(ctx, "alice", "wrong", "")
	if _, err := svc.Login(ctx, "alice", "correct-horse", ""); err != nil {
		t.Errorf("throttle should have been reset by the earlier success: %v", err)
	}
}

// --- SetupAdmin ---

// memoryAdminRepo はCreateFirstAdminの排他を再現するインメモリ実装。
type memoryAdminRepo struct {
	mockUserRepo
	mu     sync.Mutex
	admins []*model.User
}

func newMemoryAdminRepo() *memoryAdminRepo {
	r := &memoryAdminRepo{}
	r.adminExistsFn = func(context.Context) (bool, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		return len(r.admins) > 0, nil
	}
	r.createFirstAdminFn = func(_ context.Context, user *model.User) (bool, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		if len(r.admins) > 0 {
			return false, nil
		}
		r.admins = append(r.admins, user)
		return true, nil
	}
	return r
}

func TestSetupAdmin_SucceedsOnceThenConflict(t *testing.T) {
	repo := newMemoryAdminRepo()
	svc := NewService(repo, nil, nil, ServiceConfig{AdminSetupCode: "s3cret", BcryptCost: testCost})
	ctx := context.Background()

	user, err := svc.SetupAdmin(ctx, "boss", "pw", "s3cret")
	if err != nil {
		t.Fatalf("first SetupAdmin failed: %v", err)
	}
	if user.Role != model.RoleAdmin {
		t.Errorf("role = %q, want admin", user.Role)
	}

	for _, code := range []string{"s3cret", "wrong", ""} {
		_, err := svc.SetupAdmin(ctx, "boss2", "pw", code)
		if got := apiErrCode(t, err); got != model.ErrCodeConflict {
			t.Errorf("code %q: got %q, want %q", code, got, model.ErrCodeConflict)
		}
	}
}

func TestSetupAdmin_ConcurrentCreatesOneAdmin(t *testing.T) {
	repo := newMemoryAdminRepo()
	svc := NewService(repo, nil, nil, ServiceConfig{AdminSetupCode: "s3cret", BcryptCost: testCost})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.SetupAdmin(context.Background(), "boss", "pw", "s3cret")
		}()
	}
	wg.Wait()

	if len(repo.admins) != 1 {
		t.Errorf("admins = %d, want 1", len(repo.admins))
	}
}

func TestSetupAdmin_InvalidCode(t *testing.T) {
	tests := []struct {
		name       string
		configured string
		presented  string
	}{
		{"コード不一致", "s3cret", "guess"},
		{"コード未指定", "s3cret", ""},
		{"サーバー側コード未設定", "", ""},
		{"サーバー側コード未設定で任意のコード", "", "anything"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(newMemoryAdminRepo(), nil, nil, ServiceConfig{AdminSetupCode: tt.configured, BcryptCost: testCost})
			_, err := svc.SetupAdmin(context.Background(), "boss", "pw", tt.presented)
			if got := apiErrMessage(t, err); got != "Invalid setup code" {
				t.Errorf("message = %q, want Invalid setup code", got)
			}
			if got := apiErrCode(t, err); got != model.ErrCodeForbidden {
				t.Errorf("code = %q, want %q", got, model.ErrCodeForbidden)
			}
		})
	}
}

func TestSetupAdmin_MissingFields(t *testing.T) {
	svc := NewService(newMemoryAdminRepo(), nil, nil, ServiceConfig{AdminSetupCode: "s3cret", BcryptCost: testCost})

	_, err := svc.SetupAdmin(context.Background(), "", "pw", "s3cret")
	if got := apiErrCode(t, err); got != model.ErrCodeValidation {
		t.Errorf("code = %q, want %q", got, model.ErrCodeValidation)
	}
}

func TestSetupAdmin_LostRaceReturnsConflict(t *testing.T) {
	repo := &mockUserRepo{
		createFirstAdminFn: func(context.Context, *model.User) (bool, error) { return false, nil },
	}
	svc := NewService(repo, nil, nil, ServiceConfig{AdminSetupCode: "s3cret", BcryptCost: testCost})

	_, err := svc.SetupAdmin(context.Background(), "boss", "pw", "s3cret")
	if got := apiErrCode(t, err); got != model.ErrCodeConflict {
		t.Errorf("code = %q, want %q", got, model.ErrCodeConflict)
	}
}

// --- CreateUser ---

func TestCreateUser_Gate(t *testing.T) {
	svc := NewService(&mockUserRepo{}, nil, nil, ServiceConfig{BcryptCost: testCost})
	client := &model.SessionUser{ID: "c", Role: model.RoleClient}

	_, err := svc.CreateUser(context.Background(), nil, "acme", "pw", model.RoleClient)
	if got := apiErrCode(t, err); got != model.ErrCodeUnauthorized {
		t.Errorf("anonymous: code = %q, want %q", got, model.ErrCodeUnauthorized)
	}

	_, err = svc.CreateUser(context.Background(), client, "acme", "pw", model.RoleClient)
	if got := apiErrCode(t, err); got != model.ErrCodeForbidden {
		t.Errorf("client: code = %q, want %q", got, model.ErrCodeForbidden)
	}
}

func TestCreateUser_Validation(t *testing.T) {
	svc := NewService(&mockUserRepo{}, nil, nil, ServiceConfig{BcryptCost: testCost})
	admin := &model.SessionUser{ID: "a", Role: model.RoleAdmin}

	_, err := svc.CreateUser(context.Background(), admin, "acme", "pw", "")
	if got := apiErrMessage(t, err); got != "Missing fields" {
		t.Errorf("message = %q, want Missing fields", got)
	}

	_, err = svc.CreateUser(context.Background(), admin, "acme", "pw", "owner")
	if got := apiErrMessage(t, err); got != "Invalid role" {
		t.Errorf("message = %q, want Invalid role", got)
	}
}

func TestCreateUser_HashesPasswordAndMapsDuplicate(t *testing.T) {
	var stored *model.User
	repo := &mockUserRepo{
		createFn: func(_ context.Context, user *model.User) error {
			if stored != nil {
				return repository.ErrUsernameTaken
			}
			stored = user
			return nil
		},
	}
	svc := NewService(repo, nil, nil, ServiceConfig{BcryptCost: testCost})
	admin := &model.SessionUser{ID: "a", Role: model.RoleAdmin}
	ctx := context.Background()

	user, err := svc.CreateUser(ctx, admin, "acme", "pw", model.RoleClient)
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if user.Username != "acme" || user.Role != model.RoleClient || user.ID == "" {
		t.Errorf("user = %+v", user)
	}
	if stored.PasswordHash == "pw" || !VerifyPassword(stored.PasswordHash, "pw") {
		t.Error("password should be stored as a bcrypt hash")
	}

	_, err = svc.CreateUser(ctx, admin, "acme", "pw", model.RoleClient)
	if got := apiErrCode(t, err); got != model.ErrCodeConflict {
		t.Errorf("duplicate: code = %q, want %q", got, model.ErrCodeConflict)
	}
}

func TestNewUser_PasswordOver72BytesIsValidationError(t *testing.T) {
	long := strings.Repeat("a", 73)
	admin := &model.SessionUser{ID: "a", Role: model.RoleAdmin}
	ctx := context.Background()

	t.Run("CreateUser", func(t *testing.T) {
		created := false
		repo := &mockUserRepo{
			createFn: func(context.Context, *model.User) error {
				created = true
				return nil
			},
		}
		svc := NewService(repo, nil, nil, ServiceConfig{BcryptCost: testCost})

		_, err := svc.CreateUser(ctx, admin, "acme", long, model.RoleClient)
		if got := apiErrCode(t, err); got != model.ErrCodeValidation {
			t.Errorf("code = %q, want %q", got, model.ErrCodeValidation)
		}
		if got := apiErrMessage(t, err); got != "Password too long" {
			t.Errorf("message = %q, want Password too long", got)
		}
		if created {
			t.Error("user should not be stored")
		}
	})

	t.Run("SetupAdmin", func(t *testing.T) {
		repo := newMemoryAdminRepo()
		svc := NewService(repo, nil, nil, ServiceConfig{AdminSetupCode: "s3cret", BcryptCost: testCost})

		_, err := svc.SetupAdmin(ctx, "boss", long, "s3cret")
		if got := apiErrMessage(t, err); got != "Password too long" {
			t.Errorf("message = %q, want Password too long", got)
		}

		// 72バイトちょうどは受け付ける
		if _, err := svc.SetupAdmin(ctx, "boss", long[:72], "s3cret"); err != nil {
			t.Fatalf("72-byte password should be accepted: %v", err)
		}
	})
}
