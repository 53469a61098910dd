package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/hitoshi/postdeck/internal/auth"
	"github.com/hitoshi/postdeck/internal/media"
	"github.com/hitoshi/postdeck/internal/model"
	"github.com/hitoshi/postdeck/internal/post"
	"github.com/hitoshi/postdeck/internal/storage"
)

// --- モック定義 ---

type mockAuthService struct {
	loginFn      func(ctx context.Context, username, password, clientIP string) (*model.SessionUser, error)
	setupAdminFn func(ctx context.Context, username, password, setupCode string) (*model.SessionUser, error)
	createUserFn func(ctx context.Context, caller *model.SessionUser, username, password string, role model.Role) (*model.SessionUser, error)
}

func (m *mockAuthService) Login(ctx context.Context, username, password, clientIP string) (*model.SessionUser, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, username, password, clientIP)
	}
	return nil, model.NewInvalidCredentialsError()
}

func (m *mockAuthService) SetupAdmin(ctx context.Context, username, password, setupCode string) (*model.SessionUser, error) {
	if m.setupAdminFn != nil {
		return m.setupAdminFn(ctx, username, password, setupCode)
	}
	return nil, model.NewAdminAlreadyExistsError()
}

func (m *mockAuthService) CreateUser(ctx context.Context, caller *model.SessionUser, username, password string, role model.Role) (*model.SessionUser, error) {
	if m.createUserFn != nil {
		return m.createUserFn(ctx, caller, username, password, role)
	}
	return nil, nil
}

type mockPostService struct {
	listFn         func(ctx context.Context, caller *model.SessionUser) ([]model.PostWithComments, error)
	createFn       func(ctx context.Context, caller *model.SessionUser, in post.CreateInput) (*model.Post, error)
	updateStatusFn func(ctx context.Context, caller *model.SessionUser, postID, status string) error
	deleteFn       func(ctx context.Context, caller *model.SessionUser, postID string) error
}

func (m *mockPostService) List(ctx context.Context, caller *model.SessionUser) ([]model.PostWithComments, error) {
	if m.listFn != nil {
		return m.listFn(ctx, caller)
	}
	return []model.PostWithComments{}, nil
}

func (m *mockPostService) Create(ctx context.Context, caller *model.SessionUser, in post.CreateInput) (*model.Post, error) {
	if m.createFn != nil {
		return m.createFn(ctx, caller, in)
	}
	return &model.Post{ID: "p-new", Title: in.Title, Status: model.PostStatusDraft}, nil
}

func (m *mockPostService) UpdateStatus(ctx context.Context, caller *model.SessionUser, postID, status string) error {
	if m.updateStatusFn != nil {
		return m.updateStatusFn(ctx, caller, postID, status)
	}
	return nil
}

func (m *mockPostService) Delete(ctx context.Context, caller *model.SessionUser, postID string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, caller, postID)
	}
	return nil
}

type mockCommentService struct {
	createFn func(ctx context.Context, caller *model.SessionUser, postID, body string) (*model.Comment, error)
}

func (m *mockCommentService) Create(ctx context.Context, caller *model.SessionUser, postID, body string) (*model.Comment, error) {
	if m.createFn != nil {
		return m.createFn(ctx, caller, postID, body)
	}
	return &model.Comment{ID: "c-1", PostID: postID, Body: body}, nil
}

type mockClientService struct {
	clients []*model.SessionUser
}

func (m *mockClientService) ListClients(_ context.Context, _ *model.SessionUser) ([]*model.SessionUser, error) {
	return m.clients, nil
}

type mockMediaService struct {
	createFn func(ctx context.Context, caller *model.SessionUser, filename, contentType string) (*media.UploadTarget, error)
}

func (m *mockMediaService) CreateUploadURL(ctx context.Context, caller *model.SessionUser, filename, contentType string) (*media.UploadTarget, error) {
	if m.createFn != nil {
		return m.createFn(ctx, caller, filename, contentType)
	}
	return &media.UploadTarget{UploadURL: "https://up/" + filename, Path: caller.ID + "/1-" + filename, PublicURL: "https://cdn/" + filename}, nil
}

type mockUploadStore struct {
	storeFn func(token, contentType string, body io.Reader) (*storage.UploadClaims, error)
}

func (m *mockUploadStore) Store(token, contentType string, body io.Reader) (*storage.UploadClaims, error) {
	return m.storeFn(token, contentType, body)
}

type mockPinger struct {
	err error
}

func (m *mockPinger) PingContext(context.Context) error { return m.err }

// memorySessionStore はauth.SessionStoreのインメモリ実装。
type memorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]*model.Session
	users    map[string]*model.SessionUser
}

func newMemorySessionStore(users ...*model.SessionUser) *memorySessionStore {
	s := &memorySessionStore{
		sessions: make(map[string]*model.Session),
		users:    make(map[string]*model.SessionUser),
	}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

func (s *memorySessionStore) Create(_ context.Context, session *model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *session
	s.sessions[session.Token] = &cp
	return nil
}

func (s *memorySessionStore) FindByToken(_ context.Context, token string) (*model.SessionWithUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[token]
	if !ok {
		return nil, nil
	}
	return &model.SessionWithUser{Session: *session, User: s.users[session.UserID]}, nil
}

func (s *memorySessionStore) DeleteByToken(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
	return nil
}

var _ auth.SessionStore = (*memorySessionStore)(nil)

// --- テスト環境 ---

var (
	testAdmin   = &model.SessionUser{ID: "00000000-0000-0000-0000-000000000001", Username: "boss", Role: model.RoleAdmin}
	testClient7 = &model.SessionUser{ID: "00000000-0000-0000-0000-000000000007", Username: "acme", Role: model.RoleClient}
)

type testEnv struct {
	router   http.Handler
	sessions *auth.Manager
	store    *memorySessionStore
	auth     *mockAuthService
	posts    *mockPostService
	comments *mockCommentService
	clients  *mockClientService
	media    *mockMediaService
	uploads  *mockUploadStore
	db       *mockPinger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		store:    newMemorySessionStore(testAdmin, testClient7),
		auth:     &mockAuthService{},
		posts:    &mockPostService{},
		comments: &mockCommentService{},
		clients:  &mockClientService{clients: []*model.SessionUser{testClient7}},
		media:    &mockMediaService{},
		uploads:  &mockUploadStore{},
		db:       &mockPinger{},
	}
	env.sessions = auth.NewManager(env.store, auth.ManagerConfig{}, nil)
	env.router = NewRouter(env.routerDeps())
	return env
}

// routerDeps はモックを束ねたRouterDepsを返す。
func (e *testEnv) routerDeps() *RouterDeps {
	return &RouterDeps{
		SessionResolver:    e.sessions,
		CORSAllowedOrigins: []string{"http://localhost:3000"},
		Logger:             slog.New(slog.NewJSONHandler(io.Discard, nil)),
		AuthService:        e.auth,
		Sessions:           e.sessions,
		PostService:        e.posts,
		CommentService:     e.comments,
		ClientService:      e.clients,
		MediaService:       e.media,
		UploadStore:        e.uploads,
		DB:                 e.db,
	}
}

// loginAs はユーザーのセッションを発行してトークンを返す。
func (e *testEnv) loginAs(t *testing.T, user *model.SessionUser) string {
	t.Helper()
	session, err := e.sessions.Issue(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("failed to issue session: %v", err)
	}
	return session.Token
}

// do はリクエストをルーターに送る。bodyがnil以外の場合はJSONとして送信する。
func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.AddCookie(&http.Cookie{Name: auth.SessionCookieName, Value: token})
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v (raw %q)", err, w.Body.String())
	}
	return body
}

func assertError(t *testing.T, w *httptest.ResponseRecorder, status int, message string) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("status = %d, want %d (body %s)", w.Code, status, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["error"] != message {
		t.Errorf("error = %v, want %q", body["error"], message)
	}
}
