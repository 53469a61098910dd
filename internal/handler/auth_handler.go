package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/postdeck/internal/auth"
	"github.com/hitoshi/postdeck/internal/middleware"
	"github.com/hitoshi/postdeck/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Login(ctx context.Context, username, password, clientIP string) (*model.SessionUser, error)
	SetupAdmin(ctx context.Context, username, password, setupCode string) (*model.SessionUser, error)
	CreateUser(ctx context.Context, caller *model.SessionUser, username, password string, role model.Role) (*model.SessionUser, error)
}

// SessionIssuer はセッションCookieの発行と破棄を行うインターフェース。
// auth.Managerが実装する。
type SessionIssuer interface {
	IssueSession(ctx context.Context, w http.ResponseWriter, userID string) error
	ClearSession(ctx context.Context, w http.ResponseWriter, token string)
}

// AuthHandler は認証関連のHTTPハンドラー。
type AuthHandler struct {
	service  AuthServiceInterface
	sessions SessionIssuer
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, sessions SessionIssuer) *AuthHandler {
	return &AuthHandler{
		service:  service,
		sessions: sessions,
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	OK       bool       `json:"ok"`
	Role     model.Role `json:"role"`
	Username string     `json:"username"`
}

type setupAdminRequest struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	SetupCode string `json:"setupCode"`
}

type setupAdminResponse struct {
	OK   bool               `json:"ok"`
	User *model.SessionUser `json:"user"`
}

type createUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type userResponse struct {
	User *model.SessionUser `json:"user"`
}

// Login はユーザー名とパスワードで認証し、セッションCookieを発行する。
// POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	user, err := h.service.Login(r.Context(), req.Username, req.Password, middleware.ClientIP(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if !h.startSession(w, r, user) {
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{OK: true, Role: user.Role, Username: user.Username})
}

// Logout はセッションを破棄する。未ログインでも成功を返す。
// POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.sessions.ClearSession(r.Context(), w, auth.TokenFromRequest(r))
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

// Me は現在のログインユーザー情報を返す。
// GET /api/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	if user == nil {
		writeJSON(w, http.StatusUnauthorized, userResponse{User: nil})
		return
	}
	writeJSON(w, http.StatusOK, userResponse{User: user})
}

// SetupAdmin は最初の管理者を作成し、そのままログインさせる。
// POST /api/auth/setup-admin
func (h *AuthHandler) SetupAdmin(w http.ResponseWriter, r *http.Request) {
	var req setupAdminRequest
	if err := decodeJSON(r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	user, err := h.service.SetupAdmin(r.Context(), req.Username, req.Password, req.SetupCode)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if !h.startSession(w, r, user) {
		return
	}
	writeJSON(w, http.StatusOK, setupAdminResponse{OK: true, User: user})
}

// CreateUser は管理者がユーザーを作成する。
// POST /api/auth/create-user
func (h *AuthHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	caller := middleware.UserFromContext(r.Context())
	user, err := h.service.CreateUser(r.Context(), caller, req.Username, req.Password, model.Role(req.Role))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, userResponse{User: user})
}

// startSession はセッションを発行する。失敗時は500を書き込みfalseを返す。
func (h *AuthHandler) startSession(w http.ResponseWriter, r *http.Request, user *model.SessionUser) bool {
	if err := h.sessions.IssueSession(r.Context(), w, user.ID); err != nil {
		slog.Error("failed to start session",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		middleware.WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
			Code:    model.ErrCodeInternal,
			Message: "Could not start session",
		})
		return false
	}
	return true
}
