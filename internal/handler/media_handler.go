package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/postdeck/internal/media"
	"github.com/hitoshi/postdeck/internal/middleware"
	"github.com/hitoshi/postdeck/internal/model"
	"github.com/hitoshi/postdeck/internal/storage"
)

// MediaServiceInterface はメディアハンドラーが必要とするサービスインターフェース。
type MediaServiceInterface interface {
	CreateUploadURL(ctx context.Context, caller *model.SessionUser, filename, contentType string) (*media.UploadTarget, error)
}

// UploadStore は署名付きトークンによるアップロードを受け付けるインターフェース。
// ローカルバックエンド利用時のみ使用する。
type UploadStore interface {
	Store(token, contentType string, body io.Reader) (*storage.UploadClaims, error)
}

// MediaHandler はメディアアップロードのHTTPハンドラー。
type MediaHandler struct {
	service MediaServiceInterface
	uploads UploadStore
}

// NewMediaHandler はMediaHandlerを生成する。uploadsはnilでもよい。
func NewMediaHandler(service MediaServiceInterface, uploads UploadStore) *MediaHandler {
	return &MediaHandler{service: service, uploads: uploads}
}

type uploadURLRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
}

type uploadResponse struct {
	OK   bool   `json:"ok"`
	Path string `json:"path"`
}

// CreateUploadURL はファイルを直接アップロードするための署名付きURLを発行する。
// POST /api/media/upload-url
func (h *MediaHandler) CreateUploadURL(w http.ResponseWriter, r *http.Request) {
	var req uploadURLRequest
	if err := decodeJSON(r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	target, err := h.service.CreateUploadURL(r.Context(), middleware.UserFromContext(r.Context()), req.Filename, req.ContentType)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, target)
}

// Upload は署名付きトークンで許可されたファイルを受け取り保存する。
// PUT /api/media/upload/{token}
func (h *MediaHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if h.uploads == nil {
		http.NotFound(w, r)
		return
	}

	claims, err := h.uploads.Store(chi.URLParam(r, "token"), r.Header.Get("Content-Type"), r.Body)
	if err != nil {
		h.writeUploadError(w, err)
		return
	}

	slog.Info("media uploaded", slog.String("path", claims.Path))
	writeJSON(w, http.StatusOK, uploadResponse{OK: true, Path: claims.Path})
}

func (h *MediaHandler) writeUploadError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrInvalidUploadToken):
		middleware.WriteErrorResponse(w, http.StatusForbidden, &model.APIError{
			Code:    model.ErrCodeForbidden,
			Message: "Invalid upload token",
		})
	case errors.Is(err, storage.ErrContentTypeMismatch):
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("Content type mismatch"))
	case errors.Is(err, storage.ErrUploadTooLarge):
		middleware.WriteErrorResponse(w, http.StatusRequestEntityTooLarge, model.NewValidationError("File too large"))
	default:
		handleServiceError(w, err)
	}
}
