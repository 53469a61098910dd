package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/postdeck/internal/middleware"
	"github.com/hitoshi/postdeck/internal/model"
)

// ClientServiceInterface はクライアント一覧ハンドラーが必要とするサービスインターフェース。
type ClientServiceInterface interface {
	ListClients(ctx context.Context, caller *model.SessionUser) ([]*model.SessionUser, error)
}

// ClientHandler はクライアント一覧のHTTPハンドラー。
type ClientHandler struct {
	service ClientServiceInterface
}

// NewClientHandler はClientHandlerを生成する。
func NewClientHandler(service ClientServiceInterface) *ClientHandler {
	return &ClientHandler{service: service}
}

type listClientsResponse struct {
	Clients []*model.SessionUser `json:"clients"`
}

// ListClients はクライアントユーザーをユーザー名順に返す。
// GET /api/clients
func (h *ClientHandler) ListClients(w http.ResponseWriter, r *http.Request) {
	clients, err := h.service.ListClients(r.Context(), middleware.UserFromContext(r.Context()))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if clients == nil {
		clients = []*model.SessionUser{}
	}
	writeJSON(w, http.StatusOK, listClientsResponse{Clients: clients})
}
