package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/postdeck/internal/middleware"
	"github.com/hitoshi/postdeck/internal/model"
	"github.com/hitoshi/postdeck/internal/post"
)

// PostServiceInterface は投稿ハンドラーが必要とするサービスインターフェース。
type PostServiceInterface interface {
	List(ctx context.Context, caller *model.SessionUser) ([]model.PostWithComments, error)
	Create(ctx context.Context, caller *model.SessionUser, in post.CreateInput) (*model.Post, error)
	UpdateStatus(ctx context.Context, caller *model.SessionUser, postID, status string) error
	Delete(ctx context.Context, caller *model.SessionUser, postID string) error
}

// PostHandler は投稿管理のHTTPハンドラー。
type PostHandler struct {
	service PostServiceInterface
}

// NewPostHandler はPostHandlerを生成する。
func NewPostHandler(service PostServiceInterface) *PostHandler {
	return &PostHandler{service: service}
}

// createPostRequest は投稿作成リクエストのボディ。
// scheduled_atとclient_idはnullを許可する。
type createPostRequest struct {
	Title       string   `json:"title"`
	Platform    string   `json:"platform"`
	ScheduledAt *string  `json:"scheduled_at"`
	Status      string   `json:"status"`
	Copy        string   `json:"copy"`
	Assets      string   `json:"assets"`
	Media       []string `json:"media"`
	ClientID    *string  `json:"client_id"`
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

// postResponse は投稿情報のAPIレスポンス。
type postResponse struct {
	ID             string            `json:"id"`
	Title          string            `json:"title"`
	Platform       string            `json:"platform"`
	ScheduledAt    *time.Time        `json:"scheduled_at"`
	Status         model.PostStatus  `json:"status"`
	Copy           string            `json:"copy"`
	Assets         string            `json:"assets"`
	Media          []string          `json:"media"`
	ClientID       *string           `json:"client_id"`
	AuthorUsername string            `json:"author_username"`
	CreatedAt      time.Time         `json:"created_at"`
	Comments       []commentResponse `json:"comments"`
}

// commentResponse はコメント情報のAPIレスポンス。
type commentResponse struct {
	ID             string    `json:"id"`
	Body           string    `json:"body"`
	AuthorUsername string    `json:"author_username"`
	CreatedAt      time.Time `json:"created_at"`
}

type listPostsResponse struct {
	Posts []postResponse `json:"posts"`
}

type createPostResponse struct {
	OK   bool         `json:"ok"`
	Post postResponse `json:"post"`
}

// ListPosts は閲覧可能な投稿一覧をコメント付きで返す。
// GET /api/posts
func (h *PostHandler) ListPosts(w http.ResponseWriter, r *http.Request) {
	posts, err := h.service.List(r.Context(), middleware.UserFromContext(r.Context()))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := listPostsResponse{Posts: make([]postResponse, 0, len(posts))}
	for i := range posts {
		p := toPostResponse(&posts[i].Post)
		for _, c := range posts[i].Comments {
			p.Comments = append(p.Comments, toCommentResponse(c))
		}
		resp.Posts = append(resp.Posts, p)
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreatePost は投稿を作成する。
// POST /api/posts
func (h *PostHandler) CreatePost(w http.ResponseWriter, r *http.Request) {
	var req createPostRequest
	if err := decodeJSON(r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	in := post.CreateInput{
		Title:    req.Title,
		Platform: req.Platform,
		Status:   req.Status,
		Copy:     req.Copy,
		Assets:   req.Assets,
		Media:    req.Media,
	}
	if req.ScheduledAt != nil {
		in.ScheduledAt = *req.ScheduledAt
	}
	if req.ClientID != nil {
		in.ClientID = *req.ClientID
	}

	created, err := h.service.Create(r.Context(), middleware.UserFromContext(r.Context()), in)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, createPostResponse{OK: true, Post: toPostResponse(created)})
}

// UpdatePostStatus は投稿のステータスを変更する。
// PATCH /api/posts/{id}
func (h *PostHandler) UpdatePostStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	err := h.service.UpdateStatus(r.Context(), middleware.UserFromContext(r.Context()), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

// DeletePost は投稿とそのコメントを削除する。
// DELETE /api/posts/{id}
func (h *PostHandler) DeletePost(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), middleware.UserFromContext(r.Context()), chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

// toPostResponse はmodel.PostからAPIレスポンスに変換する。
func toPostResponse(p *model.Post) postResponse {
	media := p.Media
	if media == nil {
		media = []string{}
	}
	return postResponse{
		ID:             p.ID,
		Title:          p.Title,
		Platform:       p.Platform,
		ScheduledAt:    p.ScheduledAt,
		Status:         p.Status,
		Copy:           p.Copy,
		Assets:         p.Assets,
		Media:          media,
		ClientID:       p.ClientID,
		AuthorUsername: p.AuthorUsername,
		CreatedAt:      p.CreatedAt,
		Comments:       []commentResponse{},
	}
}

func toCommentResponse(c model.Comment) commentResponse {
	return commentResponse{
		ID:             c.ID,
		Body:           c.Body,
		AuthorUsername: c.AuthorUsername,
		CreatedAt:      c.CreatedAt,
	}
}
