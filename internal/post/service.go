// Package post は投稿の作成・一覧・ステータス変更・削除のドメインロジックを提供する。
package post

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/postdeck/internal/authz"
	"github.com/hitoshi/postdeck/internal/model"
	"github.com/hitoshi/postdeck/internal/notify"
	"github.com/hitoshi/postdeck/internal/repository"
	"github.com/hitoshi/postdeck/internal/security"
)

// ClientValidator は担当クライアントIDの妥当性を確認するインターフェース。
type ClientValidator interface {
	ValidateClient(ctx context.Context, clientID string) error
}

// EventDispatcher はドメインイベントを発行するインターフェース。
type EventDispatcher interface {
	Dispatch(ctx context.Context, ev notify.Event)
}

// CreateInput は投稿作成の入力値。
type CreateInput struct {
	Title       string
	Platform    string
	ScheduledAt string // RFC3339。空の場合は未スケジュール
	Status      string // 空の場合はdraft
	Copy        string
	Assets      string
	Media       []string
	ClientID    string // 空の場合は未割り当て
}

// Service は投稿のサービス層。
type Service struct {
	postRepo  repository.PostRepository
	clients   ClientValidator
	sanitizer security.TextSanitizer
	events    EventDispatcher
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	postRepo repository.PostRepository,
	clients ClientValidator,
	sanitizer security.TextSanitizer,
	events EventDispatcher,
) *Service {
	return &Service{
		postRepo:  postRepo,
		clients:   clients,
		sanitizer: sanitizer,
		events:    events,
		now:       time.Now,
	}
}

// List は呼び出し元が閲覧できる投稿をコメント付きで返す。
// クライアントは自分が担当する投稿のみ取得できる。
func (s *Service) List(ctx context.Context, caller *model.SessionUser) ([]model.PostWithComments, error) {
	if err := authz.RequireUser(caller); err != nil {
		return nil, err
	}

	posts, err := s.postRepo.List(ctx, authz.ListScope(caller))
	if err != nil {
		return nil, model.NewStorageError(err)
	}
	return posts, nil
}

// Create は投稿を作成する。管理者のみ。
func (s *Service) Create(ctx context.Context, caller *model.SessionUser, in CreateInput) (*model.Post, error) {
	if err := authz.RequireAdmin(caller); err != nil {
		return nil, err
	}

	title := s.sanitizer.Sanitize(in.Title)
	if title == "" {
		return nil, model.NewValidationError("Missing fields")
	}

	status := model.PostStatusDraft
	if in.Status != "" {
		status = model.PostStatus(in.Status)
		if !status.Valid() {
			return nil, model.NewValidationError("Invalid status")
		}
	}

	var scheduledAt *time.Time
	if v := strings.TrimSpace(in.ScheduledAt); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, model.NewValidationError("Invalid scheduled_at")
		}
		t = t.UTC()
		scheduledAt = &t
	}

	var clientID *string
	if v := strings.TrimSpace(in.ClientID); v != "" {
		if err := s.clients.ValidateClient(ctx, v); err != nil {
			return nil, err
		}
		clientID = &v
	}

	media := make([]string, 0, len(in.Media))
	for _, m := range in.Media {
		if m = strings.TrimSpace(m); m != "" {
			media = append(media, m)
		}
	}

	post := &model.Post{
		ID:             uuid.New().String(),
		Title:          title,
		Platform:       strings.TrimSpace(in.Platform),
		ScheduledAt:    scheduledAt,
		Status:         status,
		Copy:           s.sanitizer.Sanitize(in.Copy),
		Assets:         s.sanitizer.Sanitize(in.Assets),
		Media:          media,
		ClientID:       clientID,
		AuthorUsername: caller.Username,
		CreatedAt:      s.now(),
	}

	if err := s.postRepo.Create(ctx, post); err != nil {
		return nil, model.NewStorageError(err)
	}

	slog.Info("post created",
		slog.String("post_id", post.ID),
		slog.String("author", caller.Username),
	)
	s.events.Dispatch(ctx, notify.PostCreated(post, caller.Username))
	return post, nil
}

// UpdateStatus は投稿のステータスを変更する。
// 管理者はすべての投稿、クライアントは担当する投稿のみ変更できる。
func (s *Service) UpdateStatus(ctx context.Context, caller *model.SessionUser, postID, status string) error {
	post, err := s.loadAccessible(ctx, caller, postID)
	if err != nil {
		return err
	}

	next := model.PostStatus(status)
	if !next.Valid() {
		return model.NewValidationError("Invalid status")
	}

	ok, err := s.postRepo.UpdateStatus(ctx, post.ID, next)
	if err != nil {
		return model.NewStorageError(err)
	}
	if !ok {
		return model.NewPostNotFoundError()
	}

	slog.Info("post status changed",
		slog.String("post_id", post.ID),
		slog.String("from", string(post.Status)),
		slog.String("to", string(next)),
		slog.String("user_id", caller.ID),
	)
	s.events.Dispatch(ctx, notify.PostStatusChanged(post, next, caller.Username))
	return nil
}

// Delete は投稿とそのコメントを削除する。管理者のみ。
func (s *Service) Delete(ctx context.Context, caller *model.SessionUser, postID string) error {
	if err := authz.RequireAdmin(caller); err != nil {
		return err
	}

	post, err := s.find(ctx, postID)
	if err != nil {
		return err
	}

	ok, err := s.postRepo.Delete(ctx, post.ID)
	if err != nil {
		return model.NewStorageError(err)
	}
	if !ok {
		return model.NewPostNotFoundError()
	}

	slog.Info("post deleted",
		slog.String("post_id", post.ID),
		slog.String("user_id", caller.ID),
	)
	s.events.Dispatch(ctx, notify.PostDeleted(post, caller.Username))
	return nil
}

// Authorize は呼び出し元が投稿にアクセスできることを確認し、投稿を返す。
// コメントなど投稿に紐づく操作から利用する。
func (s *Service) Authorize(ctx context.Context, caller *model.SessionUser, postID string) (*model.Post, error) {
	return s.loadAccessible(ctx, caller, postID)
}

func (s *Service) loadAccessible(ctx context.Context, caller *model.SessionUser, postID string) (*model.Post, error) {
	if err := authz.RequireUser(caller); err != nil {
		return nil, err
	}

	post, err := s.find(ctx, postID)
	if err != nil {
		return nil, err
	}

	if err := authz.RequirePostAccess(caller, post.ClientID); err != nil {
		slog.Warn("post access denied",
			slog.String("post_id", post.ID),
			slog.String("user_id", caller.ID),
		)
		return nil, err
	}
	return post, nil
}

// find はIDで投稿を取得する。UUIDとして不正なIDは存在しない投稿として扱う。
func (s *Service) find(ctx context.Context, postID string) (*model.Post, error) {
	if _, err := uuid.Parse(postID); err != nil {
		return nil, model.NewPostNotFoundError()
	}

	post, err := s.postRepo.FindByID(ctx, postID)
	if err != nil {
		return nil, model.NewStorageError(err)
	}
	if post == nil {
		return nil, model.NewPostNotFoundError()
	}
	return post, nil
}
