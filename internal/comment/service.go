// Package comment は投稿へのコメント追加を提供する。
package comment

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/postdeck/internal/model"
	"github.com/hitoshi/postdeck/internal/notify"
	"github.com/hitoshi/postdeck/internal/repository"
	"github.com/hitoshi/postdeck/internal/security"
)

// PostAuthorizer は呼び出し元が投稿にアクセスできるかを確認するインターフェース。
type PostAuthorizer interface {
	Authorize(ctx context.Context, caller *model.SessionUser, postID string) (*model.Post, error)
}

// EventDispatcher はドメインイベントを発行するインターフェース。
type EventDispatcher interface {
	Dispatch(ctx context.Context, ev notify.Event)
}

// Service はコメントのサービス層。
type Service struct {
	commentRepo repository.CommentRepository
	posts       PostAuthorizer
	sanitizer   security.TextSanitizer
	events      EventDispatcher
	now         func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	commentRepo repository.CommentRepository,
	posts PostAuthorizer,
	sanitizer security.TextSanitizer,
	events EventDispatcher,
) *Service {
	return &Service{
		commentRepo: commentRepo,
		posts:       posts,
		sanitizer:   sanitizer,
		events:      events,
		now:         time.Now,
	}
}

// Create は投稿にコメントを追加する。
// 管理者はすべての投稿、クライアントは担当する投稿にのみコメントできる。
func (s *Service) Create(ctx context.Context, caller *model.SessionUser, postID, body string) (*model.Comment, error) {
	post, err := s.posts.Authorize(ctx, caller, postID)
	if err != nil {
		return nil, err
	}

	text := s.sanitizer.Sanitize(body)
	if text == "" {
		return nil, model.NewValidationError("Missing fields")
	}

	c := &model.Comment{
		ID:             uuid.New().String(),
		PostID:         post.ID,
		Body:           text,
		AuthorUsername: caller.Username,
		CreatedAt:      s.now(),
	}
	if err := s.commentRepo.Create(ctx, c); err != nil {
		return nil, model.NewStorageError(err)
	}

	slog.Info("comment created",
		slog.String("post_id", post.ID),
		slog.String("comment_id", c.ID),
		slog.String("user_id", caller.ID),
	)
	s.events.Dispatch(ctx, notify.CommentCreated(post, c))
	return c, nil
}
