// Package notify は投稿とコメントのドメインイベントを外部へ通知する。
// イベントの発行はストレージ操作の完了後に行い、失敗してもレスポンスには影響させない。
package notify

import (
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/postdeck/internal/model"
)

// イベント種別。AMQPのルーティングキーとしても使用する。
const (
	EventPostCreated       = "post.created"
	EventPostStatusChanged = "post.status_changed"
	EventPostDeleted       = "post.deleted"
	EventCommentCreated    = "comment.created"
)

// Event は通知されるドメインイベント。
type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Actor      string    `json:"actor"`
	PostID     string    `json:"post_id"`
	ClientID   string    `json:"client_id,omitempty"`
	Status     string    `json:"status,omitempty"`
	CommentID  string    `json:"comment_id,omitempty"`
}

func newEvent(eventType, actor, postID string, clientID *string) Event {
	ev := Event{
		ID:         uuid.New().String(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		Actor:      actor,
		PostID:     postID,
	}
	if clientID != nil {
		ev.ClientID = *clientID
	}
	return ev
}

// PostCreated は投稿作成イベントを生成する。
func PostCreated(post *model.Post, actor string) Event {
	ev := newEvent(EventPostCreated, actor, post.ID, post.ClientID)
	ev.Status = string(post.Status)
	return ev
}

// PostStatusChanged はステータス変更イベントを生成する。
func PostStatusChanged(post *model.Post, status model.PostStatus, actor string) Event {
	ev := newEvent(EventPostStatusChanged, actor, post.ID, post.ClientID)
	ev.Status = string(status)
	return ev
}

// PostDeleted は投稿削除イベントを生成する。
func PostDeleted(post *model.Post, actor string) Event {
	return newEvent(EventPostDeleted, actor, post.ID, post.ClientID)
}

// CommentCreated はコメント作成イベントを生成する。
func CommentCreated(post *model.Post, comment *model.Comment) Event {
	ev := newEvent(EventCommentCreated, comment.AuthorUsername, post.ID, post.ClientID)
	ev.CommentID = comment.ID
	return ev
}
