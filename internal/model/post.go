package model

import "time"

// PostStatus は投稿の承認ステータスを表す。
type PostStatus string

const (
	PostStatusDraft    PostStatus = "draft"
	PostStatusReview   PostStatus = "review"
	PostStatusApproved PostStatus = "approved"
	PostStatusChanges  PostStatus = "changes"
)

// Valid はステータスが定義済みの値かどうかを返す。
func (s PostStatus) Valid() bool {
	switch s {
	case PostStatusDraft, PostStatusReview, PostStatusApproved, PostStatusChanges:
		return true
	default:
		return false
	}
}

// Post はクライアントの承認対象となるSNS投稿を表す。
// 作成後に変更できるのはStatusのみ。
type Post struct {
	ID             string
	Title          string
	Platform       string
	ScheduledAt    *time.Time
	Status         PostStatus
	Copy           string
	Assets         string
	Media          []string
	ClientID       *string // 未割り当ての場合はnil
	AuthorUsername string
	CreatedAt      time.Time
}

// OwnedBy は投稿が指定クライアントに割り当てられているかどうかを返す。
func (p *Post) OwnedBy(userID string) bool {
	return p.ClientID != nil && *p.ClientID == userID
}

// PostWithComments は投稿とそのコメント一覧を結合した構造体。
type PostWithComments struct {
	Post
	Comments []Comment
}

// Comment は投稿に対するコメントを表す。追記のみで更新されない。
type Comment struct {
	ID             string
	PostID         string
	Body           string
	AuthorUsername string
	CreatedAt      time.Time
}
