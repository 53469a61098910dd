// Package media は投稿メディアのアップロードURL発行を提供する。
package media

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/hitoshi/postdeck/internal/authz"
	"github.com/hitoshi/postdeck/internal/model"
	"github.com/hitoshi/postdeck/internal/storage"
)

// UploadTarget はクライアントがファイルを直接アップロードする先の情報。
type UploadTarget struct {
	UploadURL string `json:"uploadUrl"`
	Path      string `json:"path"`
	PublicURL string `json:"publicUrl"`
}

// Service はメディアのサービス層。
type Service struct {
	backend storage.Backend
	now     func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(backend storage.Backend) *Service {
	return &Service{backend: backend, now: time.Now}
}

// CreateUploadURL はログインユーザー用のアップロード先を発行する。
// オブジェクトパスは {userID}/{unixMillis}-{basename} の形式。
func (s *Service) CreateUploadURL(ctx context.Context, caller *model.SessionUser, filename, contentType string) (*UploadTarget, error) {
	if err := authz.RequireUser(caller); err != nil {
		return nil, err
	}

	name := baseName(filename)
	if name == "" {
		return nil, model.NewValidationError("Missing filename")
	}
	if strings.TrimSpace(contentType) == "" {
		contentType = storage.DefaultContentType
	}

	objectPath := fmt.Sprintf("%s/%d-%s", caller.ID, s.now().UnixMilli(), name)
	uploadURL, err := s.backend.SignUpload(ctx, objectPath, contentType)
	if err != nil {
		slog.Error("failed to sign upload",
			slog.String("path", objectPath),
			slog.String("error", err.Error()),
		)
		return nil, model.NewStorageError(err)
	}

	return &UploadTarget{
		UploadURL: uploadURL,
		Path:      objectPath,
		PublicURL: s.backend.PublicURL(objectPath),
	}, nil
}

// baseName はクライアントから送られたファイル名からディレクトリ部分を取り除く。
func baseName(filename string) string {
	name := strings.TrimSpace(strings.ReplaceAll(filename, "\\", "/"))
	if name == "" {
		return ""
	}
	name = path.Base(name)
	if name == "." || name == "/" || name == ".." {
		return ""
	}
	return name
}
