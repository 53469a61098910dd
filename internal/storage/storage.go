// Package storage は投稿メディアを保存するオブジェクトストレージを抽象化する。
// クライアントはSignUploadで得たURLに直接ファイルをアップロードする。
package storage

import (
	"context"
	"errors"
	"net/url"
	"strings"
)

// DefaultBucket は投稿メディアの既定バケット名。
const DefaultBucket = "post-media"

// DefaultContentType はContent-Type未指定時に使用する値。
const DefaultContentType = "application/octet-stream"

// ErrInvalidPath はオブジェクトパスが不正であることを表す。
var ErrInvalidPath = errors.New("invalid object path")

// Backend はオブジェクトストレージのインターフェース。
type Backend interface {
	// SignUpload は指定パスへアップロードするための署名付きURLを発行する。
	SignUpload(ctx context.Context, path, contentType string) (string, error)
	// PublicURL は指定パスのオブジェクトを公開参照するURLを返す。
	PublicURL(path string) string
}

// escapePath はオブジェクトパスをセグメントごとにURLエスケープする。
func escapePath(path string) string {
	segments := strings.Split(path, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}

// validatePath は空パス、絶対パス、親ディレクトリ参照を拒否する。
func validatePath(path string) error {
	if path == "" || strings.HasPrefix(path, "/") || strings.Contains(path, "\\") {
		return ErrInvalidPath
	}
	for _, s := range strings.Split(path, "/") {
		if s == "" || s == "." || s == ".." {
			return ErrInvalidPath
		}
	}
	return nil
}
