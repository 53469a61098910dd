package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultMaxUploadBytes はローカルバックエンドの既定アップロード上限（25MB）。
const DefaultMaxUploadBytes int64 = 25 << 20

var (
	// ErrInvalidUploadToken はアップロードトークンが不正または期限切れであることを表す。
	ErrInvalidUploadToken = errors.New("invalid upload token")
	// ErrContentTypeMismatch はアップロード時のContent-Typeが署名時と異なることを表す。
	ErrContentTypeMismatch = errors.New("content type does not match upload token")
	// ErrUploadTooLarge はアップロードサイズが上限を超えたことを表す。
	ErrUploadTooLarge = errors.New("upload exceeds size limit")
)

// LocalConfig はローカルファイルシステムバックエンドの設定。
type LocalConfig struct {
	Dir            string        // 保存先ディレクトリ
	BaseURL        string        // 外部から見たAPIのベースURL
	Secret         []byte        // アップロードトークンの署名鍵
	TokenTTL       time.Duration // アップロードトークンの有効期間
	MaxUploadBytes int64
}

// UploadClaims はアップロードトークンのクレーム。
type UploadClaims struct {
	Path        string `json:"path"`
	ContentType string `json:"content_type"`
	jwt.RegisteredClaims
}

// LocalBackend はローカルディスクにメディアを保存するBackend。
// 署名付きURLの代わりにHS256のJWTでアップロード先とContent-Typeを固定する。
type LocalBackend struct {
	config LocalConfig
	now    func() time.Time
}

// NewLocalBackend はLocalBackendを生成する。
func NewLocalBackend(config LocalConfig) *LocalBackend {
	if config.TokenTTL <= 0 {
		config.TokenTTL = 2 * time.Hour
	}
	if config.MaxUploadBytes <= 0 {
		config.MaxUploadBytes = DefaultMaxUploadBytes
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	return &LocalBackend{config: config, now: time.Now}
}

// SignUpload はアップロードトークンを発行し、PUT先のURLを返す。
func (b *LocalBackend) SignUpload(_ context.Context, path, contentType string) (string, error) {
	if err := validatePath(path); err != nil {
		return "", err
	}
	if contentType == "" {
		contentType = DefaultContentType
	}

	now := b.now()
	claims := &UploadClaims{
		Path:        path,
		ContentType: contentType,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(b.config.TokenTTL)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(b.config.Secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign upload token: %w", err)
	}
	return b.config.BaseURL + "/api/media/upload/" + token, nil
}

// PublicURL はファイル配信エンドポイントのURLを返す。
func (b *LocalBackend) PublicURL(path string) string {
	return b.config.BaseURL + "/media/files/" + escapePath(path)
}

// ParseUploadToken はアップロードトークンを検証し、クレームを返す。
func (b *LocalBackend) ParseUploadToken(tokenStr string) (*UploadClaims, error) {
	claims := &UploadClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return b.config.Secret, nil
	}, jwt.WithTimeFunc(b.now))
	if err != nil || !token.Valid {
		return nil, ErrInvalidUploadToken
	}
	if validatePath(claims.Path) != nil {
		return nil, ErrInvalidUploadToken
	}
	return claims, nil
}

// Store はトークンで許可されたパスにファイルを書き込む。
// Content-Typeは署名時の値と一致する必要がある。
func (b *LocalBackend) Store(tokenStr, contentType string, body io.Reader) (*UploadClaims, error) {
	claims, err := b.ParseUploadToken(tokenStr)
	if err != nil {
		return nil, err
	}
	if contentType == "" {
		contentType = DefaultContentType
	}
	if !sameMediaType(contentType, claims.ContentType) {
		return nil, ErrContentTypeMismatch
	}

	dest := filepath.Join(b.config.Dir, filepath.FromSlash(claims.Path))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create media directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	// 上限+1バイトまで読み、超過を検出する
	n, err := io.Copy(tmp, io.LimitReader(body, b.config.MaxUploadBytes+1))
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return nil, fmt.Errorf("failed to write upload: %w", err)
	}
	if n > b.config.MaxUploadBytes {
		return nil, ErrUploadTooLarge
	}

	if err := os.Rename(tmp.Name(), dest); err != nil {
		return nil, fmt.Errorf("failed to move upload into place: %w", err)
	}
	return claims, nil
}

// FileHandler は保存済みファイルを読み取り専用で配信するハンドラーを返す。
// ディレクトリ一覧は返さない。
func (b *LocalBackend) FileHandler(prefix string) http.Handler {
	fs := http.StripPrefix(prefix, http.FileServer(http.Dir(b.config.Dir)))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("X-Content-Type-Options", "nosniff")
		fs.ServeHTTP(w, r)
	})
}

// sameMediaType はパラメータを除いたメディアタイプが一致するかどうかを返す。
func sameMediaType(a, b string) bool {
	base := func(s string) string {
		if i := strings.Index(s, ";"); i >= 0 {
			s = s[:i]
		}
		return strings.ToLower(strings.TrimSpace(s))
	}
	return base(a) == base(b)
}

// compile-time interface check
var _ Backend = (*LocalBackend)(nil)
