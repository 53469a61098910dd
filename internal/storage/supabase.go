package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// SupabaseConfig はSupabase Storageの接続設定。
type SupabaseConfig struct {
	URL        string // プロジェクトURL（例: https://xyz.supabase.co）
	ServiceKey string // service_roleキー
	Bucket     string
}

// SupabaseBackend はSupabase Storage REST APIを使用するBackend。
type SupabaseBackend struct {
	httpClient *http.Client
	logger     *slog.Logger
	config     SupabaseConfig
}

// NewSupabaseBackend はSupabaseBackendを生成する。
func NewSupabaseBackend(httpClient *http.Client, logger *slog.Logger, config SupabaseConfig) *SupabaseBackend {
	if config.Bucket == "" {
		config.Bucket = DefaultBucket
	}
	config.URL = strings.TrimRight(config.URL, "/")
	return &SupabaseBackend{
		httpClient: httpClient,
		logger:     logger,
		config:     config,
	}
}

type signUploadResponse struct {
	URL   string `json:"url"`
	Token string `json:"token"`
}

type storageErrorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// SignUpload は署名付きアップロードURLを発行する。
// APIのエラーメッセージはそのままエラーとして返す。
func (b *SupabaseBackend) SignUpload(ctx context.Context, path, contentType string) (string, error) {
	if err := validatePath(path); err != nil {
		return "", err
	}

	endpoint := fmt.Sprintf("%s/storage/v1/object/upload/sign/%s/%s",
		b.config.URL, escapePath(b.config.Bucket), escapePath(path))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader([]byte("{}")))
	if err != nil {
		return "", fmt.Errorf("failed to build sign request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+b.config.ServiceKey)
	req.Header.Set("apikey", b.config.ServiceKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		b.logger.Error("storage sign request failed",
			slog.String("error", err.Error()),
			slog.String("path", path),
		)
		return "", fmt.Errorf("failed to call storage API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read storage response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		b.logger.Error("storage API returned error status",
			slog.Int("http_status", resp.StatusCode),
			slog.String("path", path),
		)
		return "", apiError(resp.StatusCode, body)
	}

	var result signUploadResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("failed to parse storage response: %w", err)
	}
	if result.URL == "" {
		return "", errors.New("storage response did not include an upload URL")
	}

	return b.config.URL + "/storage/v1" + result.URL, nil
}

// PublicURL は公開バケット上のオブジェクトURLを返す。
func (b *SupabaseBackend) PublicURL(path string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s",
		b.config.URL, escapePath(b.config.Bucket), escapePath(path))
}

func apiError(status int, body []byte) error {
	var e storageErrorResponse
	if err := json.Unmarshal(body, &e); err == nil {
		if e.Message != "" {
			return errors.New(e.Message)
		}
		if e.Error != "" {
			return errors.New(e.Error)
		}
	}
	return fmt.Errorf("storage API returned status %d", status)
}

// compile-time interface check
var _ Backend = (*SupabaseBackend)(nil)
