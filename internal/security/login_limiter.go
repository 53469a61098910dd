package security

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrLimiterUnavailable はログイン制限のバックエンドに到達できないことを表す。
var ErrLimiterUnavailable = errors.New("login limiter backend unavailable")

// LoginLimiterConfig はログイン試行制限の設定。
type LoginLimiterConfig struct {
	MaxAttempts int           // ウィンドウ内で許容する失敗回数
	Window      time.Duration // 固定ウィンドウの長さ（ロックアウト期間）
}

// LoginLimiter は固定ウィンドウ方式でログイン失敗回数を制限する。
// キーには "user:<username>" や "ip:<addr>" を使う。
type LoginLimiter interface {
	// Check はキーがまだ試行可能かどうかを返す。
	Check(ctx context.Context, key string) (bool, error)
	// Fail は失敗を1回記録する。
	Fail(ctx context.Context, key string) error
	// Reset はキーの失敗回数をクリアする。
	Reset(ctx context.Context, key string) error
}

// --- インメモリ実装 ---

type attemptWindow struct {
	count   int
	resetAt time.Time
}

// MemoryLoginLimiter はプロセス内のマップで失敗回数を保持するLoginLimiter。
// 単一インスタンス構成向け。
type MemoryLoginLimiter struct {
	mu      sync.Mutex
	windows map[string]*attemptWindow
	config  LoginLimiterConfig
	now     func() time.Time
}

// NewMemoryLoginLimiter はMemoryLoginLimiterを生成する。
func NewMemoryLoginLimiter(config LoginLimiterConfig) *MemoryLoginLimiter {
	return &MemoryLoginLimiter{
		windows: make(map[string]*attemptWindow),
		config:  config,
		now:     time.Now,
	}
}

// Check はキーがまだ試行可能かどうかを返す。期限切れのウィンドウは破棄する。
func (l *MemoryLoginLimiter) Check(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok {
		return true, nil
	}
	if !l.now().Before(w.resetAt) {
		delete(l.windows, key)
		return true, nil
	}
	return w.count < l.config.MaxAttempts, nil
}

// Fail は失敗を1回記録する。最初の失敗でウィンドウを開始する。
func (l *MemoryLoginLimiter) Fail(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetAt) {
		l.windows[key] = &attemptWindow{count: 1, resetAt: now.Add(l.config.Window)}
		return nil
	}
	w.count++
	return nil
}

// Reset はキーの失敗回数をクリアする。
func (l *MemoryLoginLimiter) Reset(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, key)
	return nil
}

// --- Redis実装 ---

// RedisLoginLimiter はRedisのカウンタで失敗回数を保持するLoginLimiter。
// 複数インスタンス間で制限を共有できる。
type RedisLoginLimiter struct {
	redis  redis.UniversalClient
	config LoginLimiterConfig
	prefix string
}

// NewRedisLoginLimiter はRedisLoginLimiterを生成する。
func NewRedisLoginLimiter(client redis.UniversalClient, config LoginLimiterConfig) *RedisLoginLimiter {
	return &RedisLoginLimiter{
		redis:  client,
		config: config,
		prefix: "postdeck:login:",
	}
}

// Check はキーがまだ試行可能かどうかを返す。
func (l *RedisLoginLimiter) Check(ctx context.Context, key string) (bool, error) {
	count, err := l.redis.Get(ctx, l.prefix+key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return true, nil
		}
		return false, fmt.Errorf("%w: %v", ErrLimiterUnavailable, err)
	}
	return count < int64(l.config.MaxAttempts), nil
}

// Fail は失敗を1回記録する。最初の失敗時にTTLを設定し、ウィンドウ経過で自動的にリセットされる。
func (l *RedisLoginLimiter) Fail(ctx context.Context, key string) error {
	k := l.prefix + key
	count, err := l.redis.Incr(ctx, k).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLimiterUnavailable, err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, k, l.config.Window).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrLimiterUnavailable, err)
		}
	}
	return nil
}

// Reset はキーの失敗回数をクリアする。
func (l *RedisLoginLimiter) Reset(ctx context.Context, key string) error {
	if err := l.redis.Del(ctx, l.prefix+key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLimiterUnavailable, err)
	}
	return nil
}

// compile-time interface checks
var (
	_ LoginLimiter = (*MemoryLoginLimiter)(nil)
	_ LoginLimiter = (*RedisLoginLimiter)(nil)
)
