// Package sweep は期限切れセッションの定期削除ジョブを提供する。
// リクエスト経路での遅延削除に加えて、誰にも参照されないまま
// 期限を過ぎたsessions行を回収する。
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hitoshi/postdeck/internal/metrics"
)

// ExpiredSessionDeleter は期限切れセッションの一括削除インターフェース。
type ExpiredSessionDeleter interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// Job は期限切れセッションの削除ジョブ。冪等で、削除対象がなくてもエラーにならない。
type Job struct {
	sessions  ExpiredSessionDeleter
	collector metrics.MetricsCollector
	logger    *slog.Logger
}

// NewJob は新しいJobを生成する。collectorがnilの場合は何も記録しない。
func NewJob(sessions ExpiredSessionDeleter, collector metrics.MetricsCollector, logger *slog.Logger) *Job {
	if collector == nil {
		collector = metrics.Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Job{sessions: sessions, collector: collector, logger: logger}
}

// Run は期限切れセッションを1回削除する。
func (j *Job) Run(ctx context.Context) error {
	start := time.Now()

	deleted, err := j.sessions.DeleteExpired(ctx)
	if err != nil {
		j.logger.Error("期限切れセッションの削除に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("session sweep failed: %w", err)
	}

	j.collector.RecordSessionsSwept(deleted)
	j.logger.Info("期限切れセッションの削除が完了しました",
		slog.Int64("deleted_count", deleted),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Start はcron式（5フィールドまたは"@every 1h"等の記述子）に従ってジョブを実行する。
// 起動直後に1回実行し、コンテキストがキャンセルされるまでブロックする。
// 実行中のジョブがあれば完了を待ってから戻る。
func (j *Job) Start(ctx context.Context, expr string) error {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", expr, err)
	}

	c := cron.New()
	c.Schedule(schedule, cron.FuncJob(func() {
		_ = j.Run(ctx)
	}))

	j.logger.Info("セッション掃除スケジューラを開始しました",
		slog.String("schedule", expr),
	)

	_ = j.Run(ctx)

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()

	j.logger.Info("セッション掃除スケジューラを停止しました")
	return nil
}
