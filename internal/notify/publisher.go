package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/hitoshi/postdeck/internal/metrics"
)

// Publisher はイベントを外部へ送信するインターフェース。
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// NoopPublisher は何も送信しないPublisher。AMQP未設定時に使用する。
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Event) error { return nil }
func (NoopPublisher) Close() error                         { return nil }

// amqpChannel はAMQPPublisherが使用するチャネル操作。テストで差し替える。
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	IsClosed() bool
	Close() error
}

// amqpConn はAMQPPublisherが保持する接続。*amqp.Connectionが満たす。
type amqpConn interface {
	IsClosed() bool
	Close() error
}

// AMQPPublisher はRabbitMQのトピックエクスチェンジへイベントを発行するPublisher。
// ルーティングキーはイベント種別。チャネルは共有するためミューテックスで保護する。
type AMQPPublisher struct {
	mu       sync.Mutex
	url      string
	exchange string
	conn     amqpConn
	ch       amqpChannel
	dial     func() (amqpConn, amqpChannel, error)
}

// NewAMQPPublisher はブローカーに接続し、永続トピックエクスチェンジを宣言する。
func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	p := &AMQPPublisher{url: url, exchange: exchange}
	p.dial = p.dialBroker
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *AMQPPublisher) dialBroker() (amqpConn, amqpChannel, error) {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("failed to open amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		p.exchange, // name
		"topic",    // kind
		true,       // durable
		false,      // autoDelete
		false,      // internal
		false,      // noWait
		nil,        // args
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, fmt.Errorf("failed to declare exchange: %w", err)
	}
	return conn, ch, nil
}

// connect はロック保持中に呼び出す。既存のチャネルと接続は閉じてから張り直す。
func (p *AMQPPublisher) connect() error {
	_ = p.closeLocked()
	conn, ch, err := p.dial()
	if err != nil {
		return err
	}
	p.conn, p.ch = conn, ch
	return nil
}

// Publish はイベントをJSONで永続メッセージとして発行する。
// チャネルが閉じている場合は一度だけ再接続する。
func (p *AMQPPublisher) Publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch == nil || p.ch.IsClosed() {
		if err := p.connect(); err != nil {
			return err
		}
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.ID,
		Timestamp:    ev.OccurredAt,
		Type:         ev.Type,
		Body:         body,
	}
	if err := p.ch.PublishWithContext(ctx, p.exchange, ev.Type, false, false, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Close はチャネルと接続を閉じる。
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeLocked()
}

func (p *AMQPPublisher) closeLocked() error {
	var err error
	if p.ch != nil && !p.ch.IsClosed() {
		_ = p.ch.Close()
	}
	if p.conn != nil && !p.conn.IsClosed() {
		err = p.conn.Close()
	}
	p.conn, p.ch = nil, nil
	return err
}

// Dispatcher はイベント発行の失敗をログとメトリクスに記録し、呼び出し元へは返さない。
type Dispatcher struct {
	publisher Publisher
	metrics   metrics.MetricsCollector
	timeout   time.Duration
}

// NewDispatcher はDispatcherを生成する。
func NewDispatcher(publisher Publisher, collector metrics.MetricsCollector) *Dispatcher {
	if publisher == nil {
		publisher = NoopPublisher{}
	}
	if collector == nil {
		collector = metrics.Noop{}
	}
	return &Dispatcher{
		publisher: publisher,
		metrics:   collector,
		timeout:   5 * time.Second,
	}
}

// Dispatch はイベントを発行する。リクエストのキャンセルには追従しない。
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	if err := d.publisher.Publish(ctx, ev); err != nil {
		d.metrics.RecordEventPublished(ev.Type, false)
		slog.Error("failed to publish event",
			slog.String("type", ev.Type),
			slog.String("post_id", ev.PostID),
			slog.String("error", err.Error()),
		)
		return
	}
	d.metrics.RecordEventPublished(ev.Type, true)
}

// compile-time interface checks
var (
	_ Publisher = NoopPublisher{}
	_ Publisher = (*AMQPPublisher)(nil)
)
