package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/nsqio/go-nsq"
)

// Publisher 发布事件
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// nsqPublisher *nsq.Producer 的子集
type nsqPublisher interface {
	Publish(topic string, body []byte) error
	Stop()
}

// Producer 基于 NSQ 的事件发布者
type Producer struct {
	p     nsqPublisher
	topic string
}

var _ Publisher = (*Producer)(nil)

// NewProducer 创建 NSQ 事件发布者
func NewProducer(addr, topic string) (*Producer, error) {
	cfg := nsq.NewConfig()
	cfg.UserAgent = defaultUserAgent
	p, err := nsq.NewProducer(addr, cfg)
	if err != nil {
		return nil, fmt.Errorf("create nsq producer: %w", err)
	}
	p.SetLogger(newNSQLogger(), nsq.LogLevelWarning)
	return &Producer{p: p, topic: topic}, nil
}

// Publish 编码后发布；go-nsq 的 Publish 不接收 context，调用前检查是否已取消
func (n *Producer) Publish(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := Encode(event)
	if err != nil {
		return err
	}
	if err := n.p.Publish(n.topic, payload); err != nil {
		return fmt.Errorf("publish %s to %s: %w", event.Kind, n.topic, err)
	}
	return nil
}

// Close 停止底层连接
func (n *Producer) Close() {
	if n.p != nil {
		n.p.Stop()
	}
}

// PublisherFunc 函数适配器
type PublisherFunc func(ctx context.Context, event Event) error

func (f PublisherFunc) Publish(ctx context.Context, event Event) error { return f(ctx, event) }

// Discard 丢弃所有事件，用于未配置 NSQ 的场景
var Discard Publisher = PublisherFunc(func(context.Context, Event) error { return nil })

// MultiPublisher 依次发布到多个 Publisher，任一失败不影响其余
type MultiPublisher []Publisher

func (m MultiPublisher) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, publisher := range m {
		if publisher == nil {
			continue
		}
		if err := publisher.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
