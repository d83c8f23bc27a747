package events

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/nsqio/go-nsq"
)

// ==================== 常量定义 ====================

const (
	defaultMessageHandleTimeout = 10 * time.Second
	defaultUserAgent            = "radio-control"
	logPrefix                   = "[nsq] "
)

var (
	ErrTopicRequired       = errors.New("topic is required")
	ErrChannelRequired     = errors.New("channel is required")
	ErrHandlerRequired     = errors.New("handler is required")
	ErrNoAddressConfigured = errors.New("no nsqd address or lookupd configured")
)

// ==================== 类型定义 ====================

// HandlerFunc 事件处理函数，attempts 为 NSQ 投递次数（从 1 开始）
type HandlerFunc func(ctx context.Context, event Event, attempts uint16) error

// ConsumerConfig 消费者配置
type ConsumerConfig struct {
	Topic                string
	Channel              string
	MaxInFlight          int
	Concurrency          int
	NsqdAddresses        []string
	LookupdAddresses     []string
	DLQTopic             string
	MaxAttemptsBeforeDLQ uint16
	MessageHandleTimeout time.Duration
	Handler              HandlerFunc
}

// Consumer 订阅入站事件
type Consumer struct {
	config   ConsumerConfig
	consumer *nsq.Consumer
	dlq      nsqPublisher
}

// ==================== 构造函数 ====================

// NewConsumer 校验配置并创建消费者，不建立连接
func NewConsumer(config ConsumerConfig) (*Consumer, error) {
	if err := validateConsumerConfig(config); err != nil {
		return nil, err
	}
	if config.MessageHandleTimeout <= 0 {
		config.MessageHandleTimeout = defaultMessageHandleTimeout
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}

	nsqConfig := nsq.NewConfig()
	if config.MaxInFlight > 0 {
		nsqConfig.MaxInFlight = config.MaxInFlight
	}
	nsqConfig.UserAgent = defaultUserAgent

	consumer, err := nsq.NewConsumer(config.Topic, config.Channel, nsqConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create NSQ consumer: %w", err)
	}
	consumer.SetLogger(newNSQLogger(), nsq.LogLevelInfo)

	return &Consumer{config: config, consumer: consumer}, nil
}

func validateConsumerConfig(config ConsumerConfig) error {
	switch {
	case config.Topic == "":
		return ErrTopicRequired
	case config.Channel == "":
		return ErrChannelRequired
	case config.Handler == nil:
		return ErrHandlerRequired
	case len(config.NsqdAddresses) == 0 && len(config.LookupdAddresses) == 0:
		return ErrNoAddressConfigured
	}
	return nil
}

func newNSQLogger() *log.Logger {
	return log.New(os.Stdout, logPrefix, log.LstdFlags)
}

// ==================== DLQ 配置 ====================

// AttachDLQProducer 附加死信队列生产者；未配置 DLQTopic 时忽略
func (c *Consumer) AttachDLQProducer(nsqdAddress string) error {
	if c.config.DLQTopic == "" || nsqdAddress == "" {
		return nil
	}
	producer, err := nsq.NewProducer(nsqdAddress, nsq.NewConfig())
	if err != nil {
		return fmt.Errorf("failed to create DLQ producer: %w", err)
	}
	producer.SetLogger(newNSQLogger(), nsq.LogLevelWarning)
	c.dlq = producer
	return nil
}

// ==================== 消息处理 ====================

// Run 连接并阻塞直到 Stop
func (c *Consumer) Run() error {
	c.consumer.AddConcurrentHandlers(nsq.HandlerFunc(c.handleMessage), c.config.Concurrency)

	for _, address := range c.config.NsqdAddresses {
		if err := c.consumer.ConnectToNSQD(address); err != nil {
			return fmt.Errorf("failed to connect to nsqd %s: %w", address, err)
		}
		log.Printf("%sconnected to nsqd: %s", logPrefix, address)
	}
	for _, address := range c.config.LookupdAddresses {
		if err := c.consumer.ConnectToNSQLookupd(address); err != nil {
			return fmt.Errorf("failed to connect to lookupd %s: %w", address, err)
		}
		log.Printf("%sconnected to lookupd: %s", logPrefix, address)
	}

	<-c.consumer.StopChan
	return nil
}

func (c *Consumer) handleMessage(message *nsq.Message) error {
	event, err := Decode(message.Body)
	if err != nil {
		// 格式错误的消息重试也无法成功
		log.Printf("%s丢弃无法解析的消息 %s: %v", logPrefix, message.ID[:], err)
		c.sendToDLQ(message, err)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.config.MessageHandleTimeout)
	defer cancel()

	if err := c.config.Handler(ctx, event, message.Attempts); err != nil {
		if !c.shouldSendToDLQ(message) {
			return err
		}
		if !c.sendToDLQ(message, err) {
			return err
		}
		log.Printf("%s事件 %s(%s) 在 %d 次尝试后转入 DLQ", logPrefix, event.Kind, event.ID, message.Attempts)
	}
	return nil
}

func (c *Consumer) shouldSendToDLQ(message *nsq.Message) bool {
	return c.dlq != nil && c.config.DLQTopic != "" && message.Attempts >= c.config.MaxAttemptsBeforeDLQ
}

func (c *Consumer) sendToDLQ(message *nsq.Message, cause error) bool {
	if c.dlq == nil || c.config.DLQTopic == "" {
		return false
	}
	if err := c.dlq.Publish(c.config.DLQTopic, message.Body); err != nil {
		log.Printf("%sfailed to publish message to DLQ: %v, original error: %v", logPrefix, err, cause)
		return false
	}
	return true
}

// ==================== 生命周期管理 ====================

// Stop 停止消费者与 DLQ 生产者
func (c *Consumer) Stop() {
	if c.consumer != nil {
		log.Printf("%sstopping consumer for topic: %s", logPrefix, c.config.Topic)
		c.consumer.Stop()
	}
	if c.dlq != nil {
		c.dlq.Stop()
	}
}

// IsConnected 是否有活动连接
func (c *Consumer) IsConnected() bool {
	return c.consumer.Stats().Connections > 0
}

// Topic 订阅的主题
func (c *Consumer) Topic() string {
	return c.config.Topic
}
