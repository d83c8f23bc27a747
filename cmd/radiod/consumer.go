package main

import (
	"context"
	"log"
	"time"

	"radio-control/internal/events"
)

const eventHandleTimeout = 30 * time.Second

// startEventConsumer 订阅入站事件并交给 Telephony 处理
// 处理失败由 NSQ 重投，超过次数进入死信队列
func startEventConsumer(appContext *AppContext) {
	settings := appContext.Config.NSQ
	if !settings.Enabled {
		log.Println("[Consumer] NSQ 未启用,跳过入站事件订阅")
		return
	}

	consumer, err := events.NewConsumer(events.ConsumerConfig{
		Topic:                settings.InboundTopic,
		Channel:              settings.Channel,
		MaxInFlight:          settings.MaxInFlight,
		Concurrency:          settings.Concurrency,
		NsqdAddresses:        settings.NsqdTCPAddrs,
		LookupdAddresses:     settings.LookupdHTTPAddrs,
		DLQTopic:             settings.DLQTopic,
		MaxAttemptsBeforeDLQ: uint16(settings.MaxConsumeAttemptsBeforeDLQ),
		MessageHandleTimeout: eventHandleTimeout,
		Handler: func(ctx context.Context, event events.Event, attempts uint16) error {
			if attempts > 1 {
				log.Printf("[Consumer] 第 %d 次处理事件 %s", attempts, event.Kind)
			}
			return appContext.Telephony.Handle(ctx, event)
		},
	})
	if err != nil {
		log.Printf("[Consumer] 创建入站事件消费者失败: %v", err)
		return
	}

	if err := consumer.AttachDLQProducer(settings.ProducerAddr); err != nil {
		log.Printf("[Consumer] 附加死信队列失败: %v", err)
	}

	appContext.Consumer = consumer
	go func() {
		if err := consumer.Run(); err != nil {
			log.Printf("[Consumer] 入站事件消费者退出: %v", err)
		}
	}()
	log.Printf("[Consumer] 订阅 %s/%s", settings.InboundTopic, settings.Channel)
}
