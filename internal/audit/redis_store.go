package audit

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"radio-control/internal/at"
)

// ==================== 常量定义 ====================

const (
	defaultQueryLimit   = 50
	defaultWriteTimeout = 500 * time.Millisecond
	defaultQueueSize    = 256
	redisListKey        = "%s:audit:exchanges"
	redisSeqKey         = "%s:audit:seq"
)

// ==================== 数据结构 ====================

// RedisStore 以定长列表保存最近的 AT 交互，实现 at.ExchangeLogger。
// 交互先进入有界队列，由后台协程写入 Redis。
type RedisStore struct {
	client       redis.Cmdable
	namespace    string
	maxKeep      int64
	ttl          time.Duration
	writeTimeout time.Duration

	queue  chan at.Exchange
	done   chan struct{}
	mu     sync.RWMutex
	closed bool
}

var _ at.ExchangeLogger = (*RedisStore)(nil)

// NewRedisStore 创建审计存储；maxKeep <= 0 时不裁剪，ttl <= 0 时不过期
func NewRedisStore(client redis.Cmdable, namespace string, maxKeep int64, ttl time.Duration) *RedisStore {
	return newRedisStore(client, namespace, maxKeep, ttl, defaultQueueSize)
}

func newRedisStore(client redis.Cmdable, namespace string, maxKeep int64, ttl time.Duration, queueSize int) *RedisStore {
	store := &RedisStore{
		client:       client,
		namespace:    namespace,
		maxKeep:      maxKeep,
		ttl:          ttl,
		writeTimeout: defaultWriteTimeout,
		queue:        make(chan at.Exchange, queueSize),
		done:         make(chan struct{}),
	}
	go store.run()
	return store
}

// ==================== 核心方法 ====================

// LogExchange 审计记录入队，不等待 Redis；队列满或已关闭时丢弃
func (store *RedisStore) LogExchange(exchange at.Exchange) {
	store.mu.RLock()
	defer store.mu.RUnlock()
	if store.closed {
		return
	}

	select {
	case store.queue <- exchange:
	default:
		log.Printf("[AUDIT] 写入队列已满, 丢弃 %s 审计记录", exchange.Command)
	}
}

// Close 停止接收新记录，并等待队列中的记录写完
func (store *RedisStore) Close() error {
	store.mu.Lock()
	if !store.closed {
		store.closed = true
		close(store.queue)
	}
	store.mu.Unlock()

	<-store.done
	return nil
}

func (store *RedisStore) run() {
	defer close(store.done)
	for exchange := range store.queue {
		store.write(exchange)
	}
}

// write 写入一条审计记录；失败只记日志，不影响指令通道
func (store *RedisStore) write(exchange at.Exchange) {
	ctx, cancel := context.WithTimeout(context.Background(), store.writeTimeout)
	defer cancel()

	if err := store.Save(ctx, FromExchange(exchange)); err != nil {
		log.Printf("[AUDIT] 保存 %s 审计记录失败: %v", exchange.Command, err)
	}
}

// Save 分配序号后写入列表头部并裁剪
func (store *RedisStore) Save(ctx context.Context, record Record) error {
	seq, err := store.client.Incr(ctx, store.buildSeqKey()).Result()
	if err != nil {
		return fmt.Errorf("allocate audit seq failed: %w", err)
	}
	record.Seq = seq

	payload, err := Encode(record)
	if err != nil {
		return fmt.Errorf("encode audit record failed: %w", err)
	}

	listKey := store.buildListKey()
	pipeline := store.client.TxPipeline()
	pipeline.LPush(ctx, listKey, payload)
	if store.maxKeep > 0 {
		pipeline.LTrim(ctx, listKey, 0, store.maxKeep-1)
	}
	if store.ttl > 0 {
		pipeline.Expire(ctx, listKey, store.ttl)
	}

	if _, err := pipeline.Exec(ctx); err != nil {
		return fmt.Errorf("save audit record pipeline failed: %w", err)
	}
	return nil
}

// Recent 返回最新的 limit 条记录，由新到旧；无法解码的条目跳过
func (store *RedisStore) Recent(ctx context.Context, limit int64) ([]Record, error) {
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	items, err := store.client.LRange(ctx, store.buildListKey(), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("fetch audit records failed: %w", err)
	}

	records := make([]Record, 0, len(items))
	for _, item := range items {
		record, err := Decode([]byte(item))
		if err != nil {
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

// Count 当前保留的记录数
func (store *RedisStore) Count(ctx context.Context) (int64, error) {
	count, err := store.client.LLen(ctx, store.buildListKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("count audit records failed: %w", err)
	}
	return count, nil
}

// ==================== 私有辅助方法 ====================

func (store *RedisStore) buildListKey() string {
	return fmt.Sprintf(redisListKey, store.namespace)
}

func (store *RedisStore) buildSeqKey() string {
	return fmt.Sprintf(redisSeqKey, store.namespace)
}
