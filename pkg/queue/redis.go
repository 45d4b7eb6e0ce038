package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"Genesis/pkg/logger"
)

// QueueMode selects which side of the queue a RedisQueue runs.
type QueueMode int

const (
	ModeProducerOnly QueueMode = iota
	ModeConsumerOnly
)

const (
	popTimeout    = time.Second
	retryInterval = 5 * time.Second
)

// RedisQueue stores messages in one redis list per type so producers of
// different types never feed each other's consumers. Failed messages wait
// in a sorted set keyed by due time and end in a per-type dead-letter list.
type RedisQueue struct {
	log       *logger.Logger
	cfg       QueueConfig
	client    *redis.Client
	mode      QueueMode
	keyPrefix string

	mu      sync.RWMutex
	jobs    map[string]Job
	running bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// RedisQueueOption configures RedisQueue.
type RedisQueueOption func(*RedisQueue)

func WithKeyPrefix(prefix string) RedisQueueOption {
	return func(r *RedisQueue) {
		if prefix != "" {
			r.keyPrefix = prefix
		}
	}
}

func newRedisQueue(l *logger.Logger, cfg *QueueConfig, client *redis.Client, mode QueueMode, opts ...RedisQueueOption) *RedisQueue {
	if l == nil {
		l = logger.NewNop()
	}
	c := QueueConfig{}
	if cfg != nil {
		c = *cfg
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &RedisQueue{
		log:       l,
		cfg:       c,
		client:    client,
		mode:      mode,
		keyPrefix: "genesis:queue",
		jobs:      make(map[string]Job),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewRedisPublisher creates and starts a publisher-only queue.
func NewRedisPublisher(l *logger.Logger, client *redis.Client, opts ...RedisQueueOption) *RedisQueue {
	q := newRedisQueue(l, nil, client, ModeProducerOnly, opts...)
	if err := q.Start(); err != nil {
		q.log.Warn("redis publisher not reachable yet", logger.Error(err))
	}
	return q
}

// NewRedisConsumer creates a consumer for jobs. Call Start to begin processing.
func NewRedisConsumer(l *logger.Logger, cfg *QueueConfig, client *redis.Client, jobs []Job, opts ...RedisQueueOption) *RedisQueue {
	q := newRedisQueue(l, cfg, client, ModeConsumerOnly, opts...)
	for _, j := range jobs {
		q.RegisterJob(j)
	}
	return q
}

// RegisterJob adds a handler for job.Type(). Duplicate types keep the first job.
func (r *RedisQueue) RegisterJob(job Job) {
	if r.mode == ModeProducerOnly {
		r.log.Warn("job registration ignored on publisher", logger.String("job", job.Name()))
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.Type()]; ok {
		r.log.Warn("job type already registered", logger.String("job", job.Name()), logger.String("type", job.Type()))
		return
	}
	r.jobs[job.Type()] = job
}

// Start pings redis and, for consumers, launches the workers and the retry mover.
func (r *RedisQueue) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return fmt.Errorf("queue already running")
	}
	ctx, cancel := context.WithTimeout(r.ctx, 5*time.Second)
	defer cancel()
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	r.running = true

	if r.mode == ModeProducerOnly {
		return nil
	}
	if len(r.jobs) == 0 {
		return fmt.Errorf("no jobs registered")
	}
	keys := make([]string, 0, len(r.jobs))
	for t := range r.jobs {
		keys = append(keys, r.messagesKey(t))
	}
	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		go r.worker(keys)
	}
	r.wg.Add(1)
	go r.retryLoop()
	r.log.Info("redis queue consuming",
		logger.Int("workers", r.cfg.Workers),
		logger.Strings("keys", keys),
	)
	return nil
}

// Stop cancels the workers and waits for in-flight jobs until ctx expires.
func (r *RedisQueue) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		r.cancel()
		return nil
	}
	r.running = false
	r.mu.Unlock()
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timeout waiting for queue workers: %w", ctx.Err())
	}
}

// PublishMessage pushes payload onto the list for msgType.
func (r *RedisQueue) PublishMessage(ctx context.Context, msgType string, payload interface{}) error {
	msg, err := newMessage(msgType, payload)
	if err != nil {
		return err
	}
	return r.push(ctx, r.messagesKey(msgType), msg)
}

func (r *RedisQueue) push(ctx context.Context, key string, msg Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := r.client.LPush(ctx, key, b).Err(); err != nil {
		return fmt.Errorf("lpush %s: %w", key, err)
	}
	return nil
}

func (r *RedisQueue) worker(keys []string) {
	defer r.wg.Done()
	for r.ctx.Err() == nil {
		res, err := r.client.BRPop(r.ctx, popTimeout, keys...).Result()
		switch {
		case errors.Is(err, redis.Nil), r.ctx.Err() != nil:
			continue
		case err != nil:
			r.log.Error("queue pop failed", logger.Error(err))
			r.sleep(popTimeout)
			continue
		}
		var msg Message
		if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
			r.log.Error("queue message unreadable", logger.String("key", res[0]), logger.Error(err))
			continue
		}
		r.process(msg)
	}
}

func (r *RedisQueue) process(msg Message) {
	r.mu.RLock()
	job, ok := r.jobs[msg.Type]
	r.mu.RUnlock()
	if !ok {
		r.deadLetter(msg, "no job registered")
		return
	}

	err := job.Handle(r.ctx, msg.Payload)
	if err == nil {
		return
	}
	if errors.Is(err, context.Canceled) && r.ctx.Err() != nil {
		// Shutting down: put it back untouched for the next consumer.
		if perr := r.push(context.Background(), r.messagesKey(msg.Type), msg); perr != nil {
			r.log.Error("requeue on shutdown failed", logger.String("id", msg.ID), logger.Error(perr))
		}
		return
	}

	msg.Attempts++
	msg.LastError = err.Error()
	if msg.Attempts > r.cfg.RetryLimit {
		r.log.Error("queue job exhausted retries",
			logger.String("job", job.Name()),
			logger.String("id", msg.ID),
			logger.Int("attempts", msg.Attempts),
			logger.Error(err),
		)
		r.deadLetter(msg, err.Error())
		return
	}
	due := time.Now().Add(retryDelay(r.cfg.RetryDelay, msg.Attempts))
	r.log.Warn("queue job failed, retry scheduled",
		logger.String("job", job.Name()),
		logger.String("id", msg.ID),
		logger.Int("attempt", msg.Attempts),
		logger.Error(err),
	)
	if err := r.scheduleRetry(msg, due); err != nil {
		r.log.Error("schedule retry failed", logger.String("id", msg.ID), logger.Error(err))
	}
}

func (r *RedisQueue) scheduleRetry(msg Message, due time.Time) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return r.client.ZAdd(context.Background(), r.retryKey(), redis.Z{Score: float64(due.Unix()), Member: b}).Err()
}

func (r *RedisQueue) deadLetter(msg Message, reason string) {
	msg.LastError = reason
	if err := r.push(context.Background(), r.deadLetterKey(msg.Type), msg); err != nil {
		r.log.Error("dead-letter push failed", logger.String("id", msg.ID), logger.Error(err))
	}
}

func (r *RedisQueue) retryLoop() {
	defer r.wg.Done()
	t := time.NewTicker(retryInterval)
	defer t.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-t.C:
			r.moveDueRetries()
		}
	}
}

// moveDueRetries returns due messages to their type list. ZREM decides which
// consumer moves a member, so concurrent movers never duplicate it.
func (r *RedisQueue) moveDueRetries() {
	due, err := r.client.ZRangeByScore(r.ctx, r.retryKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(time.Now().Unix(), 10),
	}).Result()
	if err != nil {
		if r.ctx.Err() == nil {
			r.log.Error("fetch due retries failed", logger.Error(err))
		}
		return
	}
	for _, member := range due {
		removed, err := r.client.ZRem(r.ctx, r.retryKey(), member).Result()
		if err != nil || removed == 0 {
			continue
		}
		var msg Message
		if err := json.Unmarshal([]byte(member), &msg); err != nil {
			r.log.Error("retry entry unreadable", logger.Error(err))
			continue
		}
		if err := r.client.LPush(r.ctx, r.messagesKey(msg.Type), member).Err(); err != nil {
			r.log.Error("move retry failed", logger.String("id", msg.ID), logger.Error(err))
		}
	}
}

func (r *RedisQueue) sleep(d time.Duration) {
	select {
	case <-time.After(d):
	case <-r.ctx.Done():
	}
}

func (r *RedisQueue) messagesKey(msgType string) string {
	return r.keyPrefix + ":" + msgType + ":messages"
}

func (r *RedisQueue) deadLetterKey(msgType string) string {
	return r.keyPrefix + ":" + msgType + ":dlq"
}

func (r *RedisQueue) retryKey() string {
	return r.keyPrefix + ":retry"
}
