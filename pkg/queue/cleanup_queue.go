package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"recipeshare/internal/util"
)

// DefaultStream is the stream shared by the api (producer) and the sweeper
// (consumer) when none is configured.
const DefaultStream = "recipeshare:cleanup"

// CleanupJob asks a consumer to delete one blob that no recipe references.
type CleanupJob struct {
	ID         string
	Key        string
	Reason     string
	Attempts   int
	EnqueuedAt time.Time
}

// Handler processes one job. A non-nil error requeues it until MaxRetries.
type Handler func(context.Context, CleanupJob) error

// RedisCleanupQueue is a Redis stream of orphan-blob cleanup jobs
// consumed through a consumer group.
type RedisCleanupQueue struct {
	client       *redis.Client
	ownsClient   bool
	stream       string
	group        string
	consumerBase string
	maxRetries   int
	block        time.Duration
	claimIdle    time.Duration
	retryDelay   time.Duration
	maxLen       int64
	readCount    int64
	claimCount   int64
	once         sync.Once
}

type Config struct {
	// Client is used when set; otherwise one is dialed from Addr.
	Client     *redis.Client
	Addr       string
	Password   string
	Stream     string
	Group      string
	Consumer   string
	MaxRetries int
	Block      time.Duration
	ClaimIdle  time.Duration
	RetryDelay time.Duration
	MaxLen     int64
	ReadCount  int64
	ClaimCount int64
}

func NewRedisCleanupQueue(cfg Config) (*RedisCleanupQueue, error) {
	client := cfg.Client
	owns := false
	if client == nil {
		addr := strings.TrimSpace(cfg.Addr)
		if addr == "" {
			return nil, errors.New("redis addr required")
		}
		client = redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password})
		owns = true
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		stream = DefaultStream
	}
	group := strings.TrimSpace(cfg.Group)
	if group == "" {
		group = "sweeper"
	}
	consumer := strings.TrimSpace(cfg.Consumer)
	if consumer == "" {
		consumer = util.NewID()
	}
	q := &RedisCleanupQueue{
		client:       client,
		ownsClient:   owns,
		stream:       stream,
		group:        group,
		consumerBase: consumer,
		maxRetries:   positiveOr(cfg.MaxRetries, 5),
		block:        durationOr(cfg.Block, 5*time.Second),
		claimIdle:    durationOr(cfg.ClaimIdle, 30*time.Second),
		retryDelay:   durationOr(cfg.RetryDelay, 2*time.Second),
		maxLen:       int64(positiveOr(int(cfg.MaxLen), 10000)),
		readCount:    int64(positiveOr(int(cfg.ReadCount), 10)),
		claimCount:   int64(positiveOr(int(cfg.ClaimCount), 10)),
	}
	return q, nil
}

// Close releases the client when the queue dialed it itself.
func (q *RedisCleanupQueue) Close() error {
	if q.ownsClient {
		return q.client.Close()
	}
	return nil
}

// Enqueue schedules key for deletion.
func (q *RedisCleanupQueue) Enqueue(ctx context.Context, key, reason string) (CleanupJob, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return CleanupJob{}, errors.New("object key required")
	}
	job := CleanupJob{
		ID:         util.NewID(),
		Key:        key,
		Reason:     reason,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := q.add(ctx, q.client, job); err != nil {
		return CleanupJob{}, fmt.Errorf("enqueue cleanup: %w", err)
	}
	return job, nil
}

// Start runs concurrency consumers until ctx is done.
func (q *RedisCleanupQueue) Start(ctx context.Context, concurrency int, handler Handler) {
	if concurrency <= 0 {
		concurrency = 1
	}
	q.ensureGroup(ctx)
	for i := 0; i < concurrency; i++ {
		consumer := fmt.Sprintf("%s-%d", q.consumerBase, i)
		go q.consumeLoop(ctx, consumer, handler)
	}
}

func (q *RedisCleanupQueue) ensureGroup(ctx context.Context) {
	q.once.Do(func() {
		err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			slog.Warn("cleanup queue: create group failed", "stream", q.stream, "err", err)
		}
	})
}

func (q *RedisCleanupQueue) consumeLoop(ctx context.Context, consumer string, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if msgs, err := q.claimPending(ctx, consumer); err == nil {
			for _, msg := range msgs {
				q.handleMessage(ctx, msg, handler)
			}
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: consumer,
			Streams:  []string{q.stream, ">"},
			Count:    q.readCount,
			Block:    q.block,
		}).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
				slog.Warn("cleanup queue: read failed", "stream", q.stream, "err", err)
				sleepCtx(ctx, q.retryDelay)
			}
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				q.handleMessage(ctx, msg, handler)
			}
		}
	}
}

func (q *RedisCleanupQueue) claimPending(ctx context.Context, consumer string) ([]redis.XMessage, error) {
	res, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: consumer,
		MinIdle:  q.claimIdle,
		Start:    "0-0",
		Count:    q.claimCount,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (q *RedisCleanupQueue) handleMessage(ctx context.Context, msg redis.XMessage, handler Handler) {
	job, ok := decodeJob(msg.Values)
	if !ok {
		q.ackAndDel(ctx, msg.ID)
		return
	}
	job.Attempts++
	err := handler(ctx, job)
	if err == nil {
		q.ackAndDel(ctx, msg.ID)
		return
	}
	if job.Attempts >= q.maxRetries {
		slog.Error("cleanup queue: giving up", "job_id", job.ID, "key", job.Key, "attempts", job.Attempts, "err", err)
		q.ackAndDel(ctx, msg.ID)
		return
	}
	slog.Warn("cleanup queue: retrying", "job_id", job.ID, "key", job.Key, "attempts", job.Attempts, "err", err)
	if !sleepCtx(ctx, q.retryDelay) {
		return
	}
	if err := q.requeueAndAck(ctx, msg.ID, job); err != nil {
		slog.Warn("cleanup queue: requeue failed", "job_id", job.ID, "err", err)
	}
}

func (q *RedisCleanupQueue) ackAndDel(ctx context.Context, msgID string) {
	_, _ = q.client.XAck(ctx, q.stream, q.group, msgID).Result()
	_, _ = q.client.XDel(ctx, q.stream, msgID).Result()
}

// requeueAndAck re-adds job and acks the original in one transaction, so a
// failure leaves the original pending for XAUTOCLAIM.
func (q *RedisCleanupQueue) requeueAndAck(ctx context.Context, msgID string, job CleanupJob) error {
	pipe := q.client.TxPipeline()
	if err := q.add(ctx, pipe, job); err != nil {
		return err
	}
	pipe.XAck(ctx, q.stream, q.group, msgID)
	pipe.XDel(ctx, q.stream, msgID)
	_, err := pipe.Exec(ctx)
	return err
}

func (q *RedisCleanupQueue) add(ctx context.Context, c redis.Cmdable, job CleanupJob) error {
	return c.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: map[string]any{
			"job_id":      job.ID,
			"key":         job.Key,
			"reason":      job.Reason,
			"attempts":    strconv.Itoa(job.Attempts),
			"enqueued_at": job.EnqueuedAt.Format(time.RFC3339Nano),
		},
	}).Err()
}

func decodeJob(values map[string]any) (CleanupJob, bool) {
	job := CleanupJob{}
	job.ID, _ = values["job_id"].(string)
	job.Key, _ = values["key"].(string)
	if job.ID == "" || job.Key == "" {
		return CleanupJob{}, false
	}
	job.Reason, _ = values["reason"].(string)
	if v, _ := values["attempts"].(string); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			job.Attempts = n
		}
	}
	if v, _ := values["enqueued_at"].(string); v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			job.EnqueuedAt = t
		}
	}
	return job, true
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func positiveOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func durationOr(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}
