package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestQueue(t *testing.T, maxRetries int) *RedisCleanupQueue {
	t.Helper()
	srv := miniredis.RunT(t)
	q, err := NewRedisCleanupQueue(Config{
		Addr:       srv.Addr(),
		Stream:     "test:cleanup",
		Group:      "test-group",
		Consumer:   "consumer",
		MaxRetries: maxRetries,
		Block:      20 * time.Millisecond,
		RetryDelay: time.Millisecond,
		ClaimIdle:  time.Hour,
	})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func TestCleanupQueueDeliversJob(t *testing.T) {
	q := newTestQueue(t, 3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := q.Enqueue(ctx, "recipes/2026/01/a", "compensation failed"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	got := make(chan CleanupJob, 1)
	q.Start(ctx, 1, func(_ context.Context, job CleanupJob) error {
		got <- job
		return nil
	})

	select {
	case job := <-got:
		if job.Key != "recipes/2026/01/a" || job.Reason != "compensation failed" || job.Attempts != 1 {
			t.Fatalf("unexpected job %+v", job)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for job")
	}
}

func TestCleanupQueueRetriesUntilSuccess(t *testing.T) {
	q := newTestQueue(t, 5)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := q.Enqueue(ctx, "recipes/2026/01/b", ""); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	var mu sync.Mutex
	attempts := []int{}
	done := make(chan struct{})
	q.Start(ctx, 1, func(_ context.Context, job CleanupJob) error {
		mu.Lock()
		defer mu.Unlock()
		attempts = append(attempts, job.Attempts)
		if job.Attempts < 3 {
			return errors.New("transient")
		}
		close(done)
		return nil
	})

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for retries")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(attempts) != 3 || attempts[2] != 3 {
		t.Fatalf("unexpected attempts %v", attempts)
	}
}

func TestCleanupQueueEnqueueRequiresKey(t *testing.T) {
	q := newTestQueue(t, 1)
	if _, err := q.Enqueue(context.Background(), "  ", ""); err == nil {
		t.Fatalf("expected empty key to be rejected")
	}
}

func TestCleanupQueueRequeueFailureKeepsPendingMessage(t *testing.T) {
	q := newTestQueue(t, 3)
	ctx := context.Background()
	q.ensureGroup(ctx)

	job, err := q.Enqueue(ctx, "recipes/2026/01/c", "")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: "consumer-1",
		Streams:  []string{q.stream, ">"},
		Count:    1,
	}).Result()
	if err != nil || len(streams) != 1 || len(streams[0].Messages) != 1 {
		t.Fatalf("read message: streams=%+v err=%v", streams, err)
	}
	msgID := streams[0].Messages[0].ID

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	if err := q.requeueAndAck(canceled, msgID, job); err == nil {
		t.Fatalf("expected requeue to fail on canceled context")
	}
	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 1 {
		t.Fatalf("expected original message to remain pending, got %d", pending.Count)
	}

	if err := q.requeueAndAck(ctx, msgID, job); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	pending, _ = q.client.XPending(ctx, q.stream, q.group).Result()
	if pending.Count != 0 {
		t.Fatalf("expected no pending messages, got %d", pending.Count)
	}
	n, _ := q.client.XLen(ctx, q.stream).Result()
	if n != 1 {
		t.Fatalf("expected one requeued message, got %d", n)
	}
}

func TestDecodeJobRejectsIncompletePayload(t *testing.T) {
	if _, ok := decodeJob(map[string]any{"job_id": "x"}); ok {
		t.Fatalf("expected payload without key to be rejected")
	}
	job, ok := decodeJob(map[string]any{"job_id": "x", "key": "k", "attempts": "2"})
	if !ok || job.Attempts != 2 {
		t.Fatalf("unexpected decode %+v ok=%v", job, ok)
	}
}
