package repository

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"recipeshare/pkg/domain"
	"recipeshare/pkg/queue"
	"recipeshare/pkg/storage"
	"recipeshare/pkg/store"
)

var errBoom = errors.New("boom")

// flakyStore wraps a MemoryStore and fails selected calls. commitErr is
// returned by PutRecipe after the record has been persisted.
type flakyStore struct {
	*store.MemoryStore

	mu              sync.Mutex
	putRecipeErr    error
	commitErr       error
	getRecipeFails  int
	getRecipeCalls  int
	createUserErr   error
	createUserCalls int
}

func newFlakyStore() *flakyStore {
	return &flakyStore{MemoryStore: store.NewMemoryStore()}
}

func (f *flakyStore) PutRecipe(ctx context.Context, r domain.Recipe) error {
	if f.putRecipeErr != nil {
		return f.putRecipeErr
	}
	if err := f.MemoryStore.PutRecipe(ctx, r); err != nil {
		return err
	}
	return f.commitErr
}

func (f *flakyStore) GetRecipe(ctx context.Context, id string) (domain.Recipe, bool, error) {
	f.mu.Lock()
	f.getRecipeCalls++
	fail := f.getRecipeFails > 0
	if fail {
		f.getRecipeFails--
	}
	f.mu.Unlock()
	if fail {
		return domain.Recipe{}, false, errBoom
	}
	return f.MemoryStore.GetRecipe(ctx, id)
}

func (f *flakyStore) CreateUser(ctx context.Context, u domain.User) (bool, error) {
	f.mu.Lock()
	f.createUserCalls++
	f.mu.Unlock()
	if f.createUserErr != nil {
		return false, f.createUserErr
	}
	return f.MemoryStore.CreateUser(ctx, u)
}

// memObjects is an in-memory ObjectStore with injectable failures.
type memObjects struct {
	mu        sync.Mutex
	blobs     map[string][]byte
	putErr    error
	deleteErr error
	getFails  int
	getCalls  int
	getCtx    context.Context
}

func newMemObjects() *memObjects {
	return &memObjects{blobs: make(map[string][]byte)}
}

func (m *memObjects) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	if m.putErr != nil {
		return m.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.blobs[key] = data
	m.mu.Unlock()
	return nil
}

func (m *memObjects) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	m.getCtx = ctx
	if m.getFails > 0 {
		m.getFails--
		return nil, errBoom
	}
	data, ok := m.blobs[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memObjects) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://blobs.example/" + key, nil
}

func (m *memObjects) Delete(_ context.Context, key string) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	m.mu.Lock()
	delete(m.blobs, key)
	m.mu.Unlock()
	return nil
}

func (m *memObjects) List(_ context.Context, prefix string) ([]storage.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []storage.ObjectInfo
	for k, v := range m.blobs {
		if strings.HasPrefix(k, prefix) {
			res = append(res, storage.ObjectInfo{Key: k, Size: int64(len(v))})
		}
	}
	return res, nil
}

func (m *memObjects) Ping(context.Context) error { return nil }

func (m *memObjects) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.blobs[key]
	return ok
}

func (m *memObjects) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.blobs)
}

type recordingQueue struct {
	mu      sync.Mutex
	keys    []string
	reasons []string
}

func (q *recordingQueue) Enqueue(_ context.Context, key, reason string) (queue.CleanupJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.keys = append(q.keys, key)
	q.reasons = append(q.reasons, reason)
	return queue.CleanupJob{ID: "job", Key: key, Reason: reason}, nil
}

type countingMetrics struct {
	mu      sync.Mutex
	created int
	orphans map[string]int
}

func (c *countingMetrics) RecipeCreated() {
	c.mu.Lock()
	c.created++
	c.mu.Unlock()
}

func (c *countingMetrics) OrphanBlob(source string) {
	c.mu.Lock()
	if c.orphans == nil {
		c.orphans = map[string]int{}
	}
	c.orphans[source]++
	c.mu.Unlock()
}
