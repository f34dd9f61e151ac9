package serviceworker

import (
	"context"
	"maps"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/staysense/staysense-go/internal/errors"
)

// ErrNotCached is returned by Storage.Match when no response is stored.
var ErrNotCached = errors.NewStd("response not cached")

// Response is a fully buffered HTTP response.
type Response struct {
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time // zero for responses straight from the network
}

// OK reports whether the status is 2xx.
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status <= 299
}

func (r *Response) clone() *Response {
	return &Response{
		Status:   r.Status,
		Header:   r.Header.Clone(),
		Body:     slices.Clone(r.Body),
		StoredAt: r.StoredAt,
	}
}

// Storage holds named partitions of cached responses.
type Storage interface {
	// Open creates the partition if needed.
	Open(ctx context.Context, partition string) error
	Partitions(ctx context.Context) ([]string, error)
	// Delete removes a partition and reports whether it existed.
	Delete(ctx context.Context, partition string) (bool, error)
	Count(ctx context.Context, partition string) (int, error)
	Match(ctx context.Context, partition, key string) (*Response, error)
	Put(ctx context.Context, partition, key string, resp *Response) error
}

// MemoryStorage is a process-local Storage.
type MemoryStorage struct {
	mu         sync.RWMutex
	partitions map[string]map[string]*Response
}

// NewMemoryStorage creates an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{partitions: make(map[string]map[string]*Response)}
}

func (m *MemoryStorage) Open(_ context.Context, partition string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.partitions[partition]; !ok {
		m.partitions[partition] = make(map[string]*Response)
	}
	return nil
}

func (m *MemoryStorage) Partitions(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Sorted(maps.Keys(m.partitions)), nil
}

func (m *MemoryStorage) Delete(_ context.Context, partition string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.partitions[partition]
	delete(m.partitions, partition)
	return ok, nil
}

func (m *MemoryStorage) Count(_ context.Context, partition string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.partitions[partition]), nil
}

func (m *MemoryStorage) Match(_ context.Context, partition, key string) (*Response, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	resp, ok := m.partitions[partition][key]
	if !ok {
		return nil, ErrNotCached
	}
	return resp.clone(), nil
}

func (m *MemoryStorage) Put(_ context.Context, partition, key string, resp *Response) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.partitions[partition]
	if !ok {
		p = make(map[string]*Response)
		m.partitions[partition] = p
	}
	p[key] = resp.clone()
	return nil
}
