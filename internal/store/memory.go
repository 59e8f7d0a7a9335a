package store

import (
	"context"
	"hash/fnv"
	"sync"

	"trackify-svr/internal/presence"
)

const shardCount = 32

// Memory is a sharded in-process presence store. Operations on distinct
// users land on independent shards, so they never block each other;
// operations on the same user serialize on its shard lock.
type Memory struct {
	shards [shardCount]memShard
}

type memShard struct {
	mu    sync.RWMutex
	items map[string]*presence.Presence
}

func NewMemory() *Memory {
	m := &Memory{}
	for i := range m.shards {
		m.shards[i].items = make(map[string]*presence.Presence)
	}
	return m
}

func (m *Memory) shard(userCode string) *memShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userCode))
	return &m.shards[h.Sum32()%shardCount]
}

func (m *Memory) Get(_ context.Context, userCode string) (*presence.Presence, error) {
	s := m.shard(userCode)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.items[userCode].Clone(), nil
}

func (m *Memory) Put(_ context.Context, p *presence.Presence) error {
	s := m.shard(p.UserCode)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[p.UserCode] = p.Clone()
	return nil
}

func (m *Memory) Delete(_ context.Context, userCode string) error {
	s := m.shard(userCode)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, userCode)
	return nil
}

func (m *Memory) List(_ context.Context) ([]*presence.Presence, error) {
	var out []*presence.Presence
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.RLock()
		for _, p := range s.items {
			out = append(out, p.Clone())
		}
		s.mu.RUnlock()
	}
	return out, nil
}

// Update applies fn under the shard lock, so same-user read-modify-writes
// are linearizable. fn sees a copy and its result is what gets stored.
func (m *Memory) Update(_ context.Context, userCode string, fn func(*presence.Presence) *presence.Presence) (*presence.Presence, error) {
	s := m.shard(userCode)
	s.mu.Lock()
	defer s.mu.Unlock()

	next := fn(s.items[userCode].Clone())
	if next == nil {
		return nil, nil
	}
	s.items[userCode] = next
	return next.Clone(), nil
}
