package maps

import "sync"

// numShards must be a power of two.
const numShards = 64

type shard[K Integer, V any] struct {
	sync.RWMutex
	m map[K]V
}

// ShardedMap partitions keys over numShards RWMutex-guarded maps. Handles
// are allocated sequentially, so the low bits spread them evenly.
type ShardedMap[K Integer, V any] struct {
	shards [numShards]shard[K, V]
}

// NewShardedMap creates an empty ShardedMap.
func NewShardedMap[K Integer, V any]() ConcurrentMap[K, V] {
	m := &ShardedMap[K, V]{}
	for i := range m.shards {
		m.shards[i].m = make(map[K]V)
	}
	return m
}

func (m *ShardedMap[K, V]) getShard(key K) *shard[K, V] {
	return &m.shards[uint64(key)&(numShards-1)]
}

func (m *ShardedMap[K, V]) Load(key K) (V, bool) {
	s := m.getShard(key)
	s.RLock()
	defer s.RUnlock()
	val, ok := s.m[key]
	return val, ok
}

func (m *ShardedMap[K, V]) Store(key K, value V) {
	s := m.getShard(key)
	s.Lock()
	s.m[key] = value
	s.Unlock()
}

func (m *ShardedMap[K, V]) Delete(key K) {
	s := m.getShard(key)
	s.Lock()
	delete(s.m, key)
	s.Unlock()
}

func (m *ShardedMap[K, V]) LoadAndDelete(key K) (V, bool) {
	s := m.getShard(key)
	s.Lock()
	defer s.Unlock()
	val, ok := s.m[key]
	if ok {
		delete(s.m, key)
	}
	return val, ok
}

// Update runs updateFunc under the shard's write lock. Returning keep=false
// removes the entry.
func (m *ShardedMap[K, V]) Update(key K, updateFunc func(value V, exists bool) (newValue V, keep bool)) {
	s := m.getShard(key)
	s.Lock()
	defer s.Unlock()
	oldVal, exists := s.m[key]
	newVal, keep := updateFunc(oldVal, exists)
	if keep {
		s.m[key] = newVal
	} else if exists {
		delete(s.m, key)
	}
}

// Range visits a snapshot of each shard so f may call back into the map.
func (m *ShardedMap[K, V]) Range(f func(key K, value V) bool) {
	for i := range m.shards {
		s := &m.shards[i]
		s.RLock()
		keys := make([]K, 0, len(s.m))
		values := make([]V, 0, len(s.m))
		for k, v := range s.m {
			keys = append(keys, k)
			values = append(values, v)
		}
		s.RUnlock()

		for j := range keys {
			if !f(keys[j], values[j]) {
				return
			}
		}
	}
}

func (m *ShardedMap[K, V]) Len() int {
	n := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.RLock()
		n += len(s.m)
		s.RUnlock()
	}
	return n
}
