package maps

import (
	"fmt"
	"sync/atomic"
)

// Implementation names accepted by SetImplementation.
const (
	ImplXSync   = "xsync"
	ImplSharded = "sharded"
	ImplCornelk = "cornelk"
)

// implementation selects the map returned by NewConcurrentMap.
var implementation atomic.Value

func init() {
	implementation.Store(ImplXSync)
}

// Integer is a constraint that permits any integer type.
type Integer interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr
}

// ConcurrentMap is a thread-safe map keyed by integers. The adapter keys it
// by arena handles, interval handles and thread ids.
type ConcurrentMap[K Integer, V any] interface {
	Load(key K) (V, bool)
	Store(key K, value V)
	Delete(key K)
	LoadAndDelete(key K) (V, bool)
	Update(key K, updateFunc func(value V, exists bool) (newValue V, keep bool))
	Range(f func(key K, value V) bool)
	Len() int
}

// SetImplementation changes the implementation used by maps created after
// the call. Existing maps keep theirs.
func SetImplementation(name string) error {
	switch name {
	case ImplXSync, ImplSharded, ImplCornelk:
		implementation.Store(name)
		return nil
	case "":
		implementation.Store(ImplXSync)
		return nil
	default:
		return fmt.Errorf("unknown map implementation %q", name)
	}
}

// Implementation returns the name of the current default implementation.
func Implementation() string {
	return implementation.Load().(string)
}

// NewConcurrentMap returns a map of the configured implementation.
func NewConcurrentMap[K Integer, V any]() ConcurrentMap[K, V] {
	switch Implementation() {
	case ImplSharded:
		return NewShardedMap[K, V]()
	case ImplCornelk:
		return NewCornelkMap[K, V]()
	default:
		return NewXSyncMap[K, V]()
	}
}
