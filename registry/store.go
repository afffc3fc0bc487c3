package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/isabella232/mech/codec"
	"github.com/isabella232/mech/session"
)

var ErrUnknownBackend = errors.New("registry: unknown storage backend")

const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendEtcd   = "etcd"
)

// Store persists bare session lists (no metadata) under a namespace.
// A namespace that was never saved loads as an empty list.
type Store interface {
	Load(ctx context.Context, namespace string) ([]session.Session, error)
	Save(ctx context.Context, namespace string, sessions []session.Session) error
	Close() error
}

// Namespace derives the persistence key for one signing address on one chain.
// Switching either yields a disjoint session set.
func Namespace(chainID uint64, address string) string {
	return fmt.Sprintf("sessions-%d:%s", chainID, strings.ToLower(address))
}

// Options selects and configures a Store backend.
type Options struct {
	Backend       string // memory | sqlite | etcd
	Codec         codec.CodecType
	SQLitePath    string
	EtcdEndpoints []string
	EtcdPrefix    string
	DialTimeout   time.Duration
}

// Open returns the Store named by opts.Backend.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendSQLite:
		s, err := OpenSQLiteStore(opts.SQLitePath, codec.GetCodec(opts.Codec))
		if err != nil {
			return nil, err
		}
		if err := s.Init(ctx); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	case BackendEtcd:
		return NewEtcdStore(opts.EtcdEndpoints, opts.EtcdPrefix, opts.DialTimeout, codec.GetCodec(opts.Codec))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}
}

// MemoryStore keeps lists in process memory. Used when restart recovery is not needed, and in tests.
type MemoryStore struct {
	mu    sync.RWMutex
	lists map[string][]session.Session
	saves int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{lists: make(map[string][]session.Session)}
}

func (m *MemoryStore) Load(_ context.Context, namespace string) ([]session.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]session.Session{}, m.lists[namespace]...), nil
}

func (m *MemoryStore) Save(_ context.Context, namespace string, sessions []session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists[namespace] = append([]session.Session{}, sessions...)
	m.saves++
	return nil
}

// Saves reports how many times Save was called.
func (m *MemoryStore) Saves() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}

func (m *MemoryStore) Close() error { return nil }
