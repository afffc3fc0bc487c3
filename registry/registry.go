package registry

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/isabella232/mech/session"
)

// Observer receives a full snapshot after every change. Observers run
// synchronously in change order and must not mutate the registry from inside
// the callback.
type Observer func([]session.WithMetadata)

// Registry is the canonical, ordered list of paired sessions across both
// protocol generations, with a runtime-only metadata overlay.
//
// Every mutation is a read-modify-write of the full list under one lock, followed
// by a Save of the bare list and a notification of all observers. The in-memory
// list is authoritative: a failed Save is logged and returned, but the change
// stays visible.
type Registry struct {
	mu        sync.Mutex
	store     Store
	namespace string
	sessions  []session.Session
	metadata  map[string]*session.Metadata // keyed by session identifier

	notifyMu  sync.Mutex // orders observer delivery; acquired before mu is released
	observers map[int]Observer
	nextObs   int

	log zerolog.Logger
}

func New(store Store, namespace string, log zerolog.Logger) *Registry {
	return &Registry{
		store:     store,
		namespace: namespace,
		metadata:  make(map[string]*session.Metadata),
		observers: make(map[int]Observer),
		log:       log.With().Str("component", "registry").Str("namespace", namespace).Logger(),
	}
}

func (r *Registry) Namespace() string { return r.namespace }

// Load replaces the in-memory list with the persisted one. Duplicate or invalid
// entries are dropped.
func (r *Registry) Load(ctx context.Context) error {
	stored, err := r.store.Load(ctx, r.namespace)
	if err != nil {
		return err
	}

	r.mu.Lock()
	seen := make(map[string]struct{}, len(stored))
	list := make([]session.Session, 0, len(stored))
	for _, s := range stored {
		if !s.Valid() {
			r.log.Error().Stringer("session", s).Msg("Dropping stored session with unknown generation")
			continue
		}
		if _, dup := seen[s.ID]; dup {
			continue
		}
		seen[s.ID] = struct{}{}
		list = append(list, s)
	}
	r.sessions = list
	r.pruneMetadataLocked()
	r.log.Info().Int("count", len(list)).Msg("Loaded sessions")
	r.commitLocked(ctx, false)
	return nil
}

// List returns an ordered snapshot with metadata overlaid.
func (r *Registry) List() []session.WithMetadata {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Sessions returns the bare ordered list.
func (r *Registry) Sessions() []session.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]session.Session{}, r.sessions...)
}

// Get looks up a session by identifier.
func (r *Registry) Get(id string) (session.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.indexLocked(id)
	if idx < 0 {
		return session.Session{}, false
	}
	return r.sessions[idx], true
}

// Add appends s unless a session with the same identifier already exists.
// It reports whether the list changed.
func (r *Registry) Add(ctx context.Context, s session.Session) (bool, error) {
	if !s.Valid() {
		return false, session.ErrUnknownKind
	}

	r.mu.Lock()
	if r.indexLocked(s.ID) >= 0 {
		r.mu.Unlock()
		return false, nil
	}
	r.sessions = append(append([]session.Session{}, r.sessions...), s)
	r.pruneMetadataLocked()
	r.log.Debug().Stringer("session", s).Msg("Session added")
	return true, r.commitLocked(ctx, true)
}

// Remove deletes the session with the given identifier and its metadata.
// Removing an unknown identifier is a no-op. It reports whether the list changed.
func (r *Registry) Remove(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	idx := r.indexLocked(id)
	if idx < 0 {
		r.mu.Unlock()
		return false, nil
	}
	removed := r.sessions[idx]
	next := make([]session.Session, 0, len(r.sessions)-1)
	next = append(next, r.sessions[:idx]...)
	next = append(next, r.sessions[idx+1:]...)
	r.sessions = next
	delete(r.metadata, id)
	r.pruneMetadataLocked()
	r.log.Debug().Stringer("session", removed).Msg("Session removed")
	return true, r.commitLocked(ctx, true)
}

// SetMetadata overlays peer metadata onto a session. A nil md clears it.
// Metadata is never persisted. Metadata for an identifier that is not in the
// list survives only until the next Add, Remove or Load.
func (r *Registry) SetMetadata(id string, md *session.Metadata) {
	r.mu.Lock()
	if md == nil {
		if _, ok := r.metadata[id]; !ok {
			r.mu.Unlock()
			return
		}
		delete(r.metadata, id)
	} else {
		r.metadata[id] = md.Clone()
	}
	r.commitLocked(context.Background(), false)
}

// Subscribe registers fn and returns a function that unregisters it.
func (r *Registry) Subscribe(fn Observer) (unsubscribe func()) {
	r.notifyMu.Lock()
	id := r.nextObs
	r.nextObs++
	r.observers[id] = fn
	r.notifyMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.notifyMu.Lock()
			delete(r.observers, id)
			r.notifyMu.Unlock()
		})
	}
}

func (r *Registry) indexLocked(id string) int {
	for i, s := range r.sessions {
		if s.ID == id {
			return i
		}
	}
	return -1
}

// pruneMetadataLocked drops overlay entries for identifiers not in the list.
func (r *Registry) pruneMetadataLocked() {
	if len(r.metadata) == 0 {
		return
	}
	live := make(map[string]struct{}, len(r.sessions))
	for _, s := range r.sessions {
		live[s.ID] = struct{}{}
	}
	for id := range r.metadata {
		if _, ok := live[id]; !ok {
			delete(r.metadata, id)
		}
	}
}

func (r *Registry) snapshotLocked() []session.WithMetadata {
	out := make([]session.WithMetadata, len(r.sessions))
	for i, s := range r.sessions {
		out[i] = session.WithMetadata{Session: s, Metadata: r.metadata[s.ID].Clone()}
	}
	return out
}

// commitLocked persists (when persist is set) and notifies. It must be called
// with mu held and releases it. notifyMu is taken before mu is released so
// observers see snapshots in mutation order.
func (r *Registry) commitLocked(ctx context.Context, persist bool) error {
	var err error
	if persist {
		if err = r.store.Save(ctx, r.namespace, r.sessions); err != nil {
			r.log.Error().Err(err).Msg("Failed to persist sessions")
		}
	}
	snapshot := r.snapshotLocked()

	r.notifyMu.Lock()
	r.mu.Unlock()
	defer r.notifyMu.Unlock()
	for _, fn := range r.observers {
		fn(snapshot)
	}
	return err
}
