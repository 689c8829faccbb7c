// Package optimistic keeps a local mirror of a remote collection. Mutations
// show up in the visible collection immediately and are confirmed with the
// remote authority afterwards; a failed confirmation undoes only that
// mutation.
//
// Each key holds a confirmed base value plus the mutations still awaiting
// confirmation. The visible value is the base with the pending mutations
// re-applied in issuance order. Remote calls for one key run one at a time in
// issuance order, so confirmations and rollbacks for a key never interleave.
package optimistic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/adeilh/rakh-shop/cache"
)

// LocalState tags an item with what is still unconfirmed about it.
type LocalState int

const (
	Synced LocalState = iota
	PendingAdd
	PendingRemove
	PendingUpdate
)

func (s LocalState) String() string {
	switch s {
	case Synced:
		return "synced"
	case PendingAdd:
		return "pending-add"
	case PendingRemove:
		return "pending-remove"
	case PendingUpdate:
		return "pending-update"
	default:
		return fmt.Sprintf("LocalState(%d)", int(s))
	}
}

// Entry is a key/value pair as exchanged with the remote authority and the
// durable snapshot.
type Entry[K comparable, V any] struct {
	Key   K `json:"key"`
	Value V `json:"value"`
}

// Item is one row of the visible collection.
type Item[K comparable, V any] struct {
	Key   K
	Value V
	State LocalState
}

// ApplyFunc computes the next value for a key from the current one. Returning
// ok=false removes the key.
type ApplyFunc[V any] func(current V, present bool) (next V, ok bool)

// Mutation is one user-issued change.
type Mutation[K comparable, V any] struct {
	Key   K
	Apply ApplyFunc[V]
	// Remote confirms the change with the authority. When nil, or when the
	// store is offline, the change is local only.
	Remote func(ctx context.Context) error
}

// Remote is the authority the store reconciles with.
type Remote[K comparable, V any] interface {
	// Online reports whether remote calls should be made at all.
	Online(ctx context.Context) bool
	// Fetch returns the authoritative collection in display order.
	Fetch(ctx context.Context) ([]Entry[K, V], error)
}

var ErrNoRemote = errors.New("optimistic: no remote configured")

type pendingOp[V any] struct {
	apply ApplyFunc[V]
}

type snapshot[K comparable, V any] struct {
	Items        []Entry[K, V] `json:"items"`
	FirstAddedAt time.Time     `json:"firstAddedAt,omitempty"`
}

// Store is safe for concurrent use.
type Store[K comparable, V any] struct {
	key     string
	durable cache.Store
	remote  Remote[K, V]
	ttl     time.Duration
	now     func() time.Time
	logger  *slog.Logger

	mu           sync.Mutex
	base         map[K]V
	order        []K
	pending      map[K][]*pendingOp[V]
	tails        map[K]chan struct{}
	firstAddedAt time.Time
	version      uint64

	// notifyMu guards delivery bookkeeping only. Observers run without it,
	// so they may call back into the store or unsubscribe themselves.
	notifyMu      sync.Mutex
	notified      uint64
	queued        []Item[K, V]
	queuedVersion uint64
	delivering    bool
	observers     map[int]func([]Item[K, V])
	nextObs       int
}

// New returns a Store persisting its snapshot under key in durable. remote may
// be nil for a purely local collection.
func New[K comparable, V any](key string, durable cache.Store, remote Remote[K, V], opts ...Option) *Store[K, V] {
	cfg := defaultConfig()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return &Store[K, V]{
		key:       key,
		durable:   durable,
		remote:    remote,
		ttl:       cfg.ttl,
		now:       cfg.now,
		logger:    cfg.logger,
		base:      make(map[K]V),
		pending:   make(map[K][]*pendingOp[V]),
		tails:     make(map[K]chan struct{}),
		observers: make(map[int]func([]Item[K, V])),
	}
}

// Load populates the confirmed collection from the durable snapshot. It never
// touches the network. A malformed snapshot, or one older than the store's
// TTL, is discarded.
func (s *Store[K, V]) Load(ctx context.Context) error {
	raw, err := s.durable.Get(ctx, s.key)
	if err != nil && !errors.Is(err, cache.ErrNotFound) {
		return fmt.Errorf("optimistic: load %s: %w", s.key, err)
	}

	var snap snapshot[K, V]
	if err == nil {
		if decodeErr := json.Unmarshal(raw, &snap); decodeErr != nil {
			s.logger.Warn("optimistic: discarding malformed snapshot", "key", s.key, "error", decodeErr)
			snap = snapshot[K, V]{}
			s.purge(ctx)
		} else if s.expired(snap.FirstAddedAt) {
			s.logger.Debug("optimistic: snapshot expired", "key", s.key, "firstAddedAt", snap.FirstAddedAt)
			snap = snapshot[K, V]{}
			s.purge(ctx)
		}
	}

	s.mu.Lock()
	s.base = make(map[K]V, len(snap.Items))
	s.order = s.order[:0]
	for _, e := range snap.Items {
		if _, dup := s.base[e.Key]; !dup {
			s.order = append(s.order, e.Key)
		}
		s.base[e.Key] = e.Value
	}
	for k := range s.pending {
		s.touch(k)
	}
	s.firstAddedAt = snap.FirstAddedAt
	items, version := s.changedLocked()
	s.mu.Unlock()

	s.notify(items, version)
	return nil
}

// Sync replaces the confirmed collection with the remote one when online.
// Keys with unconfirmed mutations keep their local base so the mutation is
// not applied twice. On failure the collection is left untouched and the
// error is returned for logging.
func (s *Store[K, V]) Sync(ctx context.Context) error {
	if s.remote == nil {
		return ErrNoRemote
	}
	if !s.remote.Online(ctx) {
		return nil
	}
	entries, err := s.remote.Fetch(ctx)
	if err != nil {
		s.logger.Warn("optimistic: sync failed, keeping local state", "key", s.key, "error", err)
		return fmt.Errorf("optimistic: sync %s: %w", s.key, err)
	}

	s.mu.Lock()
	base := make(map[K]V, len(entries))
	order := make([]K, 0, len(entries))
	for _, e := range entries {
		if _, busy := s.pending[e.Key]; busy {
			continue
		}
		if _, dup := base[e.Key]; !dup {
			order = append(order, e.Key)
		}
		base[e.Key] = e.Value
	}
	for k := range s.pending {
		if v, ok := s.base[k]; ok {
			base[k] = v
		}
	}
	// Keep local positions for keys that are still pending.
	for _, k := range s.order {
		if _, busy := s.pending[k]; busy {
			order = append(order, k)
		}
	}
	s.base = base
	s.order = order
	s.compact()
	if len(s.base) > 0 && s.firstAddedAt.IsZero() {
		s.firstAddedAt = s.now()
	}
	items, version := s.changedLocked()
	s.persistLocked(ctx)
	s.mu.Unlock()

	s.notify(items, version)
	return nil
}

// Apply performs m optimistically. When the store is online and m has a
// Remote, Apply blocks until the remote call for m has finished, rolling m
// back and returning the remote error on failure.
func (s *Store[K, V]) Apply(ctx context.Context, m Mutation[K, V]) error {
	if m.Apply == nil {
		return errors.New("optimistic: mutation without apply func")
	}
	online := m.Remote != nil && s.remote != nil && s.remote.Online(ctx)

	s.mu.Lock()
	if !online {
		s.applyBaseLocked(m.Key, m.Apply)
		items, version := s.changedLocked()
		s.persistLocked(ctx)
		s.mu.Unlock()
		s.notify(items, version)
		return nil
	}

	op := &pendingOp[V]{apply: m.Apply}
	s.pending[m.Key] = append(s.pending[m.Key], op)
	s.touch(m.Key)
	s.markFirstAddedLocked()
	prev := s.tails[m.Key]
	done := make(chan struct{})
	s.tails[m.Key] = done
	items, version := s.changedLocked()
	s.persistLocked(ctx)
	s.mu.Unlock()
	s.notify(items, version)

	if prev != nil {
		<-prev
	}
	err := m.Remote(ctx)

	s.mu.Lock()
	s.dropPending(m.Key, op)
	if s.tails[m.Key] == done {
		delete(s.tails, m.Key)
	}
	if err == nil {
		s.applyBaseLocked(m.Key, m.Apply)
	} else {
		s.logger.Warn("optimistic: remote mutation failed, rolling back", "key", s.key, "item", m.Key, "error", err)
	}
	s.compact()
	items, version = s.changedLocked()
	s.persistLocked(ctx)
	s.mu.Unlock()
	close(done)

	s.notify(items, version)
	return err
}

// Items returns the visible collection in insertion order.
func (s *Store[K, V]) Items() []Item[K, V] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visibleLocked()
}

// Get returns the visible value for key.
func (s *Store[K, V]) Get(key K) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.valueLocked(key)
}

// Len reports the number of visible items.
func (s *Store[K, V]) Len() int {
	return len(s.Items())
}

// FirstAddedAt is when the collection last went from empty to non-empty.
func (s *Store[K, V]) FirstAddedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firstAddedAt
}

// Clear drops the confirmed collection and its snapshot. Pending mutations
// are kept and still resolve.
func (s *Store[K, V]) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.base = make(map[K]V)
	s.compact()
	s.firstAddedAt = time.Time{}
	items, version := s.changedLocked()
	err := cache.IgnoreNotFound(s.durable.Delete(ctx, s.key))
	if len(s.pending) > 0 {
		s.persistLocked(ctx)
	}
	s.mu.Unlock()

	s.notify(items, version)
	if err != nil {
		return fmt.Errorf("optimistic: clear %s: %w", s.key, err)
	}
	return nil
}

// OnChange registers fn to receive every visible transition. The returned
// func unregisters it and may be called from inside fn. fn runs outside the
// store's locks, may call back into the store, and may be called after its
// caller has gone away.
func (s *Store[K, V]) OnChange(fn func([]Item[K, V])) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	s.notifyMu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.notifyMu.Unlock()
	return func() {
		s.notifyMu.Lock()
		delete(s.observers, id)
		s.notifyMu.Unlock()
	}
}

// notify hands the newest visible collection to observers in version order.
// One caller at a time delivers; a notification raised meanwhile, including
// from inside an observer, is queued and delivered by that caller once the
// current round returns. Superseded versions are skipped.
func (s *Store[K, V]) notify(items []Item[K, V], version uint64) {
	s.notifyMu.Lock()
	if version <= s.notified || version <= s.queuedVersion {
		s.notifyMu.Unlock()
		return
	}
	s.queued, s.queuedVersion = items, version
	if s.delivering {
		s.notifyMu.Unlock()
		return
	}
	s.delivering = true
	s.notifyMu.Unlock()

	defer func() {
		s.notifyMu.Lock()
		s.delivering = false
		s.notifyMu.Unlock()
	}()
	for {
		s.notifyMu.Lock()
		if s.queuedVersion <= s.notified {
			s.notifyMu.Unlock()
			return
		}
		items := s.queued
		s.notified, s.queued = s.queuedVersion, nil
		fns := s.observerFuncsLocked()
		s.notifyMu.Unlock()

		for _, fn := range fns {
			fn(cloneItems(items))
		}
	}
}

// observerFuncsLocked returns observers in registration order.
func (s *Store[K, V]) observerFuncsLocked() []func([]Item[K, V]) {
	ids := make([]int, 0, len(s.observers))
	for id := range s.observers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func([]Item[K, V]), len(ids))
	for i, id := range ids {
		fns[i] = s.observers[id]
	}
	return fns
}

func (s *Store[K, V]) changedLocked() ([]Item[K, V], uint64) {
	s.version++
	return s.visibleLocked(), s.version
}

func (s *Store[K, V]) valueLocked(key K) (V, bool) {
	v, ok := s.base[key]
	for _, op := range s.pending[key] {
		v, ok = op.apply(v, ok)
	}
	if !ok {
		var zero V
		return zero, false
	}
	return v, true
}

func (s *Store[K, V]) stateLocked(key K, visible bool) LocalState {
	if len(s.pending[key]) == 0 {
		return Synced
	}
	_, confirmed := s.base[key]
	switch {
	case visible && !confirmed:
		return PendingAdd
	case !visible && confirmed:
		return PendingRemove
	default:
		return PendingUpdate
	}
}

func (s *Store[K, V]) visibleLocked() []Item[K, V] {
	items := make([]Item[K, V], 0, len(s.order))
	for _, k := range s.order {
		v, ok := s.valueLocked(k)
		if !ok {
			continue
		}
		items = append(items, Item[K, V]{Key: k, Value: v, State: s.stateLocked(k, true)})
	}
	return items
}

// PendingState reports the local state of key, including keys that are
// hidden because their removal is still unconfirmed.
func (s *Store[K, V]) PendingState(key K) LocalState {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, visible := s.valueLocked(key)
	return s.stateLocked(key, visible)
}

func (s *Store[K, V]) applyBaseLocked(key K, apply ApplyFunc[V]) {
	cur, ok := s.base[key]
	next, keep := apply(cur, ok)
	if keep {
		s.base[key] = next
		s.touch(key)
		s.markFirstAddedLocked()
	} else {
		delete(s.base, key)
	}
	s.compact()
}

func (s *Store[K, V]) markFirstAddedLocked() {
	if s.firstAddedAt.IsZero() {
		s.firstAddedAt = s.now()
	}
}

func (s *Store[K, V]) touch(key K) {
	for _, k := range s.order {
		if k == key {
			return
		}
	}
	s.order = append(s.order, key)
}

// compact forgets keys that are neither confirmed nor pending and resets
// firstAddedAt once nothing is visible.
func (s *Store[K, V]) compact() {
	kept := s.order[:0]
	for _, k := range s.order {
		_, confirmed := s.base[k]
		if confirmed || len(s.pending[k]) > 0 {
			kept = append(kept, k)
		}
	}
	s.order = kept
	if len(s.order) == 0 {
		s.firstAddedAt = time.Time{}
	}
}

func (s *Store[K, V]) dropPending(key K, op *pendingOp[V]) {
	ops := s.pending[key]
	for i, p := range ops {
		if p == op {
			ops = append(ops[:i], ops[i+1:]...)
			break
		}
	}
	if len(ops) == 0 {
		delete(s.pending, key)
		return
	}
	s.pending[key] = ops
}

// persistLocked writes the visible collection. Storage failures are logged;
// the in-memory view stays authoritative for this process.
func (s *Store[K, V]) persistLocked(ctx context.Context) {
	visible := s.visibleLocked()
	if len(visible) == 0 {
		s.purge(ctx)
		return
	}
	snap := snapshot[K, V]{Items: make([]Entry[K, V], 0, len(visible)), FirstAddedAt: s.firstAddedAt}
	for _, it := range visible {
		snap.Items = append(snap.Items, Entry[K, V]{Key: it.Key, Value: it.Value})
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		s.logger.Warn("optimistic: encode snapshot", "key", s.key, "error", err)
		return
	}
	if err := s.durable.Set(ctx, s.key, raw, 0); err != nil {
		s.logger.Warn("optimistic: persist snapshot", "key", s.key, "error", err)
	}
}

func (s *Store[K, V]) purge(ctx context.Context) {
	if err := cache.IgnoreNotFound(s.durable.Delete(ctx, s.key)); err != nil {
		s.logger.Warn("optimistic: purge snapshot", "key", s.key, "error", err)
	}
}

func (s *Store[K, V]) expired(firstAddedAt time.Time) bool {
	if s.ttl <= 0 || firstAddedAt.IsZero() {
		return false
	}
	return s.now().Sub(firstAddedAt) > s.ttl
}

func cloneItems[K comparable, V any](items []Item[K, V]) []Item[K, V] {
	return append([]Item[K, V](nil), items...)
}
