// Package store owns the mapping from calendar keys to calendars:
// read-through caching, per-calendar mutual exclusion, durable
// iCalendar documents and cross-node cache invalidation.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openledge/calstore/calendar"
	"github.com/openledge/calstore/calendar/ics"
	"github.com/openledge/calstore/calendar/recurrence"
	"github.com/openledge/calstore/coordinate"
)

var (
	// ErrNotFound is returned when a durable document or event is
	// absent where one is required. A missing calendar on Get is not
	// an error; an empty calendar is created instead.
	ErrNotFound = errors.New("not found")
	// ErrStorageUnavailable is returned when the durable layer cannot
	// be read or written.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrLockTimeout mirrors the gate's transient acquisition failure.
	ErrLockTimeout = coordinate.ErrLockTimeout
	// ErrMalformedDocument mirrors the codec's document-level failure.
	ErrMalformedDocument = ics.ErrMalformedDocument
)

const documentSuffix = ".ics"

// Options configures a Store. Gate, Bus and Cache are injected
// capabilities; in a cluster they are backed by the coordination
// service, here they default to the local implementations.
type Options struct {
	// Root is the directory holding one subdirectory per calendar kind.
	Root string
	// Location is the display timezone used when encoding timed events.
	Location *time.Location
	// Gate provides the named mutual-exclusion zones. Defaults to a
	// LocalGate.
	Gate coordinate.Gate
	// Bus broadcasts invalidations to other nodes. Optional.
	Bus *coordinate.Bus
	// Cache is the shared read cache. Defaults to a MemoryCache.
	Cache Cache
	// NodeID identifies this process in invalidation messages.
	// Defaults to a fresh uuid.
	NodeID string
	Logger *slog.Logger
}

// Store loads, caches, mutates and persists calendars. Operations on
// the same calendar are serialized by the gate; operations on
// different calendars proceed independently.
type Store struct {
	root   string
	codec  *ics.Codec
	engine *recurrence.Engine
	gate   coordinate.Gate
	bus    *coordinate.Bus
	cache  Cache
	nodeID string
	logger *slog.Logger

	ownCache bool
	stop     chan struct{}
	wg       sync.WaitGroup
}

// New creates a store rooted at opts.Root.
func New(opts Options) (*Store, error) {
	if opts.Root == "" {
		return nil, errors.New("store root is required")
	}
	if err := os.MkdirAll(opts.Root, 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating root: %v", ErrStorageUnavailable, err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{
		root:   opts.Root,
		codec:  ics.NewCodec(opts.Location, logger),
		engine: recurrence.NewEngine(logger),
		gate:   opts.Gate,
		bus:    opts.Bus,
		cache:  opts.Cache,
		nodeID: opts.NodeID,
		logger: logger,
		stop:   make(chan struct{}),
	}
	if s.gate == nil {
		s.gate = coordinate.NewLocalGate(0)
	}
	if s.cache == nil {
		s.cache = NewMemoryCache(DefaultCacheConfig)
		s.ownCache = true
	}
	if s.nodeID == "" {
		s.nodeID = uuid.NewString()
	}

	// Interchange documents from other systems routinely arrive with
	// lax line folding; the switch is global and must be thrown before
	// the first decode.
	ics.SetRelaxedParsing(true)

	if s.bus != nil {
		ch := s.bus.Subscribe()
		s.wg.Add(1)
		go s.watchInvalidations(ch)
	}

	return s, nil
}

// Close stops the invalidation listener and releases the cache if the
// store created it.
func (s *Store) Close() {
	close(s.stop)
	s.wg.Wait()
	if s.ownCache {
		s.cache.Close()
	}
}

// NodeID returns the id this store signs its broadcasts with.
func (s *Store) NodeID() string { return s.nodeID }

// NewEventID returns a globally unique event id.
func NewEventID() string { return uuid.NewString() }

// Exists reports whether a durable document for key is present. A
// calendar that has only ever been materialized empty in the cache
// does not exist yet.
func (s *Store) Exists(_ context.Context, key calendar.Key) bool {
	if key.Validate() != nil {
		return false
	}
	_, err := os.Stat(s.path(key))
	return err == nil
}

// Get returns a copy of the calendar for key. A cache hit is
// lock-free and may be slightly stale between a remote write and this
// node's invalidation. On a miss the per-calendar lock is taken so
// two concurrent first loads cannot cache divergent copies; a missing
// document yields a fresh empty calendar.
func (s *Store) Get(ctx context.Context, key calendar.Key) (*calendar.Calendar, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if cal, ok := s.cache.Get(key); ok {
		return cal.Clone(), nil
	}

	var result *calendar.Calendar
	err := s.gate.WithLock(ctx, key.String(), func() error {
		if cal, ok := s.cache.Get(key); ok {
			result = cal
			return nil
		}
		cal, err := s.load(key)
		if err != nil {
			return err
		}
		s.cache.Put(key, cal)
		result = cal
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result.Clone(), nil
}

// Persist writes the given calendar wholesale, refreshes the cache
// and notifies other nodes. The previous document is replaced
// atomically: either the new representation is fully visible or the
// old one remains.
func (s *Store) Persist(ctx context.Context, cal *calendar.Calendar) error {
	if err := cal.Key.Validate(); err != nil {
		return err
	}
	return s.gate.WithLock(ctx, cal.Key.String(), func() error {
		if err := s.persistLocked(cal.Clone()); err != nil {
			return err
		}
		s.broadcast(cal.Key)
		return nil
	})
}

// Delete removes the durable document and the cache entry for key.
func (s *Store) Delete(ctx context.Context, key calendar.Key) error {
	if err := key.Validate(); err != nil {
		return err
	}
	return s.gate.WithLock(ctx, key.String(), func() error {
		err := os.Remove(s.path(key))
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: calendar %s", ErrNotFound, key)
		}
		if err != nil {
			return fmt.Errorf("%w: deleting %s: %v", ErrStorageUnavailable, key, err)
		}
		s.cache.Remove(key)
		s.broadcast(key)
		return nil
	})
}

// AddEvent inserts ev into the calendar for key.
func (s *Store) AddEvent(ctx context.Context, key calendar.Key, ev *calendar.Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	return s.mutate(ctx, key, func(cal *calendar.Calendar) error {
		ev := ev.Clone()
		ev.NormalizeAllDay()
		cal.Add(ev)
		return nil
	})
}

// RemoveEvent deletes the event with eventID from the calendar for
// key. Removing an absent event is ErrNotFound.
func (s *Store) RemoveEvent(ctx context.Context, key calendar.Key, eventID string) error {
	return s.mutate(ctx, key, func(cal *calendar.Calendar) error {
		if !cal.Remove(eventID) {
			return fmt.Errorf("%w: event %s in calendar %s", ErrNotFound, eventID, key)
		}
		return nil
	})
}

// UpdateEvent replaces the event with ev's id: remove-then-add, so no
// partially mutated copy is ever observable.
func (s *Store) UpdateEvent(ctx context.Context, key calendar.Key, ev *calendar.Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	return s.mutate(ctx, key, func(cal *calendar.Calendar) error {
		cal.Remove(ev.ID)
		ev := ev.Clone()
		ev.NormalizeAllDay()
		cal.Add(ev)
		return nil
	})
}

// Calendars lists the ids of the durable calendars of one kind.
func (s *Store) Calendars(_ context.Context, kind calendar.Kind) ([]string, error) {
	if _, err := calendar.ParseKind(string(kind)); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(s.root, string(kind)))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: listing %s calendars: %v", ErrStorageUnavailable, kind, err)
	}
	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, documentSuffix) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, documentSuffix))
	}
	sort.Strings(ids)
	return ids, nil
}

// mutate runs fn against a fresh copy of the calendar under its lock,
// then persists and broadcasts. The fresh fetch inside the lock is
// what makes concurrent writers see each other's completed writes: a
// caller-held calendar reference is never trusted as the base state.
func (s *Store) mutate(ctx context.Context, key calendar.Key, fn func(*calendar.Calendar) error) error {
	if err := key.Validate(); err != nil {
		return err
	}
	return s.gate.WithLock(ctx, key.String(), func() error {
		cal, ok := s.cache.Get(key)
		if !ok {
			loaded, err := s.load(key)
			if err != nil {
				return err
			}
			cal = loaded
		}
		cal = cal.Clone()
		if err := fn(cal); err != nil {
			return err
		}
		if err := s.persistLocked(cal); err != nil {
			return err
		}
		s.broadcast(key)
		return nil
	})
}

// load reads and decodes the durable document. Absent document means
// a fresh empty calendar.
func (s *Store) load(key calendar.Key) (*calendar.Calendar, error) {
	data, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return calendar.New(key), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrStorageUnavailable, key, err)
	}
	cal, err := s.codec.Decode(key, string(data))
	if err != nil {
		return nil, fmt.Errorf("calendar %s: %w", key, err)
	}
	return cal, nil
}

// persistLocked encodes and atomically replaces the durable document,
// then refreshes the cache. Caller holds the calendar's lock. Once
// started the write runs to completion; cancellation mid-replace would
// leave store and cache disagreeing.
func (s *Store) persistLocked(cal *calendar.Calendar) error {
	text, err := s.codec.Encode(cal)
	if err != nil {
		return err
	}

	path := s.path(cal.Key)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: creating %s: %v", ErrStorageUnavailable, dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+cal.Key.ID+"-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: staging %s: %v", ErrStorageUnavailable, cal.Key, err)
	}
	if _, err := tmp.WriteString(text); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: writing %s: %v", ErrStorageUnavailable, cal.Key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: writing %s: %v", ErrStorageUnavailable, cal.Key, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: replacing %s: %v", ErrStorageUnavailable, cal.Key, err)
	}

	s.cache.Put(cal.Key, cal)
	return nil
}

func (s *Store) path(key calendar.Key) string {
	return filepath.Join(s.root, string(key.Kind), key.ID+documentSuffix)
}

func (s *Store) broadcast(key calendar.Key) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(coordinate.Invalidation{Key: key, Origin: s.nodeID})
}

// watchInvalidations drops cache entries written by other nodes.
func (s *Store) watchInvalidations(ch <-chan coordinate.Invalidation) {
	defer s.wg.Done()
	for {
		select {
		case inv, ok := <-ch:
			if !ok {
				return
			}
			if inv.Origin == s.nodeID {
				continue
			}
			s.cache.Remove(inv.Key)
			s.logger.Debug("invalidated calendar after remote write",
				"calendar", inv.Key, "origin", inv.Origin)
		case <-s.stop:
			return
		}
	}
}
