package store

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openledge/calstore/calendar"
	"github.com/openledge/calstore/coordinate"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Options{Root: t.TempDir(), NodeID: "node-test"})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func timedEvent(id, subject string, begin time.Time, d time.Duration) *calendar.Event {
	return &calendar.Event{
		ID:      id,
		Subject: subject,
		Begin:   begin,
		End:     begin.Add(d),
	}
}

func TestGetCreatesEmptyCalendar(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := calendar.Key{Kind: calendar.KindUser, ID: "alice"}

	cal, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, key, cal.Key)
	assert.Equal(t, 0, cal.Len())
	assert.False(t, s.Exists(ctx, key), "no durable document until something is persisted")
}

func TestGetRejectsInvalidKey(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get(context.Background(), calendar.Key{Kind: "bogus", ID: "x"})
	assert.Error(t, err)
	_, err = s.Get(context.Background(), calendar.Key{Kind: calendar.KindUser, ID: "../etc"})
	assert.Error(t, err)
}

func TestAddEventPersistsDurably(t *testing.T) {
	root := t.TempDir()
	s, err := New(Options{Root: root, NodeID: "n1"})
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	key := calendar.Key{Kind: calendar.KindCourse, ID: "accounting"}
	begin := time.Date(2024, 2, 5, 14, 0, 0, 0, time.UTC)

	require.NoError(t, s.AddEvent(ctx, key, timedEvent("e1", "Lecture", begin, time.Hour)))
	assert.True(t, s.Exists(ctx, key))
	assert.FileExists(t, filepath.Join(root, "course", "accounting.ics"))

	// A second store over the same root, with its own empty cache,
	// must see the write.
	s2, err := New(Options{Root: root, NodeID: "n2"})
	require.NoError(t, err)
	defer s2.Close()

	cal, err := s2.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, 1, cal.Len())
	assert.Equal(t, "Lecture", cal.Get("e1").Subject)
}

func TestAddEventValidates(t *testing.T) {
	s := newTestStore(t)
	key := calendar.Key{Kind: calendar.KindUser, ID: "alice"}
	begin := time.Date(2024, 2, 5, 14, 0, 0, 0, time.UTC)

	err := s.AddEvent(context.Background(), key, &calendar.Event{Begin: begin, End: begin})
	assert.Error(t, err, "event without id")

	err = s.AddEvent(context.Background(), key,
		&calendar.Event{ID: "e", Begin: begin, End: begin.Add(-time.Minute)})
	assert.Error(t, err, "end before begin")
}

func TestUpdateEventReplaces(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := calendar.Key{Kind: calendar.KindUser, ID: "alice"}
	begin := time.Date(2024, 2, 5, 14, 0, 0, 0, time.UTC)

	require.NoError(t, s.AddEvent(ctx, key, timedEvent("e1", "Old subject", begin, time.Hour)))

	updated := timedEvent("e1", "New subject", begin.Add(time.Hour), 30*time.Minute)
	require.NoError(t, s.UpdateEvent(ctx, key, updated))

	cal, err := s.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, 1, cal.Len())
	assert.Equal(t, "New subject", cal.Get("e1").Subject)
	assert.True(t, cal.Get("e1").Begin.Equal(begin.Add(time.Hour)))
}

func TestRemoveEvent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := calendar.Key{Kind: calendar.KindUser, ID: "alice"}
	begin := time.Date(2024, 2, 5, 14, 0, 0, 0, time.UTC)

	require.NoError(t, s.AddEvent(ctx, key, timedEvent("e1", "Lecture", begin, time.Hour)))
	require.NoError(t, s.RemoveEvent(ctx, key, "e1"))

	cal, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 0, cal.Len())

	err = s.RemoveEvent(ctx, key, "e1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteCalendar(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := calendar.Key{Kind: calendar.KindGroup, ID: "g1"}
	begin := time.Date(2024, 2, 5, 14, 0, 0, 0, time.UTC)

	require.NoError(t, s.AddEvent(ctx, key, timedEvent("e1", "Meeting", begin, time.Hour)))
	require.True(t, s.Exists(ctx, key))

	require.NoError(t, s.Delete(ctx, key))
	assert.False(t, s.Exists(ctx, key))

	cal, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 0, cal.Len(), "deleted calendar reads as empty again")

	assert.ErrorIs(t, s.Delete(ctx, key), ErrNotFound)
}

func TestGetSurfacesMalformedDocument(t *testing.T) {
	root := t.TempDir()
	s, err := New(Options{Root: root, NodeID: "n1"})
	require.NoError(t, err)
	defer s.Close()

	key := calendar.Key{Kind: calendar.KindUser, ID: "broken"}
	require.NoError(t, os.MkdirAll(filepath.Join(root, "user"), 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(root, "user", "broken.ics"), []byte("garbage, not a document"), 0o644))

	_, err = s.Get(context.Background(), key)
	assert.ErrorIs(t, err, ErrMalformedDocument,
		"an unreadable calendar is a real operational problem, not an empty calendar")
}

func TestConcurrentAddsAreSerialized(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := calendar.Key{Kind: calendar.KindUser, ID: "alice"}
	begin := time.Date(2024, 2, 5, 14, 0, 0, 0, time.UTC)

	const writers = 8
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ev := timedEvent(string(rune('a'+n)), "Concurrent", begin, time.Hour)
			assert.NoError(t, s.AddEvent(ctx, key, ev))
		}(i)
	}
	wg.Wait()

	// Every writer re-fetched the base state inside the lock, so no
	// write can have clobbered another.
	cal, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, writers, cal.Len())
}

func TestIndependentCalendarsDoNotBlock(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	begin := time.Date(2024, 2, 5, 14, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b", "c", "d"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			key := calendar.Key{Kind: calendar.KindUser, ID: id}
			assert.NoError(t, s.AddEvent(ctx, key, timedEvent("e1", "Solo", begin, time.Hour)))
		}(id)
	}
	wg.Wait()
}

func TestRemoteInvalidationRefreshesCache(t *testing.T) {
	root := t.TempDir()
	bus := coordinate.NewBus(16, nil)
	defer bus.Close()

	s1, err := New(Options{Root: root, Bus: bus, NodeID: "node-1"})
	require.NoError(t, err)
	defer s1.Close()
	s2, err := New(Options{Root: root, Bus: bus, NodeID: "node-2"})
	require.NoError(t, err)
	defer s2.Close()

	ctx := context.Background()
	key := calendar.Key{Kind: calendar.KindUser, ID: "alice"}
	begin := time.Date(2024, 2, 5, 14, 0, 0, 0, time.UTC)

	// Warm node 2's cache with the pre-write state.
	cal, err := s2.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, 0, cal.Len())

	require.NoError(t, s1.AddEvent(ctx, key, timedEvent("e1", "Remote write", begin, time.Hour)))

	// Node 2 converges once it processes the invalidation.
	require.Eventually(t, func() bool {
		cal, err := s2.Get(ctx, key)
		return err == nil && cal.Len() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClonesProtectCachedState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := calendar.Key{Kind: calendar.KindUser, ID: "alice"}
	begin := time.Date(2024, 2, 5, 14, 0, 0, 0, time.UTC)

	require.NoError(t, s.AddEvent(ctx, key, timedEvent("e1", "Original", begin, time.Hour)))

	cal, err := s.Get(ctx, key)
	require.NoError(t, err)
	cal.Get("e1").Subject = "mutated by caller"

	fresh, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "Original", fresh.Get("e1").Subject)
}

func TestCalendarsListsIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	begin := time.Date(2024, 2, 5, 14, 0, 0, 0, time.UTC)

	for _, id := range []string{"beta", "alpha"} {
		key := calendar.Key{Kind: calendar.KindCourse, ID: id}
		require.NoError(t, s.AddEvent(ctx, key, timedEvent("e1", "Lecture", begin, time.Hour)))
	}

	ids, err := s.Calendars(ctx, calendar.KindCourse)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, ids)

	none, err := s.Calendars(ctx, calendar.KindGroup)
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = s.Calendars(ctx, "bogus")
	assert.Error(t, err)
}

func TestFindEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := calendar.Key{Kind: calendar.KindUser, ID: "alice"}

	weekly := timedEvent("standup", "Team standup", time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC), 15*time.Minute)
	weekly.RecurrenceRule = calendar.RecurWeekly
	require.NoError(t, s.AddEvent(ctx, key, weekly))

	private := timedEvent("dentist", "Dentist", time.Date(2024, 1, 10, 11, 0, 0, 0, time.UTC), time.Hour)
	require.NoError(t, s.AddEvent(ctx, key, private))

	public := timedEvent("townhall", "Town hall", time.Date(2024, 1, 17, 16, 0, 0, 0, time.UTC), time.Hour)
	public.Classification = calendar.ClassPublic
	require.NoError(t, s.AddEvent(ctx, key, public))

	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 1, 31, 23, 59, 59, 0, time.UTC)

	t.Run("window expansion includes seed and recurrences", func(t *testing.T) {
		got, err := s.FindEvents(ctx, key, FindQuery{
			Pattern: "*standup*",
			Class:   mo.None[calendar.Classification](),
			From:    from, To: to,
		})
		require.NoError(t, err)
		// Seed on Jan 1 plus four weekly recurrences.
		require.Len(t, got, 5)
		for i := 1; i < len(got); i++ {
			assert.True(t, got[i-1].Begin.Before(got[i].Begin), "sorted by begin")
		}
	})

	t.Run("classification filter", func(t *testing.T) {
		got, err := s.FindEvents(ctx, key, FindQuery{
			Class: mo.Some(calendar.ClassPublic),
			From:  from, To: to,
		})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "townhall", got[0].Event.ID)
	})

	t.Run("malformed rule degrades to the seed alone", func(t *testing.T) {
		corrupt := timedEvent("corrupt", "Broken meeting", time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC), time.Hour)
		corrupt.RecurrenceRule = "FREQ=NOPE;;;"
		require.NoError(t, s.AddEvent(ctx, key, corrupt))

		got, err := s.FindEvents(ctx, key, FindQuery{
			Pattern: "*meeting*",
			Class:   mo.None[calendar.Classification](),
			From:    from, To: to,
		})
		require.NoError(t, err)
		require.Len(t, got, 1, "the corrupt rule contributes no recurrences but the seed survives")
		assert.Equal(t, "corrupt", got[0].Event.ID)
	})
}
