// Command example wires a store together and walks through the core
// operations: create a calendar, add a recurring event, query a
// window, and observe cross-node invalidation through a shared bus.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/samber/mo"

	"github.com/openledge/calstore/calendar"
	"github.com/openledge/calstore/calendar/store"
	"github.com/openledge/calstore/config"
	"github.com/openledge/calstore/coordinate"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := config.Load("calstore.yaml")
	if err != nil {
		logger.Error("loading config", "error", err)
		os.Exit(1)
	}
	loc, err := cfg.Location()
	if err != nil {
		logger.Error("resolving timezone", "error", err)
		os.Exit(1)
	}

	gate := coordinate.NewLocalGate(cfg.LockTimeout.Std())
	bus := coordinate.NewBus(64, logger)
	defer bus.Close()

	st, err := store.New(store.Options{
		Root:     cfg.Root,
		Location: loc,
		Gate:     gate,
		Bus:      bus,
		NodeID:   cfg.NodeID,
		Logger:   logger,
	})
	if err != nil {
		logger.Error("creating store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	ctx := context.Background()
	key := calendar.Key{Kind: calendar.KindUser, ID: "alice"}

	standup := &calendar.Event{
		ID:             store.NewEventID(),
		Subject:        "Team standup",
		Location:       "Room 2.11",
		Begin:          time.Date(2026, 9, 7, 9, 0, 0, 0, loc),
		End:            time.Date(2026, 9, 7, 9, 15, 0, 0, loc),
		RecurrenceRule: calendar.RecurWorkdaily,
		Created:        time.Now(),
		CreatedBy:      "alice",
	}
	if err := st.AddEvent(ctx, key, standup); err != nil {
		logger.Error("adding event", "error", err)
		os.Exit(1)
	}

	occurrences, err := st.FindEvents(ctx, key, store.FindQuery{
		Pattern: "*standup*",
		Class:   mo.None[calendar.Classification](),
		From:    time.Date(2026, 9, 1, 0, 0, 0, 0, loc),
		To:      time.Date(2026, 9, 30, 23, 59, 59, 0, loc),
	})
	if err != nil {
		logger.Error("searching events", "error", err)
		os.Exit(1)
	}
	for _, occ := range occurrences {
		logger.Info("occurrence",
			"subject", occ.Event.Subject,
			"begin", occ.Begin.Format(time.RFC3339),
			"end", occ.End.Format(time.RFC3339))
	}
}
