package cmd

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/planboard/chatcore/internal/eventbus"
	"github.com/planboard/chatcore/internal/lifecycle"
)

var eventsSummary time.Duration

var eventsCmd = &cobra.Command{
	Use:   "events [entity...]",
	Short: "Tail the CRUD event stream",
	Long: `Print create, update and delete notifications from the server's event
stream. Restrict the output to entities by naming them:
  chatcore events task plan

With --summary, per-entity counts are printed at most once per interval
instead of one line per event.`,
	RunE: runEvents,
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.Flags().DurationVar(&eventsSummary, "summary", 0, "Print throttled per-entity counts instead of every event")
}

func runEvents(cmd *cobra.Command, args []string) error {
	entities := make([]eventbus.Entity, 0, len(args))
	for _, a := range args {
		entities = append(entities, eventbus.Entity(strings.ToLower(a)))
	}

	api := newClient(cfg)
	opts := channelOptions(cfg, api)
	shutdown := lifecycle.New()
	bus := eventbus.New(eventbus.Options{
		URL:            api.EventsSocketURL(),
		Header:         opts.Header,
		Tickets:        opts.Tickets,
		Dialer:         opts.Dialer,
		Backoff:        opts.Backoff,
		RequireAuth:    opts.RequireAuth,
		OnStatus:       printStatus,
		OnForcedLogout: func() { go shutdown.Shutdown("auth error") },
	})
	shutdown.AddCleanup(func(string) { bus.Close() })

	if eventsSummary > 0 {
		var mu sync.Mutex
		counts := map[eventbus.Entity]int{}
		refresh := eventbus.NewRefresher(eventsSummary, func() {
			mu.Lock()
			defer mu.Unlock()
			fmt.Println(formatCounts(counts))
		})
		shutdown.AddCleanup(func(string) { refresh.Stop() })
		bus.Subscribe(func(ev eventbus.Event) {
			mu.Lock()
			counts[ev.Entity]++
			mu.Unlock()
			refresh.Trigger()
		}, entities...)
	} else {
		bus.Subscribe(func(ev eventbus.Event) {
			fmt.Println(formatEvent(ev))
		}, entities...)
	}

	shutdown.Start()
	bus.Start()
	<-shutdown.Context().Done()
	shutdown.Shutdown("exit")
	return nil
}

func formatEvent(ev eventbus.Event) string {
	s := fmt.Sprintf("%-8s %-10s %s", ev.Action, ev.Entity, ev.ID)
	if ev.WorkspaceID != "" {
		s += " workspace=" + ev.WorkspaceID
	}
	return s
}

func formatCounts(counts map[eventbus.Entity]int) string {
	keys := make([]string, 0, len(counts))
	for e := range counts {
		keys = append(keys, string(e))
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, counts[eventbus.Entity(k)]))
	}
	return time.Now().Format("15:04:05") + " " + strings.Join(parts, " ")
}

