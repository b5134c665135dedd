package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/reqsync/client"
	"github.com/teranos/reqsync/errors"
	"github.com/teranos/reqsync/reconcile"
	"github.com/teranos/reqsync/sym"
)

// WatchCmd follows the live requisition list
var WatchCmd = &cobra.Command{
	Use:   "watch",
	Short: sym.Watch + " Follow the live requisition list",
	Long: sym.Watch + ` watch — Follow the live requisition list

Connects to the server's websocket, renders every requisition and redraws
on each change. Reconnects automatically and resyncs from a fresh snapshot.

Examples:
  reqsync watch
  reqsync watch --events            # Print the event stream instead of a table
  reqsync watch --server http://reqsync.internal:8787`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

var (
	watchServerURL string
	watchEvents    bool
)

func init() {
	WatchCmd.Flags().StringVar(&watchServerURL, "server", "", "Server URL (default http://localhost:<server.port>)")
	WatchCmd.Flags().BoolVar(&watchEvents, "events", false, "Print one line per event instead of redrawing a table")
}

func runWatch(cmd *cobra.Command, args []string) error {
	c, err := client.New(serverURL(watchServerURL), client.DefaultTimeout)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	view := reconcile.NewView()
	var area *pterm.AreaPrinter
	if !watchEvents {
		area, err = pterm.DefaultArea.Start()
		if err != nil {
			return errors.Wrap(err, "start live area")
		}
		defer area.Stop()
	}

	var mu sync.Mutex
	status := "connecting to " + c.WebSocketURL()
	redraw := func() {
		if area == nil {
			return
		}
		table, err := pterm.DefaultTable.WithHasHeader().WithData(recordTable(view.Records(), view.Presence)).Srender()
		if err != nil {
			table = err.Error()
		}
		area.Update(fmt.Sprintf("%s %s  (seq %d)\n\n%s", sym.Watch, status, view.LastSeq(), table))
	}

	err = c.Follow(ctx, view, func(u client.Update) {
		mu.Lock()
		defer mu.Unlock()

		switch u.Kind {
		case client.UpdateSnapshot:
			status = "live"
			if watchEvents {
				pterm.Info.Printf("%s snapshot: %d requisitions\n", sym.Watch, len(view.Records()))
			}
		case client.UpdateEvent:
			if watchEvents {
				printEvent(u)
			}
		case client.UpdateDisconnected:
			status = fmt.Sprintf("disconnected (%v), retrying in %s", u.Err, u.Retry.Round(10*time.Millisecond))
			if watchEvents {
				pterm.Warning.Println(status)
			}
		}
		redraw()
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func printEvent(u client.Update) {
	ev := u.Event
	line := fmt.Sprintf("%s #%d %s %s", sym.ForEvent(string(ev.Type)), ev.Seq, ev.Type, ev.ID)
	switch {
	case ev.Record != nil:
		line += fmt.Sprintf(" v%d %s", ev.Record.Version, ev.Record.Status)
		if len(ev.Record.AssignedRecruiters) > 0 {
			line += fmt.Sprintf(" %s %v", sym.Work, ev.Record.AssignedRecruiters)
		}
	case ev.Presence != nil && ev.Presence.Recruiter != nil:
		line += fmt.Sprintf(" %s editing %s", *ev.Presence.Recruiter, deref(ev.Presence.Field))
	case ev.Presence != nil:
		line += " editing cleared"
	}
	fmt.Println(line)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
