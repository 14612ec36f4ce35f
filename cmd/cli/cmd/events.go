package cmd

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"ticketflow/pkg/api"

	"github.com/spf13/cobra"
)

var eventsCmd = &cobra.Command{
	Use:   "events [ticket_id]",
	Short: "Show the event log",
	Long: `Query the event log, newest first. Without a ticket id all tickets of the
tenant are searched.

Example:
  flowctl events 5f0c...
  flowctl events --kind state_changed,workflow_failed --from 2025-01-01T00:00:00Z -o json
  flowctl events 5f0c... --follow`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		kind, _ := flags.GetString("kind")
		from, _ := flags.GetString("from")
		to, _ := flags.GetString("to")
		limit, _ := flags.GetInt("limit")
		offset, _ := flags.GetInt("offset")
		follow, _ := flags.GetBool("follow")
		interval, _ := flags.GetDuration("interval")

		client, ok := apiClient(cmd)
		if !ok {
			return
		}

		query := url.Values{}
		if len(args) == 1 {
			query.Set("ticket_id", args[0])
		}
		if kind != "" {
			query.Set("kind", kind)
		}
		if from != "" {
			query.Set("from", from)
		}
		if to != "" {
			query.Set("to", to)
		}
		if limit > 0 {
			query.Set("limit", strconv.Itoa(limit))
		}
		if offset > 0 {
			query.Set("offset", strconv.Itoa(offset))
		}

		page, err := client.QueryEvents(query)
		if err != nil {
			printAPIError(cmd, err)
			return
		}
		if err := render(cmd, page, func(w io.Writer) { printEvents(w, page.Events, true) }); err != nil {
			cmd.Printf("Error: %v\n", err)
			return
		}
		if !follow {
			return
		}

		// Trap Ctrl+C to exit gracefully
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		followEvents(cmd, client, query, page.Events, interval, sigChan)
	},
}

// followEvents polls for events newer than the newest one seen and prints
// them oldest first until stop fires.
func followEvents(cmd *cobra.Command, client *Client, query url.Values, seen []api.EventResponse, interval time.Duration, stop <-chan os.Signal) {
	var since time.Time
	if len(seen) > 0 {
		since = seen[0].OccurredAt
	}
	printed := make(map[string]bool, len(seen))
	for _, e := range seen {
		printed[e.ID] = true
	}

	query.Del("offset")
	for {
		select {
		case <-stop:
			return
		case <-time.After(interval):
		}

		if !since.IsZero() {
			query.Set("from", since.Format(time.RFC3339Nano))
		}
		page, err := client.QueryEvents(query)
		if err != nil {
			cmd.Printf("Error fetching events: %v\n", err)
			continue
		}

		var fresh []api.EventResponse
		for i := len(page.Events) - 1; i >= 0; i-- {
			e := page.Events[i]
			if printed[e.ID] {
				continue
			}
			printed[e.ID] = true
			fresh = append(fresh, e)
			if e.OccurredAt.After(since) {
				since = e.OccurredAt
			}
		}
		if len(fresh) > 0 {
			render(cmd, api.EventsResponse{Events: fresh, Total: int64(len(fresh))}, func(w io.Writer) { printEvents(w, fresh, false) })
		}
	}
}

func printEvents(w io.Writer, events []api.EventResponse, header bool) {
	if header {
		if len(events) == 0 {
			fmt.Fprintln(w, "No events.")
			return
		}
		fmt.Fprintln(w, "TIME\tTICKET\tKIND\tPAYLOAD")
	}
	for _, e := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.OccurredAt.Format(time.RFC3339), e.TicketID, e.Kind, string(e.Payload))
	}
}

func init() {
	flags := eventsCmd.Flags()
	flags.String("kind", "", "Comma separated event kinds")
	flags.String("from", "", "Only events at or after this RFC3339 time")
	flags.String("to", "", "Only events before this RFC3339 time")
	flags.Int("limit", 0, "Page size (server default 50)")
	flags.Int("offset", 0, "Page offset")
	flags.BoolP("follow", "f", false, "Keep polling for new events")
	flags.Duration("interval", 2*time.Second, "Poll interval with --follow")
	addOutputFlag(eventsCmd)

	rootCmd.AddCommand(eventsCmd)
}
