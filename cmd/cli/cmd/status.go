package cmd

import (
	"fmt"
	"io"
	"time"

	"ticketflow/pkg/api"

	"github.com/spf13/cobra"
)

type ticketStatus struct {
	Ticket     api.TicketResponse      `json:"ticket"`
	Executions []api.ExecutionResponse `json:"executions"`
}

var statusCmd = &cobra.Command{
	Use:   "status [ticket_id]",
	Short: "Get status of a ticket",
	Long:  `Retrieve the current state of a ticket, its suspension (if any) and the executions queued for it.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client, ok := apiClient(cmd)
		if !ok {
			return
		}

		ticket, err := client.GetTicket(args[0])
		if err != nil {
			printAPIError(cmd, err)
			return
		}
		executions, err := client.ListExecutions(args[0])
		if err != nil {
			printAPIError(cmd, err)
			return
		}

		status := ticketStatus{Ticket: *ticket, Executions: executions}
		if err := render(cmd, status, func(w io.Writer) { printStatus(w, status) }); err != nil {
			cmd.Printf("Error: %v\n", err)
		}
	},
}

func printStatus(w io.Writer, s ticketStatus) {
	t := s.Ticket

	fmt.Fprintf(w, "%s %sTicket %s%s\n", stateIcon(t.State), colorBold, t.Key, colorReset)
	fmt.Fprintln(w, "──────────────────────────────")
	fmt.Fprintf(w, "%sID:%s\t%s\n", colorDim, colorReset, t.ID)
	fmt.Fprintf(w, "%sTitle:%s\t%s\n", colorDim, colorReset, t.Title)
	if t.RepositoryID != "" {
		fmt.Fprintf(w, "%sRepository:%s\t%s\n", colorDim, colorReset, t.RepositoryID)
	}
	fmt.Fprintf(w, "%sState:%s\t%s\n", colorDim, colorReset, colorizeState(t.State))
	fmt.Fprintf(w, "%sRetries:%s\t%d\n", colorDim, colorReset, t.RetryCount)
	if t.LastError != nil {
		fmt.Fprintf(w, "%sLast error:%s\t%s%s%s\n", colorDim, colorReset, colorRed, *t.LastError, colorReset)
	}
	fmt.Fprintf(w, "%sCreated:%s\t%s\n", colorDim, colorReset, formatTimeWithRelative(&t.CreatedAt))
	fmt.Fprintf(w, "%sUpdated:%s\t%s\n", colorDim, colorReset, formatTimeWithRelative(&t.UpdatedAt))
	if t.CompletedAt != nil {
		fmt.Fprintf(w, "%sClosed:%s\t%s %s(%s)%s\n", colorDim, colorReset,
			formatTimeWithRelative(t.CompletedAt),
			colorCyan, formatDuration(t.CompletedAt.Sub(t.CreatedAt)), colorReset)
	}

	if sp := t.Suspension; sp != nil {
		fmt.Fprintf(w, "\n%sSuspended%s in graph %s", colorYellow, colorReset, sp.GraphID)
		if sp.AgentName != "" {
			fmt.Fprintf(w, " at agent %s", sp.AgentName)
		}
		fmt.Fprintln(w)
		fmt.Fprintf(w, "%sSince:%s\t%s\n", colorDim, colorReset, formatTimeWithRelative(&sp.SuspendedAt))
		switch {
		case sp.FailedAt != nil:
			fmt.Fprintf(w, "%sResume:%s\t%sfailed after %d attempts%s\n", colorDim, colorReset, colorRed, sp.ResumeAttempts, colorReset)
		case sp.HasResumeMessage:
			fmt.Fprintf(w, "%sResume:%s\tmessage delivered, waiting for a worker\n", colorDim, colorReset)
		default:
			fmt.Fprintf(w, "%sResume:%s\twaiting for a message (flowctl resume %s -m ...)\n", colorDim, colorReset, t.ID)
		}
		if sp.LastResumeError != nil {
			fmt.Fprintf(w, "%sResume error:%s\t%s\n", colorDim, colorReset, *sp.LastResumeError)
		}
	}

	if len(s.Executions) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%sExecutions%s\n", colorBold, colorReset)
	fmt.Fprintln(w, "ID\tWORKFLOW\tSTATUS\tRETRIES\tCREATED")
	for _, e := range s.Executions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s ago\n", e.ID, e.WorkflowType, colorizeStatus(e.Status), e.RetryCount, relativeTime(e.CreatedAt))
	}
}

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

func stateIcon(state string) string {
	switch state {
	case "completed":
		return colorGreen + "✓" + colorReset
	case "failed", "implementation_failed":
		return colorRed + "✗" + colorReset
	case "cancelled":
		return colorDim + "⊘" + colorReset
	case "awaiting_answers", "ticket_update_under_review", "plan_under_review", "in_review":
		return colorYellow + "⏳" + colorReset
	default:
		return colorCyan + "◯" + colorReset
	}
}

func colorizeState(state string) string {
	icon := stateIcon(state)
	switch state {
	case "completed":
		return icon + " " + colorGreen + state + colorReset
	case "failed", "implementation_failed":
		return icon + " " + colorRed + state + colorReset
	case "cancelled":
		return icon + " " + colorDim + state + colorReset
	default:
		return icon + " " + state
	}
}

func colorizeStatus(status string) string {
	switch status {
	case "completed":
		return colorGreen + status + colorReset
	case "failed":
		return colorRed + status + colorReset
	case "running":
		return colorYellow + status + colorReset
	case "pending":
		return colorCyan + status + colorReset
	default:
		return status
	}
}

func formatTimeWithRelative(t *time.Time) string {
	if t == nil {
		return "-"
	}
	relative := relativeTime(*t)
	return fmt.Sprintf("%s %s(%s ago)%s", t.Format("Mon, 02 Jan 2006 15:04:05 MST"), colorDim, relative, colorReset)
}

func relativeTime(t time.Time) string {
	duration := time.Since(t)

	if duration < time.Minute {
		return fmt.Sprintf("%ds", int(duration.Seconds()))
	} else if duration < time.Hour {
		return fmt.Sprintf("%dm", int(duration.Minutes()))
	} else if duration < 24*time.Hour {
		return fmt.Sprintf("%dh", int(duration.Hours()))
	} else {
		days := int(duration.Hours() / 24)
		if days == 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", days)
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	} else if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	} else if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

func init() {
	addOutputFlag(statusCmd)
	rootCmd.AddCommand(statusCmd)
}
