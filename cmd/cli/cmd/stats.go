package cmd

import (
	"fmt"
	"io"
	"sort"

	"ticketflow/pkg/api"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show event counts and queue depth",
	Long:  `Show how many events of each kind the tenant has recorded, plus the number of pending executions and resumable workflows waiting for a worker.`,
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		client, ok := apiClient(cmd)
		if !ok {
			return
		}

		stats, err := client.Stats()
		if err != nil {
			printAPIError(cmd, err)
			return
		}
		if err := render(cmd, stats, func(w io.Writer) { printStats(w, stats) }); err != nil {
			cmd.Printf("Error: %v\n", err)
		}
	},
}

func printStats(w io.Writer, s *api.StatsResponse) {
	fmt.Fprintf(w, "%sQueue%s\n", colorBold, colorReset)
	fmt.Fprintf(w, "Pending executions\t%d\n", s.PendingExecutions)
	fmt.Fprintf(w, "Resumable workflows\t%d\n", s.ResumableWorkflows)

	kinds := make([]string, 0, len(s.EventsByKind))
	for k := range s.EventsByKind {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)

	fmt.Fprintf(w, "\n%sEvents%s\n", colorBold, colorReset)
	if len(kinds) == 0 {
		fmt.Fprintln(w, "none")
		return
	}
	for _, k := range kinds {
		fmt.Fprintf(w, "%s\t%d\n", k, s.EventsByKind[k])
	}
}

func init() {
	addOutputFlag(statsCmd)
	rootCmd.AddCommand(statsCmd)
}
