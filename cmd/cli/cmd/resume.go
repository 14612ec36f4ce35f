package cmd

import (
	"github.com/spf13/cobra"
)

var resumeCmd = &cobra.Command{
	Use:   "resume [ticket_id]",
	Short: "Deliver a message to a suspended workflow",
	Long: `Store the answer a suspended workflow is waiting for. A worker resumes the
graph from its checkpoint on its next poll.

Example:
  flowctl resume 5f0c... --message "Use OAuth, not passwords"`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		message, _ := cmd.Flags().GetString("message")
		if message == "" {
			cmd.Println("Error: --message is required")
			return
		}

		client, ok := apiClient(cmd)
		if !ok {
			return
		}

		if err := client.Resume(args[0], message); err != nil {
			printAPIError(cmd, err)
			return
		}
		cmd.Printf("✓ Resume message delivered to ticket %s\n", args[0])
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel [ticket_id]",
	Short: "Cancel a ticket",
	Long:  `Move a ticket to cancelled. Results of executions still in flight are discarded.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		reason, _ := cmd.Flags().GetString("reason")

		client, ok := apiClient(cmd)
		if !ok {
			return
		}

		ticket, err := client.Cancel(args[0], reason)
		if err != nil {
			printAPIError(cmd, err)
			return
		}
		cmd.Printf("✓ Ticket %s is %s\n", ticket.ID, ticket.State)
	},
}

func init() {
	resumeCmd.Flags().StringP("message", "m", "", "Message for the suspended agent (required)")
	cancelCmd.Flags().String("reason", "", "Why the ticket is cancelled")

	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(cancelCmd)
}
