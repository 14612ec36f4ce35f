package cmd

import (
	"encoding/json"

	"ticketflow/pkg/api"

	"github.com/spf13/cobra"
)

var triggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Trigger a workflow for a ticket",
	Long: `Enqueue an agent graph execution for a ticket. The ticket is created the
first time its key is seen.

Example:
  flowctl trigger --key PROJ-123 --repo acme/api --title "Add login" --workflow refinement
  flowctl trigger --key PROJ-123 --workflow planning --message '{"hint":"reuse the session store"}'`,
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		key, _ := flags.GetString("key")
		repo, _ := flags.GetString("repo")
		title, _ := flags.GetString("title")
		description, _ := flags.GetString("description")
		workflowType, _ := flags.GetString("workflow")
		message, _ := flags.GetString("message")

		if key == "" {
			cmd.Println("Error: --key is required")
			return
		}
		if workflowType == "" {
			cmd.Println("Error: --workflow is required")
			return
		}
		if message != "" && !json.Valid([]byte(message)) {
			cmd.Println("Error: --message must be valid JSON")
			return
		}

		client, ok := apiClient(cmd)
		if !ok {
			return
		}

		req := api.TriggerRequest{
			Key:          key,
			RepositoryID: repo,
			Title:        title,
			Description:  description,
			WorkflowType: workflowType,
		}
		if message != "" {
			req.Message = json.RawMessage(message)
		}

		result, err := client.Trigger(req)
		if err != nil {
			printAPIError(cmd, err)
			return
		}

		if result.Created {
			cmd.Printf("✓ Ticket created and workflow queued!\n")
		} else {
			cmd.Printf("✓ Workflow queued!\n")
		}
		cmd.Printf("Ticket:    %s\nExecution: %s\nState:     %s\n", result.TicketID, result.ExecutionID, result.State)
	},
}

func init() {
	flags := triggerCmd.Flags()
	flags.StringP("key", "k", "", "External ticket key, e.g. PROJ-123 (required)")
	flags.StringP("repo", "r", "", "Repository the ticket belongs to")
	flags.String("title", "", "Ticket title")
	flags.String("description", "", "Ticket description")
	flags.StringP("workflow", "w", "", "Workflow type to run (required)")
	flags.StringP("message", "m", "", "Initial message for the graph, as JSON")

	rootCmd.AddCommand(triggerCmd)
}
