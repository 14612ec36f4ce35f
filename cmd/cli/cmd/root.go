package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "flowctl",
	Short: "flowctl is a command line tool for the ticketflow workflow engine",
	Long: `flowctl is the command-line interface for ticketflow.

ticketflow drives tickets through an AI agent pipeline: refinement, clarifying
questions, planning and implementation. Each step is an agent graph run by a
worker; graphs that need a human answer suspend and are resumed later.

Common workflows:

  Trigger a workflow for a ticket (the ticket is created on first use):
    flowctl trigger --key PROJ-123 --repo acme/api --title "Add login" --workflow refinement

  Answer a suspended workflow:
    flowctl resume <ticket-id> --message "Use OAuth, not passwords"

  Inspect a ticket:
    flowctl status <ticket-id>

  Browse the event log:
    flowctl events <ticket-id> -o yaml
    flowctl events --kind workflow_failed --from 2025-01-01T00:00:00Z

Configuration:
  Set the API endpoint and credentials via environment variables or a config file:
    TICKETFLOW_URL      API endpoint (default: http://localhost:6161)
    TICKETFLOW_TOKEN    Tenant API key for authentication`,
}

func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".flowctl"
		viper.AddConfigPath(home)
		viper.SetConfigName(".flowctl")
		viper.SetConfigType("yaml")
	}

	// Read environment variables that match "TICKETFLOW_VARNAME"
	viper.SetEnvPrefix("TICKETFLOW")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// apiClient returns an API client, or prints a hint and returns false when no token is configured.
func apiClient(cmd *cobra.Command) (*Client, bool) {
	token := viper.GetString("token")
	if token == "" {
		cmd.Println("API token not found. Please set it using the --token flag or the TICKETFLOW_TOKEN environment variable")
		return nil, false
	}
	return NewClient(viper.GetString("url"), token), true
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.flowctl.yaml)")

	rootCmd.PersistentFlags().String("url", "http://localhost:6161", "ticketflow controller URL")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))

	rootCmd.PersistentFlags().StringP("token", "t", "", "API token for authentication")
	viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
}
