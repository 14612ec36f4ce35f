package cmd

import (
	"ticketflow/pkg/api"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var createTenantCmd = &cobra.Command{
	Use:   "create-tenant",
	Short: "Create a tenant and print its API key",
	Long: `Create a new tenant. The API key is printed once and cannot be retrieved later.
When the controller sets ADMIN_TOKEN, pass it with --token.

Example:
  flowctl create-tenant --name acme --rate-limit 10 --burst 20`,
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		name, _ := flags.GetString("name")
		rateLimit, _ := flags.GetFloat64("rate-limit")
		burst, _ := flags.GetInt("burst")

		if name == "" {
			cmd.Println("Error: --name is required")
			return
		}

		client := NewClient(viper.GetString("url"), viper.GetString("token"))
		result, err := client.CreateTenant(api.CreateTenantRequest{
			Name:           name,
			RateLimit:      rateLimit,
			RateLimitBurst: burst,
		})
		if err != nil {
			printAPIError(cmd, err)
			return
		}

		cmd.Printf("✓ Tenant created!\nID:      %s\nName:    %s\nAPI key: %s\n", result.ID, result.Name, result.ApiKey)
		cmd.Println("Store the API key now, it is not shown again.")
	},
}

func init() {
	flags := createTenantCmd.Flags()
	flags.StringP("name", "n", "", "Name of the tenant (required)")
	flags.Float64("rate-limit", 0, "Requests per second, 0 for unlimited")
	flags.Int("burst", 0, "Rate limit burst")

	rootCmd.AddCommand(createTenantCmd)
}
