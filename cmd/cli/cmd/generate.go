package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"agentplane/pkg/api"
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a scenario pack",
	Long: `Ask the agent to generate a scenario pack from a plain-language
description of the system under test.

Example:
  agentctl generate --project my-app --description "a REST API for shortening URLs"
  agentctl generate --project my-app --description "a chat server" --count 10`,
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		projectID, _ := flags.GetString("project")
		description, _ := flags.GetString("description")
		count, _ := flags.GetInt("count")

		url := viper.GetString("url")
		owner := viper.GetString("owner")

		if owner == "" {
			cmd.Println("Owner id not found. Please set it using the --owner flag or the AGENTPLANE_OWNER environment variable")
			return
		}

		if projectID == "" {
			cmd.Println("Error: --project is required")
			return
		}

		if description == "" {
			cmd.Println("Error: --description is required")
			return
		}

		client := NewBridgeClient(url, owner)
		req := api.GeneratePackRequest{
			ProjectID:   projectID,
			Description: description,
			Count:       count,
		}

		result, err := client.GeneratePack(req)
		if err != nil {
			if apiErr, ok := err.(*APIError); ok {
				cmd.Printf("Error (%d): %s\n", apiErr.StatusCode, apiErr.Message)
			} else {
				cmd.Printf("Error: %v\n", err)
			}
			return
		}

		cmd.Printf("✓ Pack generated!\nID: %s\nScenarios: %d\n", result.PackID, result.Scenarios)
	},
}

func init() {
	flags := generateCmd.Flags()
	flags.StringP("project", "p", "", "Project id (required)")
	flags.StringP("description", "d", "", "Description of the system under test (required)")
	flags.Int("count", 0, "Number of scenarios to generate (default: server default)")

	rootCmd.AddCommand(generateCmd)
}
