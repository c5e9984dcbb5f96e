package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"agentplane/pkg/api"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start an execution job",
	Long: `Queue a new execution job against a scenario pack. The bridge runs the
pack's scenarios through the agent and records the outcome.

Example:
  agentctl start --project my-app --pack 7f3c... --mode run
  agentctl start --project my-app --pack 7f3c... --mode full --scenarios s1,s3 --attempts 5`,
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		projectID, _ := flags.GetString("project")
		packID, _ := flags.GetString("pack")
		mode, _ := flags.GetString("mode")
		scenarios, _ := flags.GetStringSlice("scenarios")
		attempts, _ := flags.GetInt("attempts")

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

		if packID == "" {
			cmd.Println("Error: --pack is required")
			return
		}

		client := NewBridgeClient(url, owner)
		req := api.StartJobRequest{
			ProjectID:      projectID,
			ScenarioPackID: packID,
			Mode:           mode,
			ScenarioIDs:    scenarios,
			MaxAttempts:    attempts,
		}

		result, err := client.StartJob(req)
		if err != nil {
			if apiErr, ok := err.(*APIError); ok {
				cmd.Printf("Error (%d): %s\n", apiErr.StatusCode, apiErr.Message)
			} else {
				cmd.Printf("Error: %v\n", err)
			}
			return
		}

		cmd.Printf("✓ Job queued!\nID: %s\nStatus: %s\nActive jobs: %d/%d\n",
			result.JobID, result.Status, result.ActiveCount, result.ActiveLimit)
	},
}

func init() {
	flags := startCmd.Flags()
	flags.StringP("project", "p", "", "Project id (required)")
	flags.String("pack", "", "Scenario pack id (required)")
	flags.StringP("mode", "m", "run", "Execution mode: run, fix or full")
	flags.StringSlice("scenarios", []string{}, "Scenario ids to run (default: whole pack)")
	flags.Int("attempts", 0, "Per-scenario attempt budget (default: server default)")

	rootCmd.AddCommand(startCmd)
}
