package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List your active jobs",
	Run: func(cmd *cobra.Command, args []string) {
		url := viper.GetString("url")
		owner := viper.GetString("owner")

		if owner == "" {
			cmd.Println("Owner id not found. Please set it using the --owner flag or the AGENTPLANE_OWNER environment variable")
			return
		}

		client := NewBridgeClient(url, owner)
		result, err := client.ListJobs()
		if err != nil {
			if apiErr, ok := err.(*APIError); ok {
				cmd.Printf("Request failed with status code: %d\n", apiErr.StatusCode)
			} else {
				cmd.Printf("Error: %v\n", err)
			}
			return
		}

		if len(result.Jobs) == 0 {
			cmd.Println("No active jobs")
			return
		}

		for _, job := range result.Jobs {
			cmd.Printf("%s %s  %s%s%s  %s  created %s\n",
				statusIcon(job.Status), job.ID,
				colorDim, job.Mode, colorReset,
				job.ProjectID, relativeTime(job.CreatedAt)+" ago")
		}
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
