package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"agentplane/pkg/api"
)

var statusCmd = &cobra.Command{
	Use:   "status [job_id]",
	Short: "Get status of an execution job",
	Long:  `Retrieve detailed status for an execution job, including its current state (queued, running, completed, failed), scenario summary, and any run, fix or pull request artifacts.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		jobID := args[0]

		url := viper.GetString("url")
		owner := viper.GetString("owner")

		if owner == "" {
			cmd.Println("Owner id not found. Please set it using the --owner flag or the AGENTPLANE_OWNER environment variable")
			return
		}

		client := NewBridgeClient(url, owner)
		job, err := client.GetJob(jobID)
		if err != nil {
			if apiErr, ok := err.(*APIError); ok {
				cmd.Printf("Request failed with status code: %d\n", apiErr.StatusCode)
			} else {
				cmd.Printf("Error: %v\n", err)
			}
			return
		}

		printStatus(cmd, *job)
	},
}

func printStatus(cmd *cobra.Command, job api.JobResponse) {
	icon := statusIcon(job.Status)
	cmd.Printf("%s %sJob Details%s\n", icon, colorBold, colorReset)
	cmd.Println("──────────────────────────────")

	cmd.Printf("%sID:%s          %s\n", colorDim, colorReset, job.ID)
	cmd.Printf("%sProject:%s     %s\n", colorDim, colorReset, job.ProjectID)
	cmd.Printf("%sPack:%s        %s\n", colorDim, colorReset, job.ScenarioPackID)
	cmd.Printf("%sMode:%s        %s\n", colorDim, colorReset, job.Mode)
	cmd.Printf("%sStatus:%s      %s\n", colorDim, colorReset, colorizeStatus(job.Status))

	if job.Summary.Total > 0 {
		cmd.Printf("%sScenarios:%s   %s%d passed%s / %s%d failed%s / %d total\n",
			colorDim, colorReset,
			colorGreen, job.Summary.Passed, colorReset,
			colorRed, job.Summary.Failed, colorReset,
			job.Summary.Total)
	}

	if job.Error != nil {
		cmd.Printf("%sError:%s       %s%s%s\n", colorDim, colorReset, colorRed, *job.Error, colorReset)
	}

	cmd.Printf("%sStarted:%s     %s\n", colorDim, colorReset, formatTimeWithRelative(job.StartedAt))

	if job.StartedAt != nil && job.CompletedAt != nil {
		duration := job.CompletedAt.Sub(*job.StartedAt)
		cmd.Printf("%sFinished:%s    %s %s(%s)%s\n", colorDim, colorReset,
			formatTimeWithRelative(job.CompletedAt),
			colorCyan, formatDuration(duration), colorReset)
	} else {
		cmd.Printf("%sFinished:%s    %s\n", colorDim, colorReset, formatTimeWithRelative(job.CompletedAt))
	}

	if job.Run != nil {
		cmd.Println()
		cmd.Printf("%sRun:%s         %s\n", colorDim, colorReset, job.Run.ID)
		for _, item := range job.Run.Items {
			cmd.Printf("  %s %s\n", statusIcon(item.Status), item.ScenarioID)
		}
	}

	if job.FixAttempt != nil {
		cmd.Println()
		cmd.Printf("%sFix attempt:%s %s\n", colorDim, colorReset, job.FixAttempt.ID)
		cmd.Printf("  %s\n", job.FixAttempt.Explanation)
	}

	for _, pr := range job.PullRequests {
		if pr.URL != "" {
			cmd.Printf("%sPull request:%s %s\n", colorDim, colorReset, pr.URL)
		} else {
			cmd.Printf("%sPull request:%s %s\n", colorDim, colorReset, pr.ID)
		}
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

func statusIcon(status string) string {
	switch status {
	case "completed", "passed":
		return colorGreen + "✓" + colorReset
	case "failed":
		return colorRed + "✗" + colorReset
	case "running":
		return colorYellow + "⏳" + colorReset
	case "queued":
		return colorCyan + "◯" + colorReset
	default:
		return "•"
	}
}

func colorizeStatus(status string) string {
	icon := statusIcon(status)
	switch status {
	case "completed":
		return icon + " " + colorGreen + status + colorReset
	case "failed":
		return icon + " " + colorRed + status + colorReset
	case "running":
		return icon + " " + colorYellow + status + colorReset
	case "queued":
		return icon + " " + colorCyan + status + colorReset
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
	rootCmd.AddCommand(statusCmd)
}
