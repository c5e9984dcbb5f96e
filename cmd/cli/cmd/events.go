package cmd

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"agentplane/pkg/api"
)

var follow bool

var eventsCmd = &cobra.Command{
	Use:   "events [job_id]",
	Short: "Read a job's event feed",
	Long: `Read the append-only event feed for an execution job. Events are
delivered in order and paginated with a cursor; with --follow the
command keeps polling for new events until interrupted.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		jobID := args[0]

		url := viper.GetString("url")
		owner := viper.GetString("owner")

		if owner == "" {
			cmd.Println("Owner id not found. Please set it using the --owner flag or the AGENTPLANE_OWNER environment variable")
			return
		}

		// Trap Ctrl+C to exit gracefully
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

		go func() {
			<-sigChan
			os.Exit(0)
		}()

		client := NewBridgeClient(url, owner)
		var cursor int64 = 0

		for {
			page, err := client.GetJobEvents(jobID, cursor, 50)
			if err != nil {
				cmd.Printf("Error fetching events: %v\n", err)
				if !follow {
					break
				}
				time.Sleep(2 * time.Second) // Retry backoff
				continue
			}

			for _, ev := range page.Data {
				printEvent(cmd, ev)
			}
			cursor = page.NextCursor

			if page.HasMore {
				// More pages already available, fetch them immediately.
				continue
			}

			if !follow {
				break
			}

			// If following, wait before polling again
			time.Sleep(1 * time.Second)
		}
	},
}

func printEvent(cmd *cobra.Command, ev api.EventResponse) {
	line := ev.Timestamp.Format("15:04:05") + "  " + ev.Event
	if ev.ScenarioID != "" {
		line += "  [" + ev.ScenarioID + "]"
	}
	if ev.Message != "" {
		line += "  " + ev.Message
	}
	cmd.Println(line)
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.Flags().BoolVarP(&follow, "follow", "f", false, "Follow the event feed")
}
