package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "agentctl",
	Short: "Agentctl is a command line tool for the agentplane bridge",
	Long: `agentctl is the command-line interface for the agentplane scenario
execution bridge.

The bridge drives a coding agent subprocess through test scenarios: it
starts execution jobs against a scenario pack, retries interim results,
and records every step in a per-job event feed.

Common workflows:

  Generate a scenario pack from a description:
    agentctl generate --project my-app --description "a web shop checkout flow"

  Start an execution job:
    agentctl start --project my-app --pack <pack-id> --mode run

  Check a job:
    agentctl status <job-id>

  Follow a job's event feed:
    agentctl events <job-id> --follow

  Manage the agent account:
    agentctl login
    agentctl logout

Configuration:
  Set the API endpoint and identity via environment variables or a config file:
    AGENTPLANE_URL      Bridge endpoint (default: http://localhost:7171)
    AGENTPLANE_OWNER    Owner id sent with every job request`,
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

		// Search config in home directory with name ".agentctl"
		viper.AddConfigPath(home)
		viper.SetConfigName(".agentctl")
		viper.SetConfigType("yaml")
	}

	// Read environment variables that match "AGENTPLANE_VARNAME"
	viper.SetEnvPrefix("AGENTPLANE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.agentctl.yaml)")

	rootCmd.PersistentFlags().String("url", "http://localhost:7171", "Agentplane bridge URL")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))

	rootCmd.PersistentFlags().StringP("owner", "o", "", "Owner id for job requests")
	viper.BindPFlag("owner", rootCmd.PersistentFlags().Lookup("owner"))
}
