package cmd

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log the agent in to its provider",
	Long: `Start a browser-based login flow for the agent and wait for it to
complete. The agent prints an authorization URL to open; the command
polls until the flow finishes or is interrupted with Ctrl+C.`,
	Run: func(cmd *cobra.Command, args []string) {
		url := viper.GetString("url")
		owner := viper.GetString("owner")

		client := NewBridgeClient(url, owner)
		start, err := client.StartLogin()
		if err != nil {
			cmd.Printf("Error: %v\n", err)
			return
		}

		if start.AuthURL != "" {
			cmd.Printf("Open this URL to authorize:\n  %s\n", start.AuthURL)
		}
		cmd.Println("Waiting for login to complete...")

		// Cancel the flow on Ctrl+C so the agent is not left waiting.
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

		go func() {
			<-sigChan
			client.CancelLogin(start.LoginID)
			os.Exit(0)
		}()

		for {
			status, err := client.GetLoginCompleted(start.LoginID)
			if err != nil {
				cmd.Printf("Error: %v\n", err)
				return
			}

			if status.Done {
				if status.Success {
					cmd.Println("✓ Logged in")
				} else {
					cmd.Printf("Login failed: %s\n", status.Error)
				}
				return
			}

			time.Sleep(2 * time.Second)
		}
	},
}

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Show the agent's account details",
	Run: func(cmd *cobra.Command, args []string) {
		refreshToken, _ := cmd.Flags().GetString("refresh-token")

		url := viper.GetString("url")
		owner := viper.GetString("owner")

		client := NewBridgeClient(url, owner)
		account, err := client.ReadAccount(refreshToken)
		if err != nil {
			cmd.Printf("Error: %v\n", err)
			return
		}

		if len(account.Account) == 0 {
			cmd.Println("No account details available")
			return
		}

		for key, value := range account.Account {
			cmd.Printf("%s: %v\n", key, value)
		}
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Log the agent out",
	Run: func(cmd *cobra.Command, args []string) {
		url := viper.GetString("url")
		owner := viper.GetString("owner")

		client := NewBridgeClient(url, owner)
		if err := client.Logout(); err != nil {
			cmd.Printf("Error: %v\n", err)
			return
		}

		cmd.Println("✓ Logged out")
	},
}

func init() {
	accountCmd.Flags().String("refresh-token", "", "Refresh token to read the account with")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(accountCmd)
}
