package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/matrixclaw/internal/config"
)

var loginToken string

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Save an access token to the OS keyring for later sync runs",
	RunE:  runLogin,
}

func init() {
	loginCmd.Flags().StringVar(&userIDFlag, "user-id", "", "Matrix user id (required)")
	loginCmd.Flags().StringVar(&loginToken, "token", "", "access token to store (required)")
	loginCmd.MarkFlagRequired("user-id")
	loginCmd.MarkFlagRequired("token")
	rootCmd.AddCommand(loginCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	if err := config.StoreAccessTokenInKeyring(userIDFlag, loginToken); err != nil {
		return err
	}
	fmt.Printf("stored access token for %s\n", userIDFlag)
	return nil
}
