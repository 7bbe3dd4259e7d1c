package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/planboard/chatcore/internal/secrets"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage the API token in the platform secret store",
	Long: `Store, show or remove the API token for the configured server in the
platform secret store (the macOS Keychain). A token in the configuration
file or $CHATCORE_TOKEN takes precedence over the stored one.`,
}

var tokenSetCmd = &cobra.Command{
	Use:   "set [token]",
	Short: "Store a token (read from stdin when omitted)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !secrets.IsSupported() {
			return secrets.ErrNotSupported
		}
		tok := ""
		if len(args) == 1 {
			tok = args[0]
		} else {
			line, err := bufio.NewReader(os.Stdin).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("read token: %w", err)
			}
			tok = line
		}
		tok = strings.TrimSpace(tok)
		if tok == "" {
			return errors.New("empty token")
		}
		if err := secrets.SetAPIToken(cfg.Server.BaseURL, tok); err != nil {
			return err
		}
		fmt.Printf("Token stored for %s\n", secrets.APITokenAccount(cfg.Server.BaseURL))
		return nil
	},
}

var tokenGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the stored token",
	RunE: func(cmd *cobra.Command, args []string) error {
		tok, err := secrets.GetAPIToken(cfg.Server.BaseURL)
		if err != nil {
			return err
		}
		fmt.Println(tok)
		return nil
	},
}

var tokenDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Remove the stored token",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := secrets.DeleteAPIToken(cfg.Server.BaseURL); err != nil && !errors.Is(err, secrets.ErrNotFound) {
			return err
		}
		fmt.Println("Token removed")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.AddCommand(tokenSetCmd, tokenGetCmd, tokenDeleteCmd)
}
