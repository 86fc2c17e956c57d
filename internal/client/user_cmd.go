package client

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/VinMeld/go-dm/internal/auth"
)

var (
	initServerURL string
	initRegToken  string
	mintSecret    string
	mintTTL       time.Duration
)

func init() {
	configInitCmd.Flags().StringVar(&initServerURL, "server", "", "server base URL")
	configInitCmd.Flags().StringVar(&initRegToken, "registration-token", "", "token for the internal user endpoints")
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)

	rootCmd.AddCommand(useCmd)

	tokenMintCmd.Flags().StringVar(&mintSecret, "secret", "", "server JWT secret")
	tokenMintCmd.Flags().DurationVar(&mintTTL, "ttl", auth.DefaultTokenTTL, "token lifetime")
	tokenCmd.AddCommand(tokenSetCmd, tokenMintCmd)
	rootCmd.AddCommand(tokenCmd)

	rootCmd.AddCommand(registerCmd, usersCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the local configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Set the server URL and registration token",
	Run: func(cmd *cobra.Command, args []string) {
		if initServerURL != "" {
			cfg.ServerURL = initServerURL
		}
		if initRegToken != "" {
			cfg.RegistrationToken = initRegToken
		}
		if err := SaveConfigGlobal(); err != nil {
			fmt.Fprintln(cmd.OutOrStdout(), "Error saving config:", err)
			return
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Config saved (server %s)\n", cfg.ServerURL)
	},
}

var useCmd = &cobra.Command{
	Use:   "use <user_id>",
	Short: "Switch the current user",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		user := args[0]
		if _, ok := cfg.Tokens[user]; !ok {
			fmt.Fprintf(cmd.OutOrStdout(), "No token for %s. Use 'token set' or 'token mint' first.\n", user)
			return
		}
		cfg.CurrentUser = user
		cfg.LastListedMessages = nil
		if err := SaveConfigGlobal(); err != nil {
			fmt.Fprintln(cmd.OutOrStdout(), "Error saving config:", err)
			return
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Current user set to %s\n", user)
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage bearer tokens",
}

var tokenSetCmd = &cobra.Command{
	Use:   "set <user_id> <token>",
	Short: "Store a token issued by the account service",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		storeToken(cmd, args[0], args[1])
	},
}

// tokenMintCmd signs a token locally. Only useful for operators holding
// the server secret.
var tokenMintCmd = &cobra.Command{
	Use:   "mint <user_id>",
	Short: "Sign a token with the server secret",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		tokens, err := auth.NewTokens(mintSecret, mintTTL, nil)
		if err != nil {
			fmt.Fprintln(cmd.OutOrStdout(), "Error:", err)
			return
		}
		token, err := tokens.Issue(args[0])
		if err != nil {
			fmt.Fprintln(cmd.OutOrStdout(), "Error signing token:", err)
			return
		}
		storeToken(cmd, args[0], token)
	},
}

func storeToken(cmd *cobra.Command, user, token string) {
	cfg.Tokens[user] = token
	if cfg.CurrentUser == "" {
		cfg.CurrentUser = user
	}
	if err := SaveConfigGlobal(); err != nil {
		fmt.Fprintln(cmd.OutOrStdout(), "Error saving config:", err)
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Token stored for %s\n", user)
}

var registerCmd = &cobra.Command{
	Use:   "register <user_id> <username>",
	Short: "Add a user to the server directory",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		user, err := internalAPI().RegisterUser(cmd.Context(), args[0], args[1])
		if err != nil {
			fmt.Fprintln(cmd.OutOrStdout(), "Error registering user:", err)
			return
		}
		fmt.Fprintf(cmd.OutOrStdout(), "User %s (%s) registered\n", user.Username, user.ID)
	},
}

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "List the user directory",
	Run: func(cmd *cobra.Command, args []string) {
		users, err := internalAPI().ListUsers(cmd.Context())
		if err != nil {
			fmt.Fprintln(cmd.OutOrStdout(), "Error listing users:", err)
			return
		}
		if len(users) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No users.")
			return
		}
		for _, u := range users {
			marker := " "
			if u.ID == cfg.CurrentUser {
				marker = "*"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\t%s\n", marker, u.ID, u.Username)
		}
	},
}
