package client

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	cfg     *Config
)

var rootCmd = &cobra.Command{
	Use:   "dmctl",
	Short: "Ephemeral direct messaging CLI",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/go-dm/config.json)")
}

func initConfig() {
	var err error
	path := cfgFile
	if path == "" {
		path, err = GetConfigPath()
		if err != nil {
			fmt.Println("Error getting config path:", err)
			os.Exit(1)
		}
	}

	cfg, err = LoadConfig(path)
	if err != nil {
		fmt.Println("Error loading config:", err)
		os.Exit(1)
	}
}

func GetRootCmd() *cobra.Command {
	return rootCmd
}

func GetConfig() *Config {
	return cfg
}

func SaveConfigGlobal() error {
	path := cfgFile
	if path == "" {
		var err error
		path, err = GetConfigPath()
		if err != nil {
			return err
		}
	}
	return SaveConfig(path, cfg)
}

// currentAPI returns a client for the current user, or nil after telling
// the user what is missing.
func currentAPI(cmd *cobra.Command) *API {
	if cfg.CurrentUser == "" {
		fmt.Fprintln(cmd.OutOrStdout(), "No current user set. Use 'use <user>'.")
		return nil
	}
	token, ok := cfg.Tokens[cfg.CurrentUser]
	if !ok {
		fmt.Fprintf(cmd.OutOrStdout(), "No token for %s. Use 'token set' or 'token mint'.\n", cfg.CurrentUser)
		return nil
	}
	return NewAPI(cfg.ServerURL, token)
}

// internalAPI returns a client for the registration-token endpoints.
func internalAPI() *API {
	api := NewAPI(cfg.ServerURL, "")
	api.RegistrationToken = cfg.RegistrationToken
	return api
}

// resolveMessageRef accepts a message id or a 1-based index into the last
// listing.
func resolveMessageRef(ref string) (string, error) {
	idx, err := strconv.Atoi(ref)
	if err != nil {
		return ref, nil
	}
	if idx < 1 || idx > len(cfg.LastListedMessages) {
		return "", fmt.Errorf("invalid index %d. Run 'messages' first", idx)
	}
	return cfg.LastListedMessages[idx-1], nil
}
