package client

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(deleteMessageCmd, deleteUserCmd)
}

var deleteMessageCmd = &cobra.Command{
	Use:   "delete-message <message_id|index>",
	Short: "Delete a file message and its stored object",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		api := currentAPI(cmd)
		if api == nil {
			return
		}
		id, err := resolveMessageRef(args[0])
		if err != nil {
			fmt.Fprintln(cmd.OutOrStdout(), err)
			return
		}
		if err := api.DeleteMessage(cmd.Context(), id); err != nil {
			fmt.Fprintln(cmd.OutOrStdout(), "Error deleting message:", err)
			return
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Message %s deleted\n", id)
	},
}

var deleteUserCmd = &cobra.Command{
	Use:   "delete-user <user_id>",
	Short: "Delete a user and everything that references them",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		report, err := internalAPI().DeleteUser(cmd.Context(), args[0])
		if err != nil {
			fmt.Fprintln(cmd.OutOrStdout(), "Error deleting user:", err)
			return
		}
		fmt.Fprintf(cmd.OutOrStdout(), "User %s deleted: %d messages, %d read statuses, %d files\n",
			report.UserID, report.Messages, report.ReadStatuses, report.Blobs)
		if len(report.Failed) > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "Incomplete steps: %s\n", strings.Join(report.Failed, ", "))
		}

		if _, ok := cfg.Tokens[args[0]]; ok {
			delete(cfg.Tokens, args[0])
			if cfg.CurrentUser == args[0] {
				cfg.CurrentUser = ""
			}
			_ = SaveConfigGlobal()
		}
	},
}
