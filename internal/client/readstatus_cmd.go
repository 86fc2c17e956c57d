package client

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/VinMeld/go-dm/internal/models"
)

func init() {
	readStatusCmd.AddCommand(readStatusGetCmd, readStatusSetCmd, readStatusBatchCmd, readStatusDeleteCmd)
	rootCmd.AddCommand(readStatusCmd)
}

var readStatusCmd = &cobra.Command{
	Use:   "read-status",
	Short: "Manage per-conversation read cursors",
}

var readStatusGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Show your read cursors",
	Run: func(cmd *cobra.Command, args []string) {
		api := currentAPI(cmd)
		if api == nil {
			return
		}
		cursors, err := api.ReadStatus(cmd.Context())
		if err != nil {
			fmt.Fprintln(cmd.OutOrStdout(), "Error fetching read status:", err)
			return
		}
		if len(cursors) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No read cursors.")
			return
		}
		counterparts := make([]string, 0, len(cursors))
		for c := range cursors {
			counterparts = append(counterparts, c)
		}
		sort.Strings(counterparts)
		for _, c := range counterparts {
			cur := cursors[c]
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (%s)\n", c, cur.LastSeenMessageID, humanize.Time(cur.LastSeenAt))
		}
	},
}

var readStatusSetCmd = &cobra.Command{
	Use:   "set <counterpart> <message_id>",
	Short: "Move the read cursor for a conversation",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		api := currentAPI(cmd)
		if api == nil {
			return
		}
		rs, err := api.SetReadStatus(cmd.Context(), models.ReadStatusUpdate{CounterpartID: args[0], MessageID: args[1]})
		if err != nil {
			fmt.Fprintln(cmd.OutOrStdout(), "Error updating read status:", err)
			return
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Read cursor for %s at %s\n", rs.CounterpartID, rs.LastSeenMessageID)
	},
}

var readStatusBatchCmd = &cobra.Command{
	Use:   "batch <counterpart=message_id>...",
	Short: "Move several read cursors at once",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		api := currentAPI(cmd)
		if api == nil {
			return
		}
		updates := make([]models.ReadStatusUpdate, 0, len(args))
		for _, a := range args {
			counterpart, id, ok := strings.Cut(a, "=")
			if !ok {
				fmt.Fprintf(cmd.OutOrStdout(), "Invalid update %q, expected counterpart=message_id\n", a)
				return
			}
			updates = append(updates, models.ReadStatusUpdate{CounterpartID: counterpart, MessageID: id})
		}
		result, err := api.BatchReadStatus(cmd.Context(), updates)
		if err != nil {
			fmt.Fprintln(cmd.OutOrStdout(), "Error updating read status:", err)
			return
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Applied %d, rejected %d\n", len(result.Applied), len(result.Rejected))
		for _, r := range result.Rejected {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s=%s: %s\n", r.CounterpartID, r.MessageID, r.Reason)
		}
	},
}

var readStatusDeleteCmd = &cobra.Command{
	Use:   "delete <counterpart>",
	Short: "Forget the read cursor for a conversation",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		api := currentAPI(cmd)
		if api == nil {
			return
		}
		if err := api.DeleteReadStatus(cmd.Context(), args[0]); err != nil {
			fmt.Fprintln(cmd.OutOrStdout(), "Error deleting read status:", err)
			return
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Read cursor for %s deleted\n", args[0])
	},
}
