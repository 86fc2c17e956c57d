package client

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var downloadOutput string

func init() {
	downloadCmd.Flags().StringVarP(&downloadOutput, "output", "o", "", "destination path (default is the original file name)")
	rootCmd.AddCommand(downloadCmd, seenCmd, saveCmd, unsaveCmd)
}

var downloadCmd = &cobra.Command{
	Use:   "download <message_id|index>",
	Short: "Download the file attached to a message",
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
		m, err := api.Message(cmd.Context(), id)
		if err != nil {
			fmt.Fprintln(cmd.OutOrStdout(), "Error fetching message:", err)
			return
		}
		if m.File == nil {
			fmt.Fprintln(cmd.OutOrStdout(), "Message has no file attached")
			return
		}
		content, err := api.Download(cmd.Context(), m.File.StoragePath)
		if err != nil {
			fmt.Fprintln(cmd.OutOrStdout(), "Error downloading file:", err)
			return
		}

		outputFile := downloadOutput
		if outputFile == "" {
			outputFile = filepath.Base(m.File.FileName)
		}
		if err := os.WriteFile(outputFile, content, 0644); err != nil {
			fmt.Fprintln(cmd.OutOrStdout(), "Error saving file:", err)
			return
		}
		fmt.Fprintf(cmd.OutOrStdout(), "File downloaded to %s (%s)\n", outputFile, humanize.Bytes(uint64(len(content))))
	},
}

var seenCmd = &cobra.Command{
	Use:   "seen <message_id|index>",
	Short: "Mark a received message as seen",
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
		m, err := api.MarkSeen(cmd.Context(), id)
		if err != nil {
			fmt.Fprintln(cmd.OutOrStdout(), "Error marking message seen:", err)
			return
		}
		if m.ExpiresAt != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "Message %s seen, expires %s\n", m.ID, humanize.Time(*m.ExpiresAt))
			return
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Message %s seen\n", m.ID)
	},
}

var saveCmd = &cobra.Command{
	Use:   "save <message_id|index>",
	Short: "Save a message; it is kept once both sides save it",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		setSaved(cmd, args[0], true)
	},
}

var unsaveCmd = &cobra.Command{
	Use:   "unsave <message_id|index>",
	Short: "Withdraw your save of a message",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		setSaved(cmd, args[0], false)
	},
}

func setSaved(cmd *cobra.Command, ref string, saved bool) {
	api := currentAPI(cmd)
	if api == nil {
		return
	}
	id, err := resolveMessageRef(ref)
	if err != nil {
		fmt.Fprintln(cmd.OutOrStdout(), err)
		return
	}
	state, err := api.SetSaved(cmd.Context(), id, saved)
	if err != nil {
		fmt.Fprintln(cmd.OutOrStdout(), "Error updating save:", err)
		return
	}
	out := cmd.OutOrStdout()
	switch {
	case state.IsSavedBySender && state.IsSavedByReceiver:
		fmt.Fprintf(out, "Message %s saved by both sides\n", id)
	case state.ExpiresAt != nil:
		fmt.Fprintf(out, "Message %s updated, expires %s\n", id, humanize.Time(*state.ExpiresAt))
	default:
		fmt.Fprintf(out, "Message %s updated\n", id)
	}
}
