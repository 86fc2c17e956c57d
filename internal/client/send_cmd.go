package client

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(sendCmd, sendFileCmd)
}

var sendCmd = &cobra.Command{
	Use:   "send <recipient> <message...>",
	Short: "Send a text message",
	Args:  cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		api := currentAPI(cmd)
		if api == nil {
			return
		}
		ack, err := api.Send(cmd.Context(), args[0], strings.Join(args[1:], " "))
		if err != nil {
			fmt.Fprintln(cmd.OutOrStdout(), "Error sending message:", err)
			return
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Message sent (ID: %s)\n", ack.ID)
	},
}

var sendFileCmd = &cobra.Command{
	Use:   "send-file <recipient> <path>",
	Short: "Upload a file and send it as a message",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		api := currentAPI(cmd)
		if api == nil {
			return
		}
		meta, err := api.Upload(cmd.Context(), args[1])
		if err != nil {
			fmt.Fprintln(cmd.OutOrStdout(), "Error uploading file:", err)
			return
		}
		ack, err := api.SendFile(cmd.Context(), args[0], meta)
		if err != nil {
			fmt.Fprintln(cmd.OutOrStdout(), "Error sending file:", err)
			return
		}
		fmt.Fprintf(cmd.OutOrStdout(), "File %s (%s) sent (ID: %s)\n", meta.FileName, humanize.Bytes(uint64(meta.FileSize)), ack.ID)
	},
}
