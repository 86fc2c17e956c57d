package client

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/VinMeld/go-dm/internal/models"
)

var (
	listLimit  int
	listBefore string
)

func init() {
	messagesCmd.Flags().IntVar(&listLimit, "limit", 0, "maximum number of messages")
	messagesCmd.Flags().StringVar(&listBefore, "before", "", "only messages created before this RFC3339 time")
	rootCmd.AddCommand(conversationsCmd, messagesCmd)
}

var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "List conversations, most recent first",
	Run: func(cmd *cobra.Command, args []string) {
		api := currentAPI(cmd)
		if api == nil {
			return
		}
		list, err := api.Conversations(cmd.Context())
		if err != nil {
			fmt.Fprintln(cmd.OutOrStdout(), "Error listing conversations:", err)
			return
		}
		out := cmd.OutOrStdout()
		if len(list) == 0 {
			fmt.Fprintln(out, "No conversations.")
			return
		}
		for _, s := range list {
			unread := " "
			if s.Unread {
				unread = "*"
			}
			last := ""
			if s.LastMessage != nil {
				last = fmt.Sprintf("%s  (%s)", preview(s.LastMessage), humanize.Time(s.LastMessage.CreatedAt))
			}
			fmt.Fprintf(out, "%s %s (%s): %s\n", unread, s.Counterpart.Username, s.Counterpart.ID, last)
		}
	},
}

var messagesCmd = &cobra.Command{
	Use:   "messages <counterpart>",
	Short: "Show the conversation with a user, oldest first",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		api := currentAPI(cmd)
		if api == nil {
			return
		}
		var before time.Time
		if listBefore != "" {
			t, err := time.Parse(time.RFC3339Nano, listBefore)
			if err != nil {
				fmt.Fprintln(cmd.OutOrStdout(), "Invalid --before:", err)
				return
			}
			before = t
		}

		msgs, err := api.Messages(cmd.Context(), args[0], listLimit, before)
		if err != nil {
			fmt.Fprintln(cmd.OutOrStdout(), "Error fetching messages:", err)
			return
		}

		cfg.LastListedMessages = make([]string, 0, len(msgs))
		for _, m := range msgs {
			cfg.LastListedMessages = append(cfg.LastListedMessages, m.ID)
		}
		if err := SaveConfigGlobal(); err != nil {
			fmt.Fprintln(cmd.OutOrStdout(), "Warning: failed to save listing:", err)
		}

		out := cmd.OutOrStdout()
		if len(msgs) == 0 {
			fmt.Fprintln(out, "No messages.")
			return
		}
		for i, m := range msgs {
			printMessage(out, i+1, &m)
		}
	},
}

func preview(m *models.Message) string {
	if m.ContentUnavailable {
		return "[unavailable]"
	}
	return m.Content
}

func printMessage(out io.Writer, idx int, m *models.Message) {
	fmt.Fprintf(out, "[%d] %s -> %s: %s\n", idx, m.SenderID, m.ReceiverID, preview(m))
	if m.File != nil {
		fmt.Fprintf(out, "    %s, %s, %s\n", m.File.FileName, humanize.Bytes(uint64(m.File.FileSize)), m.File.MimeType)
	}
	status := "sent " + humanize.Time(m.CreatedAt)
	if m.IsSeen {
		status += ", seen"
	}
	if m.ExpiresAt != nil {
		status += ", expires " + humanize.Time(*m.ExpiresAt)
	}
	if m.MutuallySaved() {
		status += ", saved"
	}
	fmt.Fprintf(out, "    %s (ID: %s)\n", status, m.ID)
}
