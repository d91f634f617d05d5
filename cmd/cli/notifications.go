package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zenlist/notifier/internal/notification"
	"github.com/zenlist/notifier/pkg/client"
)

var notificationsCmd = &cobra.Command{
	Use:     "notifications",
	Aliases: []string{"n"},
	Short:   "Read your notifications",
}

var listFlags client.ListOptions

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List notifications, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		res, err := c.Notifications.List(cmd.Context(), listFlags)
		if err != nil {
			return err
		}
		printNotifications(os.Stdout, res.Notifications)
		fmt.Printf("\n%d unread\n", res.UnreadCount)
		return nil
	},
}

func printNotifications(out io.Writer, items []*notification.Notification) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tREAD\tCREATED\tMESSAGE")
	for _, n := range items {
		read := " "
		if n.Read {
			read = "x"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", n.ID, n.Type, read, n.CreatedAt.Local().Format("2006-01-02 15:04"), n.Message)
	}
	w.Flush()
}

var readAll bool

var readCmd = &cobra.Command{
	Use:   "read [id...]",
	Short: "Mark notifications read",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !readAll && len(args) == 0 {
			return fmt.Errorf("pass notification ids or --all")
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		var updated int64
		if readAll {
			updated, err = c.Notifications.MarkAllRead(cmd.Context())
		} else {
			updated, err = c.Notifications.MarkRead(cmd.Context(), args...)
		}
		if err != nil {
			return err
		}
		fmt.Printf("Marked %d notifications read.\n", updated)
		return nil
	},
}

var unreadCmd = &cobra.Command{
	Use:   "unread",
	Short: "Print the number of unread notifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		n, err := c.Notifications.UnreadCount(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Println(n)
		return nil
	},
}

func init() {
	listCmd.Flags().BoolVar(&listFlags.UnreadOnly, "unread", false, "only unread notifications")
	listCmd.Flags().IntVar(&listFlags.Limit, "limit", 20, "page size")
	listCmd.Flags().IntVar(&listFlags.Offset, "offset", 0, "rows to skip")
	readCmd.Flags().BoolVar(&readAll, "all", false, "mark every notification read")

	notificationsCmd.AddCommand(listCmd, readCmd, unreadCmd)
	rootCmd.AddCommand(notificationsCmd)
}
