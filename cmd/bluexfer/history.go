package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/bluexfer/archive"
	"github.com/user/bluexfer/payload"
)

func newHistoryCmd() *cobra.Command {
	var path string
	var limit int
	var showPeers bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List archived messages, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" {
				return fmt.Errorf("--archive is required")
			}
			store, err := archive.Open("history", path)
			if err != nil {
				return err
			}
			defer store.Close()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			defer tw.Flush()

			if showPeers {
				peers, err := store.Peers()
				if err != nil {
					return err
				}
				fmt.Fprintln(tw, "ENDPOINT\tNAME\tRSSI\tLAST SEEN")
				for _, p := range peers {
					fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", p.Endpoint, p.LocalName, p.RSSI, p.LastSeen.Format("15:04:05"))
				}
				return nil
			}

			msgs, err := store.Messages(limit)
			if err != nil {
				return err
			}
			fmt.Fprintln(tw, "TIME\tDIR\tENDPOINT\tBYTES\tBODY")
			for _, m := range msgs {
				body := ""
				if m.Body != nil {
					body = payload.Render(m.Body)
					if len(body) > 60 {
						body = body[:57] + "..."
					}
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", m.RecordedAt.Format("15:04:05.000"), m.Direction, m.Endpoint.Short(), m.Size, body)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "archive", "", "SQLite archive written by run --archive")
	cmd.Flags().IntVar(&limit, "limit", 20, "number of messages to show")
	cmd.Flags().BoolVar(&showPeers, "peers", false, "list peers seen instead of messages")
	return cmd
}
