package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"tracelink-lab/internal/streaming"
)

func watchCmd() *cobra.Command {
	var sessionID string
	var completedOnly bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow search progress published on NATS",
		Long:  `Subscribe to the progress stream of a running API server and print events as they arrive.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}

			pub, err := streaming.NewNATSPublisher(cmd.Context(), cfg.NATS, log)
			if err != nil {
				return err
			}
			defer pub.Close()

			sub := &streaming.Subscription{}
			if sessionID != "" {
				sub.SessionIDs = []string{sessionID}
			}
			if completedOnly {
				sub.Types = []streaming.EventType{streaming.EventTypeCompleted}
			}

			events, err := pub.Subscribe(cmd.Context(), sub)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for ev := range events {
				if asJSON {
					if err := writeJSON(out, ev); err != nil {
						return err
					}
					continue
				}
				switch {
				case ev.Progress != nil:
					fmt.Fprintf(out, "%s [%3d%%] %-10s %s\n", ev.SessionID, ev.Progress.Progress, ev.Progress.Stage, ev.Progress.Message)
				case ev.Summary != nil:
					fmt.Fprintf(out, "%s done: %d unique records, %d exact, %d ms\n",
						ev.SessionID, ev.Summary.UniqueRecords, ev.Summary.ExactMatches, ev.Summary.DurationMs)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "only follow this session id")
	cmd.Flags().BoolVar(&completedOnly, "completed", false, "only print session summaries")
	return cmd
}
