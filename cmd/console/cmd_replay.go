package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/incidentiq-ai/diagnosis-platform/internal/derive"
	"github.com/incidentiq-ai/diagnosis-platform/internal/streamsync"
)

var replaySessionID string

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().StringVar(&replaySessionID, "session", "", "session ID to replay")
	replayCmd.MarkFlagRequired("session")
}

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Print the full event history of a session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		replayer := streamsync.NewHTTPReplayer(serverURL, authToken)
		events, err := replayer.Events(context.Background(), replaySessionID)
		if err != nil {
			return fmt.Errorf("fetch history: %w", err)
		}
		if len(events) == 0 {
			fmt.Println("No events recorded.")
			return nil
		}

		styles := newTheme()
		view := &sessionView{styles: styles}
		for _, item := range derive.GroupToolCalls(events) {
			if item.Group != nil {
				fmt.Printf("%s %s\n",
					styles.Agent.Render(item.Group.AgentName),
					styles.ToolCall.Render(fmt.Sprintf("ran %d tool calls", len(item.Group.Events))),
				)
				continue
			}
			fmt.Println(view.renderEvent(*item.Event))
		}
		return nil
	},
}
