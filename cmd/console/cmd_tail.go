package main

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/incidentiq-ai/diagnosis-platform/internal/derive"
	"github.com/incidentiq-ai/diagnosis-platform/internal/eventlog"
	"github.com/incidentiq-ai/diagnosis-platform/internal/model"
	"github.com/incidentiq-ai/diagnosis-platform/internal/streamsync"
	"github.com/incidentiq-ai/diagnosis-platform/pkg/logger"
)

var tailSessionID string

func init() {
	rootCmd.AddCommand(tailCmd)
	tailCmd.Flags().StringVar(&tailSessionID, "session", "", "session ID to follow")
	tailCmd.MarkFlagRequired("session")
}

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Follow a live diagnostic session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		log := logger.NewNop()

		view := newSessionView()
		client := streamsync.NewClient(
			streamsync.NewSSETransport(serverURL, authToken),
			streamsync.NewHTTPReplayer(serverURL, authToken),
			view,
			log,
		)
		defer client.Close()

		client.SetSession(tailSessionID)

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case <-quit:
			return nil
		case <-view.done:
			return fmt.Errorf("stream lost: reconnect attempts exhausted for session %s", tailSessionID)
		}
	},
}

// sessionView renders the event stream to the terminal. It implements
// streamsync.Handler; the client guarantees single-goroutine delivery, the
// mutex only guards against the command goroutine reading state.
type sessionView struct {
	styles theme
	done   chan struct{}

	mu         sync.Mutex
	log        *eventlog.Log
	phase      model.Phase
	needsInput bool
	connected  bool
}

func newSessionView() *sessionView {
	return &sessionView{
		styles: newTheme(),
		done:   make(chan struct{}),
		log:    eventlog.New(),
	}
}

func (v *sessionView) OnEvent(event model.TaskEvent) {
	v.mu.Lock()
	if v.log.Append(event) == 0 {
		v.mu.Unlock()
		return
	}
	switch event.EventType {
	case model.EventTypePhaseChange:
		if p, ok := event.Details["phase"].(string); ok {
			v.phase = model.Phase(p)
		}
		v.needsInput = false
	case model.EventTypeAttestationRequired:
		v.needsInput = true
	}
	events := v.log.Events()
	v.mu.Unlock()

	fmt.Println(v.renderEvent(event))
	if event.EventType == model.EventTypePhaseChange || event.EventType == model.EventTypeAttestationRequired {
		fmt.Println(v.renderStatus(events))
	}
}

func (v *sessionView) OnChatMessage(msg model.ChatMessage) {
	fmt.Printf("%s %s\n",
		v.styles.Agent.Render("assistant:"),
		v.styles.Chat.Render(msg.Content),
	)
}

func (v *sessionView) OnConnect(sessionID string) {
	v.mu.Lock()
	v.connected = true
	v.mu.Unlock()
	fmt.Println(v.styles.Status.Render("connected to session " + sessionID))
}

func (v *sessionView) OnDisconnect(sessionID string, err error) {
	v.mu.Lock()
	v.connected = false
	v.mu.Unlock()
	fmt.Println(v.styles.Warning.Render(fmt.Sprintf("connection lost (%v), reconnecting", err)))
}

func (v *sessionView) OnError(err error) {
	fmt.Println(v.styles.Muted.Render(fmt.Sprintf("transient error: %v", err)))
}

func (v *sessionView) OnPermanentFailure(sessionID string) {
	fmt.Println(v.styles.Danger.Render("gave up reconnecting to session " + sessionID))
	close(v.done)
}

func (v *sessionView) renderEvent(event model.TaskEvent) string {
	ts := v.styles.Muted.Render(event.Timestamp.Format("15:04:05"))
	agent := v.styles.Agent.Render(event.AgentName)

	var body string
	switch event.EventType {
	case model.EventTypeError:
		body = v.styles.Danger.Render(event.Message)
	case model.EventTypeWarning, model.EventTypeAttestationRequired:
		body = v.styles.Warning.Render(event.Message)
	case model.EventTypeSuccess, model.EventTypeFinding, model.EventTypeSummary:
		body = v.styles.Success.Render(event.Message)
	case model.EventTypeToolCall:
		body = v.styles.ToolCall.Render(event.Message)
	default:
		body = event.Message
	}

	return fmt.Sprintf("%s %s %s %s", ts, agent, v.styles.Muted.Render(string(event.EventType)), body)
}

// renderStatus prints the derived HUD line: overall state plus the badge of
// the specialist currently drilling.
func (v *sessionView) renderStatus(events []model.TaskEvent) string {
	v.mu.Lock()
	state := derive.State(v.phase, v.needsInput, v.connected)
	v.mu.Unlock()

	line := v.styles.Status.Render("state: " + string(state))
	if badge := derive.ActiveAgent(events); badge != "" {
		line += " " + v.styles.Badge.Render(string(badge))
	}
	return line
}
