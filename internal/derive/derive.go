// Package derive contains the pure functions that map the raw event and
// phase stream onto the small set of discrete states the dashboard renders.
// Everything here is side-effect free and cheap enough to recompute on every
// event-log update.
package derive

import (
	"strings"

	"github.com/incidentiq-ai/diagnosis-platform/internal/model"
)

// HUDState is the overall dashboard state.
type HUDState string

const (
	StateIdle     HUDState = "idle"
	StateDrilling HUDState = "drilling"
	StateWaiting  HUDState = "waiting"
	StateResolved HUDState = "resolved"
)

// State derives the HUD state from the investigation phase, the needs-input
// flag, and live-channel connectivity. Priority order: a blocked human wins
// over everything, then terminal phases, then disconnected/not-started.
func State(phase model.Phase, needsInput, connected bool) HUDState {
	switch {
	case needsInput:
		return StateWaiting
	case phase.Terminal():
		return StateResolved
	case !connected, phase == "", phase == model.PhaseInitial:
		return StateIdle
	default:
		return StateDrilling
	}
}

// AgentBadge is the category shown for the currently active agent.
type AgentBadge string

const (
	BadgeLog      AgentBadge = "log"
	BadgePlatform AgentBadge = "platform"
	BadgeCode     AgentBadge = "code"
	BadgeChange   AgentBadge = "change"
)

// Orchestration agents never get a badge of their own; the badge reflects
// the specialist doing the drilling.
var ignoredAgents = map[string]struct{}{
	"supervisor":      {},
	"critic":          {},
	"impact_analyzer": {},
}

// badgeRules maps agent-name substrings to badges. Order matters: the first
// matching rule for the most recent non-ignored agent wins.
var badgeRules = []struct {
	substrings []string
	badge      AgentBadge
}{
	{[]string{"log", "metrics"}, BadgeLog},
	{[]string{"k8s", "kube", "tracing"}, BadgePlatform},
	{[]string{"code", "git"}, BadgeCode},
	{[]string{"change", "fix_generator"}, BadgeChange},
}

// ActiveAgent scans events from the most recent entry backwards, skips
// orchestration agents, and classifies the first remaining agent name by
// substring. Returns "" when nothing in the log maps to a badge.
func ActiveAgent(events []model.TaskEvent) AgentBadge {
	for i := len(events) - 1; i >= 0; i-- {
		name := strings.ToLower(events[i].AgentName)
		if _, skip := ignoredAgents[name]; skip {
			continue
		}
		for _, rule := range badgeRules {
			for _, sub := range rule.substrings {
				if strings.Contains(name, sub) {
					return rule.badge
				}
			}
		}
		return ""
	}
	return ""
}

// TimelineItem is one entry of the grouped timeline: either a single event
// or a collapsed run of consecutive tool calls by the same agent.
type TimelineItem struct {
	Event *model.TaskEvent
	Group *ToolCallGroup
}

// ToolCallGroup is a maximal run of consecutive tool_call events sharing one
// agent, collapsed into a single timeline entry.
type ToolCallGroup struct {
	AgentName string
	Events    []model.TaskEvent
}

// GroupToolCalls collapses maximal consecutive runs of tool_call events with
// the same agent into groups; every other event passes through unchanged in
// its original position.
func GroupToolCalls(events []model.TaskEvent) []TimelineItem {
	var items []TimelineItem
	var run *ToolCallGroup

	flush := func() {
		if run != nil {
			items = append(items, TimelineItem{Group: run})
			run = nil
		}
	}

	for i := range events {
		e := events[i]
		if e.EventType != model.EventTypeToolCall {
			flush()
			items = append(items, TimelineItem{Event: &events[i]})
			continue
		}
		if run != nil && run.AgentName != e.AgentName {
			flush()
		}
		if run == nil {
			run = &ToolCallGroup{AgentName: e.AgentName}
		}
		run.Events = append(run.Events, e)
	}
	flush()

	return items
}
