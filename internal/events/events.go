// Package events defines the tagged-union set of hook events the daemon
// ingests (SPEC_FULL.md §3, §9) and the two-pass JSON decode that turns an
// HTTP request body into one concrete variant: decode a discriminator
// first, then the full variant struct, matched with an exhaustive switch
// rather than the source's loose Record<string, unknown> payloads.
package events

import (
	"encoding/json"
	"fmt"
)

// Type enumerates every event variant the hook endpoint accepts.
type Type string

const (
	TypeSessionStart        Type = "session.start"
	TypeSessionEnd          Type = "session.end"
	TypeSessionNotification Type = "session.notification"
	TypeSessionIdle         Type = "session.idle"
	TypeSessionError        Type = "session.error"
	TypeThinkingStart       Type = "thinking.start"
	TypeThinkingStop        Type = "thinking.stop"
	TypeToolActivity        Type = "tool.activity"
	TypeToolFailure         Type = "tool.failure"
	TypePromptSubmit        Type = "prompt.submit"
	TypeTaskCompleted       Type = "task.completed"
	TypePermissionRequest   Type = "permission.request"
	TypeTeammateIdle        Type = "teammate.idle"
)

// KnownTypes lists every variant, used to check dispatch exhaustiveness in
// tests.
var KnownTypes = []Type{
	TypeSessionStart, TypeSessionEnd, TypeSessionNotification, TypeSessionIdle, TypeSessionError,
	TypeThinkingStart, TypeThinkingStop, TypeToolActivity, TypeToolFailure,
	TypePromptSubmit, TypeTaskCompleted, TypePermissionRequest, TypeTeammateIdle,
}

// Usage carries token/cost totals attached to session.idle.
type Usage struct {
	InputTokens  int     `json:"inputTokens,omitempty"`
	OutputTokens int     `json:"outputTokens,omitempty"`
	TotalCostUSD float64 `json:"totalCostUsd,omitempty"`
}

// PromptOption is one button in an interactive question prompt.
type PromptOption struct {
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// PromptQuestion is one interactive multi-choice question.
type PromptQuestion struct {
	Question    string         `json:"question"`
	Options     []PromptOption `json:"options"`
	Header      string         `json:"header,omitempty"`
	MultiSelect bool           `json:"multiSelect,omitempty"`
}

// Envelope is the common fields present on every event, used for the first
// decode pass and for routing prior to variant-specific field access.
type Envelope struct {
	ProjectName string `json:"projectName"`
	AgentType   string `json:"agentType"`
	InstanceID  string `json:"instanceId,omitempty"`
	Type        Type   `json:"type"`
}

// Event is the fully decoded, concrete payload for one hook request. Not
// every field applies to every Type; handlers read only the fields their
// variant defines (SPEC_FULL.md §4.6).
type Event struct {
	Envelope

	Text             string           `json:"text,omitempty"`
	Source           string           `json:"source,omitempty"`           // session.start
	Reason           string           `json:"reason,omitempty"`           // session.end
	NotificationType string           `json:"notificationType,omitempty"` // session.notification
	PromptText       string           `json:"promptText,omitempty"`
	IntermediateText string           `json:"intermediateText,omitempty"` // session.idle
	Thinking         string           `json:"thinking,omitempty"`         // session.idle
	TurnText         string           `json:"turnText,omitempty"`         // session.idle
	Usage            *Usage           `json:"usage,omitempty"`
	PromptQuestions  []PromptQuestion `json:"promptQuestions,omitempty"`
	PlanFilePath     string           `json:"planFilePath,omitempty"`
	ToolName         string           `json:"toolName,omitempty"`  // tool.failure, permission.request
	ToolInput        string           `json:"toolInput,omitempty"` // permission.request
	Error            string           `json:"error,omitempty"`     // tool.failure
	TaskSubject      string           `json:"taskSubject,omitempty"`
	Teammate         bool             `json:"teammate,omitempty"`
	TeammateName     string           `json:"teammateName,omitempty"` // teammate.idle
	TeamName         string           `json:"teamName,omitempty"`
	Model            string           `json:"model,omitempty"` // session.start
}

// InstanceKey returns InstanceID if set, else AgentType, matching the
// (projectName, instanceId || agentType) dedupe key used throughout the
// tracker and updater (SPEC_FULL.md §3).
func (e Event) InstanceKey() string {
	if e.InstanceID != "" {
		return e.InstanceID
	}
	return e.AgentType
}

// Decode parses a hook request body into an Event, validating the
// discriminator and required envelope fields. It does not reject unknown
// additional fields (the envelope permits event-specific extensions,
// SPEC_FULL.md §6).
func Decode(body []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Event{}, fmt.Errorf("decode event envelope: %w", err)
	}
	if env.ProjectName == "" {
		return Event{}, fmt.Errorf("missing projectName")
	}
	if !isKnownType(env.Type) {
		return Event{}, fmt.Errorf("unknown event type %q", env.Type)
	}

	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return Event{}, fmt.Errorf("decode event variant %s: %w", env.Type, err)
	}
	return ev, nil
}

func isKnownType(t Type) bool {
	for _, k := range KnownTypes {
		if k == t {
			return true
		}
	}
	return false
}

// IsAgentActivity reports whether t is one of the types that auto-create a
// pending entry and anchor when none exists yet (SPEC_FULL.md §4.5 step 1).
func (t Type) IsAgentActivity() bool {
	switch t {
	case TypeThinkingStart, TypeToolActivity, TypeSessionIdle, TypeSessionStart:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether t ends a turn and should clear per-key timers
// (SPEC_FULL.md §4.5 step 4).
func (t Type) IsTerminal() bool {
	return t == TypeSessionIdle || t == TypeSessionError
}
