package handlers

import (
	"fmt"

	"github.com/discode/discode/internal/events"
)

// Handle routes ec to its per-type projection function. Every handler's
// own errors are logged by the caller (the pipeline's per-channel worker)
// rather than propagated further — SPEC_FULL.md §7 "messaging errors are
// logged; never propagate."
func Handle(deps Deps, ec events.Context) error {
	switch ec.Event.Type {
	case events.TypeSessionStart:
		return handleSessionStart(deps, ec)
	case events.TypeSessionEnd:
		return handleSessionEnd(deps, ec)
	case events.TypeSessionNotification:
		return handleSessionNotification(deps, ec)
	case events.TypeThinkingStart:
		return handleThinkingStart(deps, ec)
	case events.TypeThinkingStop:
		return handleThinkingStop(deps, ec)
	case events.TypeToolActivity:
		return handleToolActivity(deps, ec)
	case events.TypeToolFailure:
		return handleToolFailure(deps, ec)
	case events.TypePromptSubmit:
		return handlePromptSubmit(deps, ec)
	case events.TypeTaskCompleted:
		return handleTaskCompleted(deps, ec)
	case events.TypePermissionRequest:
		return handlePermissionRequest(deps, ec)
	case events.TypeTeammateIdle:
		return handleTeammateIdle(deps, ec)
	case events.TypeSessionIdle:
		return handleSessionIdle(deps, ec)
	case events.TypeSessionError:
		return handleSessionError(deps, ec)
	default:
		return fmt.Errorf("no handler registered for event type %q", ec.Event.Type)
	}
}
