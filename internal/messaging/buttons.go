package messaging

import (
	"fmt"
	"sync"
)

// pendingPrompt tracks one in-flight SendQuestionWithButtons call so the
// platform-specific interaction handler can resolve it when a button is
// clicked, without any server-side state beyond what this map already
// holds (SPEC_FULL.md §4.1.1: "the click's action_id encodes turn key +
// option index so the response can be matched without server-side state
// beyond what the pending tracker already holds").
type pendingPrompt struct {
	resolve chan string
}

// promptRegistry correlates action IDs back to the waiting
// SendQuestionWithButtons call. Shared by both platform clients.
type promptRegistry struct {
	mu      sync.Mutex
	nextID  int
	pending map[string]*pendingPrompt
}

func newPromptRegistry() *promptRegistry {
	return &promptRegistry{pending: make(map[string]*pendingPrompt)}
}

// register allocates a fresh correlation id and returns the action ids for
// each option label, plus a channel the caller should block on.
func (r *promptRegistry) register(labels []string) (actionIDs []string, resultCh <-chan string, promptID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	promptID = fmt.Sprintf("q%d", r.nextID)
	ch := make(chan string, 1)
	r.pending[promptID] = &pendingPrompt{resolve: ch}

	actionIDs = make([]string, len(labels))
	for i := range labels {
		actionIDs[i] = fmt.Sprintf("%s:%d", promptID, i)
	}
	return actionIDs, ch, promptID
}

// resolve looks up actionID's promptID, delivers label to the waiter, and
// forgets the registration (first click wins).
func (r *promptRegistry) resolve(promptID, label string) bool {
	r.mu.Lock()
	p, ok := r.pending[promptID]
	if ok {
		delete(r.pending, promptID)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	p.resolve <- label
	close(p.resolve)
	return true
}

// cancel forgets a registration without resolving it (used on timeout).
func (r *promptRegistry) cancel(promptID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, promptID)
}
