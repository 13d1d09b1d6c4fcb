package events

// Context is the resolved projection of an Event the pipeline hands to
// handlers: the raw event plus everything a handler needs without
// re-deriving it (SPEC_FULL.md §3 EventContext).
type Context struct {
	Event       Event
	ProjectName string
	ProjectPath string
	ChannelID   string
	AgentType   string
	InstanceKey string
}
