// Package project holds the daemon's in-memory view of registered
// workspaces and their running agent instances (SPEC_FULL.md §3). The
// authoritative on-disk state lives in an external module; this package
// reads the config-sourced project→channel mapping and tracks the
// process-lifetime bits (lastActive, running instances) the core needs.
package project

import (
	"fmt"
	"sync"
	"time"
)

// Instance is one running agent under a project.
type Instance struct {
	InstanceID    string
	AgentType     string
	ChannelID     string
	TmuxWindow    string
	ContainerMode bool
	ContainerID   string
	RuntimeType   string // "sdk" | "pty" | "tmux"
}

// Key returns the instance's dedupe key, falling back to AgentType when no
// InstanceID was assigned (SPEC_FULL.md §3: instanceKey = instanceId || agentType).
func (i Instance) Key() string {
	if i.InstanceID != "" {
		return i.InstanceID
	}
	return i.AgentType
}

// State identifies a workspace: its filesystem root, tmux session, and the
// set of agent instances currently running under it.
type State struct {
	ProjectName string
	ProjectPath string
	TmuxSession string
	Instances   map[string]Instance // keyed by Instance.Key()
	CreatedAt   time.Time
	LastActive  time.Time
}

// Registry is the daemon's process-lifetime view of every registered
// project, keyed by ProjectName. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	projects map[string]*State
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{projects: make(map[string]*State)}
}

// Register adds or replaces a project's static fields (path, tmux session),
// preserving any already-running instances and LastActive timestamp.
func (r *Registry) Register(name, projectPath, tmuxSession string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.projects[name]
	if !ok {
		r.projects[name] = &State{
			ProjectName: name,
			ProjectPath: projectPath,
			TmuxSession: tmuxSession,
			Instances:   make(map[string]Instance),
			CreatedAt:   time.Now(),
			LastActive:  time.Now(),
		}
		return
	}
	existing.ProjectPath = projectPath
	existing.TmuxSession = tmuxSession
}

// Get returns a snapshot copy of project's state, or false if unregistered.
func (r *Registry) Get(name string) (State, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.projects[name]
	if !ok {
		return State{}, false
	}
	return r.copyState(s), true
}

func (r *Registry) copyState(s *State) State {
	cp := *s
	cp.Instances = make(map[string]Instance, len(s.Instances))
	for k, v := range s.Instances {
		cp.Instances[k] = v
	}
	return cp
}

// UpsertInstance records or updates a running instance under project.
// Returns an error if the project is not registered.
func (r *Registry) UpsertInstance(projectName string, inst Instance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.projects[projectName]
	if !ok {
		return fmt.Errorf("project %q not registered", projectName)
	}
	s.Instances[inst.Key()] = inst
	return nil
}

// ResolveChannel looks up the Instance bound to channelID within project,
// returning its key. Used by the inbound router to validate that a chat
// message's channel actually belongs to the claimed project.
func (r *Registry) ResolveChannel(projectName, channelID string) (Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.projects[projectName]
	if !ok {
		return Instance{}, false
	}
	for _, inst := range s.Instances {
		if inst.ChannelID == channelID {
			return inst, true
		}
	}
	return Instance{}, false
}

// ResolveInstance looks up the Instance registered under project for
// instanceKey (InstanceID, or AgentType when no InstanceID was assigned).
// Used by the hook pipeline to turn a decoded event's (projectName,
// instanceKey) into the chat channel and runtime it should be projected to.
func (r *Registry) ResolveInstance(projectName, instanceKey string) (Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.projects[projectName]
	if !ok {
		return Instance{}, false
	}
	inst, ok := s.Instances[instanceKey]
	return inst, ok
}

// Touch updates a project's LastActive timestamp to now. Safe to call even
// if the project is unknown (a no-op in that case).
func (r *Registry) Touch(projectName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.projects[projectName]; ok {
		s.LastActive = time.Now()
	}
}

// Names returns every registered project name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.projects))
	for n := range r.projects {
		names = append(names, n)
	}
	return names
}

// Reload replaces the registry's project set from a fresh config read,
// called on POST /reload and SIGHUP. Running instances for projects that
// survive the reload are preserved; projects dropped from config are
// removed entirely.
func (r *Registry) Reload(entries map[string]struct{ ProjectPath, TmuxSession string }) {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := make(map[string]*State, len(entries))
	for name, e := range entries {
		if existing, ok := r.projects[name]; ok {
			existing.ProjectPath = e.ProjectPath
			existing.TmuxSession = e.TmuxSession
			next[name] = existing
			continue
		}
		next[name] = &State{
			ProjectName: name,
			ProjectPath: e.ProjectPath,
			TmuxSession: e.TmuxSession,
			Instances:   make(map[string]Instance),
			CreatedAt:   time.Now(),
			LastActive:  time.Now(),
		}
	}
	r.projects = next
}
