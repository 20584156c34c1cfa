package agent

import (
	"fmt"
	"sort"
	"sync"
)

// Registry manages agent and rule configurations.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*Agent
	rules  map[string]*Rule
}

// NewRegistry creates a registry pre-populated with the built-in default
// agent.
func NewRegistry() *Registry {
	r := &Registry{
		agents: make(map[string]*Agent),
		rules:  make(map[string]*Rule),
	}
	r.agents[DefaultAgentID] = &Agent{
		ID:           DefaultAgentID,
		Name:         "Default",
		Instructions: genericInstructions,
	}
	return r
}

// RegisterAgent adds or updates an agent.
func (r *Registry) RegisterAgent(a *Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[a.ID] = a
}

// GetAgent retrieves an agent by id.
func (r *Registry) GetAgent(id string) (*Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	if !ok {
		return nil, fmt.Errorf("agent not found: %s", id)
	}
	return a, nil
}

// Agents returns all registered agents sorted by id.
func (r *Registry) Agents() []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RegisterRule adds or updates a rule.
func (r *Registry) RegisterRule(rule *Rule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules[rule.ID] = rule
}

// Rules resolves rule ids to rules, preserving the requested order and
// skipping ids that are not registered.
func (r *Registry) Rules(ids []string) []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Rule, 0, len(ids))
	for _, id := range ids {
		if rule, ok := r.rules[id]; ok {
			out = append(out, *rule)
		}
	}
	return out
}
