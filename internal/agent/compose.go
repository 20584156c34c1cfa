package agent

import "strings"

// genericInstructions is used when no agents are configured at all.
const genericInstructions = "You are a helpful assistant. Answer the user's questions directly and use the available tools when they help."

// ruleDelimiter separates the agent instructions from rule bodies and rule
// bodies from one another.
const ruleDelimiter = "\n\n---\n\n"

// BuildSystemPrompt composes the system prompt for a step. It is a pure
// function of its arguments: the requested agent (falling back to
// DefaultAgentID, then to a generic instruction when no agents exist) plus
// the enabled rule bodies, delimiter-separated.
func BuildSystemPrompt(agentID string, availableAgents []Agent, enabledRules []Rule) string {
	instructions := genericInstructions

	if len(availableAgents) > 0 {
		selected := findAgent(availableAgents, agentID)
		if selected == nil {
			selected = findAgent(availableAgents, DefaultAgentID)
		}
		if selected == nil {
			selected = &availableAgents[0]
		}
		if strings.TrimSpace(selected.Instructions) != "" {
			instructions = selected.Instructions
		}
	}

	sections := []string{instructions}
	for _, rule := range enabledRules {
		if strings.TrimSpace(rule.Body) == "" {
			continue
		}
		sections = append(sections, rule.Body)
	}

	return strings.Join(sections, ruleDelimiter)
}

func findAgent(agents []Agent, id string) *Agent {
	if id == "" {
		return nil
	}
	for i := range agents {
		if agents[i].ID == id {
			return &agents[i]
		}
	}
	return nil
}
