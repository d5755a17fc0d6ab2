package mcp

import (
	"context"
	"fmt"

	"navnerd-mcp-server/internal/config"
)

type RegisterAgentTool struct {
	rt *Runtime
}

func (t *RegisterAgentTool) Name() string { return "register-agent" }
func (t *RegisterAgentTool) Description() string {
	return `Register a navigation agent.

An agent intercepts navigations to URLs starting with match (all URLs when
empty) and does exactly one of:
- block: prevent the navigation
- redirect: navigate to another URL instead
- title: set the title of the new entry
- script: run JavaScript defining function agent(nav); nav has when, from,
  to ({url, title, visited}) and log(msg). Return undefined/true to proceed,
  false/null to block, a URL string to redirect or {url, title} to retarget.

Agents run in registration order after the configured ones.

Returns: {id} - pass it to remove-agent to revoke the agent.`
}
func (t *RegisterAgentTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"name":     map[string]interface{}{"type": "string", "description": "Name used in logs"},
			"match":    map[string]interface{}{"type": "string", "description": "URL prefix the agent applies to"},
			"block":    map[string]interface{}{"type": "boolean", "description": "Prevent matching navigations"},
			"redirect": map[string]interface{}{"type": "string", "description": "URL to navigate to instead"},
			"title":    map[string]interface{}{"type": "string", "description": "Title of the new entry"},
			"script":   map[string]interface{}{"type": "string", "description": "JavaScript source defining function agent(nav)"},
		},
	}
}
func (t *RegisterAgentTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	rule := config.AgentRule{
		Name:     getStringArg(args, "name"),
		Match:    getStringArg(args, "match"),
		Block:    getBoolArg(args, "block", false),
		Redirect: getStringArg(args, "redirect"),
		Title:    getStringArg(args, "title"),
		Script:   getStringArg(args, "script"),
	}
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	id, err := t.rt.AddAgent(rule)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"id": id, "agents": t.rt.Navigator.Agents().Len()}, nil
}

type RemoveAgentTool struct {
	rt *Runtime
}

func (t *RemoveAgentTool) Name() string { return "remove-agent" }
func (t *RemoveAgentTool) Description() string {
	return `Revoke a navigation agent registered with register-agent.`
}
func (t *RemoveAgentTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"id": map[string]interface{}{"type": "string", "description": "Agent id returned by register-agent"},
		},
		"required": []string{"id"},
	}
}
func (t *RemoveAgentTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	id := getStringArg(args, "id")
	if id == "" {
		return nil, fmt.Errorf("id is required")
	}
	if err := t.rt.RemoveAgent(id); err != nil {
		return nil, err
	}
	return map[string]interface{}{"removed": id, "agents": t.rt.Navigator.Agents().Len()}, nil
}
