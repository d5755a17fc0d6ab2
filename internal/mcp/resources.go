package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"navnerd-mcp-server/internal/mangle"
)

const (
	resourceMIMEJSON = "application/json"
)

func (s *Server) registerAllResources() {
	if s == nil || s.mcpServer == nil {
		return
	}

	s.mcpServer.AddResource(
		mcp.NewResource(
			"navnerd://about",
			"NavNERD About",
			mcp.WithMIMEType(resourceMIMEJSON),
			mcp.WithResourceDescription("Server info, current page and usage notes."),
		),
		s.handleAboutResource,
	)

	s.mcpServer.AddResourceTemplate(
		mcp.NewResourceTemplate(
			"navnerd://facts/{predicate}{?limit}",
			"Navigation Facts",
			mcp.WithTemplateMIMEType(resourceMIMEJSON),
			mcp.WithTemplateDescription("The most recent recorded facts of a predicate, oldest first."),
		),
		s.handleFactsResource,
	)
}

func (s *Server) handleAboutResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	payload := map[string]interface{}{
		"name":    s.cfg.Server.Name,
		"version": s.cfg.Server.Version,
		"current": describePage(s.rt.Navigator.Current()),
		"agents":  s.rt.Navigator.Agents().Len(),
		"backend": s.cfg.Loader.Backend,
		"notes": []string{
			"Resources are read-only context endpoints; use tools for navigation.",
			"navigate runs the agent chain; navigate-back does not.",
			"The menu follows the <nav> links of loaded documents.",
		},
		"timestamp_ms": time.Now().UnixMilli(),
	}
	return jsonContents(request.Params.URI, payload)
}

func (s *Server) handleFactsResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	predicate := argString(request.Params.Arguments["predicate"])
	if predicate == "" {
		return nil, fmt.Errorf("missing predicate")
	}
	limit, _ := strconv.Atoi(argString(request.Params.Arguments["limit"]))
	if limit <= 0 {
		limit = 25
	}
	if limit > 500 {
		limit = 500
	}

	facts := recentFacts(s.rt.Engine, predicate, limit)
	return jsonContents(request.Params.URI, map[string]interface{}{
		"predicate": predicate,
		"limit":     limit,
		"count":     len(facts),
		"facts":     facts,
	})
}

func jsonContents(uri string, payload interface{}) ([]mcp.ResourceContents, error) {
	text, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: resourceMIMEJSON,
			Text:     string(text),
		},
	}, nil
}

func recentFacts(engine *mangle.Engine, predicate string, limit int) []mangle.Fact {
	facts := engine.FactsByPredicate(predicate)
	if len(facts) > limit {
		facts = facts[len(facts)-limit:]
	}
	return facts
}

func argString(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case []string:
		if len(value) == 0 {
			return ""
		}
		return value[0]
	default:
		return fmt.Sprintf("%v", value)
	}
}
