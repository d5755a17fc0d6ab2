package mcp

import (
	"context"
	"fmt"
	"time"

	"navnerd-mcp-server/internal/mangle"
)

type QueryFactsTool struct {
	engine *mangle.Engine
}

func (t *QueryFactsTool) Name() string { return "query-facts" }
func (t *QueryFactsTool) Description() string {
	return `Query the navigation facts.

Navigation is recorded as Mangle facts:
- page_entered(Id, Url, When, Timestamp), page_left(Id, Url, Timestamp)
- navigation_stayed(Url, Reason, Timestamp)
- page_load(Url, Status, HttpStatus, Timestamp)
- nav_link_active(Href, PageUrl, Timestamp), link_weight(Href, PageUrl, Weight)
Derived: failed_load(Url, HttpStatus), revisited(Url),
blocked_navigation(Url), active_link(Href, PageUrl).

MODES:
- query: an atom like page_load(Url, "failed", Code, _); returns bindings
- predicate: all facts of a (possibly derived) predicate
- predicate + since_ms: recorded facts newer than since_ms ago

Returns: {results} or {facts}`
}
func (t *QueryFactsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Mangle atom with variables to bind",
			},
			"predicate": map[string]interface{}{
				"type":        "string",
				"description": "Predicate whose facts to return",
			},
			"since_ms": map[string]interface{}{
				"type":        "integer",
				"description": "Only recorded facts newer than this many milliseconds",
			},
		},
	}
}
func (t *QueryFactsTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if query := getStringArg(args, "query"); query != "" {
		results, err := t.engine.Query(ctx, query)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"query": query, "count": len(results), "results": results}, nil
	}

	predicate := getStringArg(args, "predicate")
	if predicate == "" {
		return nil, fmt.Errorf("query or predicate is required")
	}
	var (
		facts []mangle.Fact
		err   error
	)
	if since := getIntArg(args, "since_ms", 0); since > 0 {
		facts = t.engine.QueryTemporal(predicate, time.Now().Add(-time.Duration(since)*time.Millisecond), time.Time{})
	} else {
		facts, err = t.engine.Evaluate(ctx, predicate)
		if err != nil {
			return nil, err
		}
	}
	return map[string]interface{}{"predicate": predicate, "count": len(facts), "facts": facts}, nil
}
