package pageload

import (
	"net/http"

	"navnerd-mcp-server/internal/agent"
	"navnerd-mcp-server/internal/stream"
)

// Agent alters page document loading.
//
// next either calls the next agent in the chain or, for the last agent,
// fetches the document. Passing nil reuses req. The returned source is
// handed back to the preceding agent, or to the loader for the first one.
type Agent func(next func(req *http.Request) stream.OnEvent[Response], req *http.Request) stream.OnEvent[Response]

// Combined is the chain of all registered page load agents.
type Combined func(fetch func(req *http.Request) stream.OnEvent[Response], req *http.Request) stream.OnEvent[Response]

// Combine folds agents into one function.
func Combine(agents []Agent) Combined {
	if len(agents) == 0 {
		return func(fetch func(*http.Request) stream.OnEvent[Response], req *http.Request) stream.OnEvent[Response] {
			return fetch(req)
		}
	}

	return func(fetch func(*http.Request) stream.OnEvent[Response], req *http.Request) stream.OnEvent[Response] {
		var load func(idx int, req *http.Request) stream.OnEvent[Response]
		load = func(idx int, req *http.Request) stream.OnEvent[Response] {
			if idx == len(agents) {
				return fetch(req)
			}
			return agents[idx](func(next *http.Request) stream.OnEvent[Response] {
				if next == nil {
					next = req
				}
				return load(idx+1, next)
			}, req)
		}
		return load(0, req)
	}
}

// Agents is the registry of page load agents.
type Agents struct {
	reg *agent.Registry[Agent, Combined]
}

// NewAgents returns an empty registry.
func NewAgents() *Agents {
	return &Agents{reg: agent.NewRegistry(Combine)}
}

// Add registers agents at the end of the chain. Turning the supply off
// revokes them.
func (a *Agents) Add(agents ...Agent) *stream.Supply {
	return a.reg.Add(agents...)
}

// Len returns the number of registered agents.
func (a *Agents) Len() int {
	return a.reg.Len()
}

// Combined returns a function running the agents registered at call time.
func (a *Agents) Combined() Combined {
	return func(fetch func(*http.Request) stream.OnEvent[Response], req *http.Request) stream.OnEvent[Response] {
		return a.reg.Current()(fetch, req)
	}
}
