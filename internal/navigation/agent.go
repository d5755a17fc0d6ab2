package navigation

import (
	"net/url"

	"navnerd-mcp-server/internal/agent"
	"navnerd-mcp-server/internal/stream"
)

// Agent intercepts navigation before it happens.
//
// next either calls the next agent in the chain or, for the last agent,
// performs the navigation. Passing nil keeps the target; a non-nil target
// replaces its non-zero fields. Not calling next prevents the navigation.
// when is WhenPreOpen or WhenPreReplace, from is the page being left and to
// the navigation target.
type Agent func(next func(target *Target), when When, from, to Page)

// Combined is the chain of all registered agents. Its next receives the
// final target page.
type Combined func(next func(to Page), when When, from, to Page)

// Combine folds agents into one function. Target URLs are resolved against
// base; with a nil base they are resolved against the page they replace.
func Combine(base *url.URL, agents []Agent) Combined {
	if len(agents) == 0 {
		return func(next func(to Page), _ When, _, to Page) {
			next(to)
		}
	}

	return func(next func(to Page), when When, from, to Page) {
		var navigate func(idx int, agentTo Page)
		navigate = func(idx int, agentTo Page) {
			if idx == len(agents) {
				next(agentTo)
				return
			}
			agents[idx](
				func(target *Target) {
					navigate(idx+1, retarget(base, agentTo, target))
				},
				when,
				from,
				agentTo,
			)
		}
		navigate(0, to)
	}
}

// Agents is the registry of navigation agents.
type Agents struct {
	reg *agent.Registry[Agent, Combined]
}

// NewAgents returns an empty agent registry resolving targets against base.
func NewAgents(base *url.URL) *Agents {
	return &Agents{
		reg: agent.NewRegistry(func(list []Agent) Combined {
			return Combine(base, list)
		}),
	}
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

// Combined returns a function that always runs the agents registered at
// call time.
func (a *Agents) Combined() Combined {
	return func(next func(to Page), when When, from, to Page) {
		a.reg.Current()(next, when, from, to)
	}
}
