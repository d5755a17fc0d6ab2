package pageload

import (
	"net/http"
	"sync"

	"navnerd-mcp-server/internal/stream"
)

// ScriptCollector tracks the external scripts of the current document and
// reports the ones loaded pages add to it.
type ScriptCollector struct {
	mu    sync.Mutex
	known map[string]struct{}
	order []string

	added stream.Emitter[[]string]
}

// NewScriptCollector starts with the scripts already present.
func NewScriptCollector(initial ...string) *ScriptCollector {
	c := &ScriptCollector{known: make(map[string]struct{})}
	c.collect(initial)
	return c
}

// Scripts returns the known scripts in the order they were added.
func (c *ScriptCollector) Scripts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.order...)
}

// Added streams the scripts each loaded document added.
func (c *ScriptCollector) Added() stream.OnEvent[[]string] {
	return &c.added
}

// Agent returns the page load agent feeding the collector.
func (c *ScriptCollector) Agent() Agent {
	return func(next func(*http.Request) stream.OnEvent[Response], _ *http.Request) stream.OnEvent[Response] {
		return stream.Thru(next(nil), func(resp Response) Response {
			if resp.Status == StatusOK && resp.Document != nil {
				if added := c.collect(resp.Document.Scripts()); len(added) > 0 {
					c.added.Send(added)
				}
			}
			return resp
		})
	}
}

func (c *ScriptCollector) collect(scripts []string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var added []string
	for _, src := range scripts {
		if _, ok := c.known[src]; ok {
			continue
		}
		c.known[src] = struct{}{}
		c.order = append(c.order, src)
		added = append(added, src)
	}
	return added
}
