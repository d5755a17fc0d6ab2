// Package script builds navigation agents out of configuration: declarative
// rules and JavaScript run by goja.
package script

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"navnerd-mcp-server/internal/navigation"
)

var (
	// ErrNoAgentFunction is returned for scripts not defining function agent.
	ErrNoAgentFunction = errors.New("script: no agent function defined")
	// ErrInterrupted is the error of a script running past its timeout.
	ErrInterrupted = errors.New("script: interrupted")
	// ErrBadResult is the error of a script returning something unusable.
	ErrBadResult = errors.New("script: bad agent result")
)

// DefaultTimeout bounds a single script agent call.
const DefaultTimeout = time.Second

// Options configure script agents.
type Options struct {
	Timeout time.Duration
	Logger  *zap.Logger
}

func (o Options) timeout() time.Duration {
	if o.Timeout <= 0 {
		return DefaultTimeout
	}
	return o.Timeout
}

func (o Options) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

// Decision is what a script agent decided for one navigation.
type Decision struct {
	// Proceed is false when the navigation is prevented.
	Proceed bool
	// Target is non-nil when the script retargets the navigation.
	Target *navigation.Target
}

// Script is a compiled agent script. The source defines
//
//	function agent(nav) { ... }
//
// where nav has when, from and to ({url, title, visited}) and a log(msg)
// function. The result decides the navigation: undefined or true proceeds,
// false or null prevents it, a string redirects to that URL and an object
// {url, title, data} retargets.
type Script struct {
	name    string
	program *goja.Program
	opts    Options
}

// Compile compiles src and checks that it defines the agent function.
func Compile(name, src string, opts Options) (*Script, error) {
	program, err := goja.Compile(name, src, true)
	if err != nil {
		return nil, fmt.Errorf("compiling script %s: %w", name, err)
	}
	s := &Script{name: name, program: program, opts: opts}
	if _, _, err := s.instantiate(); err != nil {
		return nil, err
	}
	return s, nil
}

// instantiate runs the program in a fresh runtime. goja runtimes are not
// safe for concurrent use, so each call gets its own.
func (s *Script) instantiate() (*goja.Runtime, goja.Callable, error) {
	rt := goja.New()
	rt.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	timer := time.AfterFunc(s.opts.timeout(), func() { rt.Interrupt(ErrInterrupted) })
	_, err := rt.RunProgram(s.program)
	timer.Stop()
	rt.ClearInterrupt()
	if err != nil {
		return nil, nil, s.wrap(err)
	}
	fn, ok := goja.AssertFunction(rt.Get("agent"))
	if !ok {
		return nil, nil, fmt.Errorf("%w in %s", ErrNoAgentFunction, s.name)
	}
	return rt, fn, nil
}

type pageView struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Visited bool   `json:"visited"`
}

func viewOf(p navigation.Page) pageView {
	if p == nil {
		return pageView{}
	}
	v := pageView{Title: p.Title(), Visited: p.Visited()}
	if u := p.URL(); u != nil {
		v.URL = u.String()
	}
	return v
}

// Decide runs the script for one navigation.
func (s *Script) Decide(when navigation.When, from, to navigation.Page) (Decision, error) {
	rt, fn, err := s.instantiate()
	if err != nil {
		return Decision{}, err
	}

	nav := rt.NewObject()
	_ = nav.Set("when", string(when))
	_ = nav.Set("from", viewOf(from))
	_ = nav.Set("to", viewOf(to))
	_ = nav.Set("log", func(msg string) {
		s.opts.logger().Info("Navigation script log", zap.String("script", s.name), zap.String("msg", msg))
	})

	timer := time.AfterFunc(s.opts.timeout(), func() { rt.Interrupt(ErrInterrupted) })
	defer timer.Stop()

	res, err := fn(goja.Undefined(), nav)
	if err != nil {
		return Decision{}, s.wrap(err)
	}
	return s.decision(res)
}

func (s *Script) decision(res goja.Value) (Decision, error) {
	switch {
	case goja.IsUndefined(res):
		return Decision{Proceed: true}, nil
	case goja.IsNull(res):
		return Decision{}, nil
	}

	switch v := res.Export().(type) {
	case bool:
		return Decision{Proceed: v}, nil
	case string:
		u, err := url.Parse(v)
		if err != nil {
			return Decision{}, fmt.Errorf("%w: %s returned %q: %v", ErrBadResult, s.name, v, err)
		}
		return Decision{Proceed: true, Target: &navigation.Target{URL: u}}, nil
	case map[string]any:
		target := &navigation.Target{Data: v["data"]}
		if raw, ok := v["url"].(string); ok && raw != "" {
			u, err := url.Parse(raw)
			if err != nil {
				return Decision{}, fmt.Errorf("%w: %s returned url %q: %v", ErrBadResult, s.name, raw, err)
			}
			target.URL = u
		}
		if title, ok := v["title"].(string); ok {
			target.Title = title
		}
		return Decision{Proceed: true, Target: target}, nil
	default:
		return Decision{}, fmt.Errorf("%w: %s returned %T", ErrBadResult, s.name, v)
	}
}

func (s *Script) wrap(err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return fmt.Errorf("%w: %s after %v", ErrInterrupted, s.name, s.opts.timeout())
	}
	return fmt.Errorf("running script %s: %w", s.name, err)
}

// Agent returns the script as a navigation agent. A failing script
// prevents the navigation.
func (s *Script) Agent() navigation.Agent {
	return func(next func(*navigation.Target), when navigation.When, from, to navigation.Page) {
		d, err := s.Decide(when, from, to)
		if err != nil {
			s.opts.logger().Warn("Navigation script failed", zap.String("script", s.name), zap.Error(err))
			return
		}
		if !d.Proceed {
			s.opts.logger().Debug("Navigation prevented by script", zap.String("script", s.name), zap.String("to", viewOf(to).URL))
			return
		}
		next(d.Target)
	}
}
