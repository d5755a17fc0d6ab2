package script

import (
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"navnerd-mcp-server/internal/config"
	"navnerd-mcp-server/internal/navigation"
)

// FromRules builds one navigation agent per rule, in rule order.
func FromRules(rules []config.AgentRule, opts Options) ([]navigation.Agent, error) {
	agents := make([]navigation.Agent, 0, len(rules))
	for i, rule := range rules {
		a, err := fromRule(i, rule, opts)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, nil
}

func fromRule(i int, rule config.AgentRule, opts Options) (navigation.Agent, error) {
	name := rule.Name
	if name == "" {
		name = fmt.Sprintf("agent-%d", i)
	}
	logger := opts.logger().With(zap.String("agent", name))

	var act navigation.Agent
	switch {
	case rule.Block:
		act = func(_ func(*navigation.Target), _ navigation.When, _, to navigation.Page) {
			logger.Info("Navigation blocked", zap.String("to", to.URL().String()))
		}
	case rule.Redirect != "":
		target, err := url.Parse(rule.Redirect)
		if err != nil {
			return nil, fmt.Errorf("agent %s: redirect: %w", name, err)
		}
		act = func(next func(*navigation.Target), _ navigation.When, _, to navigation.Page) {
			logger.Debug("Navigation redirected", zap.String("from", to.URL().String()), zap.String("to", rule.Redirect))
			next(&navigation.Target{URL: target})
		}
	case rule.Title != "":
		act = func(next func(*navigation.Target), _ navigation.When, _, _ navigation.Page) {
			next(&navigation.Target{Title: rule.Title})
		}
	case rule.Script != "":
		opts.Logger = logger
		s, err := Compile(name, rule.Script, opts)
		if err != nil {
			return nil, err
		}
		act = s.Agent()
	default:
		return nil, fmt.Errorf("agent %s: no action", name)
	}

	if rule.Match == "" {
		return act, nil
	}
	return func(next func(*navigation.Target), when navigation.When, from, to navigation.Page) {
		if !rule.Matches(to.URL().String()) {
			next(nil)
			return
		}
		act(next, when, from, to)
	}, nil
}
