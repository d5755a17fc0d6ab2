package mangle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	"github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"
	"go.uber.org/zap"

	"navnerd-mcp-server/internal/config"
)

// ErrNotReady is returned for queries before a schema is loaded.
var ErrNotReady = errors.New("engine not ready")

// Fact is a navigation event in predicate form.
type Fact struct {
	Predicate string        `json:"predicate"`
	Args      []interface{} `json:"args"`
	Timestamp time.Time     `json:"timestamp"`
}

// QueryResult binds query variables to values.
type QueryResult map[string]interface{}

// Predicates sampled when the buffer fills up. Navigation itself is never
// sampled.
var lowValuePredicates = map[string]bool{
	"link_weight": true,
}

// Engine wraps the Mangle deductive database and keeps a bounded buffer of
// the facts added to it.
type Engine struct {
	cfg    config.MangleConfig
	logger *zap.Logger

	mu           sync.RWMutex
	schemaLoaded bool
	programInfo  *analysis.ProgramInfo
	store        factstore.FactStore

	facts []Fact
	index map[string][]int

	samplingRate float64

	subMu         sync.RWMutex
	subscriptions map[string][]chan WatchEvent
}

// WatchEvent is emitted when a watched predicate has facts after evaluation.
type WatchEvent struct {
	Predicate string    `json:"predicate"`
	Facts     []Fact    `json:"facts"`
	Timestamp time.Time `json:"timestamp"`
}

func NewEngine(cfg config.MangleConfig, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		cfg:           cfg,
		logger:        logger,
		facts:         make([]Fact, 0, max(cfg.FactBufferLimit, 0)),
		index:         make(map[string][]int),
		store:         factstore.NewSimpleInMemoryStore(),
		samplingRate:  1.0,
		subscriptions: make(map[string][]chan WatchEvent),
	}

	if cfg.Enable && cfg.SchemaPath != "" {
		if err := e.LoadSchema(cfg.SchemaPath); err != nil {
			return nil, err
		}
	}

	return e, nil
}

// LoadSchema parses and analyzes a Mangle schema file.
func (e *Engine) LoadSchema(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}
	return e.LoadSchemaSource(data)
}

// LoadSchemaSource parses and analyzes schema source.
func (e *Engine) LoadSchemaSource(src []byte) error {
	unit, err := parse.Unit(bytes.NewReader(src))
	if err != nil {
		return fmt.Errorf("parse schema: %w", err)
	}
	programInfo, err := analysis.AnalyzeOneUnit(unit, make(map[ast.PredicateSym]ast.Decl))
	if err != nil {
		return fmt.Errorf("analyze schema: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.programInfo = programInfo
	e.schemaLoaded = true
	return nil
}

// AddRule adds rules to the loaded program. Declarations of the schema are
// visible to them.
func (e *Engine) AddRule(ruleSource string) error {
	if !e.cfg.Enable {
		return nil
	}

	unit, err := parse.Unit(bytes.NewReader([]byte(ruleSource)))
	if err != nil {
		return fmt.Errorf("parse rule: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	existing := make(map[ast.PredicateSym]ast.Decl)
	if e.programInfo != nil {
		for sym, decl := range e.programInfo.Decls {
			if decl != nil {
				existing[sym] = *decl
			}
		}
	}

	added, err := analysis.AnalyzeOneUnit(unit, existing)
	if err != nil {
		return fmt.Errorf("analyze rule: %w", err)
	}

	if e.programInfo == nil {
		e.programInfo = added
		e.schemaLoaded = true
		return nil
	}
	for sym, decl := range added.Decls {
		e.programInfo.Decls[sym] = decl
	}
	e.programInfo.Rules = append(e.programInfo.Rules, added.Rules...)
	return nil
}

// AddFacts buffers facts, adds them to the store and evaluates the program.
func (e *Engine) AddFacts(ctx context.Context, facts []Fact) error {
	if !e.cfg.Enable {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.updateSamplingRate()
	accepted := make([]Fact, 0, len(facts))
	for _, f := range facts {
		if e.shouldAccept(f) {
			accepted = append(accepted, f)
		}
	}

	base := len(e.facts)
	e.facts = append(e.facts, accepted...)
	if limit := e.cfg.FactBufferLimit; limit > 0 && len(e.facts) > limit {
		e.facts = e.facts[len(e.facts)-limit:]
		e.rebuildIndex()
	} else {
		for i, f := range accepted {
			e.index[f.Predicate] = append(e.index[f.Predicate], base+i)
		}
	}

	for _, f := range accepted {
		e.store.Add(factToAtom(f))
	}

	if !e.schemaLoaded || e.programInfo == nil {
		return nil
	}
	if err := engine.EvalProgram(e.programInfo, e.store); err != nil {
		e.logger.Warn("Mangle evaluation failed", zap.Error(err))
		return fmt.Errorf("eval program after fact insertion: %w", err)
	}
	e.notifyWatchers()
	return nil
}

func (e *Engine) updateSamplingRate() {
	if e.cfg.FactBufferLimit <= 0 {
		e.samplingRate = 1.0
		return
	}
	fill := float64(len(e.facts)) / float64(e.cfg.FactBufferLimit)
	switch {
	case fill < 0.5:
		e.samplingRate = 1.0
	case fill < 0.8:
		e.samplingRate = 0.5
	default:
		e.samplingRate = 0.1
	}
}

func (e *Engine) shouldAccept(f Fact) bool {
	if !lowValuePredicates[f.Predicate] || e.samplingRate >= 1.0 {
		return true
	}
	return rand.Float64() < e.samplingRate
}

// SamplingRate returns the current sampling rate of low-value facts.
func (e *Engine) SamplingRate() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.samplingRate
}

// Subscribe registers ch for facts of predicate after each evaluation.
// Sends never block; a full channel misses the event.
func (e *Engine) Subscribe(predicate string, ch chan WatchEvent) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	e.subscriptions[predicate] = append(e.subscriptions[predicate], ch)
}

// Unsubscribe removes ch from the subscribers of predicate.
func (e *Engine) Unsubscribe(predicate string, ch chan WatchEvent) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	channels := e.subscriptions[predicate]
	for i, c := range channels {
		if c == ch {
			e.subscriptions[predicate] = append(channels[:i], channels[i+1:]...)
			return
		}
	}
}

func (e *Engine) notifyWatchers() {
	e.subMu.RLock()
	defer e.subMu.RUnlock()

	for predicate, channels := range e.subscriptions {
		if len(channels) == 0 {
			continue
		}
		facts := e.storeFacts(predicate)
		if len(facts) == 0 {
			continue
		}
		event := WatchEvent{Predicate: predicate, Facts: facts, Timestamp: time.Now()}
		for _, ch := range channels {
			select {
			case ch <- event:
			default:
			}
		}
	}
}

// Query runs a query like `page_load(Url, "failed", Code, _)` and returns
// the variable bindings of the matching facts.
func (e *Engine) Query(ctx context.Context, queryStr string) ([]QueryResult, error) {
	if !e.cfg.Enable || !e.Ready() {
		return nil, ErrNotReady
	}

	atom, err := parse.Atom(queryStr)
	if err != nil {
		return nil, fmt.Errorf("parse query: %w", err)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	results := make([]QueryResult, 0)
	err = e.store.GetFacts(atom, func(fact ast.Atom) error {
		result := make(QueryResult)
		for i, arg := range atom.Args {
			if i >= len(fact.Args) {
				break
			}
			switch a := arg.(type) {
			case ast.Variable:
				if a.Symbol != "_" {
					result[a.Symbol] = convertConstant(fact.Args[i])
				}
			case ast.Constant:
				if !a.Equals(fact.Args[i]) {
					return nil
				}
			}
		}
		results = append(results, result)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query execution: %w", err)
	}
	return results, nil
}

// Evaluate evaluates the program and returns the facts of predicate.
func (e *Engine) Evaluate(ctx context.Context, predicate string) ([]Fact, error) {
	if !e.cfg.Enable || !e.Ready() {
		return nil, ErrNotReady
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.programInfo != nil {
		if err := engine.EvalProgram(e.programInfo, e.store); err != nil {
			return nil, fmt.Errorf("eval program: %w", err)
		}
	}
	return e.storeFacts(predicate), nil
}

// storeFacts reads the facts of predicate from the store. The arity comes
// from the program declarations.
func (e *Engine) storeFacts(predicate string) []Fact {
	arity := -1
	if e.programInfo != nil {
		for sym := range e.programInfo.Decls {
			if sym.Symbol == predicate {
				arity = sym.Arity
				break
			}
		}
	}
	if arity < 0 {
		if idx := e.index[predicate]; len(idx) > 0 {
			arity = len(e.facts[idx[0]].Args)
		} else {
			return nil
		}
	}

	args := make([]ast.BaseTerm, arity)
	for i := range args {
		args[i] = ast.Variable{Symbol: fmt.Sprintf("V%d", i)}
	}
	query := ast.Atom{Predicate: ast.PredicateSym{Symbol: predicate, Arity: arity}, Args: args}

	var facts []Fact
	_ = e.store.GetFacts(query, func(atom ast.Atom) error {
		facts = append(facts, atomToFact(atom))
		return nil
	})
	return facts
}

// QueryTemporal returns buffered facts of predicate within (after, before).
// Zero times leave that side open.
func (e *Engine) QueryTemporal(predicate string, after, before time.Time) []Fact {
	e.mu.RLock()
	defer e.mu.RUnlock()

	results := make([]Fact, 0)
	for _, idx := range e.index[predicate] {
		f := e.facts[idx]
		if (after.IsZero() || f.Timestamp.After(after)) && (before.IsZero() || f.Timestamp.Before(before)) {
			results = append(results, f)
		}
	}
	return results
}

// FactsByPredicate returns buffered facts of predicate.
func (e *Engine) FactsByPredicate(predicate string) []Fact {
	e.mu.RLock()
	defer e.mu.RUnlock()

	results := make([]Fact, 0, len(e.index[predicate]))
	for _, idx := range e.index[predicate] {
		results = append(results, e.facts[idx])
	}
	return results
}

// Facts returns a copy of the buffered facts.
func (e *Engine) Facts() []Fact {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Fact, len(e.facts))
	copy(out, e.facts)
	return out
}

// Ready reports whether the engine can answer queries.
func (e *Engine) Ready() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.schemaLoaded || !e.cfg.Enable
}

func factToAtom(f Fact) ast.Atom {
	args := make([]ast.BaseTerm, len(f.Args))
	for i, arg := range f.Args {
		args[i] = toConstant(arg)
	}
	return ast.Atom{
		Predicate: ast.PredicateSym{Symbol: f.Predicate, Arity: len(f.Args)},
		Args:      args,
	}
}

func atomToFact(atom ast.Atom) Fact {
	args := make([]interface{}, len(atom.Args))
	for i, arg := range atom.Args {
		args[i] = convertConstant(arg)
	}
	return Fact{Predicate: atom.Predicate.Symbol, Args: args, Timestamp: time.Now()}
}

func toConstant(v interface{}) ast.Constant {
	switch val := v.(type) {
	case string:
		return ast.String(val)
	case int:
		return ast.Number(int64(val))
	case int64:
		return ast.Number(val)
	case float64:
		return ast.Float64(val)
	case bool:
		if val {
			return ast.String("true")
		}
		return ast.String("false")
	case time.Time:
		return ast.Number(val.UnixMilli())
	default:
		return ast.String(fmt.Sprintf("%v", v))
	}
}

func convertConstant(term ast.BaseTerm) interface{} {
	c, ok := term.(ast.Constant)
	if !ok {
		return fmt.Sprintf("%v", term)
	}
	switch c.Type {
	case ast.StringType:
		val, _ := c.StringValue()
		return val
	case ast.NumberType:
		if val, err := c.NumberValue(); err == nil {
			return val
		}
	case ast.Float64Type:
		if val, err := c.Float64Value(); err == nil {
			return val
		}
	}
	return c.String()
}

func (e *Engine) rebuildIndex() {
	e.index = make(map[string][]int)
	for i, f := range e.facts {
		e.index[f.Predicate] = append(e.index[f.Predicate], i)
	}
}
