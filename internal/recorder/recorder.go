// Package recorder writes navigation traces as JSON lines, keeping only the
// most recent trace files.
package recorder

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"navnerd-mcp-server/internal/navigation"
	"navnerd-mcp-server/internal/pageload"
	"navnerd-mcp-server/internal/stream"
)

const (
	MaxRotatedFiles = 3
	TraceDir        = "data/traces"
)

// Entry is a single line of a trace.
type Entry struct {
	Timestamp time.Time   `json:"ts"`
	Type      string      `json:"type"`
	TraceID   string      `json:"trace_id"`
	Data      interface{} `json:"data"`
}

type navigationData struct {
	When   string `json:"when"`
	From   string `json:"from,omitempty"`
	To     string `json:"to,omitempty"`
	Reason string `json:"reason,omitempty"`
}

type loadData struct {
	URL    string `json:"url"`
	Status string `json:"status"`
	Code   int    `json:"code,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Recorder writes one trace at a time.
type Recorder struct {
	logger *zap.Logger

	mu       sync.Mutex
	file     *os.File
	encoder  *json.Encoder
	traceID  string
	basePath string
}

// NewRecorder creates a recorder writing under basePath, creating it if
// needed.
func NewRecorder(basePath string, logger *zap.Logger) (*Recorder, error) {
	if basePath == "" {
		basePath = TraceDir
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, err
	}
	return &Recorder{basePath: basePath, logger: logger}, nil
}

// Start begins a new trace, removing old ones beyond MaxRotatedFiles. An
// empty traceID gets a random one.
func (r *Recorder) Start(traceID string) (string, error) {
	if traceID == "" {
		traceID = uuid.NewString()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil {
		_ = r.file.Close()
		r.file, r.encoder = nil, nil
	}
	if err := r.rotate(); err != nil {
		return "", fmt.Errorf("rotate traces: %w", err)
	}

	// Names sort by creation time.
	name := fmt.Sprintf("trace_%019d_%s.jsonl", time.Now().UnixNano(), traceID)
	f, err := os.Create(filepath.Join(r.basePath, name))
	if err != nil {
		return "", err
	}
	r.file = f
	r.encoder = json.NewEncoder(f)
	r.traceID = traceID
	return traceID, nil
}

// Log appends an entry to the current trace. Without a trace it does
// nothing.
func (r *Recorder) Log(entryType string, data interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.encoder == nil {
		return
	}
	err := r.encoder.Encode(Entry{
		Timestamp: time.Now(),
		Type:      entryType,
		TraceID:   r.traceID,
		Data:      data,
	})
	if err != nil {
		r.logger.Warn("Failed to write trace entry", zap.String("type", entryType), zap.Error(err))
	}
}

// Navigation logs navigator events until the returned supply is cut.
func (r *Recorder) Navigation(events stream.OnEvent[navigation.Event]) *stream.Supply {
	return events.On(func(ev navigation.Event) {
		data := navigationData{When: ev.When, From: pageURL(ev.From), To: pageURL(ev.To)}
		if ev.Reason != nil {
			data.Reason = ev.Reason.Error()
		}
		r.Log(string(ev.Type), data)
	})
}

// PageLoad logs a finished page load.
func (r *Recorder) PageLoad(resp pageload.Response) {
	if !resp.Done() {
		return
	}
	data := loadData{URL: pageURL(resp.Page), Status: resp.Status.String()}
	if resp.HTTP != nil {
		data.Code = resp.HTTP.StatusCode
	}
	if resp.Err != nil {
		data.Error = resp.Err.Error()
		var httpErr *pageload.HTTPError
		if errors.As(resp.Err, &httpErr) {
			data.Code = httpErr.StatusCode
		}
	}
	r.Log("page-load", data)
}

func pageURL(p navigation.Page) string {
	if p == nil || p.URL() == nil {
		return ""
	}
	return p.URL().String()
}

// Traces lists trace file paths, newest first.
func (r *Recorder) Traces() ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	names, err := r.traceNames()
	if err != nil {
		return nil, err
	}
	paths := make([]string, len(names))
	for i, name := range names {
		paths[i] = filepath.Join(r.basePath, name)
	}
	return paths, nil
}

func (r *Recorder) traceNames() ([]string, error) {
	entries, err := os.ReadDir(r.basePath)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "trace_") || filepath.Ext(e.Name()) != ".jsonl" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}

// rotate keeps the newest MaxRotatedFiles-1 traces, making room for a new one.
func (r *Recorder) rotate() error {
	names, err := r.traceNames()
	if err != nil {
		return err
	}
	for i := MaxRotatedFiles - 1; i < len(names); i++ {
		if err := os.Remove(filepath.Join(r.basePath, names[i])); err != nil {
			r.logger.Warn("Failed to remove old trace", zap.String("file", names[i]), zap.Error(err))
		}
	}
	return nil
}

// Close finishes the current trace.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file, r.encoder = nil, nil
	return err
}
