package recorder

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"navnerd-mcp-server/internal/navigation"
	"navnerd-mcp-server/internal/pageload"
)

func readTrace(t *testing.T, path string) []Entry {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("bad trace line %q: %v", scanner.Text(), err)
		}
		entries = append(entries, e)
	}
	return entries
}

func TestRecorderRotation(t *testing.T) {
	tempDir := t.TempDir()

	r, err := NewRecorder(tempDir, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	var last string
	for i := 0; i < MaxRotatedFiles+2; i++ {
		last, err = r.Start("")
		if err != nil {
			t.Fatal(err)
		}
		r.Log("test", map[string]string{"msg": "hello"})
	}

	traces, err := r.Traces()
	if err != nil {
		t.Fatal(err)
	}
	if len(traces) != MaxRotatedFiles {
		t.Fatalf("expected %d files, got %d", MaxRotatedFiles, len(traces))
	}
	if !strings.Contains(filepath.Base(traces[0]), last) {
		t.Errorf("expected newest trace %s first, got %s", last, traces[0])
	}
}

func TestRecorderLogging(t *testing.T) {
	tempDir := t.TempDir()

	r, err := NewRecorder(tempDir, nil)
	if err != nil {
		t.Fatal(err)
	}

	r.Log("dropped", "no trace started")

	id, err := r.Start("session1")
	if err != nil {
		t.Fatal(err)
	}
	if id != "session1" {
		t.Errorf("expected trace id session1, got %s", id)
	}

	r.Log("note", "test message")
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	r.Log("dropped", "after close")

	traces, err := r.Traces()
	if err != nil {
		t.Fatal(err)
	}
	if len(traces) != 1 {
		t.Fatalf("expected 1 file, got %d", len(traces))
	}

	entries := readTrace(t, traces[0])
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Type != "note" || entries[0].TraceID != "session1" || entries[0].Data != "test message" {
		t.Errorf("unexpected entry: %+v", entries[0])
	}
}

type tracePage struct{ url *url.URL }

func (p tracePage) URL() *url.URL             { return p.url }
func (p tracePage) Title() string             { return "" }
func (p tracePage) Data() any                 { return nil }
func (p tracePage) Visited() bool             { return false }
func (p tracePage) Current() bool             { return true }
func (p tracePage) Get(navigation.Param) any  { return nil }
func (p tracePage) Put(navigation.Param, any) {}

func TestRecorderNavigation(t *testing.T) {
	tempDir := t.TempDir()
	r, err := NewRecorder(tempDir, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Start("nav"); err != nil {
		t.Fatal(err)
	}

	start, _ := url.Parse("https://a.com/")
	nav, err := navigation.NewNavigator(navigation.Options{Start: start})
	if err != nil {
		t.Fatal(err)
	}
	defer nav.Close()

	supply := r.Navigation(nav.Events())
	docs, _ := url.Parse("https://a.com/docs")
	if _, _, err := nav.Open(navigation.Target{URL: docs}); err != nil {
		t.Fatal(err)
	}
	supply.Off(nil)
	if _, _, err := nav.Back(); err != nil {
		t.Fatal(err)
	}

	missing, _ := url.Parse("https://a.com/missing")
	r.PageLoad(pageload.Response{Status: pageload.StatusLoading, Page: tracePage{missing}})
	r.PageLoad(pageload.Response{
		Status: pageload.StatusFailed,
		Page:   tracePage{missing},
		HTTP:   &http.Response{StatusCode: 404},
		Err:    &pageload.HTTPError{StatusCode: 404},
	})
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}

	traces, err := r.Traces()
	if err != nil {
		t.Fatal(err)
	}
	entries := readTrace(t, traces[0])

	var types []string
	for _, e := range entries {
		types = append(types, e.Type)
	}
	want := []string{string(navigation.EventLeavePage), string(navigation.EventEnterPage), "page-load"}
	if strings.Join(types, ",") != strings.Join(want, ",") {
		t.Fatalf("expected entries %v, got %v", want, types)
	}

	enter := entries[1].Data.(map[string]interface{})
	if enter["to"] != "https://a.com/docs" || enter["when"] != "open" {
		t.Errorf("unexpected enter entry: %v", enter)
	}
	load := entries[2].Data.(map[string]interface{})
	if load["status"] != "failed" || load["code"] != float64(404) {
		t.Errorf("unexpected page-load entry: %v", load)
	}
}
