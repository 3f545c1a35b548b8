package localapi

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Avis2912/magnus/internal/bridge"
	"github.com/Avis2912/magnus/internal/engine"
	"github.com/Avis2912/magnus/internal/journal"
	"github.com/Avis2912/magnus/internal/logging"
	"github.com/Avis2912/magnus/internal/runner"
	"github.com/Avis2912/magnus/internal/task"
)

// gate blocks engine runs whose prompt is "blocker" until it is opened.
type gate struct {
	once sync.Once
	ch   chan struct{}
}

func newGate() *gate { return &gate{ch: make(chan struct{})} }

func (g *gate) open() { g.once.Do(func() { close(g.ch) }) }

type testEnv struct {
	reg     *task.Registry
	runner  *runner.Runner
	journal *journal.Store
	srv     *httptest.Server
	gate    *gate
}

type envOptions struct {
	deadline      time.Duration
	heartbeat     time.Duration
	maxConcurrent int
	engine        engine.Engine
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()
	hub := logging.NewHub(nil)
	reg := task.NewRegistry()
	store, err := journal.Open("")
	if err != nil {
		t.Fatalf("open journal failed: %v", err)
	}
	reg.OnTerminal(store.Hook(logging.Discard()))
	g := newGate()
	eng := opts.engine
	if eng == nil {
		eng = engine.Func(func(ctx context.Context, prompt string) (string, error) {
			if prompt == "blocker" {
				select {
				case <-g.ch:
				case <-ctx.Done():
					return "", ctx.Err()
				}
				return "unblocked", nil
			}
			logging.FromContext(ctx).Info("✨ Manus's thoughts: answering " + prompt)
			return "hi", nil
		})
	}
	br := bridge.New(hub, reg, bridge.WithLogger(logging.Discard()))
	r := runner.New(reg, br, eng, runner.Options{
		Deadline:      opts.deadline,
		MaxConcurrent: opts.maxConcurrent,
		Logger:        hub.Logger(),
	})
	s := NewServer(Deps{
		Tasks:     reg,
		Runner:    r,
		Journal:   store,
		Logger:    logging.Discard(),
		Heartbeat: opts.heartbeat,
	})
	ts := httptest.NewServer(s.Handler())
	env := &testEnv{reg: reg, runner: r, journal: store, srv: ts, gate: g}
	t.Cleanup(func() {
		g.open()
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = r.WaitAll(ctx)
		_ = store.Close()
	})
	return env
}

type envelope struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decodeEnvelope(t *testing.T, resp *http.Response) envelope {
	t.Helper()
	defer resp.Body.Close()
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope failed: %v", err)
	}
	return env
}

func (e *testEnv) submit(t *testing.T, prompt string) string {
	t.Helper()
	resp, err := http.Post(e.srv.URL+"/api/v1/tasks", "application/json", strings.NewReader(`{"prompt":"`+prompt+`"}`))
	if err != nil {
		t.Fatalf("post task failed: %v", err)
	}
	env := decodeEnvelope(t, resp)
	if !env.OK {
		t.Fatalf("create task failed: %+v", env.Error)
	}
	var data struct {
		TaskID string `json:"task_id"`
	}
	_ = json.Unmarshal(env.Data, &data)
	if data.TaskID == "" {
		t.Fatal("expected task_id")
	}
	return data.TaskID
}

type sseEvent struct {
	Name      string
	Data      map[string]any
	Heartbeat bool
}

type sseReader struct {
	resp *http.Response
	br   *bufio.Reader
}

func (e *testEnv) openStream(t *testing.T, ctx context.Context, taskID string) *sseReader {
	t.Helper()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, e.srv.URL+"/api/v1/tasks/"+taskID+"/events", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected stream status %d", resp.StatusCode)
	}
	return &sseReader{resp: resp, br: bufio.NewReader(resp.Body)}
}

// next returns the next frame, or io.EOF once the server closed the stream.
func (s *sseReader) next() (sseEvent, error) {
	var out sseEvent
	seen := false
	for {
		line, err := s.br.ReadString('\n')
		if err != nil {
			if seen {
				return out, nil
			}
			return out, err
		}
		line = strings.TrimRight(line, "\n")
		if line == "" {
			if seen {
				return out, nil
			}
			continue
		}
		seen = true
		switch {
		case strings.HasPrefix(line, ":"):
			out.Heartbeat = true
		case strings.HasPrefix(line, "event: "):
			out.Name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			_ = json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &out.Data)
		}
	}
}

// collect reads events (skipping heartbeats) until the stream ends.
func (s *sseReader) collect(t *testing.T) []sseEvent {
	t.Helper()
	var out []sseEvent
	for {
		evt, err := s.next()
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatalf("read stream failed: %v", err)
		}
		if !evt.Heartbeat {
			out = append(out, evt)
		}
	}
}

func (s *sseReader) close() {
	_ = s.resp.Body.Close()
}
