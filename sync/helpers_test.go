package sync

import (
	"context"
	"encoding/json"
	"strconv"
	gosync "sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teranos/locussync/hashtree"
)

const (
	locusURLFixture     = "https://locus.example/loci/1"
	discoveryURLFixture = "https://locus.example/loci/1/datasets"
	mainURL             = "https://locus.example/loci/1/datasets/main"
	selfURL             = "https://locus.example/loci/1/datasets/self"
	unmutedURL          = "https://locus.example/loci/1/datasets/atd-unmuted"
)

// snapshotFixture is a locus with three datasets: main and self visible,
// atd-unmuted only described.
const snapshotFixture = `{
  "dataSets": [
    {"name": "main", "url": "https://locus.example/loci/1/datasets/main", "version": 1, "leafCount": 16, "idleMs": 1000, "backoff": {"maxMs": 0, "exponent": 2}},
    {"name": "self", "url": "https://locus.example/loci/1/datasets/self", "version": 1, "leafCount": 1, "idleMs": 60000, "backoff": {"maxMs": 0, "exponent": 2}},
    {"name": "atd-unmuted", "url": "https://locus.example/loci/1/datasets/atd-unmuted", "version": 1, "leafCount": 16, "idleMs": 60000, "backoff": {"maxMs": 0, "exponent": 2}}
  ],
  "locus": {
    "url": "https://locus.example/loci/1",
    "htMeta": {"elementId": {"type": "locus", "id": 0, "version": 200}, "dataSetNames": ["main"]},
    "links": {"resources": {"visibleDataSets": {"url": "https://locus.example/loci/1/datasets"}}},
    "self": {
      "htMeta": {"elementId": {"type": "self", "id": 4, "version": 100}, "dataSetNames": ["self"]},
      "visibleDataSets": ["main", "self"]
    },
    "participants": [
      {"htMeta": {"elementId": {"type": "participant", "id": 14, "version": 300}, "dataSetNames": ["atd-unmuted", "main"]}, "person": {"name": "Ada"}}
    ]
  }
}`

func loadSnapshot(t *testing.T, raw string) *Snapshot {
	t.Helper()
	var snap Snapshot
	require.NoError(t, json.Unmarshal([]byte(raw), &snap))
	return &snap
}

// fakeLocus is an in-memory locus service keyed by method and URI.
// Unrouted requests get an empty body.
type fakeLocus struct {
	mu       gosync.Mutex
	requests []Request
	routes   map[string]func(Request) (any, error)
}

func newFakeLocus() *fakeLocus {
	return &fakeLocus{routes: make(map[string]func(Request) (any, error))}
}

func (f *fakeLocus) handle(method, uri string, h func(Request) (any, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[method+" "+uri] = h
}

func (f *fakeLocus) respond(method, uri string, body any) {
	f.handle(method, uri, func(Request) (any, error) { return body, nil })
}

func (f *fakeLocus) Request(_ context.Context, req Request) (*Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	h := f.routes[req.Method+" "+req.URI]
	f.mu.Unlock()

	if h == nil {
		return &Response{}, nil
	}
	body, err := h(req)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return &Response{Body: raw}, nil
}

func (f *fakeLocus) calls(method, uri string) []Request {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []Request
	for _, r := range f.requests {
		if r.Method == method && r.URI == uri {
			out = append(out, r)
		}
	}
	return out
}

func (f *fakeLocus) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type delivery struct {
	Type   UpdateType
	Update Update
}

// recorder collects callback deliveries.
type recorder struct {
	mu         gosync.Mutex
	deliveries []delivery
}

func (r *recorder) callback(typ UpdateType, u Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = append(r.deliveries, delivery{Type: typ, Update: u})
}

func (r *recorder) all() []delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]delivery(nil), r.deliveries...)
}

func (r *recorder) last(t *testing.T) delivery {
	t.Helper()
	all := r.all()
	require.NotEmpty(t, all, "no callback delivered")
	return all[len(all)-1]
}

type harness struct {
	parser    *Parser
	locus     *fakeLocus
	clock     clockwork.FakeClock
	callbacks *recorder
}

func newHarness(t *testing.T, snap *Snapshot) *harness {
	t.Helper()
	h := &harness{
		locus:     newFakeLocus(),
		clock:     clockwork.NewFakeClockAt(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
		callbacks: &recorder{},
	}
	p, err := NewParser(Options{
		InitialLocus: snap,
		Transport:    h.locus,
		Callback:     h.callbacks.callback,
		DebugID:      "test",
		Logger:       zap.NewNop().Sugar(),
		Clock:        h.clock,
		Rand:         func() float64 { return 0 },
	})
	require.NoError(t, err)
	t.Cleanup(p.Stop)
	h.parser = p
	return h
}

func element(typ string, id, version int64, data string, dataSets ...string) ElementUpdate {
	u := ElementUpdate{HTMeta: &HTMeta{
		ElementID:    hashtree.ElementID{Type: typ, ID: id, Version: version},
		DataSetNames: dataSets,
	}}
	if data != "" {
		u.Data = json.RawMessage(data)
	}
	return u
}

func selfElement(version int64, visible ...string) ElementUpdate {
	payload, _ := json.Marshal(map[string]any{"visibleDataSets": visible})
	return element(ElementTypeSelf, 4, version, string(payload), "self")
}

// keys renders updates as type:id:version, with a trailing "-" for removals.
func keys(updates []ElementUpdate) []string {
	out := make([]string, 0, len(updates))
	for _, u := range updates {
		id := u.HTMeta.ElementID
		k := id.Type + ":" + strconv.FormatInt(id.ID, 10) + ":" + strconv.FormatInt(id.Version, 10)
		if u.IsRemoval() {
			k += "-"
		}
		out = append(out, k)
	}
	return out
}
