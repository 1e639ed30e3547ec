// Package sync keeps client replicas of server-held datasets consistent with
// the locus service using per-dataset hash trees.
//
// A Parser owns the dataset registry, applies inbound messages to the hash
// trees of visible datasets, and runs one idle timer per visible dataset.
// When a timer expires the dataset's leaf hashes are compared with the
// server's and only mismatched leaves are resynchronized. Every inbound
// message yields at most one callback carrying all changed elements.
package sync

import (
	"context"
	"math/rand/v2"
	"sort"
	gosync "sync"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/teranos/locussync/errors"
	"github.com/teranos/locussync/hashtree"
	"github.com/teranos/locussync/logger"
)

// UpdateType tells the callback what happened.
type UpdateType string

const (
	ObjectsUpdated UpdateType = "OBJECTS_UPDATED"
	MeetingEnded   UpdateType = "MEETING_ENDED"
)

// Update is the callback payload. UpdatedObjects is nil for MeetingEnded.
type Update struct {
	UpdatedObjects []ElementUpdate `json:"updatedObjects"`
}

// UpdateCallback receives aggregated changes. It is never called with
// parser locks held, so it may call back into the Parser.
type UpdateCallback func(UpdateType, Update)

// Options configures a Parser.
type Options struct {
	// InitialLocus seeds the registry and the visible trees.
	InitialLocus *Snapshot
	Transport    Transport
	Callback     UpdateCallback
	DebugID      string

	// Optional
	Logger *zap.SugaredLogger
	Clock  clockwork.Clock
	Rand   func() float64
	Hasher hashtree.Hasher
}

// dataSet is the registry record for one dataset.
type dataSet struct {
	DataSet

	tree     *hashtree.Tree // non-nil iff the dataset is visible
	timer    clockwork.Timer
	timerSeq uint64
	busy     bool // a reconciliation round is in flight
}

// Parser is safe for concurrent use.
type Parser struct {
	mu       gosync.Mutex
	dataSets map[string]*dataSet
	visible  map[string]struct{}

	// pending holds names listed as visible whose tree does not exist yet.
	// The value is the token of the bootstrap in flight, 0 when waiting for
	// metadata to arrive.
	pending   map[string]uint64
	nextToken uint64

	visibleDataSetsURL string
	locusURL           string
	ended              bool
	stopped            bool

	deliverMu gosync.Mutex

	transport Transport
	callback  UpdateCallback
	debugID   string
	logger    *zap.SugaredLogger
	clock     clockwork.Clock
	rand      func() float64
	hasher    hashtree.Hasher

	// ctx bounds background work: timer rounds and deferred bootstraps.
	ctx    context.Context
	cancel context.CancelFunc
}

// NewParser builds the registry from opts.InitialLocus: every described
// dataset is registered, visible ones get a hash tree filled from the
// snapshot, and their idle timers are armed.
func NewParser(opts Options) (*Parser, error) {
	if opts.Transport == nil {
		return nil, errors.New("transport is required")
	}
	if opts.Callback == nil {
		return nil, errors.New("update callback is required")
	}

	p := &Parser{
		dataSets:  make(map[string]*dataSet),
		visible:   make(map[string]struct{}),
		pending:   make(map[string]uint64),
		transport: opts.Transport,
		callback:  opts.Callback,
		debugID:   opts.DebugID,
		logger:    opts.Logger,
		clock:     opts.Clock,
		rand:      opts.Rand,
		hasher:    opts.Hasher,
	}
	if p.logger == nil {
		p.logger = logger.ComponentLogger("hashtree")
	}
	p.logger = p.logger.With(logger.FieldDebugID, p.debugID)
	if p.clock == nil {
		p.clock = clockwork.NewRealClock()
	}
	if p.rand == nil {
		p.rand = rand.Float64
	}
	if p.hasher == nil {
		p.hasher = hashtree.Blake3Hasher{}
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())

	p.mu.Lock()
	defer p.mu.Unlock()
	p.loadSnapshotLocked(opts.InitialLocus)
	return p, nil
}

// loadSnapshotLocked performs the constructor's registry setup.
func (p *Parser) loadSnapshotLocked(snap *Snapshot) {
	if snap == nil {
		p.logger.Warnw("Initial locus missing, starting with an empty registry")
		return
	}
	if snap.Locus == nil {
		p.logger.Warnw("Initial snapshot has no locus")
	}

	p.updateURLsLocked(snap.Locus.VisibleDataSetsURL(), locusURL(snap.Locus))
	for _, ds := range snap.DataSets {
		p.updateDataSetInfoLocked(ds)
	}

	for _, name := range snap.Locus.VisibleDataSets() {
		if _, ok := p.dataSets[name]; ok {
			p.makeVisibleLocked(name)
			continue
		}
		// listed as visible before any descriptor arrived
		p.pending[name] = 0
	}

	for _, e := range walkLocus(snap.Locus) {
		for _, name := range e.HTMeta.DataSetNames {
			if tree := p.treeLocked(name); tree != nil {
				tree.PutItem(e.HTMeta.ElementID)
			}
		}
	}

	for name := range p.visible {
		p.armLocked(p.dataSets[name])
	}

	p.logger.Infow("Hash tree parser initialized",
		logger.FieldDataSets, p.namesLocked(),
		"visible", p.visibleLocked(),
	)
}

// DebugID returns the identifier attached to every log line.
func (p *Parser) DebugID() string {
	return p.debugID
}

// DataSet returns the registry's descriptor for name.
func (p *Parser) DataSet(name string) (DataSet, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ds, ok := p.dataSets[name]
	if !ok {
		return DataSet{}, false
	}
	return ds.DataSet, true
}

// DataSetNames returns every registered dataset name, sorted.
func (p *Parser) DataSetNames() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.namesLocked()
}

// VisibleDataSets returns the names of the datasets with a live tree, sorted.
func (p *Parser) VisibleDataSets() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.visibleLocked()
}

// Tree returns the live hash tree of name, or nil when it is not visible.
func (p *Parser) Tree(name string) *hashtree.Tree {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.treeLocked(name)
}

// TimerArmed reports whether name currently has a pending idle timer.
func (p *Parser) TimerArmed(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	ds, ok := p.dataSets[name]
	return ok && ds.timer != nil
}

// Ended reports whether a roster drop ended the session.
func (p *Parser) Ended() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ended
}

// Stop cancels every timer and any background work. It is idempotent.
func (p *Parser) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return
	}
	p.stopped = true
	p.stopAllTimersLocked()
	p.cancel()
	p.logger.Infow("Hash tree parser stopped")
}

func (p *Parser) treeLocked(name string) *hashtree.Tree {
	if ds, ok := p.dataSets[name]; ok {
		return ds.tree
	}
	return nil
}

func (p *Parser) namesLocked() []string {
	names := make([]string, 0, len(p.dataSets))
	for name := range p.dataSets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (p *Parser) visibleLocked() []string {
	names := make([]string, 0, len(p.visible))
	for name := range p.visible {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (p *Parser) inactiveLocked() bool {
	return p.ended || p.stopped
}

func locusURL(l *Locus) string {
	if l == nil {
		return ""
	}
	return l.URL
}
