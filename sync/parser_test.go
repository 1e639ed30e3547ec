package sync

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/teranos/locussync/errors"
	"github.com/teranos/locussync/hashtree"
)

func TestNewParser_InitialSnapshot(t *testing.T) {
	h := newHarness(t, loadSnapshot(t, snapshotFixture))
	p := h.parser

	assert.Equal(t, []string{"atd-unmuted", "main", "self"}, p.DataSetNames())
	assert.Equal(t, []string{"main", "self"}, p.VisibleDataSets())

	main := p.Tree("main")
	require.NotNil(t, main)
	assert.Equal(t, 16, main.NumLeaves())
	want := hashtree.Leaf{"locus": {0: {Type: "locus", ID: 0, Version: 200}}}
	if diff := cmp.Diff(want, main.Leaf(0)); diff != "" {
		t.Errorf("leaf 0 mismatch (-want +got):\n%s", diff)
	}
	stored, ok := main.Get("participant", 14)
	require.True(t, ok)
	assert.Equal(t, int64(300), stored.Version)

	self := p.Tree("self")
	require.NotNil(t, self)
	assert.Equal(t, 1, self.NumLeaves())
	_, ok = self.Get(ElementTypeSelf, 4)
	assert.True(t, ok)

	// described but not visible: registry entry, no tree, no timer
	info, ok := p.DataSet("atd-unmuted")
	require.True(t, ok)
	assert.Equal(t, 16, info.LeafCount)
	assert.Nil(t, p.Tree("atd-unmuted"))
	assert.False(t, p.TimerArmed("atd-unmuted"))

	assert.True(t, p.TimerArmed("main"))
	assert.True(t, p.TimerArmed("self"))
	assert.Empty(t, h.callbacks.all(), "construction delivers nothing")
	assert.Zero(t, h.locus.count(), "construction makes no requests")
}

func TestNewParser_RequiresCollaborators(t *testing.T) {
	_, err := NewParser(Options{Callback: func(UpdateType, Update) {}})
	assert.Error(t, err)

	_, err = NewParser(Options{Transport: newFakeLocus()})
	assert.Error(t, err)
}

func TestNewParser_WithoutSnapshot(t *testing.T) {
	h := newHarness(t, nil)

	assert.Empty(t, h.parser.DataSetNames())
	assert.Empty(t, h.parser.VisibleDataSets())
}

func TestNewParser_VisibleBeforeDescribed(t *testing.T) {
	snap := loadSnapshot(t, snapshotFixture)
	snap.DataSets = snap.DataSets[:1] // main only

	h := newHarness(t, snap)

	assert.Equal(t, []string{"main"}, h.parser.VisibleDataSets())
	assert.Nil(t, h.parser.Tree("self"))

	// the self descriptor arriving later brings the dataset live
	err := h.parser.HandleMessage(t.Context(), &Message{DataSets: []DataSet{
		{Name: "self", URL: selfURL, Version: 1, LeafCount: 1, IdleMs: 60000},
	}})
	require.NoError(t, err)
	assert.Equal(t, []string{"main", "self"}, h.parser.VisibleDataSets())
	assert.True(t, h.parser.TimerArmed("self"))
}

func TestParser_StopIsIdempotent(t *testing.T) {
	h := newHarness(t, loadSnapshot(t, snapshotFixture))

	h.parser.Stop()
	h.parser.Stop()

	assert.False(t, h.parser.TimerArmed("main"))
	assert.False(t, h.parser.TimerArmed("self"))

	err := h.parser.SyncDataSet(t.Context(), "main")
	assert.True(t, errors.Is(err, errors.ErrStopped))

	require.NoError(t, h.parser.HandleMessage(t.Context(), &Message{
		DataSets:           []DataSet{{Name: "main", Version: 2}},
		LocusStateElements: []ElementUpdate{element("participant", 15, 1, `{}`, "main")},
	}))
	assert.Empty(t, h.callbacks.all(), "stopped parser ignores messages")
}

func TestParser_DebugID(t *testing.T) {
	h := newHarness(t, nil)
	assert.Equal(t, "test", h.parser.DebugID())
}

func TestParser_LogsCarryDebugID(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	p, err := NewParser(Options{
		Transport: newFakeLocus(),
		Callback:  (&recorder{}).callback,
		DebugID:   "meeting-7",
		Logger:    zap.New(core).Sugar(),
		Clock:     clockwork.NewFakeClock(),
	})
	require.NoError(t, err)
	t.Cleanup(p.Stop)

	require.NoError(t, p.HandleMessage(t.Context(), &Message{
		LocusStateElements: []ElementUpdate{element("participant", 1, 1, `{}`, "main")},
	}))

	skipped := logs.FilterMessage("Skipping element for data set without tree").All()
	require.Len(t, skipped, 1)
	assert.Equal(t, "meeting-7", skipped[0].ContextMap()["debug_id"])
	assert.Equal(t, "main", skipped[0].ContextMap()["data_set"])
}
