package sync

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/locussync/errors"
)

func TestDecodeInbound(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"heartbeat", `{"dataSets":[{"name":"main","version":2}]}`, "heartbeat"},
		{"full update", `{"dataSets":[],"locusStateElements":[{"htMeta":{"elementId":{"type":"locus","id":0,"version":1},"dataSetNames":["main"]},"data":{}}]}`, "full"},
		{"empty full update", `{"dataSets":[],"locusStateElements":[]}`, "full"},
		{"null element list", `{"locusStateElements":null}`, "full"},
		{"snapshot", snapshotFixture, "snapshot"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			in, err := DecodeInbound([]byte(c.raw))
			require.NoError(t, err)

			switch m := in.(type) {
			case *Heartbeat:
				assert.Equal(t, c.want, "heartbeat")
				assert.Nil(t, m.LocusStateElements)
			case *FullUpdate:
				assert.Equal(t, c.want, "full")
				assert.NotNil(t, m.LocusStateElements)
			case *Snapshot:
				assert.Equal(t, c.want, "snapshot")
				assert.NotNil(t, m.Locus)
			default:
				t.Fatalf("unexpected inbound %T", in)
			}
		})
	}
}

func TestDecodeInbound_Invalid(t *testing.T) {
	for _, raw := range []string{`not json`, `{}`, `{"something":"else"}`, `[1,2]`} {
		_, err := DecodeInbound([]byte(raw))
		assert.True(t, errors.Is(err, errors.ErrInvalidMessage), "input %s", raw)
	}
}

func TestElementUpdate_DataStates(t *testing.T) {
	var absent, removal, payload ElementUpdate
	require.NoError(t, json.Unmarshal([]byte(`{"htMeta":null}`), &absent))
	require.NoError(t, json.Unmarshal([]byte(`{"data":null}`), &removal))
	require.NoError(t, json.Unmarshal([]byte(`{"data":{"a":1}}`), &payload))

	assert.True(t, absent.DataAbsent())
	assert.True(t, absent.IsRemoval())

	assert.False(t, removal.DataAbsent())
	assert.True(t, removal.IsRemoval())

	assert.True(t, payload.HasPayload())
	assert.False(t, payload.IsRemoval())
}

func TestVisibleDataSet_AcceptsNamesAndObjects(t *testing.T) {
	names, err := parseVisibleDataSets(json.RawMessage(`{"visibleDataSets":["main",{"name":"self","url":"https://x/self"},{"url":"nameless"}]}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"main", "self"}, names)
}
