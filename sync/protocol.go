package sync

import (
	"bytes"
	"encoding/json"

	"github.com/teranos/locussync/hashtree"
)

// Wire shapes exchanged with the locus service.
//
// Protocol flow for one dataset:
//
//	1. Server pushes heartbeats (dataSets only) and full updates
//	   (dataSets + locusStateElements) over the message feed
//	2. Each push restarts the dataset's idle timer
//	3. On expiry: GET <dataSet.url>/hashtree unless leafCount == 1
//	4. POST <dataSet.url>/sync with the local element ids of every
//	   mismatched leaf
//	5. The response is applied like a full update

// Backoff shapes the random delay added to a dataset's idle period.
type Backoff struct {
	MaxMs    int64   `json:"maxMs"`
	Exponent float64 `json:"exponent"`
}

// DataSet is the server's descriptor of one synchronized partition.
type DataSet struct {
	URL       string  `json:"url"`
	Root      string  `json:"root"`
	Version   int64   `json:"version"`
	LeafCount int     `json:"leafCount"`
	Name      string  `json:"name"`
	IdleMs    int64   `json:"idleMs"`
	Backoff   Backoff `json:"backoff"`
}

// HTMeta locates an element in the hash trees of its datasets.
type HTMeta struct {
	ElementID    hashtree.ElementID `json:"elementId"`
	DataSetNames []string           `json:"dataSetNames"`
}

// ElementUpdate is one element as carried in messages and notifications.
//
// Data distinguishes three states: nil when the field was absent, the JSON
// literal null for a removal, anything else is the element payload.
type ElementUpdate struct {
	HTMeta *HTMeta          `json:"htMeta,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

var jsonNull = []byte("null")

// HasPayload reports whether the update carries element data.
func (u ElementUpdate) HasPayload() bool {
	return len(u.Data) > 0 && !bytes.Equal(bytes.TrimSpace(u.Data), jsonNull)
}

// DataAbsent reports whether the data field was missing entirely.
func (u ElementUpdate) DataAbsent() bool {
	return len(u.Data) == 0
}

// IsRemoval reports whether the update removes the element.
func (u ElementUpdate) IsRemoval() bool {
	return !u.HasPayload()
}

// removal builds the notification emitted when an element leaves the replica.
func removal(id hashtree.ElementID, dataSet string) ElementUpdate {
	return ElementUpdate{
		HTMeta: &HTMeta{ElementID: id, DataSetNames: []string{dataSet}},
		Data:   json.RawMessage(jsonNull),
	}
}

// Message is a heartbeat, a full update or a sync response.
type Message struct {
	DataSets           []DataSet       `json:"dataSets"`
	VisibleDataSetsURL string          `json:"visibleDataSetsUrl,omitempty"`
	LocusURL           string          `json:"locusUrl,omitempty"`
	LocusStateElements []ElementUpdate `json:"locusStateElements,omitempty"`
}

// DiscoveryResponse is returned by GET <visibleDataSetsUrl>.
type DiscoveryResponse struct {
	DataSets []DataSet `json:"dataSets"`
}

// HashesResponse is returned by GET <dataSet.url>/hashtree.
type HashesResponse struct {
	Hashes  []string `json:"hashes"`
	DataSet DataSet  `json:"dataSet"`
}

// SyncDataSet identifies the replica in a sync request.
type SyncDataSet struct {
	Name      string `json:"name"`
	LeafCount int    `json:"leafCount"`
	Root      string `json:"root"`
}

// LeafDataEntry lists the element ids held locally in one leaf.
type LeafDataEntry struct {
	LeafIndex  int                  `json:"leafIndex"`
	ElementIDs []hashtree.ElementID `json:"elementIds"`
}

// SyncRequest is the body of POST <dataSet.url>/sync.
type SyncRequest struct {
	DataSet         SyncDataSet     `json:"dataSet"`
	LeafDataEntries []LeafDataEntry `json:"leafDataEntries"`
}

// VisibleDataSet names a dataset in self.visibleDataSets. The server sends
// either bare names or {name, url} objects.
type VisibleDataSet struct {
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
}

func (v *VisibleDataSet) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		*v = VisibleDataSet{Name: name}
		return nil
	}
	type plain VisibleDataSet
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*v = VisibleDataSet(p)
	return nil
}

// selfPayload is the part of the self element the engine reads.
type selfPayload struct {
	VisibleDataSets []VisibleDataSet `json:"visibleDataSets"`
}

func visibleNames(list []VisibleDataSet) []string {
	names := make([]string, 0, len(list))
	for _, v := range list {
		if v.Name != "" {
			names = append(names, v.Name)
		}
	}
	return names
}
