package sync

import (
	"encoding/json"

	"github.com/teranos/locussync/errors"
)

// Inbound is a classified message from the locus service. The concrete type
// is one of *Heartbeat, *FullUpdate or *Snapshot.
type Inbound interface {
	inbound()
}

// Heartbeat announces dataset versions and roots without element data.
type Heartbeat struct {
	Message
}

// FullUpdate carries dataset descriptors and element updates.
type FullUpdate struct {
	Message
}

func (*Heartbeat) inbound()  {}
func (*FullUpdate) inbound() {}
func (*Snapshot) inbound()   {}

// DecodeInbound classifies raw JSON once, by which top-level fields are
// present:
//
//	locus                 → Snapshot
//	locusStateElements    → FullUpdate (even when the list is empty)
//	dataSets              → Heartbeat
func DecodeInbound(data []byte) (Inbound, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, errors.Wrap(errors.ErrInvalidMessage, err.Error())
	}

	switch {
	case present(fields, "locus"):
		var s Snapshot
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, errors.Wrap(errors.ErrInvalidMessage, err.Error())
		}
		return &s, nil

	case present(fields, "locusStateElements"):
		var m Message
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, errors.Wrap(errors.ErrInvalidMessage, err.Error())
		}
		if m.LocusStateElements == nil {
			m.LocusStateElements = []ElementUpdate{}
		}
		return &FullUpdate{Message: m}, nil

	case present(fields, "dataSets"):
		var m Message
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, errors.Wrap(errors.ErrInvalidMessage, err.Error())
		}
		m.LocusStateElements = nil
		return &Heartbeat{Message: m}, nil
	}

	return nil, errors.Wrap(errors.ErrInvalidMessage, "no dataSets, locusStateElements or locus field")
}

func present(fields map[string]json.RawMessage, key string) bool {
	_, ok := fields[key]
	return ok
}
