package sync

import "encoding/json"

// ElementTypeSelf is the element type of the local participant's own state.
// Its payload carries the visible dataset list and its removal ends the session.
const ElementTypeSelf = "self"

// Node is one object of a locus snapshot. Only htMeta is decoded; the raw
// JSON is kept so it can be handed out as the element payload.
type Node struct {
	HTMeta *HTMeta
	Raw    json.RawMessage
}

func (n *Node) UnmarshalJSON(data []byte) error {
	var head struct {
		HTMeta *HTMeta `json:"htMeta"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	n.HTMeta = head.HTMeta
	n.Raw = append(json.RawMessage(nil), data...)
	return nil
}

func (n Node) MarshalJSON() ([]byte, error) {
	if len(n.Raw) == 0 {
		return jsonNull, nil
	}
	return n.Raw, nil
}

// Links holds the service URLs advertised by the locus.
type Links struct {
	Resources struct {
		VisibleDataSets struct {
			URL string `json:"url"`
		} `json:"visibleDataSets"`
	} `json:"resources"`
}

// Locus is the snapshot of a conversation as returned by the locus service.
type Locus struct {
	URL          string  `json:"url,omitempty"`
	HTMeta       *HTMeta `json:"htMeta,omitempty"`
	Links        *Links  `json:"links,omitempty"`
	Self         *Node   `json:"self,omitempty"`
	Participants []Node  `json:"participants,omitempty"`
	MediaShares  []Node  `json:"mediaShares,omitempty"`
	EmbeddedApps []Node  `json:"embeddedApps,omitempty"`

	// Raw is the whole locus object, used as the payload of the root element.
	Raw json.RawMessage `json:"-"`
}

func (l *Locus) UnmarshalJSON(data []byte) error {
	type plain Locus
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*l = Locus(p)
	l.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// VisibleDataSetsURL returns the discovery URL, or "" when absent.
func (l *Locus) VisibleDataSetsURL() string {
	if l == nil || l.Links == nil {
		return ""
	}
	return l.Links.Resources.VisibleDataSets.URL
}

// VisibleDataSets returns the names listed in self.visibleDataSets.
func (l *Locus) VisibleDataSets() []string {
	if l == nil || l.Self == nil {
		return nil
	}
	names, _ := parseVisibleDataSets(l.Self.Raw)
	return names
}

// Snapshot is a full locus state: the dataset descriptors plus the locus.
type Snapshot struct {
	DataSets []DataSet `json:"dataSets"`
	Locus    *Locus    `json:"locus"`
}

// nodeKind is one known place in a locus where elements live.
type nodeKind struct {
	name  string
	nodes func(l *Locus) []Node
}

// locusNodeKinds lists the walked node kinds in walk order. New kinds are
// added here and nowhere else.
var locusNodeKinds = []nodeKind{
	{name: "locus", nodes: func(l *Locus) []Node {
		return []Node{{HTMeta: l.HTMeta, Raw: l.Raw}}
	}},
	{name: "self", nodes: func(l *Locus) []Node {
		if l.Self == nil {
			return nil
		}
		return []Node{*l.Self}
	}},
	{name: "participants", nodes: func(l *Locus) []Node { return l.Participants }},
	{name: "mediaShares", nodes: func(l *Locus) []Node { return l.MediaShares }},
	{name: "embeddedApps", nodes: func(l *Locus) []Node { return l.EmbeddedApps }},
}

// walkLocus returns every element found in the known node kinds of l, in
// walk order. Nodes without a usable htMeta are skipped.
func walkLocus(l *Locus) []ElementUpdate {
	if l == nil {
		return nil
	}
	var out []ElementUpdate
	for _, kind := range locusNodeKinds {
		for _, n := range kind.nodes(l) {
			if !n.HTMeta.valid() {
				continue
			}
			out = append(out, ElementUpdate{HTMeta: n.HTMeta, Data: n.Raw})
		}
	}
	return out
}

// valid reports whether m identifies an element. An element id without a
// type is treated as missing.
func (m *HTMeta) valid() bool {
	return m != nil && m.ElementID.Type != ""
}

func (m *HTMeta) isSelf() bool {
	return m.valid() && m.ElementID.Type == ElementTypeSelf
}

func parseVisibleDataSets(payload json.RawMessage) ([]string, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	var self selfPayload
	if err := json.Unmarshal(payload, &self); err != nil {
		return nil, err
	}
	return visibleNames(self.VisibleDataSets), nil
}
