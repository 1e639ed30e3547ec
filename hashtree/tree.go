// Package hashtree implements the fixed-width, content-addressed hash tree
// used to compare a dataset replica against the server.
//
// Structure:
//
//	Root
//	└── Leaf i   (elements whose id mod numLeaves == i)
//	    └── type → id → {type, id, version}
//
// Leaf hashes depend only on leaf content and the root hash only on the
// ordered leaf hashes, so two trees holding the same descriptors agree on
// every hash regardless of insertion order. numLeaves is fixed for the life
// of a tree; use Rebuild to move the content into a tree of another width.
package hashtree

import (
	"sort"
	"strconv"
	gosync "sync"
)

// ElementID identifies one version of an element.
type ElementID struct {
	Type    string `json:"type"`
	ID      int64  `json:"id"`
	Version int64  `json:"version"`
}

// Operation is the kind of a conditional tree mutation.
type Operation string

const (
	OpUpdate Operation = "update"
	OpRemove Operation = "remove"
)

// Entry is one conditional mutation passed to UpdateItems.
type Entry struct {
	Operation Operation `json:"operation"`
	Item      ElementID `json:"item"`
}

// Leaf is the content of one leaf: type → id → descriptor.
type Leaf map[string]map[int64]ElementID

// Tree is safe for concurrent use.
type Tree struct {
	mu         gosync.RWMutex
	hasher     Hasher
	leaves     []Leaf
	leafHashes []string
	dirty      []bool
	rootDirty  bool
	root       string
}

// Option configures a Tree.
type Option func(*Tree)

// WithHasher replaces the default Blake3Hasher.
func WithHasher(h Hasher) Option {
	return func(t *Tree) {
		if h != nil {
			t.hasher = h
		}
	}
}

// New creates an empty tree with numLeaves leaves. Values below 1 become 1.
func New(numLeaves int, opts ...Option) *Tree {
	if numLeaves < 1 {
		numLeaves = 1
	}
	t := &Tree{
		hasher:     Blake3Hasher{},
		leaves:     make([]Leaf, numLeaves),
		leafHashes: make([]string, numLeaves),
		dirty:      make([]bool, numLeaves),
		rootDirty:  true,
	}
	for _, opt := range opts {
		opt(t)
	}
	for i := range t.leaves {
		t.leaves[i] = make(Leaf)
		t.dirty[i] = true
	}
	return t
}

// NumLeaves returns the fixed leaf count.
func (t *Tree) NumLeaves() int {
	return len(t.leaves)
}

// LeafIndex returns the leaf an element id is placed in.
func (t *Tree) LeafIndex(id int64) int {
	return LeafIndex(id, len(t.leaves))
}

// LeafIndex returns id mod numLeaves, always in [0, numLeaves).
func LeafIndex(id int64, numLeaves int) int {
	n := int64(numLeaves)
	return int(((id % n) + n) % n)
}

// PutItems stores every item unconditionally, replacing whatever version was
// held for the same (type, id). The result reports, per item, whether the
// stored version changed.
func (t *Tree) PutItems(items []ElementID) []bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	changed := make([]bool, len(items))
	for i, it := range items {
		changed[i] = t.put(it)
	}
	return changed
}

// PutItem is PutItems for a single item.
func (t *Tree) PutItem(item ElementID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.put(item)
}

// UpdateItems applies conditional mutations in order and reports, per entry,
// whether the tree changed. An update wins only against an older stored
// version; a remove needs the element present at the same or an older
// version. Replaying an entry is therefore a no-op.
func (t *Tree) UpdateItems(entries []Entry) []bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	applied := make([]bool, len(entries))
	for i, e := range entries {
		stored, ok := t.get(e.Item.Type, e.Item.ID)
		switch e.Operation {
		case OpRemove:
			if ok && e.Item.Version >= stored.Version {
				t.remove(e.Item)
				applied[i] = true
			}
		default:
			if !ok || e.Item.Version > stored.Version {
				applied[i] = t.put(e.Item)
			}
		}
	}
	return applied
}

// Get returns the stored descriptor for (typ, id).
func (t *Tree) Get(typ string, id int64) (ElementID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.get(typ, id)
}

// LeafData returns the descriptors stored in leaf i sorted by (type, id).
// Out of range indexes yield nil.
func (t *Tree) LeafData(i int) []ElementID {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if i < 0 || i >= len(t.leaves) {
		return nil
	}
	return sortedItems(t.leaves[i])
}

// Leaf returns a copy of leaf i.
func (t *Tree) Leaf(i int) Leaf {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if i < 0 || i >= len(t.leaves) {
		return nil
	}
	out := make(Leaf, len(t.leaves[i]))
	for typ, byID := range t.leaves[i] {
		cp := make(map[int64]ElementID, len(byID))
		for id, it := range byID {
			cp[id] = it
		}
		out[typ] = cp
	}
	return out
}

// Items returns every stored descriptor in leaf order.
func (t *Tree) Items() []ElementID {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []ElementID
	for _, l := range t.leaves {
		out = append(out, sortedItems(l)...)
	}
	return out
}

// Size returns the number of stored elements.
func (t *Tree) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := 0
	for _, l := range t.leaves {
		for _, byID := range l {
			n += len(byID)
		}
	}
	return n
}

// RootHash returns the root digest, recomputing dirty leaves lazily.
func (t *Tree) RootHash() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.recompute()
	return t.root
}

// LeafHashes returns a copy of the current leaf digests.
func (t *Tree) LeafHashes() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.recompute()
	out := make([]string, len(t.leafHashes))
	copy(out, t.leafHashes)
	return out
}

// LeafHash returns the digest of leaf i, or "" when i is out of range.
func (t *Tree) LeafHash(i int) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if i < 0 || i >= len(t.leafHashes) {
		return ""
	}
	t.recompute()
	return t.leafHashes[i]
}

// DiffHashes compares local leaf digests with the server's and returns the
// indexes that differ, ascending.
func (t *Tree) DiffHashes(remote []string) ([]int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(remote) != len(t.leaves) {
		return nil, &HashCountError{Got: len(remote), Want: len(t.leaves)}
	}

	t.recompute()
	var mismatched []int
	for i, h := range t.leafHashes {
		if h != remote[i] {
			mismatched = append(mismatched, i)
		}
	}
	return mismatched, nil
}

// Rebuild returns a new tree with numLeaves leaves holding the same items
// and using the same hasher. The receiver is left untouched.
func (t *Tree) Rebuild(numLeaves int) *Tree {
	items := t.Items()

	t.mu.RLock()
	hasher := t.hasher
	t.mu.RUnlock()

	nt := New(numLeaves, WithHasher(hasher))
	nt.PutItems(items)
	return nt
}

// HashCountError reports a remote hash array of the wrong width.
type HashCountError struct {
	Got, Want int
}

func (e *HashCountError) Error() string {
	return "remote leaf hash count " + strconv.Itoa(e.Got) + " does not match local leaf count " + strconv.Itoa(e.Want)
}

// put stores item and reports whether the stored version changed.
// Caller must hold t.mu.
func (t *Tree) put(item ElementID) bool {
	idx := t.LeafIndex(item.ID)
	byID, ok := t.leaves[idx][item.Type]
	if !ok {
		byID = make(map[int64]ElementID)
		t.leaves[idx][item.Type] = byID
	}

	prev, existed := byID[item.ID]
	byID[item.ID] = item
	if existed && prev.Version == item.Version {
		return false
	}

	t.dirty[idx] = true
	t.rootDirty = true
	return true
}

// remove deletes item's (type, id). Caller must hold t.mu.
func (t *Tree) remove(item ElementID) {
	idx := t.LeafIndex(item.ID)
	byID := t.leaves[idx][item.Type]
	delete(byID, item.ID)
	if len(byID) == 0 {
		delete(t.leaves[idx], item.Type)
	}
	t.dirty[idx] = true
	t.rootDirty = true
}

func (t *Tree) get(typ string, id int64) (ElementID, bool) {
	it, ok := t.leaves[t.LeafIndex(id)][typ][id]
	return it, ok
}

// recompute refreshes dirty leaf hashes and the root. Caller must hold t.mu.
func (t *Tree) recompute() {
	if !t.rootDirty {
		return
	}
	for i, d := range t.dirty {
		if d {
			t.leafHashes[i] = t.hasher.HashLeaf(sortedItems(t.leaves[i]))
			t.dirty[i] = false
		}
	}
	t.root = t.hasher.HashRoot(t.leafHashes)
	t.rootDirty = false
}

// sortedItems flattens a leaf sorted by type then id.
func sortedItems(l Leaf) []ElementID {
	out := make([]ElementID, 0, len(l))
	for _, byID := range l {
		for _, it := range byID {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].ID < out[j].ID
	})
	return out
}
