package hashtree

import (
	"encoding/hex"
	"strconv"

	"github.com/zeebo/blake3"
)

// DigestSize is the width in bytes of the default leaf and root digests.
// Hex encoded that is the 32 character form the server advertises.
const DigestSize = 16

// Hasher computes leaf and root digests. Client and server must agree on the
// algorithm, so it is injected rather than fixed.
type Hasher interface {
	// HashLeaf digests the items of one leaf. Items arrive sorted by
	// (type, id); an empty slice must still yield a stable digest.
	HashLeaf(items []ElementID) string

	// HashRoot digests the ordered leaf hashes.
	HashRoot(leafHashes []string) string
}

// Blake3Hasher is the default Hasher: BLAKE3 truncated to DigestSize bytes.
type Blake3Hasher struct{}

// HashLeaf writes each item as "type\x00id\x00version\n".
func (Blake3Hasher) HashLeaf(items []ElementID) string {
	h := blake3.New()
	var num [20]byte
	for _, it := range items {
		h.Write([]byte(it.Type))
		h.Write([]byte{0})
		h.Write(strconv.AppendInt(num[:0], it.ID, 10))
		h.Write([]byte{0})
		h.Write(strconv.AppendInt(num[:0], it.Version, 10))
		h.Write([]byte{'\n'})
	}
	return sum(h)
}

// HashRoot concatenates the raw leaf digests in leaf order.
func (Blake3Hasher) HashRoot(leafHashes []string) string {
	h := blake3.New()
	for _, lh := range leafHashes {
		raw, err := hex.DecodeString(lh)
		if err != nil {
			// not produced by this hasher; digest the text form instead
			raw = []byte(lh)
		}
		h.Write(raw)
	}
	return sum(h)
}

func sum(h *blake3.Hasher) string {
	return hex.EncodeToString(h.Sum(nil)[:DigestSize])
}
