package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// computeHash implements spec §4.6: hash = H(type ∥ parent_hash ∥
// canonical(input) ∥ canonical(output) ∥ timestamp_ns), using sha256 as the
// collision-resistant 256-bit hash. No library in the teacher corpus or the
// wider example pack offers a canonical hash-chain primitive (see
// DESIGN.md), so this is the one place the gateway reaches directly for the
// standard library instead of a pack dependency.
func computeHash(nodeType NodeType, parentHash string, input, output map[string]interface{}, timestampNS int64) string {
	h := sha256.New()
	h.Write([]byte(string(nodeType)))
	h.Write([]byte{0})
	h.Write([]byte(parentHash))
	h.Write([]byte{0})
	h.Write(canonicalEncode(toGeneric(input)))
	h.Write([]byte{0})
	h.Write(canonicalEncode(toGeneric(output)))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(timestampNS, 10)))
	return hex.EncodeToString(h.Sum(nil))
}

func toGeneric(m map[string]interface{}) interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}

// rootHash is the hash of a chain's last node, per spec §4.6.
func rootHash(nodes []Node) string {
	if len(nodes) == 0 {
		return ""
	}
	return nodes[len(nodes)-1].Hash
}

// Verify recomputes every node hash in the chain and checks the parent-hash
// link, per spec §4.6: "chain is valid iff every recomputed hash equals the
// stored hash AND every node's parent_hash matches the prior node."
func Verify(c *Chain) error {
	parentHash := ""
	for i, n := range c.Nodes {
		if n.ParentHash != parentHash {
			return &IntegrityError{ChainID: c.ID, NodeIndex: i, Reason: "parent_hash mismatch"}
		}
		want := computeHash(n.Type, n.ParentHash, n.Input, n.Output, n.TimestampNS)
		if want != n.Hash {
			return &IntegrityError{ChainID: c.ID, NodeIndex: i, Reason: "hash mismatch"}
		}
		parentHash = n.Hash
	}
	if rootHash(c.Nodes) != c.RootHash && c.RootHash != "" {
		return &IntegrityError{ChainID: c.ID, NodeIndex: len(c.Nodes) - 1, Reason: "root_hash mismatch"}
	}
	return nil
}

// IntegrityError reports the first node at which chain verification failed.
type IntegrityError struct {
	ChainID   string
	NodeIndex int
	Reason    string
}

func (e *IntegrityError) Error() string {
	return "chain " + e.ChainID + ": " + e.Reason
}
