package audit

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClock() Clock {
	var n int64 = 1_700_000_000_000_000_000
	return func() int64 {
		n++
		return n
	}
}

func TestChain_HashLawAndIntegrity(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	log := NewLog(store, testClock(), zerolog.Nop())

	h, err := log.NewChain(ctx, "profile-1", "sig-1", "signalgate", map[string]interface{}{"symbol": "EURUSD"})
	require.NoError(t, err)

	_, err = h.Append(ctx, NodeGatePassed, "signalgate", map[string]interface{}{"check": "all"}, nil, "admitted", nil)
	require.NoError(t, err)

	_, err = h.Append(ctx, NodeRiskApproved, "risk", map[string]interface{}{"kelly": 0.13}, map[string]interface{}{"volume": 1.0}, "sized", nil)
	require.NoError(t, err)

	require.NoError(t, h.Seal(ctx, OutcomeExecuted))

	chain, err := log.GetChain(ctx, h.ID)
	require.NoError(t, err)
	require.Len(t, chain.Nodes, 3)

	// Property 7: for any node N with parent P in the same chain,
	// N.input.parent_hash == P.hash.
	for i := 1; i < len(chain.Nodes); i++ {
		assert.Equal(t, chain.Nodes[i-1].Hash, chain.Nodes[i].Input["parent_hash"])
		assert.Equal(t, chain.Nodes[i-1].Hash, chain.Nodes[i].ParentHash)
	}
	assert.Equal(t, "", chain.Nodes[0].ParentHash)

	// Property 3: verify(chain) holds for every sealed chain.
	assert.NoError(t, Verify(chain))
	assert.Equal(t, chain.Nodes[len(chain.Nodes)-1].Hash, chain.RootHash)
}

func TestVerify_DetectsTamperedNode(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	log := NewLog(store, testClock(), zerolog.Nop())

	h, err := log.NewChain(ctx, "profile-1", "sig-2", "signalgate", nil)
	require.NoError(t, err)
	_, err = h.Append(ctx, NodeGatePassed, "signalgate", nil, nil, "ok", nil)
	require.NoError(t, err)
	require.NoError(t, h.Seal(ctx, OutcomeExecuted))

	chain, err := log.GetChain(ctx, h.ID)
	require.NoError(t, err)

	chain.Nodes[1].Rationale = "tampered"
	// Hash field not recomputed: verification must fail because Input/Output
	// on disk no longer produce the stored hash once we mutate what informed
	// it; here we simulate the more direct attack of editing output.
	chain.Nodes[1].Output = map[string]interface{}{"tamper": true}
	assert.Error(t, Verify(chain))
}

func TestVerify_DetectsReorderedNodes(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	log := NewLog(store, testClock(), zerolog.Nop())

	h, err := log.NewChain(ctx, "profile-1", "sig-3", "signalgate", nil)
	require.NoError(t, err)
	_, err = h.Append(ctx, NodeGatePassed, "signalgate", nil, nil, "ok", nil)
	require.NoError(t, err)
	_, err = h.Append(ctx, NodeRiskApproved, "risk", nil, nil, "ok", nil)
	require.NoError(t, err)
	require.NoError(t, h.Seal(ctx, OutcomeExecuted))

	chain, err := log.GetChain(ctx, h.ID)
	require.NoError(t, err)

	chain.Nodes[1], chain.Nodes[2] = chain.Nodes[2], chain.Nodes[1]
	assert.Error(t, Verify(chain))
}

func TestFindBySignal_Idempotency(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	log := NewLog(store, testClock(), zerolog.Nop())

	h, err := log.NewChain(ctx, "profile-1", "sig-4", "signalgate", nil)
	require.NoError(t, err)
	require.NoError(t, h.Seal(ctx, OutcomeExecuted))

	found, err := log.FindBySignal(ctx, "profile-1", "sig-4")
	require.NoError(t, err)
	assert.Equal(t, h.ID, found.ID)

	_, err = log.FindBySignal(ctx, "profile-1", "unknown-signal")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExportBundle(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	log := NewLog(store, testClock(), zerolog.Nop())

	for i := 0; i < 3; i++ {
		h, err := log.NewChain(ctx, "profile-1", "sig-bundle-"+string(rune('a'+i)), "signalgate", nil)
		require.NoError(t, err)
		require.NoError(t, h.Seal(ctx, OutcomeExecuted))
	}

	bundle, err := log.ExportBundle(ctx, Filter{ProfileID: "profile-1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, bundle.Count)
	assert.Len(t, bundle.IntegrityReports, 3)
	for _, r := range bundle.IntegrityReports {
		assert.True(t, r.Valid)
	}
	assert.NotEmpty(t, bundle.ConcatenatedHash)
}
