package audit

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"
)

func TestPGStore_SealChain_NoRowsIsNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("UPDATE decision_chains SET outcome").
		WithArgs("missing-chain", "executed", int64(100), "root-hash").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	s := NewPGStore(mock)
	err = s.SealChain(context.Background(), "missing-chain", OutcomeExecuted, 100, "root-hash")
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGStore_GetChain_LoadsNodes(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	chainRows := mock.NewRows([]string{"id", "profile_id", "signal_id", "outcome", "created_at_ns", "sealed_at_ns", "root_hash"}).
		AddRow("chain-1", "profile-1", "sig-1", "executed", int64(10), int64(20), "hash-root")
	mock.ExpectQuery("SELECT id, profile_id, signal_id, outcome").WithArgs("chain-1").WillReturnRows(chainRows)

	nodeRows := mock.NewRows([]string{"id", "chain_id", "parent_id", "parent_hash", "type", "source", "timestamp_ns", "input", "output", "rationale", "confidence", "hash"}).
		AddRow("node-1", "chain-1", "", "", string(NodeGatePassed), "signal_gate", int64(10), []byte(`{}`), []byte(`{}`), "ok", nil, "hash-1")
	mock.ExpectQuery("SELECT id, chain_id, parent_id").WithArgs("chain-1").WillReturnRows(nodeRows)

	s := NewPGStore(mock)
	chain, err := s.GetChain(context.Background(), "chain-1")
	require.NoError(t, err)
	require.Equal(t, "chain-1", chain.ID)
	require.Len(t, chain.Nodes, 1)
	require.Equal(t, NodeGatePassed, chain.Nodes[0].Type)
	require.NoError(t, mock.ExpectationsWereMet())
}
