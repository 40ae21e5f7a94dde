package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// pgxIface is the narrow slice of pgxpool.Pool's surface PGStore needs,
// kept as an interface so tests can substitute pgxmock's pool fake for a
// live connection.
type pgxIface interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// PGStore persists chains and nodes to Postgres. It is grounded on the
// teacher corpus's internal/audit.Logger (raw parameterized SQL over a
// pgxpool.Pool) and internal/db/orders.go's insert/update idiom, generalized
// from a flat event log to the chain/node tables this gateway needs.
type PGStore struct {
	pool pgxIface
}

// NewPGStore wraps an existing pool. Schema is created by cmd/migrate.
func NewPGStore(pool pgxIface) *PGStore {
	return &PGStore{pool: pool}
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS decision_chains (
	id TEXT PRIMARY KEY,
	profile_id TEXT NOT NULL,
	signal_id TEXT NOT NULL,
	outcome TEXT NOT NULL DEFAULT '',
	created_at_ns BIGINT NOT NULL,
	sealed_at_ns BIGINT NOT NULL DEFAULT 0,
	root_hash TEXT NOT NULL DEFAULT '',
	UNIQUE (profile_id, signal_id)
);

CREATE TABLE IF NOT EXISTS decision_nodes (
	id TEXT PRIMARY KEY,
	chain_id TEXT NOT NULL REFERENCES decision_chains(id),
	parent_id TEXT NOT NULL DEFAULT '',
	parent_hash TEXT NOT NULL DEFAULT '',
	type TEXT NOT NULL,
	source TEXT NOT NULL,
	timestamp_ns BIGINT NOT NULL,
	input JSONB NOT NULL,
	output JSONB NOT NULL,
	rationale TEXT NOT NULL DEFAULT '',
	confidence DOUBLE PRECISION,
	hash TEXT NOT NULL,
	seq BIGSERIAL
);

CREATE INDEX IF NOT EXISTS idx_decision_nodes_chain ON decision_nodes(chain_id, seq);
CREATE INDEX IF NOT EXISTS idx_decision_chains_profile ON decision_chains(profile_id);
CREATE INDEX IF NOT EXISTS idx_decision_chains_outcome ON decision_chains(outcome);
`

// Migrate creates the decision_chains/decision_nodes tables if absent.
func (s *PGStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schemaSQL)
	return err
}

func (s *PGStore) InsertChain(ctx context.Context, c Chain) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO decision_chains (id, profile_id, signal_id, outcome, created_at_ns, sealed_at_ns, root_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, c.ID, c.ProfileID, c.SignalID, string(c.Outcome), c.CreatedAtNS, c.SealedAtNS, c.RootHash)
	return err
}

func (s *PGStore) InsertNode(ctx context.Context, n Node) error {
	input, err := json.Marshal(n.Input)
	if err != nil {
		return fmt.Errorf("marshal input: %w", err)
	}
	output, err := json.Marshal(n.Output)
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO decision_nodes (id, chain_id, parent_id, parent_hash, type, source, timestamp_ns, input, output, rationale, confidence, hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, n.ID, n.ChainID, n.ParentID, n.ParentHash, string(n.Type), n.Source, n.TimestampNS, input, output, n.Rationale, n.Confidence, n.Hash)
	return err
}

func (s *PGStore) SealChain(ctx context.Context, chainID string, outcome Outcome, sealedAtNS int64, root string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE decision_chains SET outcome = $2, sealed_at_ns = $3, root_hash = $4 WHERE id = $1
	`, chainID, string(outcome), sealedAtNS, root)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) GetChain(ctx context.Context, chainID string) (*Chain, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, profile_id, signal_id, outcome, created_at_ns, sealed_at_ns, root_hash
		FROM decision_chains WHERE id = $1
	`, chainID)

	var c Chain
	var outcome string
	if err := row.Scan(&c.ID, &c.ProfileID, &c.SignalID, &outcome, &c.CreatedAtNS, &c.SealedAtNS, &c.RootHash); err != nil {
		return nil, ErrNotFound
	}
	c.Outcome = Outcome(outcome)

	nodes, err := s.loadNodes(ctx, chainID)
	if err != nil {
		return nil, err
	}
	c.Nodes = nodes
	return &c, nil
}

func (s *PGStore) loadNodes(ctx context.Context, chainID string) ([]Node, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, chain_id, parent_id, parent_hash, type, source, timestamp_ns, input, output, rationale, confidence, hash
		FROM decision_nodes WHERE chain_id = $1 ORDER BY seq ASC
	`, chainID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []Node
	for rows.Next() {
		var n Node
		var input, output []byte
		var nodeType string
		if err := rows.Scan(&n.ID, &n.ChainID, &n.ParentID, &n.ParentHash, &nodeType, &n.Source, &n.TimestampNS, &input, &output, &n.Rationale, &n.Confidence, &n.Hash); err != nil {
			return nil, err
		}
		n.Type = NodeType(nodeType)
		if err := json.Unmarshal(input, &n.Input); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(output, &n.Output); err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

func (s *PGStore) FindChainBySignal(ctx context.Context, profileID, signalID string) (*Chain, error) {
	var chainID string
	err := s.pool.QueryRow(ctx, `
		SELECT id FROM decision_chains WHERE profile_id = $1 AND signal_id = $2
	`, profileID, signalID).Scan(&chainID)
	if err != nil {
		return nil, ErrNotFound
	}
	return s.GetChain(ctx, chainID)
}

func (s *PGStore) QueryChains(ctx context.Context, f Filter) ([]string, error) {
	var conditions []string
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	query := `SELECT DISTINCT c.id, c.sealed_at_ns FROM decision_chains c`
	if len(f.NodeTypes) > 0 {
		query += ` JOIN decision_nodes n ON n.chain_id = c.id`
	}

	if f.ProfileID != "" {
		conditions = append(conditions, "c.profile_id = "+arg(f.ProfileID))
	}
	if f.Outcome != "" {
		conditions = append(conditions, "c.outcome = "+arg(string(f.Outcome)))
	}
	if f.StartNS != 0 {
		conditions = append(conditions, "c.created_at_ns >= "+arg(f.StartNS))
	}
	if f.EndNS != 0 {
		conditions = append(conditions, "c.created_at_ns <= "+arg(f.EndNS))
	}
	if len(f.NodeTypes) > 0 {
		types := make([]string, 0, len(f.NodeTypes))
		for _, t := range f.NodeTypes {
			types = append(types, string(t))
		}
		conditions = append(conditions, "n.type = ANY("+arg(types)+")")
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY c.sealed_at_ns, c.id"

	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}
	if f.Offset > 0 {
		query += " OFFSET " + arg(f.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		var sealedAtNS int64
		if err := rows.Scan(&id, &sealedAtNS); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
