package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// pgxIface is the narrow slice of pgxpool.Pool's surface PGStore needs,
// kept as an interface so tests can substitute pgxmock's pool fake for a
// live connection.
type pgxIface interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// PGStore is the production StateStore, grounded on the teacher corpus's
// internal/db package: a pgxpool-backed connection with raw parameterized
// SQL per operation (db/orders.go's InsertOrder/UpdateOrderStatus idiom).
type PGStore struct {
	pool pgxIface
}

func NewPGStore(pool pgxIface) *PGStore { return &PGStore{pool: pool} }

const storeSchemaSQL = `
CREATE TABLE IF NOT EXISTS profiles (
	id TEXT PRIMARY KEY,
	broker_credential_ref TEXT NOT NULL,
	trading_enabled BOOLEAN NOT NULL DEFAULT true,
	connection_state TEXT NOT NULL DEFAULT 'disconnected',
	max_positions INT NOT NULL DEFAULT 2,
	max_risk_per_trade_fraction DOUBLE PRECISION NOT NULL,
	max_total_risk_fraction DOUBLE PRECISION NOT NULL,
	max_cvar_fraction DOUBLE PRECISION NOT NULL,
	dd_reduce_threshold DOUBLE PRECISION NOT NULL,
	dd_halt_threshold DOUBLE PRECISION NOT NULL,
	kelly_scale DOUBLE PRECISION NOT NULL,
	kelly_min_confidence DOUBLE PRECISION NOT NULL,
	max_correlation DOUBLE PRECISION NOT NULL,
	equity NUMERIC NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS positions (
	ticket TEXT PRIMARY KEY,
	profile_id TEXT NOT NULL REFERENCES profiles(id),
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	volume NUMERIC NOT NULL,
	entry_price NUMERIC NOT NULL,
	stop_loss NUMERIC NOT NULL,
	take_profit NUMERIC NOT NULL,
	current_mark NUMERIC NOT NULL DEFAULT 0,
	unrealized_pnl NUMERIC NOT NULL DEFAULT 0,
	origin_signal_id TEXT NOT NULL,
	origin_chain_id TEXT NOT NULL,
	opened_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	closed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_positions_profile_open ON positions(profile_id) WHERE closed_at IS NULL;

CREATE TABLE IF NOT EXISTS emergency_state (
	id INT PRIMARY KEY DEFAULT 1,
	level TEXT NOT NULL DEFAULT 'normal',
	activator_id TEXT NOT NULL DEFAULT '',
	reason TEXT NOT NULL DEFAULT '',
	activated_at_ns BIGINT NOT NULL DEFAULT 0,
	restore_actors TEXT[] NOT NULL DEFAULT '{}',
	restore_window_start_ns BIGINT NOT NULL DEFAULT 0,
	CHECK (id = 1)
);

INSERT INTO emergency_state (id) VALUES (1) ON CONFLICT (id) DO NOTHING;
`

func (s *PGStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, storeSchemaSQL)
	return err
}

func (s *PGStore) GetProfile(ctx context.Context, profileID string) (*Profile, error) {
	var p Profile
	var equity decimal.Decimal
	err := s.pool.QueryRow(ctx, `
		SELECT id, broker_credential_ref, trading_enabled, connection_state, max_positions,
		       max_risk_per_trade_fraction, max_total_risk_fraction, max_cvar_fraction,
		       dd_reduce_threshold, dd_halt_threshold, kelly_scale, kelly_min_confidence,
		       max_correlation, equity, created_at
		FROM profiles WHERE id = $1
	`, profileID).Scan(
		&p.ID, &p.BrokerCredentialRef, &p.TradingEnabled, &p.ConnectionState, &p.MaxPositions,
		&p.MaxRiskPerTradeFraction, &p.MaxTotalRiskFraction, &p.MaxCVaRFraction,
		&p.DDReduceThreshold, &p.DDHaltThreshold, &p.KellyScale, &p.KellyMinConfidence,
		&p.MaxCorrelation, &equity, &p.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.Equity = equity
	return &p, nil
}

func (s *PGStore) PutProfile(ctx context.Context, p Profile) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO profiles (id, broker_credential_ref, trading_enabled, connection_state, max_positions,
		       max_risk_per_trade_fraction, max_total_risk_fraction, max_cvar_fraction,
		       dd_reduce_threshold, dd_halt_threshold, kelly_scale, kelly_min_confidence,
		       max_correlation, equity)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (id) DO UPDATE SET
		       broker_credential_ref = EXCLUDED.broker_credential_ref,
		       trading_enabled = EXCLUDED.trading_enabled,
		       connection_state = EXCLUDED.connection_state,
		       max_positions = EXCLUDED.max_positions,
		       max_risk_per_trade_fraction = EXCLUDED.max_risk_per_trade_fraction,
		       max_total_risk_fraction = EXCLUDED.max_total_risk_fraction,
		       max_cvar_fraction = EXCLUDED.max_cvar_fraction,
		       dd_reduce_threshold = EXCLUDED.dd_reduce_threshold,
		       dd_halt_threshold = EXCLUDED.dd_halt_threshold,
		       kelly_scale = EXCLUDED.kelly_scale,
		       kelly_min_confidence = EXCLUDED.kelly_min_confidence,
		       max_correlation = EXCLUDED.max_correlation,
		       equity = EXCLUDED.equity
	`, p.ID, p.BrokerCredentialRef, p.TradingEnabled, p.ConnectionState, p.MaxPositions,
		p.MaxRiskPerTradeFraction, p.MaxTotalRiskFraction, p.MaxCVaRFraction,
		p.DDReduceThreshold, p.DDHaltThreshold, p.KellyScale, p.KellyMinConfidence,
		p.MaxCorrelation, p.Equity)
	return err
}

func (s *PGStore) OpenPositions(ctx context.Context, profileID string) ([]Position, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ticket, profile_id, symbol, side, volume, entry_price, stop_loss, take_profit,
		       current_mark, unrealized_pnl, origin_signal_id, origin_chain_id, opened_at, closed_at
		FROM positions WHERE profile_id = $1 AND closed_at IS NULL
	`, profileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Position
	for rows.Next() {
		var p Position
		var side string
		if err := rows.Scan(&p.Ticket, &p.ProfileID, &p.Symbol, &side, &p.Volume, &p.EntryPrice,
			&p.StopLoss, &p.TakeProfit, &p.CurrentMark, &p.UnrealizedPnL, &p.OriginSignalID,
			&p.OriginChainID, &p.OpenedAt, &p.ClosedAt); err != nil {
			return nil, err
		}
		p.Side = PositionSide(side)
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetPosition looks up a single position by ticket regardless of open/closed
// state, for audit export's position-by-ticket resolution.
func (s *PGStore) GetPosition(ctx context.Context, ticket string) (*Position, error) {
	var p Position
	var side string
	err := s.pool.QueryRow(ctx, `
		SELECT ticket, profile_id, symbol, side, volume, entry_price, stop_loss, take_profit,
		       current_mark, unrealized_pnl, origin_signal_id, origin_chain_id, opened_at, closed_at
		FROM positions WHERE ticket = $1
	`, ticket).Scan(&p.Ticket, &p.ProfileID, &p.Symbol, &side, &p.Volume, &p.EntryPrice,
		&p.StopLoss, &p.TakeProfit, &p.CurrentMark, &p.UnrealizedPnL, &p.OriginSignalID,
		&p.OriginChainID, &p.OpenedAt, &p.ClosedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.Side = PositionSide(side)
	return &p, nil
}

func (s *PGStore) InsertPosition(ctx context.Context, p Position) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO positions (ticket, profile_id, symbol, side, volume, entry_price, stop_loss,
		       take_profit, current_mark, unrealized_pnl, origin_signal_id, origin_chain_id, opened_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, p.Ticket, p.ProfileID, p.Symbol, string(p.Side), p.Volume, p.EntryPrice, p.StopLoss,
		p.TakeProfit, p.CurrentMark, p.UnrealizedPnL, p.OriginSignalID, p.OriginChainID, p.OpenedAt)
	return err
}

func (s *PGStore) ClosePosition(ctx context.Context, ticket string, closedAtNS int64) error {
	tag, err := s.pool.Exec(ctx, `UPDATE positions SET closed_at = $2 WHERE ticket = $1 AND closed_at IS NULL`,
		ticket, nsToTime(closedAtNS))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) UpdatePositionMark(ctx context.Context, ticket string, mark, unrealizedPnL decimal.Decimal) error {
	tag, err := s.pool.Exec(ctx, `UPDATE positions SET current_mark = $2, unrealized_pnl = $3 WHERE ticket = $1`,
		ticket, mark, unrealizedPnL)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) GetEmergencyState(ctx context.Context) (*EmergencyState, error) {
	var e EmergencyState
	var level string
	err := s.pool.QueryRow(ctx, `
		SELECT level, activator_id, reason, activated_at_ns, restore_actors, restore_window_start_ns
		FROM emergency_state WHERE id = 1
	`).Scan(&level, &e.ActivatorID, &e.Reason, &e.ActivatedAtNS, &e.RestoreActors, &e.RestoreWindowStartNS)
	if err != nil {
		return nil, err
	}
	e.Level = EmergencyLevel(level)
	return &e, nil
}

// CompareAndSwapEmergencyState performs a single conditional UPDATE of the
// one row, gated on the current level, giving the "single atomic cell"
// semantics spec §5 requires without relying on a database-specific CAS
// primitive the teacher corpus doesn't otherwise use.
func (s *PGStore) CompareAndSwapEmergencyState(ctx context.Context, expectLevel EmergencyLevel, next EmergencyState) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE emergency_state SET level = $2, activator_id = $3, reason = $4,
		       activated_at_ns = $5, restore_actors = $6, restore_window_start_ns = $7
		WHERE id = 1 AND level = $1
	`, string(expectLevel), string(next.Level), next.ActivatorID, next.Reason,
		next.ActivatedAtNS, next.RestoreActors, next.RestoreWindowStartNS)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
