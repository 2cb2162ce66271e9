package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/qualitax/swap-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Swap configs are stored as JSONB; monetary values in the event log use
// NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreateSwap(ctx context.Context, sw *model.Swap) error {
	cfg, err := json.Marshal(sw.Config)
	if err != nil {
		return fmt.Errorf("marshal swap config: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO swaps (id, config, state, fingerprint, initiator, proposed_at, created_at)
		 VALUES ($1, $2::JSONB, $3, $4, $5, $6, $7)`,
		sw.ID, cfg,
		int(sw.Record.State), sw.Record.Fingerprint, sw.Record.Initiator, sw.Record.ProposedAt,
		sw.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetSwap(ctx context.Context, id string) (*model.Swap, error) {
	var sw model.Swap
	var cfg []byte
	var state int

	err := s.pool.QueryRow(ctx,
		`SELECT id, config, state, fingerprint, initiator, proposed_at, created_at
		 FROM swaps WHERE id = $1`, id).
		Scan(&sw.ID, &cfg, &state,
			&sw.Record.Fingerprint, &sw.Record.Initiator, &sw.Record.ProposedAt,
			&sw.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get swap %s: %w", id, err)
	}

	if err := json.Unmarshal(cfg, &sw.Config); err != nil {
		return nil, fmt.Errorf("unmarshal swap config: %w", err)
	}
	sw.Record.State = model.TradeState(state)

	return &sw, nil
}

func (s *PostgresStore) ListSwaps(ctx context.Context) ([]model.Swap, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, config, state, fingerprint, initiator, proposed_at, created_at
		 FROM swaps ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var swaps []model.Swap
	for rows.Next() {
		var sw model.Swap
		var cfg []byte
		var state int
		if err := rows.Scan(&sw.ID, &cfg, &state,
			&sw.Record.Fingerprint, &sw.Record.Initiator, &sw.Record.ProposedAt,
			&sw.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(cfg, &sw.Config); err != nil {
			return nil, fmt.Errorf("unmarshal swap config: %w", err)
		}
		sw.Record.State = model.TradeState(state)
		swaps = append(swaps, sw)
	}
	return swaps, rows.Err()
}

func (s *PostgresStore) CountSwaps(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM swaps`).Scan(&count)
	return count, err
}

func (s *PostgresStore) UpdateTradeRecord(ctx context.Context, swapID string, record model.TradeRecord) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE swaps
		 SET state = $2, fingerprint = $3, initiator = $4, proposed_at = $5
		 WHERE id = $1`,
		swapID, int(record.State), record.Fingerprint, record.Initiator, record.ProposedAt,
	)
	return err
}

func (s *PostgresStore) InsertEvent(ctx context.Context, e *model.LifecycleEvent) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO lifecycle_events (id, swap_id, type, party, state, amount, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7)`,
		e.ID, e.SwapID, e.Type, e.Party, int(e.State),
		e.Amount.String(),
		e.Timestamp,
	)
	return err
}

func (s *PostgresStore) GetEventsBySwap(ctx context.Context, swapID string) ([]model.LifecycleEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, swap_id, type, party, state, amount::TEXT, timestamp
		 FROM lifecycle_events WHERE swap_id = $1 ORDER BY timestamp`, swapID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

func (s *PostgresStore) GetEventsByParty(ctx context.Context, party string) ([]model.LifecycleEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, swap_id, type, party, state, amount::TEXT, timestamp
		 FROM lifecycle_events WHERE party = $1 ORDER BY timestamp`, party)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

// scanEvents reads pgx rows into LifecycleEvent slices.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanEvents(rows pgxRows) ([]model.LifecycleEvent, error) {
	var events []model.LifecycleEvent
	for rows.Next() {
		var e model.LifecycleEvent
		var state int
		var amountS string

		if err := rows.Scan(&e.ID, &e.SwapID, &e.Type, &e.Party, &state,
			&amountS, &e.Timestamp); err != nil {
			return nil, err
		}

		e.State = model.TradeState(state)
		e.Amount, _ = decimal.NewFromString(amountS)

		events = append(events, e)
	}
	return events, rows.Err()
}
