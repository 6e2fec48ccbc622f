package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/staking-pool/internal/amount"
	"github.com/atmx/staking-pool/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All token amounts are stored as NUMERIC(78, 0), wide enough for any
// 256-bit value; timestamps are unix seconds in BIGINT columns.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const poolColumns = `id, staked_asset_id, creator, created_at, duration, grace_period,
	total_staked::TEXT, reward_budget::TEXT, reward_rate::TEXT,
	reward_per_share_stored::TEXT, total_reward_paid::TEXT,
	start_time, end_time, last_update_time, pause_started_at, total_paused_duration,
	funded, started, pause_active, swept`

const participantColumns = `pool_id, account,
	staked_balance::TEXT, reward_per_share_checkpoint::TEXT,
	accrued_reward::TEXT, total_claimed::TEXT`

func (s *PostgresStore) CreatePool(ctx context.Context, p *model.Pool) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pools (id, staked_asset_id, creator, created_at, duration, grace_period,
		                    total_staked, reward_budget, reward_rate,
		                    reward_per_share_stored, total_reward_paid,
		                    start_time, end_time, last_update_time, pause_started_at, total_paused_duration,
		                    funded, started, pause_active, swept)
		 VALUES ($1, $2, $3, $4, $5, $6,
		         $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC, $11::NUMERIC,
		         $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		poolArgs(p)...,
	)
	return err
}

func (s *PostgresStore) GetPool(ctx context.Context, id string) (*model.Pool, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+poolColumns+` FROM pools WHERE id = $1`, id)
	p, err := scanPool(row)
	if err != nil {
		return nil, fmt.Errorf("get pool %s: %w", id, notFound(err))
	}
	return p, nil
}

// GetPoolUncached is GetPool; PostgreSQL is the source of truth.
func (s *PostgresStore) GetPoolUncached(ctx context.Context, id string) (*model.Pool, error) {
	return s.GetPool(ctx, id)
}

func (s *PostgresStore) ListPools(ctx context.Context) ([]model.Pool, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+poolColumns+` FROM pools ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pools []model.Pool
	for rows.Next() {
		p, err := scanPool(rows)
		if err != nil {
			return nil, err
		}
		pools = append(pools, *p)
	}
	return pools, rows.Err()
}

func (s *PostgresStore) GetParticipant(ctx context.Context, poolID, account string) (*model.Participant, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+participantColumns+` FROM participants WHERE pool_id = $1 AND account = $2`,
		poolID, account)
	p, err := scanParticipant(row)
	if err != nil {
		return nil, fmt.Errorf("get participant %s in pool %s: %w", account, poolID, notFound(err))
	}
	return p, nil
}

func (s *PostgresStore) GetParticipantUncached(ctx context.Context, poolID, account string) (*model.Participant, error) {
	return s.GetParticipant(ctx, poolID, account)
}

func (s *PostgresStore) ListParticipants(ctx context.Context, poolID string) ([]model.Participant, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+participantColumns+` FROM participants WHERE pool_id = $1 ORDER BY account`, poolID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}
	return result, rows.Err()
}

// Commit writes the pool, participant and ledger entry in one transaction.
// settle runs last inside the transaction; its error rolls everything back.
func (s *PostgresStore) Commit(ctx context.Context, p *model.Pool, part *model.Participant, e *model.LedgerEntry, settle SettleFunc) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE pools
			 SET staked_asset_id = $2, creator = $3, created_at = $4, duration = $5, grace_period = $6,
			     total_staked = $7::NUMERIC, reward_budget = $8::NUMERIC, reward_rate = $9::NUMERIC,
			     reward_per_share_stored = $10::NUMERIC, total_reward_paid = $11::NUMERIC,
			     start_time = $12, end_time = $13, last_update_time = $14,
			     pause_started_at = $15, total_paused_duration = $16,
			     funded = $17, started = $18, pause_active = $19, swept = $20
			 WHERE id = $1`,
			poolArgs(p)...,
		)
		if err != nil {
			return fmt.Errorf("update pool %s: %w", p.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("update pool %s: %w", p.ID, ErrNotFound)
		}

		if part != nil {
			_, err = tx.Exec(ctx,
				`INSERT INTO participants (pool_id, account, staked_balance, reward_per_share_checkpoint,
				                           accrued_reward, total_claimed)
				 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC)
				 ON CONFLICT (pool_id, account) DO UPDATE
				 SET staked_balance = EXCLUDED.staked_balance,
				     reward_per_share_checkpoint = EXCLUDED.reward_per_share_checkpoint,
				     accrued_reward = EXCLUDED.accrued_reward,
				     total_claimed = EXCLUDED.total_claimed`,
				part.PoolID, part.Account,
				part.StakedBalance.Dec(), part.RewardPerShareCheckpoint.Dec(),
				part.AccruedReward.Dec(), part.TotalClaimed.Dec(),
			)
			if err != nil {
				return fmt.Errorf("upsert participant %s: %w", part.Account, err)
			}
		}

		if e != nil {
			_, err = tx.Exec(ctx,
				`INSERT INTO ledger_entries (id, pool_id, account, kind, requested, amount, reward, timestamp)
				 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8)`,
				e.ID, e.PoolID, e.Account, e.Kind,
				e.Requested.String(), e.Amount.String(), e.Reward.String(),
				e.Timestamp,
			)
			if err != nil {
				return fmt.Errorf("insert ledger entry %s: %w", e.ID, err)
			}
		}

		if settle != nil {
			return settle(ctx)
		}
		return nil
	})
}

func (s *PostgresStore) GetLedgerEntriesByPool(ctx context.Context, poolID string) ([]model.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, pool_id, account, kind,
		        requested::TEXT, amount::TEXT, reward::TEXT, timestamp
		 FROM ledger_entries WHERE pool_id = $1 ORDER BY seq`, poolID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanLedgerEntries(rows)
}

func (s *PostgresStore) GetLedgerEntriesByAccount(ctx context.Context, account string) ([]model.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, pool_id, account, kind,
		        requested::TEXT, amount::TEXT, reward::TEXT, timestamp
		 FROM ledger_entries WHERE account = $1 ORDER BY seq`, account)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanLedgerEntries(rows)
}

func poolArgs(p *model.Pool) []any {
	return []any{
		p.ID, p.StakedAssetID, p.Creator, int64(p.CreatedAt), int64(p.Duration), int64(p.GracePeriod),
		p.TotalStaked.Dec(), p.RewardBudget.Dec(), p.RewardRate.Dec(),
		p.RewardPerShareStored.Dec(), p.TotalRewardPaid.Dec(),
		int64(p.StartTime), int64(p.EndTime), int64(p.LastUpdateTime),
		int64(p.PauseStartedAt), int64(p.TotalPausedDuration),
		p.Funded, p.Started, p.PauseActive, p.Swept,
	}
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// scanPool reads one pool row; works for both pgx.Row and pgx.Rows.
func scanPool(row pgx.Row) (*model.Pool, error) {
	var p model.Pool
	var createdAt, duration, grace, start, end, last, pause, paused int64
	var nums [5]string

	if err := row.Scan(&p.ID, &p.StakedAssetID, &p.Creator, &createdAt, &duration, &grace,
		&nums[0], &nums[1], &nums[2], &nums[3], &nums[4],
		&start, &end, &last, &pause, &paused,
		&p.Funded, &p.Started, &p.PauseActive, &p.Swept); err != nil {
		return nil, err
	}

	p.CreatedAt, p.Duration, p.GracePeriod = uint64(createdAt), uint64(duration), uint64(grace)
	p.StartTime, p.EndTime, p.LastUpdateTime = uint64(start), uint64(end), uint64(last)
	p.PauseStartedAt, p.TotalPausedDuration = uint64(pause), uint64(paused)

	dst := []*uint256.Int{&p.TotalStaked, &p.RewardBudget, &p.RewardRate, &p.RewardPerShareStored, &p.TotalRewardPaid}
	if err := parseNumerics(nums[:], dst); err != nil {
		return nil, fmt.Errorf("pool %s: %w", p.ID, err)
	}
	return &p, nil
}

func scanParticipant(row pgx.Row) (*model.Participant, error) {
	var p model.Participant
	var nums [4]string

	if err := row.Scan(&p.PoolID, &p.Account, &nums[0], &nums[1], &nums[2], &nums[3]); err != nil {
		return nil, err
	}

	dst := []*uint256.Int{&p.StakedBalance, &p.RewardPerShareCheckpoint, &p.AccruedReward, &p.TotalClaimed}
	if err := parseNumerics(nums[:], dst); err != nil {
		return nil, fmt.Errorf("participant %s: %w", p.Account, err)
	}
	return &p, nil
}

func parseNumerics(src []string, dst []*uint256.Int) error {
	for i, s := range src {
		v, err := amount.Parse(s)
		if err != nil {
			return err
		}
		*dst[i] = v
	}
	return nil
}

func scanLedgerEntries(rows pgx.Rows) ([]model.LedgerEntry, error) {
	var entries []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		var requestedS, amountS, rewardS string

		if err := rows.Scan(&e.ID, &e.PoolID, &e.Account, &e.Kind,
			&requestedS, &amountS, &rewardS, &e.Timestamp); err != nil {
			return nil, err
		}

		if err := parseEntryAmounts(&e, requestedS, amountS, rewardS); err != nil {
			return nil, err
		}

		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func parseEntryAmounts(e *model.LedgerEntry, requested, amt, reward string) error {
	var err error
	if e.Requested, err = decimal.NewFromString(requested); err != nil {
		return fmt.Errorf("ledger entry %s requested: %w", e.ID, err)
	}
	if e.Amount, err = decimal.NewFromString(amt); err != nil {
		return fmt.Errorf("ledger entry %s amount: %w", e.ID, err)
	}
	if e.Reward, err = decimal.NewFromString(reward); err != nil {
		return fmt.Errorf("ledger entry %s reward: %w", e.ID, err)
	}
	return nil
}
