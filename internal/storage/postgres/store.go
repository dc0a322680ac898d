// Package postgres is the pgx-backed relational store.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"issuerLedger/internal/model"
	"issuerLedger/internal/storage"
)

//go:embed schema.sql
var schema string

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Store provides Postgres persistence for the settlement projection.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Migrate creates missing tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InTx runs fn inside one database transaction, committing only if fn
// returns nil.
func (s *Store) InTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&pgTx{q: tx})
	})
}

func (s *Store) LoadCheckpoint(ctx context.Context, key model.CheckpointKey) (model.Checkpoint, bool, error) {
	return loadCheckpoint(ctx, s.pool, key, "")
}

func (s *Store) MarkCheckpoint(ctx context.Context, key model.CheckpointKey, status model.CheckpointStatus, lastErr string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sync_checkpoints (source_address, event_type, last_applied, status, last_error, updated_at)
		VALUES ($1, $2, 0, $3, $4, now())
		ON CONFLICT (source_address, event_type) DO UPDATE
		SET status = EXCLUDED.status, last_error = EXCLUDED.last_error, updated_at = now()
	`, key.Source.Hex(), string(key.EventType), string(status), lastErr)
	return err
}

func (s *Store) ListCheckpoints(ctx context.Context) ([]model.Checkpoint, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT source_address, event_type, last_applied, status, last_error, updated_at
		FROM sync_checkpoints
		ORDER BY source_address, event_type
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Checkpoint
	for rows.Next() {
		var (
			source, eventType, status, lastErr string
			lastApplied                        int64
			updatedAt                          time.Time
		)
		if err := rows.Scan(&source, &eventType, &lastApplied, &status, &lastErr, &updatedAt); err != nil {
			return nil, err
		}
		out = append(out, model.Checkpoint{
			Key:         model.CheckpointKey{Source: common.HexToAddress(source), EventType: model.EventType(eventType)},
			LastApplied: uint64(lastApplied),
			Status:      model.CheckpointStatus(status),
			LastError:   lastErr,
			UpdatedAt:   updatedAt,
		})
	}
	return out, rows.Err()
}

func (s *Store) CampaignAddresses(ctx context.Context) ([]common.Address, error) {
	rows, err := s.pool.Query(ctx, `SELECT address FROM contract_registry WHERE kind = $1 ORDER BY address`, storage.KindCampaign)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []common.Address
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, err
		}
		out = append(out, common.HexToAddress(addr))
	}
	return out, rows.Err()
}

// Counts reads every aggregate count in one round trip.
func (s *Store) Counts(ctx context.Context) (storage.Counts, error) {
	queries := []string{
		`SELECT count(*) FROM campaigns WHERE address <> ''`,
		`SELECT count(*) FROM investments`,
		`SELECT count(*) FROM certificates`,
		`SELECT count(*) FROM proposals`,
		`SELECT count(*) FROM votes`,
		`SELECT count(*) FROM settlement_events`,
	}
	batch := &pgx.Batch{}
	for _, q := range queries {
		batch.Queue(q)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	values := make([]uint64, len(queries))
	for i := range queries {
		var n int64
		if err := br.QueryRow().Scan(&n); err != nil {
			return storage.Counts{}, fmt.Errorf("count query %d: %w", i, err)
		}
		values[i] = uint64(n)
	}
	return storage.Counts{
		Campaigns:    values[0],
		Investments:  values[1],
		Certificates: values[2],
		Proposals:    values[3],
		Votes:        values[4],
		Events:       values[5],
	}, nil
}

func loadCheckpoint(ctx context.Context, q querier, key model.CheckpointKey, lock string) (model.Checkpoint, bool, error) {
	var (
		lastApplied     int64
		status, lastErr string
		updatedAt       time.Time
	)
	row := q.QueryRow(ctx, `
		SELECT last_applied, status, last_error, updated_at
		FROM sync_checkpoints WHERE source_address = $1 AND event_type = $2
	`+lock, key.Source.Hex(), string(key.EventType))
	if err := row.Scan(&lastApplied, &status, &lastErr, &updatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Checkpoint{}, false, nil
		}
		return model.Checkpoint{}, false, err
	}
	return model.Checkpoint{
		Key:         key,
		LastApplied: uint64(lastApplied),
		Status:      model.CheckpointStatus(status),
		LastError:   lastErr,
		UpdatedAt:   updatedAt,
	}, true, nil
}

type pgTx struct {
	q querier
}

// LoadCheckpoint locks the row so a concurrent MarkCheckpoint waits for the
// transaction and cannot be overwritten by its SaveCheckpoint.
func (t *pgTx) LoadCheckpoint(ctx context.Context, key model.CheckpointKey) (model.Checkpoint, bool, error) {
	return loadCheckpoint(ctx, t.q, key, " FOR UPDATE")
}

func (t *pgTx) SaveCheckpoint(ctx context.Context, cp model.Checkpoint) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO sync_checkpoints (source_address, event_type, last_applied, status, last_error, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (source_address, event_type) DO UPDATE
		SET last_applied = EXCLUDED.last_applied,
			status = EXCLUDED.status,
			last_error = EXCLUDED.last_error,
			updated_at = now()
	`, cp.Key.Source.Hex(), string(cp.Key.EventType), int64(cp.LastApplied), string(cp.Status), cp.LastError)
	return err
}

func (t *pgTx) MirrorEvent(ctx context.Context, ev *model.SettlementEvent) (bool, error) {
	payload, err := json.Marshal(ev.Decoded)
	if err != nil {
		return false, fmt.Errorf("marshal event payload: %w", err)
	}
	tag, err := t.q.Exec(ctx, `
		INSERT INTO settlement_events (
			tx_hash, log_index, block_number, block_hash, address, event_type, block_time, payload
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb)
		ON CONFLICT (tx_hash, log_index) DO NOTHING
	`,
		ev.TxHash,
		int64(ev.LogIndex),
		int64(ev.BlockNumber),
		ev.BlockHash,
		ev.Address,
		string(ev.EventType),
		int64(ev.Timestamp),
		string(payload),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) RegisterContract(ctx context.Context, addr common.Address, kind, campaignID string, block uint64) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO contract_registry (address, kind, campaign_id, first_seen_block)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (address) DO UPDATE
		SET first_seen_block = LEAST(contract_registry.first_seen_block, EXCLUDED.first_seen_block)
	`, addr.Hex(), kind, campaignID, int64(block))
	return err
}

func (t *pgTx) CampaignIDByAddress(ctx context.Context, addr common.Address) (string, bool, error) {
	var id string
	err := t.q.QueryRow(ctx, `
		SELECT campaign_id FROM contract_registry WHERE address = $1 AND kind = $2
	`, addr.Hex(), storage.KindCampaign).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

func (t *pgTx) UpsertCampaign(ctx context.Context, c model.Campaign) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO campaigns (
			campaign_id, address, name, description, creator, funding_goal, deadline,
			threshold_bps, doc_ref, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, $10, $11, now())
		ON CONFLICT (campaign_id) DO UPDATE
		SET address = EXCLUDED.address,
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			creator = EXCLUDED.creator,
			funding_goal = EXCLUDED.funding_goal,
			deadline = EXCLUDED.deadline,
			threshold_bps = EXCLUDED.threshold_bps,
			doc_ref = EXCLUDED.doc_ref,
			updated_at = now()
	`,
		c.ID,
		c.Address.Hex(),
		c.Name,
		c.Description,
		c.Creator.Hex(),
		amountString(c.FundingGoal),
		c.Deadline,
		int32(c.ThresholdBps),
		c.DocRef,
		string(c.Status),
		c.CreatedAt,
	)
	return err
}

func (t *pgTx) SetCampaignOutcome(ctx context.Context, campaignID string, status model.CampaignStatus) error {
	return t.execOne(ctx, "campaign "+campaignID, `
		UPDATE campaigns SET status = $2, completed = true, updated_at = now() WHERE campaign_id = $1
	`, campaignID, string(status))
}

func (t *pgTx) SetFundsReleased(ctx context.Context, campaignID string) error {
	return t.execOne(ctx, "campaign "+campaignID, `
		UPDATE campaigns SET funds_released = true, updated_at = now() WHERE campaign_id = $1
	`, campaignID)
}

func (t *pgTx) InsertInvestment(ctx context.Context, key storage.EventKey, inv model.Investment) error {
	if err := t.exists(ctx, "campaign "+inv.CampaignID, `SELECT 1 FROM campaigns WHERE campaign_id = $1`, inv.CampaignID); err != nil {
		return err
	}
	_, err := t.q.Exec(ctx, `
		INSERT INTO investments (
			tx_hash, log_index, campaign_id, investor, amount, payment_method, external_ref, refunded, recorded_at
		) VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9)
		ON CONFLICT (tx_hash, log_index) DO NOTHING
	`,
		key.TxHash,
		int64(key.LogIndex),
		inv.CampaignID,
		inv.Investor.Hex(),
		amountString(inv.Amount),
		inv.PaymentMethod,
		inv.ExternalRef,
		inv.Refunded,
		inv.RecordedAt,
	)
	return err
}

func (t *pgTx) MarkRefunded(ctx context.Context, campaignID string, investor common.Address) error {
	return t.execOne(ctx, fmt.Sprintf("investments of %s in %s", investor.Hex(), campaignID), `
		UPDATE investments SET refunded = true WHERE campaign_id = $1 AND investor = $2
	`, campaignID, investor.Hex())
}

func (t *pgTx) RefreshRaised(ctx context.Context, campaignID string) (*big.Int, error) {
	var raised string
	err := t.q.QueryRow(ctx, `
		UPDATE campaigns
		SET raised_amount = COALESCE((
				SELECT sum(amount) FROM investments WHERE campaign_id = $1 AND NOT refunded
			), 0),
			updated_at = now()
		WHERE campaign_id = $1
		RETURNING raised_amount::text
	`, campaignID).Scan(&raised)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("campaign %s: %w", campaignID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return model.ParseAmount(raised)
}

func (t *pgTx) UpsertCertificate(ctx context.Context, c model.Certificate) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO certificates (
			token_id, owner, campaign_id, issuer_name, equity_bps, investment_amount, share_count,
			voting_weight, metadata_ref, active, revoke_reason, issued_at
		) VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8, $9, $10, $11, $12)
		ON CONFLICT (token_id) DO UPDATE
		SET owner = EXCLUDED.owner,
			active = EXCLUDED.active,
			revoke_reason = EXCLUDED.revoke_reason
	`,
		int64(c.TokenID),
		c.Owner.Hex(),
		c.CampaignID,
		c.IssuerName,
		int32(c.EquityBps),
		amountString(c.InvestmentAmount),
		amountString(c.ShareCount),
		int64(c.VotingWeight),
		c.MetadataRef,
		c.Active,
		c.RevokeReason,
		c.IssuedAt,
	)
	return err
}

func (t *pgTx) SetCertificateActive(ctx context.Context, tokenID uint64, active bool, reason string) error {
	return t.execOne(ctx, fmt.Sprintf("certificate %d", tokenID), `
		UPDATE certificates SET active = $2, revoke_reason = $3 WHERE token_id = $1
	`, int64(tokenID), active, reason)
}

func (t *pgTx) SetCertificateOwner(ctx context.Context, tokenID uint64, owner common.Address) error {
	return t.execOne(ctx, fmt.Sprintf("certificate %d", tokenID), `
		UPDATE certificates SET owner = $2 WHERE token_id = $1
	`, int64(tokenID), owner.Hex())
}

func (t *pgTx) UpsertProposal(ctx context.Context, p model.Proposal) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO proposals (
			proposal_id, proposer, proposal_type, title, target, amount, start_time, end_time, quorum, status
		) VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, $10)
		ON CONFLICT (proposal_id) DO UPDATE
		SET proposer = EXCLUDED.proposer,
			proposal_type = EXCLUDED.proposal_type,
			title = EXCLUDED.title,
			target = EXCLUDED.target,
			amount = EXCLUDED.amount,
			start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time,
			quorum = EXCLUDED.quorum
	`,
		int64(p.ID),
		p.Proposer.Hex(),
		int16(p.Type),
		p.Title,
		p.Target.Hex(),
		amountString(p.Amount),
		p.StartTime,
		p.EndTime,
		int64(p.Quorum),
		string(p.Status),
	)
	return err
}

func (t *pgTx) InsertVote(ctx context.Context, proposalID uint64, vote model.VoteReceipt) error {
	if err := t.exists(ctx, fmt.Sprintf("proposal %d", proposalID), `SELECT 1 FROM proposals WHERE proposal_id = $1`, int64(proposalID)); err != nil {
		return err
	}
	_, err := t.q.Exec(ctx, `
		INSERT INTO votes (proposal_id, voter, support, weight, cast_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (proposal_id, voter) DO NOTHING
	`, int64(proposalID), vote.Voter.Hex(), vote.Support, int64(vote.Weight), vote.CastAt)
	return err
}

func (t *pgTx) RefreshTally(ctx context.Context, proposalID uint64) (uint64, uint64, error) {
	var forVotes, againstVotes int64
	err := t.q.QueryRow(ctx, `
		UPDATE proposals
		SET for_votes = COALESCE((SELECT sum(weight) FROM votes WHERE proposal_id = $1 AND support), 0),
			against_votes = COALESCE((SELECT sum(weight) FROM votes WHERE proposal_id = $1 AND NOT support), 0)
		WHERE proposal_id = $1
		RETURNING for_votes, against_votes
	`, int64(proposalID)).Scan(&forVotes, &againstVotes)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, 0, fmt.Errorf("proposal %d: %w", proposalID, storage.ErrNotFound)
	}
	if err != nil {
		return 0, 0, err
	}
	return uint64(forVotes), uint64(againstVotes), nil
}

func (t *pgTx) SetProposalStatus(ctx context.Context, proposalID uint64, status model.ProposalStatus, executed bool) error {
	return t.execOne(ctx, fmt.Sprintf("proposal %d", proposalID), `
		UPDATE proposals SET status = $2, executed = $3 WHERE proposal_id = $1
	`, int64(proposalID), string(status), executed)
}

// execOne runs an update that must touch at least one row.
func (t *pgTx) execOne(ctx context.Context, what, sql string, args ...any) error {
	tag, err := t.q.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", what, storage.ErrNotFound)
	}
	return nil
}

func (t *pgTx) exists(ctx context.Context, what, sql string, args ...any) error {
	var one int
	err := t.q.QueryRow(ctx, sql, args...).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, storage.ErrNotFound)
	}
	return err
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
