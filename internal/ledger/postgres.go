package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/abacopay/abaco/internal/asset"
)

const uniqueViolation = "23505"

// PostgresStore persists balances, charges and audit records in PostgreSQL.
// All mutations run inside a transaction holding a row lock on the affected
// balance row, so concurrent credits/debits on the same (owner, asset) key
// serialize without blocking unrelated keys.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgres constructs a Postgres-backed store implementation.
func NewPostgres(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// GetBalance returns the balance for the (owner, asset) key, zero when no
// row exists yet.
func (s *PostgresStore) GetBalance(ctx context.Context, owner Owner, a asset.Asset) (decimal.Decimal, error) {
	const query = `SELECT amount::text FROM balances
        WHERE owner_id = $1 AND owner_type = $2 AND asset = $3`
	var raw string
	if err := s.db.QueryRow(ctx, query, owner.ID, owner.Type, a).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	return decimal.NewFromString(raw)
}

// ListBalances returns every balance row held by the owner.
func (s *PostgresStore) ListBalances(ctx context.Context, owner Owner) ([]Balance, error) {
	const query = `SELECT asset, amount::text FROM balances
        WHERE owner_id = $1 AND owner_type = $2 ORDER BY asset`
	rows, err := s.db.Query(ctx, query, owner.ID, owner.Type)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Balance
	for rows.Next() {
		var (
			a   string
			raw string
		)
		if err := rows.Scan(&a, &raw); err != nil {
			return nil, err
		}
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, Balance{Owner: owner, Asset: asset.Asset(a), Amount: amount})
	}
	return out, rows.Err()
}

// Credit adds amount to the (owner, asset) balance, creating the row on
// first use, and appends the audit transaction in the same unit.
func (s *PostgresStore) Credit(ctx context.Context, owner Owner, a asset.Asset, amount decimal.Decimal, kind, chargeRef string) (Transaction, error) {
	if amount.IsNegative() {
		return Transaction{}, fmt.Errorf("credit amount must not be negative")
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Transaction{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if _, err := lockBalanceRow(ctx, tx, owner, a, true); err != nil {
		return Transaction{}, err
	}
	if err := applyDelta(ctx, tx, owner, a, amount); err != nil {
		return Transaction{}, err
	}
	record, err := insertTransaction(ctx, tx, owner, kind, a, amount, chargeRef)
	if err != nil {
		return Transaction{}, err
	}

	return record, tx.Commit(ctx)
}

// Debit subtracts amount from the (owner, asset) balance. Fails with
// ErrInsufficientBalance when the row is absent or holds less than amount.
func (s *PostgresStore) Debit(ctx context.Context, owner Owner, a asset.Asset, amount decimal.Decimal, kind, chargeRef string) (Transaction, error) {
	if amount.IsNegative() {
		return Transaction{}, fmt.Errorf("debit amount must not be negative")
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Transaction{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	current, err := lockBalanceRow(ctx, tx, owner, a, false)
	if err != nil {
		return Transaction{}, err
	}
	if current.LessThan(amount) {
		return Transaction{}, ErrInsufficientBalance
	}
	if err := applyDelta(ctx, tx, owner, a, amount.Neg()); err != nil {
		return Transaction{}, err
	}
	record, err := insertTransaction(ctx, tx, owner, kind, a, amount.Neg(), chargeRef)
	if err != nil {
		return Transaction{}, err
	}

	return record, tx.Commit(ctx)
}

// ListTransactions returns the owner's audit trail, newest first.
func (s *PostgresStore) ListTransactions(ctx context.Context, owner Owner) ([]Transaction, error) {
	const query = `SELECT id, kind, asset, amount::text, COALESCE(charge_ref, ''), created_at
        FROM transactions WHERE owner_id = $1 AND owner_type = $2 ORDER BY created_at DESC`
	rows, err := s.db.Query(ctx, query, owner.ID, owner.Type)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var (
			record    Transaction
			id        uuid.UUID
			a         string
			raw       string
			createdAt time.Time
		)
		if err := rows.Scan(&id, &record.Kind, &a, &raw, &record.ChargeRef, &createdAt); err != nil {
			return nil, err
		}
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, err
		}
		record.ID = id.String()
		record.Owner = owner
		record.Asset = asset.Asset(a)
		record.Amount = amount
		record.CreatedAt = createdAt.UTC()
		out = append(out, record)
	}
	return out, rows.Err()
}

// CreateCharge inserts a new ACTIVE charge row.
func (s *PostgresStore) CreateCharge(ctx context.Context, charge Charge) error {
	const query = `INSERT INTO charges
        (external_id, owner_id, owner_type, asset, amount, status, collection_ref, display_code, created_at, expires_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := s.db.Exec(ctx, query,
		charge.ExternalID, charge.Owner.ID, charge.Owner.Type, charge.Asset,
		charge.Amount.String(), charge.Status, charge.CollectionRef, charge.DisplayCode,
		charge.CreatedAt.UTC(), charge.ExpiresAt.UTC())
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrChargeExists
	}
	return err
}

// GetCharge fetches a charge by external id.
func (s *PostgresStore) GetCharge(ctx context.Context, externalID string) (Charge, error) {
	return scanCharge(s.db.QueryRow(ctx, chargeQuery+` WHERE external_id = $1`, externalID))
}

// ListCharges returns all charges issued for the owner.
func (s *PostgresStore) ListCharges(ctx context.Context, owner Owner) ([]Charge, error) {
	rows, err := s.db.Query(ctx, chargeQuery+` WHERE owner_id = $1 AND owner_type = $2 ORDER BY created_at DESC`, owner.ID, owner.Type)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Charge
	for rows.Next() {
		charge, err := scanCharge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, charge)
	}
	return out, rows.Err()
}

// ExpireCharges sweeps ACTIVE charges past their window into EXPIRED.
func (s *PostgresStore) ExpireCharges(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `UPDATE charges SET status = $1
        WHERE status = $2 AND expires_at <= $3`, ChargeExpired, ChargeActive, now.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Settle applies one external payment notification: webhook event, ledger
// credit, DEPOSIT transaction and charge conclusion commit together or not
// at all. The webhook_events primary key is the durable idempotency fence;
// duplicates return the originally recorded result with ErrDuplicateEvent.
func (s *PostgresStore) Settle(ctx context.Context, input SettleInput) (SettleResult, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return SettleResult{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	// Lock the charge row first so duplicate deliveries serialize here and
	// observe the fence written by the winner.
	charge, err := scanCharge(tx.QueryRow(ctx, chargeQuery+` WHERE external_id = $1 FOR UPDATE`, input.ExternalID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SettleResult{}, ErrChargeNotFound
		}
		return SettleResult{}, err
	}

	var eventExists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM webhook_events WHERE external_id = $1)`, input.ExternalID).Scan(&eventExists); err != nil {
		return SettleResult{}, err
	}
	if eventExists {
		prior, err := s.priorSettlement(ctx, tx, charge)
		if err != nil {
			return SettleResult{}, err
		}
		return prior, ErrDuplicateEvent
	}

	if charge.Terminal() {
		return SettleResult{}, ErrChargeClosed
	}

	settledAt := time.Now().UTC()
	if _, err := tx.Exec(ctx, `INSERT INTO webhook_events (external_id, payload, received_at)
        VALUES ($1, $2, $3)`, input.ExternalID, input.Payload, settledAt); err != nil {
		return SettleResult{}, err
	}

	if _, err := lockBalanceRow(ctx, tx, charge.Owner, charge.Asset, true); err != nil {
		return SettleResult{}, err
	}
	if err := applyDelta(ctx, tx, charge.Owner, charge.Asset, input.Amount); err != nil {
		return SettleResult{}, err
	}
	record, err := insertTransaction(ctx, tx, charge.Owner, KindDeposit, charge.Asset, input.Amount, charge.ExternalID)
	if err != nil {
		return SettleResult{}, err
	}

	if _, err := tx.Exec(ctx, `UPDATE charges SET status = $1 WHERE external_id = $2`, ChargeConcluded, input.ExternalID); err != nil {
		return SettleResult{}, err
	}
	charge.Status = ChargeConcluded

	newBalance, err := readBalance(ctx, tx, charge.Owner, charge.Asset)
	if err != nil {
		return SettleResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return SettleResult{}, err
	}

	return SettleResult{Charge: charge, Transaction: record, NewBalance: newBalance, SettledAt: settledAt}, nil
}

// Swap debits the source asset, credits the target asset (creating the row
// on first use) and writes the conversion record, all in one transaction.
func (s *PostgresStore) Swap(ctx context.Context, input SwapInput) (SwapResult, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return SwapResult{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := ensureBalanceRow(ctx, tx, input.Owner, input.SourceAsset); err != nil {
		return SwapResult{}, err
	}
	if err := ensureBalanceRow(ctx, tx, input.Owner, input.TargetAsset); err != nil {
		return SwapResult{}, err
	}

	// Lock both rows in one statement with a stable order so concurrent
	// opposite-direction swaps cannot deadlock.
	const lockQuery = `SELECT asset, amount::text FROM balances
        WHERE owner_id = $1 AND owner_type = $2 AND asset IN ($3, $4)
        ORDER BY asset FOR UPDATE`
	rows, err := tx.Query(ctx, lockQuery, input.Owner.ID, input.Owner.Type, input.SourceAsset, input.TargetAsset)
	if err != nil {
		return SwapResult{}, err
	}
	balances := map[asset.Asset]decimal.Decimal{}
	for rows.Next() {
		var (
			a   string
			raw string
		)
		if err := rows.Scan(&a, &raw); err != nil {
			rows.Close()
			return SwapResult{}, err
		}
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			rows.Close()
			return SwapResult{}, err
		}
		balances[asset.Asset(a)] = amount
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return SwapResult{}, err
	}

	if balances[input.SourceAsset].LessThan(input.SourceAmount) {
		return SwapResult{}, ErrInsufficientBalance
	}

	if err := applyDelta(ctx, tx, input.Owner, input.SourceAsset, input.SourceAmount.Neg()); err != nil {
		return SwapResult{}, err
	}
	if err := applyDelta(ctx, tx, input.Owner, input.TargetAsset, input.TargetAmount); err != nil {
		return SwapResult{}, err
	}
	if _, err := insertTransaction(ctx, tx, input.Owner, KindConvertOut, input.SourceAsset, input.SourceAmount.Neg(), ""); err != nil {
		return SwapResult{}, err
	}
	if _, err := insertTransaction(ctx, tx, input.Owner, KindConvertIn, input.TargetAsset, input.TargetAmount, ""); err != nil {
		return SwapResult{}, err
	}

	record := Conversion{
		ID:           uuid.NewString(),
		Owner:        input.Owner,
		SourceAsset:  input.SourceAsset,
		SourceAmount: input.SourceAmount,
		TargetAsset:  input.TargetAsset,
		TargetAmount: input.TargetAmount,
		MarketRate:   input.MarketRate,
		UsedRate:     input.UsedRate,
		CreatedAt:    time.Now().UTC(),
	}
	const insertConversion = `INSERT INTO conversions
        (id, owner_id, owner_type, source_asset, source_amount, target_asset, target_amount, market_rate, used_rate, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	if _, err := tx.Exec(ctx, insertConversion,
		record.ID, record.Owner.ID, record.Owner.Type,
		record.SourceAsset, record.SourceAmount.String(),
		record.TargetAsset, record.TargetAmount.String(),
		record.MarketRate.String(), record.UsedRate.String(), record.CreatedAt); err != nil {
		return SwapResult{}, err
	}

	srcBalance, err := readBalance(ctx, tx, input.Owner, input.SourceAsset)
	if err != nil {
		return SwapResult{}, err
	}
	dstBalance, err := readBalance(ctx, tx, input.Owner, input.TargetAsset)
	if err != nil {
		return SwapResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return SwapResult{}, err
	}

	return SwapResult{Record: record, SourceBalance: srcBalance, TargetBalance: dstBalance}, nil
}

func (s *PostgresStore) priorSettlement(ctx context.Context, tx pgx.Tx, charge Charge) (SettleResult, error) {
	const query = `SELECT t.id, t.amount::text, t.created_at, e.received_at
        FROM webhook_events e
        JOIN transactions t ON t.charge_ref = e.external_id AND t.kind = $2
        WHERE e.external_id = $1`
	var (
		id         uuid.UUID
		raw        string
		createdAt  time.Time
		receivedAt time.Time
	)
	if err := tx.QueryRow(ctx, query, charge.ExternalID, KindDeposit).Scan(&id, &raw, &createdAt, &receivedAt); err != nil {
		return SettleResult{}, err
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return SettleResult{}, err
	}
	balance, err := readBalance(ctx, tx, charge.Owner, charge.Asset)
	if err != nil {
		return SettleResult{}, err
	}
	return SettleResult{
		Charge: charge,
		Transaction: Transaction{
			ID:        id.String(),
			Owner:     charge.Owner,
			Kind:      KindDeposit,
			Asset:     charge.Asset,
			Amount:    amount,
			ChargeRef: charge.ExternalID,
			CreatedAt: createdAt.UTC(),
		},
		NewBalance: balance,
		SettledAt:  receivedAt.UTC(),
	}, nil
}

const chargeQuery = `SELECT external_id, owner_id, owner_type, asset, amount::text, status,
    collection_ref, display_code, created_at, expires_at FROM charges`

func scanCharge(row pgx.Row) (Charge, error) {
	var (
		charge    Charge
		ownerID   uuid.UUID
		ownerType string
		a         string
		raw       string
		createdAt time.Time
		expiresAt time.Time
	)
	if err := row.Scan(&charge.ExternalID, &ownerID, &ownerType, &a, &raw, &charge.Status,
		&charge.CollectionRef, &charge.DisplayCode, &createdAt, &expiresAt); err != nil {
		return Charge{}, err
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return Charge{}, err
	}
	charge.Owner = Owner{ID: ownerID.String(), Type: OwnerType(ownerType)}
	charge.Asset = asset.Asset(a)
	charge.Amount = amount
	charge.CreatedAt = createdAt.UTC()
	charge.ExpiresAt = expiresAt.UTC()
	return charge, nil
}

func ensureBalanceRow(ctx context.Context, tx pgx.Tx, owner Owner, a asset.Asset) error {
	_, err := tx.Exec(ctx, `INSERT INTO balances (owner_id, owner_type, asset, amount)
        VALUES ($1, $2, $3, 0) ON CONFLICT (owner_id, owner_type, asset) DO NOTHING`,
		owner.ID, owner.Type, a)
	return err
}

// lockBalanceRow takes the row lock for the (owner, asset) key and returns
// the current amount. With create set the row is created first so the lock
// always has a target; without it a missing row maps to insufficient funds.
func lockBalanceRow(ctx context.Context, tx pgx.Tx, owner Owner, a asset.Asset, create bool) (decimal.Decimal, error) {
	if create {
		if err := ensureBalanceRow(ctx, tx, owner, a); err != nil {
			return decimal.Zero, err
		}
	}
	const query = `SELECT amount::text FROM balances
        WHERE owner_id = $1 AND owner_type = $2 AND asset = $3 FOR UPDATE`
	var raw string
	if err := tx.QueryRow(ctx, query, owner.ID, owner.Type, a).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, ErrInsufficientBalance
		}
		return decimal.Zero, err
	}
	return decimal.NewFromString(raw)
}

func insertTransaction(ctx context.Context, tx pgx.Tx, owner Owner, kind string, a asset.Asset, amount decimal.Decimal, chargeRef string) (Transaction, error) {
	record := Transaction{
		ID:        uuid.NewString(),
		Owner:     owner,
		Kind:      kind,
		Asset:     a,
		Amount:    amount,
		ChargeRef: chargeRef,
		CreatedAt: time.Now().UTC(),
	}
	const query = `INSERT INTO transactions
        (id, owner_id, owner_type, kind, asset, amount, charge_ref, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8)`
	if _, err := tx.Exec(ctx, query,
		record.ID, owner.ID, owner.Type, kind, a, amount.String(), chargeRef, record.CreatedAt); err != nil {
		return Transaction{}, err
	}
	return record, nil
}

func applyDelta(ctx context.Context, tx pgx.Tx, owner Owner, a asset.Asset, delta decimal.Decimal) error {
	_, err := tx.Exec(ctx, `UPDATE balances SET amount = amount + $4
        WHERE owner_id = $1 AND owner_type = $2 AND asset = $3`,
		owner.ID, owner.Type, a, delta.String())
	return err
}

func readBalance(ctx context.Context, tx pgx.Tx, owner Owner, a asset.Asset) (decimal.Decimal, error) {
	const query = `SELECT amount::text FROM balances
        WHERE owner_id = $1 AND owner_type = $2 AND asset = $3`
	var raw string
	if err := tx.QueryRow(ctx, query, owner.ID, owner.Type, a).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	return decimal.NewFromString(raw)
}
