package postgres

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/imagery-api/internal/platform/logger"
	"github.com/phrazzld/imagery-api/internal/store"
)

// Transaction kinds recorded in point_transactions.
const (
	kindDeduct = "deduct"
	kindRefund = "refund"
)

// LedgerDB is the database handle the ledger needs: plain queries for reads
// and transactions for balance changes. *sql.DB satisfies it.
type LedgerDB interface {
	store.DBTX
	store.TxBeginner
}

// PostgresPointsLedger implements the store.PointsLedger interface using PostgreSQL.
// Each balance change and its journal entry are written in one transaction.
type PostgresPointsLedger struct {
	db     LedgerDB
	logger *slog.Logger
}

// Ensure PostgresPointsLedger implements store.PointsLedger interface
var _ store.PointsLedger = (*PostgresPointsLedger)(nil)

// NewPostgresPointsLedger creates a new PostgresPointsLedger.
func NewPostgresPointsLedger(db LedgerDB, logger *slog.Logger) *PostgresPointsLedger {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresPointsLedger{
		db:     db,
		logger: logger.With(slog.String("component", "points_ledger")),
	}
}

// Balance returns the user's current balance. Users without a balance row have zero.
func (l *PostgresPointsLedger) Balance(ctx context.Context, userID uuid.UUID) (int64, error) {
	var balance int64
	err := l.db.QueryRowContext(ctx,
		`SELECT balance FROM point_balances WHERE user_id = $1`, userID,
	).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, store.NewStoreError("points", "balance", "failed to read balance", MapError(err))
	}
	return balance, nil
}

// Deduct implements store.PointsLedger.Deduct
func (l *PostgresPointsLedger) Deduct(
	ctx context.Context,
	userID uuid.UUID,
	amount int64,
	reason string,
	reference string,
) error {
	if amount <= 0 {
		return nil
	}
	log := logger.FromContextOrDefault(ctx, l.logger)

	return store.RunInTransaction(ctx, l.db, func(ctx context.Context, tx *sql.Tx) error {
		now := time.Now().UTC()
		result, err := tx.ExecContext(ctx, `
			UPDATE point_balances SET balance = balance - $1, updated_at = $2
			WHERE user_id = $3 AND balance >= $1
		`, amount, now, userID)
		if err != nil {
			return store.NewStoreError("points", "deduct", "failed to debit balance", MapError(err))
		}
		applied, err := affected(result)
		if err != nil {
			return err
		}
		if !applied {
			log.Debug("insufficient points",
				slog.String("user_id", userID.String()),
				slog.Int64("amount", amount))
			return store.ErrInsufficientPoints
		}

		if err := insertTransaction(ctx, tx, userID, -amount, kindDeduct, reason, reference, now); err != nil {
			return err
		}
		return nil
	})
}

// Refund implements store.PointsLedger.Refund
func (l *PostgresPointsLedger) Refund(
	ctx context.Context,
	userID uuid.UUID,
	amount int64,
	reason string,
	reference string,
) (bool, error) {
	if amount <= 0 {
		return false, nil
	}
	log := logger.FromContextOrDefault(ctx, l.logger)

	var credited bool
	err := store.RunInTransaction(ctx, l.db, func(ctx context.Context, tx *sql.Tx) error {
		now := time.Now().UTC()
		result, err := tx.ExecContext(ctx, `
			INSERT INTO point_transactions (id, user_id, amount, kind, reason, reference, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (reference) WHERE kind = 'refund' DO NOTHING
		`, uuid.New(), userID, amount, kindRefund, reason, reference, now)
		if err != nil {
			return store.NewStoreError("points", "refund", "failed to record refund", MapError(err))
		}
		applied, err := affected(result)
		if err != nil {
			return err
		}
		if !applied {
			return nil
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO point_balances (user_id, balance, updated_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (user_id) DO UPDATE
			SET balance = point_balances.balance + EXCLUDED.balance, updated_at = EXCLUDED.updated_at
		`, userID, amount, now)
		if err != nil {
			return store.NewStoreError("points", "refund", "failed to credit balance", MapError(err))
		}
		credited = true
		return nil
	})
	if err != nil {
		return false, err
	}

	if !credited {
		log.Debug("refund already recorded", slog.String("reference", reference))
	}
	return credited, nil
}

func insertTransaction(
	ctx context.Context,
	tx *sql.Tx,
	userID uuid.UUID,
	amount int64,
	kind, reason, reference string,
	at time.Time,
) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO point_transactions (id, user_id, amount, kind, reason, reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, uuid.New(), userID, amount, kind, reason, reference, at)
	if err != nil {
		return store.NewStoreError("points", kind, "failed to record transaction", MapError(err))
	}
	return nil
}
