package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/feiramais/feiramais-core/internal/model"
)

// RecordTransaction appends a signed points transaction for the user and
// keeps the cached profile balance in step. A non-empty referenceID makes the
// call idempotent: a transaction already recorded for (user, cause,
// reference) turns the call into a successful no-op, which absorbs retried
// network calls without double-crediting.
//
// The ledger row is the source of truth. When the cache increment cannot be
// confirmed the call still succeeds; the auditor reconciles the cache later.
func (s *Service) RecordTransaction(ctx context.Context, userID int64, amount int64, cause model.TransactionCause, referenceID string) error {
	var ref *string
	if referenceID != "" {
		ref = &referenceID
	}

	if amount < 0 && cause == model.CauseRedemption {
		// Redemptions are checked against the recomputed history balance,
		// never the cached one: the cache may be stale in either direction,
		// and the literal row sum is just as unreliable when duplicates or
		// corrective entries exist.
		txs, err := s.repo.GetTransactionsByUser(ctx, userID)
		if err != nil {
			return err
		}
		balance, _ := ledgerBalance(txs)
		if balance+amount < 0 {
			return ErrInsufficientBalance
		}
	}

	inserted, err := s.repo.InsertTransaction(ctx, userID, amount, cause, ref)
	if err != nil {
		return err
	}
	if !inserted {
		return nil
	}

	if err := s.repo.IncrementBalance(ctx, userID, amount); err != nil {
		s.logger.Warn("balance cache increment failed, ledger row stands",
			zap.Int64("userID", userID),
			zap.Int64("amount", amount),
			zap.String("cause", string(cause)),
			zap.Error(err))
	}

	return nil
}

// GetBalance returns the cached points balance of the user. This is the
// display path; correctness decisions go through the auditor.
func (s *Service) GetBalance(ctx context.Context, userID int64) (int64, error) {
	profile, err := s.repo.GetProfile(ctx, userID)
	if err != nil {
		return 0, err
	}
	return profile.PointsBalance, nil
}

// GetTransactions returns the points history of the user, newest first.
func (s *Service) GetTransactions(ctx context.Context, userID int64) ([]model.PointsTransaction, error) {
	return s.repo.GetTransactionsByUser(ctx, userID)
}
