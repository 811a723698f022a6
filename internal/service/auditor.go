package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/feiramais/feiramais-core/internal/model"
)

// ledgerBalance recomputes the points balance from the transaction history:
// each (cause, reference) pair counts once and corrective ajuste-automatico
// entries are excluded. The second result is the number of excess duplicate
// rows found along the way.
func ledgerBalance(txs []model.PointsTransaction) (int64, int) {
	var balance int64
	seen := make(map[string]bool)
	duplicates := 0

	for _, tx := range txs {
		if tx.ReferenceID != nil && *tx.ReferenceID != "" {
			key := string(tx.Cause) + "|" + *tx.ReferenceID
			if seen[key] {
				duplicates++
				continue
			}
			seen[key] = true
		}

		if tx.Cause == model.CauseAutoAdjust {
			continue
		}

		balance += tx.Amount
	}

	return balance, duplicates
}

// AuditUserPoints recomputes the user's balance from the transaction history
// and compares it against the cached profile balance.
//
// The recomputed balance counts each (cause, reference) pair once, so a
// double-credited reference contributes a single amount; the excess rows are
// reported in DuplicateTransactions and never deleted. Corrective
// ajuste-automatico entries repair the cache, not the event history, and are
// left out of the recomputation.
func (s *Service) AuditUserPoints(ctx context.Context, userID int64) (*model.AuditResult, error) {
	profile, err := s.repo.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	txs, err := s.repo.GetTransactionsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	transactionBalance, duplicates := ledgerBalance(txs)

	result := &model.AuditResult{
		UserID:                userID,
		ProfileBalance:        profile.PointsBalance,
		TransactionBalance:    transactionBalance,
		Difference:            profile.PointsBalance - transactionBalance,
		DuplicateTransactions: duplicates,
		Status:                model.AuditStatusOK,
	}

	if result.Difference != 0 || result.DuplicateTransactions != 0 {
		result.Status = model.AuditStatusDiscrepancy
	}

	return result, nil
}

// AutoFixDiscrepancies converges the cached balance onto the recomputed
// transaction balance by appending a single corrective transaction of the
// opposite difference. History is never edited. Running it again after a
// successful fix computes a zero difference and writes nothing.
func (s *Service) AutoFixDiscrepancies(ctx context.Context, userID int64) (*model.AuditResult, error) {
	audit, err := s.AuditUserPoints(ctx, userID)
	if err != nil {
		return nil, err
	}

	if audit.Difference == 0 {
		return audit, nil
	}

	// The corrective append carries the cache along with it, landing the
	// cache exactly on the recomputed balance. A fresh reference id keeps
	// the entry traceable without ever colliding.
	correction := -audit.Difference
	if err := s.RecordTransaction(ctx, userID, correction, model.CauseAutoAdjust, uuid.NewString()); err != nil {
		return nil, err
	}

	return s.AuditUserPoints(ctx, userID)
}

// CalculateTransactionSummary aggregates the ledger into totals earned and
// redeemed, independent of the cached balance.
func (s *Service) CalculateTransactionSummary(ctx context.Context, userID int64) (*model.TransactionSummary, error) {
	txs, err := s.repo.GetTransactionsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	summary := &model.TransactionSummary{UserID: userID}
	for _, tx := range txs {
		if tx.Amount >= 0 {
			summary.TotalEarned += tx.Amount
		} else {
			summary.TotalRedeemed += -tx.Amount
		}
	}

	return summary, nil
}
