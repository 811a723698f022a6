package service

import (
	"context"
	"testing"

	"github.com/feiramais/feiramais-core/internal/model"
)

func recordOrFail(t *testing.T, svc *Service, userID, amount int64, cause model.TransactionCause, ref string) {
	t.Helper()
	if err := svc.RecordTransaction(context.Background(), userID, amount, cause, ref); err != nil {
		t.Fatalf("RecordTransaction(%d, %s, %s) error: %v", amount, cause, ref, err)
	}
}

func insertDuplicate(repo *memRepo, userID, amount int64, cause model.TransactionCause, ref string) {
	// Bypasses the dedup index the way a historical double-credit bug would
	// have: the row lands twice and the cache was bumped twice.
	r := ref
	repo.txs = append(repo.txs, model.PointsTransaction{
		ID: repo.id(), UserID: userID, Amount: amount, Cause: cause, ReferenceID: &r,
	})
	repo.profiles[userID].PointsBalance += amount
}

func TestAuditUserPoints_CleanLedger(t *testing.T) {
	repo := newMemRepo()
	addProfile(repo, 1, 0, "CODE0001")
	svc := newTestService(repo, nil)

	recordOrFail(t, svc, 1, 100, model.CausePurchase, "order-1")
	recordOrFail(t, svc, 1, -30, model.CauseRedemption, "resgate-1")

	audit, err := svc.AuditUserPoints(context.Background(), 1)
	if err != nil {
		t.Fatalf("AuditUserPoints error: %v", err)
	}

	if audit.TransactionBalance != 70 {
		t.Fatalf("transactionBalance = %d, want 70", audit.TransactionBalance)
	}
	if audit.ProfileBalance != 70 {
		t.Fatalf("profileBalance = %d, want 70", audit.ProfileBalance)
	}
	if audit.Difference != 0 || audit.DuplicateTransactions != 0 {
		t.Fatalf("unexpected discrepancy: %+v", audit)
	}
	if audit.Status != model.AuditStatusOK {
		t.Fatalf("status = %s, want ok", audit.Status)
	}
}

func TestAuditUserPoints_DetectsDuplicateAndDrift(t *testing.T) {
	repo := newMemRepo()
	addProfile(repo, 1, 0, "CODE0001")
	svc := newTestService(repo, nil)

	recordOrFail(t, svc, 1, 100, model.CausePurchase, "order-1")
	recordOrFail(t, svc, 1, -30, model.CauseRedemption, "resgate-1")
	insertDuplicate(repo, 1, 100, model.CausePurchase, "order-1")

	audit, err := svc.AuditUserPoints(context.Background(), 1)
	if err != nil {
		t.Fatalf("AuditUserPoints error: %v", err)
	}

	if audit.DuplicateTransactions != 1 {
		t.Fatalf("duplicates = %d, want 1", audit.DuplicateTransactions)
	}
	if audit.TransactionBalance != 70 {
		t.Fatalf("transactionBalance = %d, want 70", audit.TransactionBalance)
	}
	if audit.ProfileBalance != 170 {
		t.Fatalf("profileBalance = %d, want 170", audit.ProfileBalance)
	}
	if audit.Difference != 100 {
		t.Fatalf("difference = %d, want 100", audit.Difference)
	}
	if audit.Status != model.AuditStatusDiscrepancy {
		t.Fatalf("status = %s, want discrepancy", audit.Status)
	}
}

func TestAutoFixDiscrepancies_Converges(t *testing.T) {
	repo := newMemRepo()
	addProfile(repo, 1, 0, "CODE0001")
	svc := newTestService(repo, nil)

	recordOrFail(t, svc, 1, 100, model.CausePurchase, "order-1")
	recordOrFail(t, svc, 1, -30, model.CauseRedemption, "resgate-1")
	insertDuplicate(repo, 1, 100, model.CausePurchase, "order-1")

	fixed, err := svc.AutoFixDiscrepancies(context.Background(), 1)
	if err != nil {
		t.Fatalf("AutoFixDiscrepancies error: %v", err)
	}

	if fixed.Difference != 0 {
		t.Fatalf("difference after fix = %d, want 0", fixed.Difference)
	}
	if fixed.ProfileBalance != 70 {
		t.Fatalf("cache after fix = %d, want 70", fixed.ProfileBalance)
	}

	// exactly one corrective entry was appended; history was not edited
	var corrections int
	for _, tx := range repo.txs {
		if tx.Cause == model.CauseAutoAdjust {
			corrections++
			if tx.Amount != -100 {
				t.Fatalf("corrective amount = %d, want -100", tx.Amount)
			}
		}
	}
	if corrections != 1 {
		t.Fatalf("corrective entries = %d, want 1", corrections)
	}
	if len(repo.txs) != 4 {
		t.Fatalf("transactions = %d, want 4 (nothing deleted)", len(repo.txs))
	}
}

func TestAutoFixDiscrepancies_RerunIsNoOp(t *testing.T) {
	repo := newMemRepo()
	addProfile(repo, 1, 0, "CODE0001")
	svc := newTestService(repo, nil)

	recordOrFail(t, svc, 1, 100, model.CausePurchase, "order-1")
	insertDuplicate(repo, 1, 100, model.CausePurchase, "order-1")

	if _, err := svc.AutoFixDiscrepancies(context.Background(), 1); err != nil {
		t.Fatalf("first fix error: %v", err)
	}
	before := len(repo.txs)

	again, err := svc.AutoFixDiscrepancies(context.Background(), 1)
	if err != nil {
		t.Fatalf("second fix error: %v", err)
	}
	if again.Difference != 0 {
		t.Fatalf("difference = %d, want 0", again.Difference)
	}
	if len(repo.txs) != before {
		t.Fatalf("rerun appended %d rows", len(repo.txs)-before)
	}
}

func TestAutoFixDiscrepancies_CacheDriftWithoutDuplicates(t *testing.T) {
	repo := newMemRepo()
	addProfile(repo, 1, 0, "CODE0001")
	svc := newTestService(repo, nil)

	recordOrFail(t, svc, 1, 100, model.CausePurchase, "order-1")
	// a lost cache decrement: row landed, increment failed
	repo.profiles[1].PointsBalance += 60

	fixed, err := svc.AutoFixDiscrepancies(context.Background(), 1)
	if err != nil {
		t.Fatalf("AutoFixDiscrepancies error: %v", err)
	}
	if fixed.Difference != 0 {
		t.Fatalf("difference = %d, want 0", fixed.Difference)
	}
	if fixed.ProfileBalance != 100 {
		t.Fatalf("cache = %d, want 100", fixed.ProfileBalance)
	}
	if fixed.Status != model.AuditStatusOK {
		t.Fatalf("status = %s, want ok", fixed.Status)
	}
}

func TestCalculateTransactionSummary(t *testing.T) {
	repo := newMemRepo()
	addProfile(repo, 1, 0, "CODE0001")
	svc := newTestService(repo, nil)

	recordOrFail(t, svc, 1, 100, model.CausePurchase, "order-1")
	recordOrFail(t, svc, 1, 50, model.CauseReferral, "referral-1-referrer")
	recordOrFail(t, svc, 1, -30, model.CauseRedemption, "resgate-1")

	summary, err := svc.CalculateTransactionSummary(context.Background(), 1)
	if err != nil {
		t.Fatalf("CalculateTransactionSummary error: %v", err)
	}
	if summary.TotalEarned != 150 {
		t.Fatalf("earned = %d, want 150", summary.TotalEarned)
	}
	if summary.TotalRedeemed != 30 {
		t.Fatalf("redeemed = %d, want 30", summary.TotalRedeemed)
	}
}
