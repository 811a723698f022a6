package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/feiramais/feiramais-core/internal/model"
	"github.com/feiramais/feiramais-core/internal/repository"
)

func TestProcessReferral_InvalidCode(t *testing.T) {
	repo := newMemRepo()
	addProfile(repo, 1, 0, "OWNER001")
	svc := newTestService(repo, nil)

	tests := []struct {
		name string
		code string
	}{
		{name: "malformed", code: "short"},
		{name: "lower case", code: "owner001"},
		{name: "unknown", code: "NOBODY99"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ProcessReferral(context.Background(), 2, tt.code)
			if !errors.Is(err, ErrCodeInvalid) {
				t.Fatalf("expected ErrCodeInvalid, got %v", err)
			}
		})
	}

	if len(repo.referrals) != 0 {
		t.Fatalf("rejected codes created %d referrals", len(repo.referrals))
	}
}

func TestProcessReferral_SelfReferral(t *testing.T) {
	repo := newMemRepo()
	addProfile(repo, 1, 0, "OWNER001")
	svc := newTestService(repo, nil)

	_, err := svc.ProcessReferral(context.Background(), 1, "OWNER001")
	if !errors.Is(err, ErrSelfReferral) {
		t.Fatalf("expected ErrSelfReferral, got %v", err)
	}
}

func TestProcessReferral_CreatesPendingRecord(t *testing.T) {
	repo := newMemRepo()
	addProfile(repo, 1, 0, "OWNER001")
	addProfile(repo, 2, 0, "NEWBIE01")
	svc := newTestService(repo, nil)

	ref, err := svc.ProcessReferral(context.Background(), 2, "OWNER001")
	if err != nil {
		t.Fatalf("ProcessReferral error: %v", err)
	}

	if ref.Status != model.ReferralStatusPending {
		t.Fatalf("status = %s, want pendente", ref.Status)
	}
	if ref.ReferrerUserID != 1 || ref.ReferredUserID != 2 {
		t.Fatalf("unexpected sides: %+v", ref)
	}
	if ref.PointsPerSide != 20 {
		t.Fatalf("points per side = %d, want 20", ref.PointsPerSide)
	}

	// no points move before approval
	if len(repo.txs) != 0 {
		t.Fatalf("referral creation awarded points early")
	}

	_, err = svc.ProcessReferral(context.Background(), 2, "OWNER001")
	if !errors.Is(err, repository.ErrReferralExists) {
		t.Fatalf("expected ErrReferralExists on reapply, got %v", err)
	}
}

func TestApproveReferral_AwardsBothSidesOnce(t *testing.T) {
	repo := newMemRepo()
	addProfile(repo, 1, 0, "OWNER001")
	addProfile(repo, 2, 0, "NEWBIE01")
	svc := newTestService(repo, nil)

	ref, err := svc.ProcessReferral(context.Background(), 2, "OWNER001")
	if err != nil {
		t.Fatalf("ProcessReferral error: %v", err)
	}

	if err := svc.ApproveReferral(context.Background(), ref.ID); err != nil {
		t.Fatalf("ApproveReferral error: %v", err)
	}

	if repo.referrals[ref.ID].Status != model.ReferralStatusApproved {
		t.Fatalf("status = %s, want aprovado", repo.referrals[ref.ID].Status)
	}
	if len(repo.txs) != 2 {
		t.Fatalf("transactions = %d, want 2", len(repo.txs))
	}

	referrerBalance, _ := svc.GetBalance(context.Background(), 1)
	referredBalance, _ := svc.GetBalance(context.Background(), 2)
	if referrerBalance != 20 || referredBalance != 20 {
		t.Fatalf("balances = %d/%d, want 20/20", referrerBalance, referredBalance)
	}

	// replaying the confirmation creates no additional transactions
	if err := svc.ApproveReferral(context.Background(), ref.ID); err != nil {
		t.Fatalf("replay error: %v", err)
	}
	if len(repo.txs) != 2 {
		t.Fatalf("replay appended transactions: %d", len(repo.txs))
	}
}

func TestApproveReferral_ReplayAfterPartialFailure(t *testing.T) {
	repo := newMemRepo()
	addProfile(repo, 1, 0, "OWNER001")
	addProfile(repo, 2, 0, "NEWBIE01")
	svc := newTestService(repo, nil)

	ref, err := svc.ProcessReferral(context.Background(), 2, "OWNER001")
	if err != nil {
		t.Fatalf("ProcessReferral error: %v", err)
	}

	// simulate a crash after the awards landed but before the status flip
	recordOrFail(t, svc, 1, 20, model.CauseReferral, fmt.Sprintf("referral-%d-referrer", ref.ID))
	recordOrFail(t, svc, 2, 20, model.CauseReferral, fmt.Sprintf("referral-%d-referred", ref.ID))

	if err := svc.ApproveReferral(context.Background(), ref.ID); err != nil {
		t.Fatalf("ApproveReferral error: %v", err)
	}

	if repo.referrals[ref.ID].Status != model.ReferralStatusApproved {
		t.Fatalf("referral not approved")
	}
	if len(repo.txs) != 2 {
		t.Fatalf("transactions = %d, want 2 (replay absorbed)", len(repo.txs))
	}
}

func TestProcessApprovableReferrals(t *testing.T) {
	repo := newMemRepo()
	addProfile(repo, 1, 0, "OWNER001")
	addProfile(repo, 2, 0, "NEWBIE01")
	svc := newTestService(repo, nil)

	ref, err := svc.ProcessReferral(context.Background(), 2, "OWNER001")
	if err != nil {
		t.Fatalf("ProcessReferral error: %v", err)
	}

	// no purchase yet: the worker leaves the referral pending
	svc.processApprovableReferrals(context.Background())
	if repo.referrals[ref.ID].Status != model.ReferralStatusPending {
		t.Fatalf("worker approved a referral without a purchase")
	}

	if _, err := repo.CreateOrder(context.Background(), 2, 77, 5000); err != nil {
		t.Fatalf("CreateOrder error: %v", err)
	}

	svc.processApprovableReferrals(context.Background())
	if repo.referrals[ref.ID].Status != model.ReferralStatusApproved {
		t.Fatalf("worker did not approve after purchase")
	}
	if len(repo.txs) != 2 {
		t.Fatalf("transactions = %d, want 2", len(repo.txs))
	}
}
