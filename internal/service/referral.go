package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/feiramais/feiramais-core/internal/model"
	"github.com/feiramais/feiramais-core/internal/repository"
	"github.com/feiramais/feiramais-core/internal/validation"
)

// ProcessReferral applies a referral code for a newly signed-up user and
// creates the pending referral record. The points are not awarded here; they
// are awarded when the record is approved after the referred user's first
// confirmed purchase.
func (s *Service) ProcessReferral(ctx context.Context, newUserID int64, code string) (*model.Referral, error) {
	if !validation.IsValidReferralCode(code) {
		return nil, ErrCodeInvalid
	}

	owner, err := s.repo.GetProfileByReferralCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrProfileNotFound) {
			return nil, ErrCodeInvalid
		}
		return nil, err
	}

	if owner.UserID == newUserID {
		return nil, ErrSelfReferral
	}

	return s.repo.CreateReferral(ctx, owner.UserID, newUserID, s.referralBonusPoints)
}

// ApproveReferral transitions a referral from pendente to aprovado and awards
// the bonus to both sides through the ledger. The awards are recorded before
// the status flips so that a crash in between is healed by replay: the
// reference ids derived from the referral record make the ledger absorb the
// repeated awards, and the conditional status update fires once.
func (s *Service) ApproveReferral(ctx context.Context, referralID int64) error {
	ref, err := s.repo.GetReferral(ctx, referralID)
	if err != nil {
		return err
	}

	if ref.Status != model.ReferralStatusPending {
		return nil
	}

	referrerRef := fmt.Sprintf("referral-%d-referrer", ref.ID)
	referredRef := fmt.Sprintf("referral-%d-referred", ref.ID)

	if err := s.RecordTransaction(ctx, ref.ReferrerUserID, ref.PointsPerSide, model.CauseReferral, referrerRef); err != nil {
		return err
	}
	if err := s.RecordTransaction(ctx, ref.ReferredUserID, ref.PointsPerSide, model.CauseReferral, referredRef); err != nil {
		return err
	}

	if _, err := s.repo.MarkReferralApproved(ctx, ref.ID); err != nil {
		return err
	}

	return nil
}

// StartReferralApprovals launches the background loop that approves pending
// referrals whose referred user has completed a purchase.
func (s *Service) StartReferralApprovals(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.processApprovableReferrals(ctx)
			}
		}
	}()
}

func (s *Service) processApprovableReferrals(ctx context.Context) {
	refs, err := s.repo.GetApprovableReferrals(ctx, 100)
	if err != nil {
		s.logger.Error("select approvable referrals failed", zap.Error(err))
		return
	}

	for _, ref := range refs {
		if err := s.ApproveReferral(ctx, ref.ID); err != nil {
			s.logger.Error("referral approval failed",
				zap.Int64("referralID", ref.ID),
				zap.Error(err))
		}
	}
}
