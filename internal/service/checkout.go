package service

import (
	"context"
	"fmt"

	"github.com/feiramais/feiramais-core/internal/model"
)

// Checkout confirms the purchase of the user's active cart: an order is
// recorded, the purchase points are earned with the order id as the
// idempotency reference, and the cart is deactivated. Orders are unique per
// cart, so a retry after a partial failure lands on the same order and the
// same earn reference; nothing is credited twice.
func (s *Service) Checkout(ctx context.Context, userID int64) (*model.Order, error) {
	cart, err := s.EnsureSingleActiveCart(ctx, userID)
	if err != nil {
		return nil, err
	}

	lines, err := s.repo.GetCartLines(ctx, cart.ID)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}

	summary, err := s.buildCartSummary(ctx, cart.ID, lines)
	if err != nil {
		return nil, err
	}

	order, err := s.repo.CreateOrder(ctx, userID, cart.ID, summary.TotalCents)
	if err != nil {
		return nil, err
	}

	if summary.TotalPoints > 0 {
		ref := fmt.Sprintf("order-%d", order.ID)
		if err := s.RecordTransaction(ctx, userID, summary.TotalPoints, model.CausePurchase, ref); err != nil {
			return nil, err
		}
	}

	if err := s.repo.SetCartStatus(ctx, cart.ID, model.CartStatusInactive); err != nil {
		return nil, err
	}

	return order, nil
}
