package service

import (
	"context"
	"errors"
	"sort"

	"go.uber.org/zap"

	"github.com/feiramais/feiramais-core/internal/model"
	"github.com/feiramais/feiramais-core/internal/repository"
	"github.com/feiramais/feiramais-core/internal/validation"
)

// EnsureSingleActiveCart returns the single authoritative active cart of the
// user, creating one when none exists and folding duplicates together when
// concurrent creation paths have left more than one. The fold is idempotent:
// once a single active cart remains, further calls change nothing.
func (s *Service) EnsureSingleActiveCart(ctx context.Context, userID int64) (*model.Cart, error) {
	carts, err := s.repo.GetActiveCarts(ctx, userID)
	if err != nil {
		return nil, err
	}

	if len(carts) == 0 {
		return s.repo.CreateCart(ctx, userID)
	}

	primary := carts[0]
	if len(carts) == 1 {
		return &primary, nil
	}

	// More than one active cart: the newest wins, the others are merged into
	// it line by line and deactivated. A failure on one stale cart must not
	// block the rest; it stays active and heals on the next read.
	for _, stale := range carts[1:] {
		if err := s.mergeCartInto(ctx, stale, primary); err != nil {
			s.logger.Error("cart merge failed, skipping stale cart",
				zap.Int64("userID", userID),
				zap.Int64("staleCartID", stale.ID),
				zap.Int64("primaryCartID", primary.ID),
				zap.Error(err))
			continue
		}
	}

	return &primary, nil
}

func (s *Service) mergeCartInto(ctx context.Context, stale, primary model.Cart) error {
	lines, err := s.repo.GetCartLines(ctx, stale.ID)
	if err != nil {
		return err
	}

	for _, line := range lines {
		// Same merge rule as AddItem: quantities add up per product, the
		// primary cart's captured unit price wins for pre-existing lines.
		if _, err := s.repo.AddOrIncrementLine(ctx, primary.ID, line.ProductID, line.Quantity, line.UnitPriceCents); err != nil {
			return err
		}
		if err := s.repo.DeleteLine(ctx, line.ID); err != nil {
			return err
		}
	}

	return s.repo.SetCartStatus(ctx, stale.ID, model.CartStatusInactive)
}

// AddItem puts qty units of a product into the user's active cart. An
// existing line for the product gains qty instead of being duplicated. The
// call is rejected without mutation when the resulting quantity would exceed
// the product's live stock.
func (s *Service) AddItem(ctx context.Context, userID, productID int64, qty int) (*model.CartLine, error) {
	if !validation.IsValidQuantity(qty) {
		return nil, ErrInvalidQuantity
	}

	cart, err := s.EnsureSingleActiveCart(ctx, userID)
	if err != nil {
		return nil, err
	}

	product, _, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}

	existing := 0
	line, err := s.repo.GetLineByCartProduct(ctx, cart.ID, productID)
	switch {
	case err == nil:
		existing = line.Quantity
	case errors.Is(err, repository.ErrLineNotFound):
	default:
		return nil, err
	}

	if existing+qty > product.Stock {
		return nil, ErrOutOfStock
	}

	return s.repo.AddOrIncrementLine(ctx, cart.ID, productID, qty, product.PriceCents)
}

// UpdateItemQuantity overwrites the quantity of a line in the user's active
// cart. Quantities below one are rejected; use RemoveItem instead.
func (s *Service) UpdateItemQuantity(ctx context.Context, userID, lineID int64, qty int) error {
	if !validation.IsValidQuantity(qty) {
		return ErrInvalidQuantity
	}

	line, err := s.lineOwnedByUser(ctx, userID, lineID)
	if err != nil {
		return err
	}

	product, _, err := s.catalog.GetProduct(ctx, line.ProductID)
	if err != nil {
		return err
	}

	if qty > product.Stock {
		return ErrOutOfStock
	}

	return s.repo.SetLineQuantity(ctx, lineID, qty)
}

// RemoveItem deletes a line from the user's active cart.
func (s *Service) RemoveItem(ctx context.Context, userID, lineID int64) error {
	if _, err := s.lineOwnedByUser(ctx, userID, lineID); err != nil {
		return err
	}
	return s.repo.DeleteLine(ctx, lineID)
}

func (s *Service) lineOwnedByUser(ctx context.Context, userID, lineID int64) (*model.CartLine, error) {
	line, err := s.repo.GetCartLine(ctx, lineID)
	if err != nil {
		return nil, err
	}

	cart, err := s.EnsureSingleActiveCart(ctx, userID)
	if err != nil {
		return nil, err
	}

	if line.CartID != cart.ID {
		return nil, repository.ErrLineNotFound
	}

	return line, nil
}

// GetCart consolidates and returns the user's active cart with its lines and
// the derived summary.
func (s *Service) GetCart(ctx context.Context, userID int64) (*model.Cart, []model.CartLine, *model.CartSummary, error) {
	cart, err := s.EnsureSingleActiveCart(ctx, userID)
	if err != nil {
		return nil, nil, nil, err
	}

	lines, err := s.repo.GetCartLines(ctx, cart.ID)
	if err != nil {
		return nil, nil, nil, err
	}

	summary, err := s.buildCartSummary(ctx, cart.ID, lines)
	if err != nil {
		return nil, nil, nil, err
	}

	return cart, lines, summary, nil
}

// ClearCart deactivates the user's active cart. The next read lazily creates
// a fresh empty one.
func (s *Service) ClearCart(ctx context.Context, userID int64) error {
	cart, err := s.EnsureSingleActiveCart(ctx, userID)
	if err != nil {
		return err
	}
	return s.repo.SetCartStatus(ctx, cart.ID, model.CartStatusInactive)
}

// buildCartSummary derives the cart totals from the lines and the catalog.
// The summary is never stored: subtotal from captured unit prices, points
// from live point yields, shipping as a flat fee per distinct store.
func (s *Service) buildCartSummary(ctx context.Context, cartID int64, lines []model.CartLine) (*model.CartSummary, error) {
	summary := &model.CartSummary{CartID: cartID}

	if len(lines) == 0 {
		return summary, nil
	}

	products := make(map[int64]*model.Product, len(lines))
	for _, line := range lines {
		if _, ok := products[line.ProductID]; ok {
			continue
		}
		product, _, err := s.catalog.GetProduct(ctx, line.ProductID)
		if err != nil {
			return nil, err
		}
		products[line.ProductID] = product
	}

	groupsByStore := make(map[int64]*model.CartStoreGroup)
	for _, line := range lines {
		product := products[line.ProductID]

		lineTotal := int64(line.Quantity) * line.UnitPriceCents
		summary.SubtotalCents += lineTotal
		summary.TotalPoints += int64(line.Quantity) * int64(product.PointYield)

		group, ok := groupsByStore[product.StoreID]
		if !ok {
			group = &model.CartStoreGroup{StoreID: product.StoreID}
			groupsByStore[product.StoreID] = group
		}
		group.Lines = append(group.Lines, line)
		group.SubtotalCents += lineTotal
	}

	summary.ShippingCents = s.shippingFeeCents * int64(len(groupsByStore))
	summary.TotalCents = summary.SubtotalCents + summary.ShippingCents

	storeIDs := make([]int64, 0, len(groupsByStore))
	for id := range groupsByStore {
		storeIDs = append(storeIDs, id)
	}
	sort.Slice(storeIDs, func(i, j int) bool { return storeIDs[i] < storeIDs[j] })

	for _, id := range storeIDs {
		summary.Groups = append(summary.Groups, *groupsByStore[id])
	}

	return summary, nil
}
