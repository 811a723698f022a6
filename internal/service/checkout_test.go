package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/feiramais/feiramais-core/internal/model"
)

func TestCheckout_RecordsOrderAndEarn(t *testing.T) {
	repo := newMemRepo()
	addProfile(repo, 1, 0, "CODE0001")
	svc := newTestService(repo, twoStoreCatalog())

	if _, err := svc.AddItem(context.Background(), 1, 1, 2); err != nil {
		t.Fatalf("AddItem error: %v", err)
	}
	if _, err := svc.AddItem(context.Background(), 1, 2, 1); err != nil {
		t.Fatalf("AddItem error: %v", err)
	}
	cart, _ := svc.EnsureSingleActiveCart(context.Background(), 1)

	order, err := svc.Checkout(context.Background(), 1)
	if err != nil {
		t.Fatalf("Checkout error: %v", err)
	}

	// subtotal 4000 + shipping 2000
	if order.TotalCents != 6000 {
		t.Fatalf("order total = %d, want 6000", order.TotalCents)
	}
	if repo.carts[cart.ID].Status != model.CartStatusInactive {
		t.Fatalf("cart still active after checkout")
	}

	if len(repo.txs) != 1 {
		t.Fatalf("transactions = %d, want 1", len(repo.txs))
	}
	tx := repo.txs[0]
	if tx.Cause != model.CausePurchase {
		t.Fatalf("cause = %s, want compra", tx.Cause)
	}
	if tx.Amount != 12 {
		t.Fatalf("earned points = %d, want 12", tx.Amount)
	}
	if tx.ReferenceID == nil || *tx.ReferenceID != fmt.Sprintf("order-%d", order.ID) {
		t.Fatalf("reference id = %v, want order-%d", tx.ReferenceID, order.ID)
	}
}

func TestCheckout_EmptyCart(t *testing.T) {
	repo := newMemRepo()
	addProfile(repo, 1, 0, "CODE0001")
	svc := newTestService(repo, twoStoreCatalog())

	_, err := svc.Checkout(context.Background(), 1)
	if !errors.Is(err, ErrEmptyCart) {
		t.Fatalf("expected ErrEmptyCart, got %v", err)
	}
	if len(repo.orders) != 0 || len(repo.txs) != 0 {
		t.Fatalf("empty checkout mutated state")
	}
}

func TestCheckout_RetryAfterDeactivationFailure(t *testing.T) {
	repo := newMemRepo()
	addProfile(repo, 1, 0, "CODE0001")
	svc := newTestService(repo, twoStoreCatalog())

	if _, err := svc.AddItem(context.Background(), 1, 1, 2); err != nil {
		t.Fatalf("AddItem error: %v", err)
	}
	cart, _ := svc.EnsureSingleActiveCart(context.Background(), 1)

	// the first attempt records the order and the earn but dies on the
	// cart deactivation, leaving the cart active
	repo.cartStatusErr[cart.ID] = errors.New("store unavailable")
	if _, err := svc.Checkout(context.Background(), 1); err == nil {
		t.Fatalf("expected error from failed deactivation")
	}

	delete(repo.cartStatusErr, cart.ID)
	order, err := svc.Checkout(context.Background(), 1)
	if err != nil {
		t.Fatalf("retried Checkout error: %v", err)
	}

	if len(repo.orders) != 1 {
		t.Fatalf("orders = %d, want 1 (retry reuses the cart's order)", len(repo.orders))
	}
	if len(repo.txs) != 1 {
		t.Fatalf("transactions = %d, want 1", len(repo.txs))
	}
	if repo.txs[0].ReferenceID == nil || *repo.txs[0].ReferenceID != fmt.Sprintf("order-%d", order.ID) {
		t.Fatalf("reference id = %v, want order-%d", repo.txs[0].ReferenceID, order.ID)
	}
	balance, _ := svc.GetBalance(context.Background(), 1)
	if balance != 10 {
		t.Fatalf("balance = %d, want 10 (credited once)", balance)
	}
	if repo.carts[cart.ID].Status != model.CartStatusInactive {
		t.Fatalf("cart still active after retried checkout")
	}
}

func TestCheckout_RetryDoesNotDoubleCredit(t *testing.T) {
	repo := newMemRepo()
	addProfile(repo, 1, 0, "CODE0001")
	svc := newTestService(repo, twoStoreCatalog())

	if _, err := svc.AddItem(context.Background(), 1, 1, 2); err != nil {
		t.Fatalf("AddItem error: %v", err)
	}

	if _, err := svc.Checkout(context.Background(), 1); err != nil {
		t.Fatalf("Checkout error: %v", err)
	}

	// the retried confirmation finds a fresh empty cart
	_, err := svc.Checkout(context.Background(), 1)
	if !errors.Is(err, ErrEmptyCart) {
		t.Fatalf("expected ErrEmptyCart on retry, got %v", err)
	}

	if len(repo.txs) != 1 {
		t.Fatalf("transactions = %d, want 1", len(repo.txs))
	}
	balance, _ := svc.GetBalance(context.Background(), 1)
	if balance != 10 {
		t.Fatalf("balance = %d, want 10", balance)
	}
}
