// Package model contains the domain entities of the feiramais core.
package model

import "time"

// User is a registered marketplace user.
type User struct {
	ID           int64
	Login        string
	PasswordHash []byte
	CreatedAt    time.Time
}

// CartStatus describes the lifecycle state of a shopping cart.
type CartStatus string

const (
	CartStatusActive   CartStatus = "active"
	CartStatusInactive CartStatus = "inactive"
)

// Cart is a user's shopping cart. A user has at most one active cart at any
// observation point; duplicates are folded together on read.
type Cart struct {
	ID        int64
	UserID    int64
	Status    CartStatus
	CreatedAt time.Time
}

// CartLine is one product inside a cart. UnitPriceCents is the product price
// captured when the line was created, not the live price.
type CartLine struct {
	ID             int64
	CartID         int64
	ProductID      int64
	Quantity       int
	UnitPriceCents int64
	CreatedAt      time.Time
}

// Product is a read-only snapshot from the catalog. This core never writes it.
type Product struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	PriceCents int64  `json:"price_cents"`
	Stock      int    `json:"stock"`
	StoreID    int64  `json:"store_id"`
	PointYield int    `json:"point_yield"`
}

// TransactionCause tags a points transaction with the event that produced it.
type TransactionCause string

const (
	CausePurchase      TransactionCause = "compra"
	CauseRedemption    TransactionCause = "resgate"
	CauseReferral      TransactionCause = "indicacao"
	CausePhysicalStore TransactionCause = "loja-fisica"
	CauseService       TransactionCause = "servico"
	CauseManualAdjust  TransactionCause = "ajuste-manual"
	CauseAutoAdjust    TransactionCause = "ajuste-automatico"
)

// PointsTransaction is one append-only entry of the points ledger. Amount is
// signed: earns are positive, redemptions negative. ReferenceID, when present,
// is the idempotency key that suppresses duplicate writes on retry.
type PointsTransaction struct {
	ID          int64
	UserID      int64
	Amount      int64
	Cause       TransactionCause
	ReferenceID *string
	CreatedAt   time.Time
}

// Profile holds the per-user data this core touches: the cached points balance
// and the referral code the user hands out. The cached balance is a
// materialized view of the ledger, never the source of truth.
type Profile struct {
	UserID        int64
	PointsBalance int64
	ReferralCode  string
	CreatedAt     time.Time
}

// ReferralStatus describes the state machine of a referral record.
type ReferralStatus string

const (
	ReferralStatusPending  ReferralStatus = "pendente"
	ReferralStatusApproved ReferralStatus = "aprovado"
)

// Referral links a referring user to a referred user. It transitions from
// pendente to aprovado exactly once; the transition triggers the point awards.
type Referral struct {
	ID             int64
	ReferrerUserID int64
	ReferredUserID int64
	Status         ReferralStatus
	PointsPerSide  int64
	CreatedAt      time.Time
}

// AuditStatus is the verdict of a points audit.
type AuditStatus string

const (
	AuditStatusOK          AuditStatus = "ok"
	AuditStatusDiscrepancy AuditStatus = "discrepancy"
)

// AuditResult reports the cached balance against the balance recomputed from
// the full transaction history.
type AuditResult struct {
	UserID                int64       `json:"user_id"`
	ProfileBalance        int64       `json:"profile_balance"`
	TransactionBalance    int64       `json:"transaction_balance"`
	Difference            int64       `json:"difference"`
	DuplicateTransactions int         `json:"duplicate_transactions"`
	Status                AuditStatus `json:"status"`
}

// TransactionSummary aggregates the ledger for display: how much was earned
// and how much redeemed, both as non-negative totals.
type TransactionSummary struct {
	UserID        int64 `json:"user_id"`
	TotalEarned   int64 `json:"total_earned"`
	TotalRedeemed int64 `json:"total_redeemed"`
}

// CartStoreGroup is the per-store slice of a cart summary.
type CartStoreGroup struct {
	StoreID       int64      `json:"store_id"`
	Lines         []CartLine `json:"-"`
	SubtotalCents int64      `json:"subtotal_cents"`
}

// CartSummary is always derived from the lines and the catalog, never stored.
type CartSummary struct {
	CartID        int64            `json:"cart_id"`
	SubtotalCents int64            `json:"subtotal_cents"`
	ShippingCents int64            `json:"shipping_cents"`
	TotalCents    int64            `json:"total_cents"`
	TotalPoints   int64            `json:"total_points"`
	Groups        []CartStoreGroup `json:"groups"`
}

// Order is the minimal purchase record created at checkout. One order exists
// per cart, so a retried confirmation lands on the same row and the order id
// stays a stable reference for the purchase earn transaction.
type Order struct {
	ID         int64
	UserID     int64
	CartID     int64
	TotalCents int64
	CreatedAt  time.Time
}
