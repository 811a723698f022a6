// Package service implements the business logic of the feiramais core: cart
// consolidation, cart lines, the points ledger, the points auditor and the
// referral processor.
package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/feiramais/feiramais-core/internal/model"
	"github.com/feiramais/feiramais-core/internal/repository"
)

// Business rule violations surfaced to callers. Validation failures never
// mutate state.
var (
	// ErrOutOfStock is returned when the requested quantity exceeds live stock.
	ErrOutOfStock = errors.New("product out of stock")
	// ErrInvalidQuantity is returned for quantities below one.
	ErrInvalidQuantity = errors.New("invalid quantity")
	// ErrCodeInvalid is returned for an unknown or malformed referral code.
	ErrCodeInvalid = errors.New("invalid referral code")
	// ErrSelfReferral is returned when a user applies their own referral code.
	ErrSelfReferral = errors.New("self referral not allowed")
	// ErrInsufficientBalance is returned when a redemption would drive the
	// computed balance negative.
	ErrInsufficientBalance = errors.New("insufficient points balance")
	// ErrEmptyCart is returned when checking out a cart with no lines.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrInvalidCredentials is returned on a failed login.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Repository describes the data access contract used by the service.
type Repository interface {
	Close() error
	CreateUser(ctx context.Context, login string, passwordHash []byte, referralCode string) (int64, error)
	GetUserByLogin(ctx context.Context, login string) (*model.User, error)
	GetProfile(ctx context.Context, userID int64) (*model.Profile, error)
	GetProfileByReferralCode(ctx context.Context, code string) (*model.Profile, error)
	IncrementBalance(ctx context.Context, userID int64, delta int64) error
	GetActiveCarts(ctx context.Context, userID int64) ([]model.Cart, error)
	CreateCart(ctx context.Context, userID int64) (*model.Cart, error)
	SetCartStatus(ctx context.Context, cartID int64, status model.CartStatus) error
	GetCartLines(ctx context.Context, cartID int64) ([]model.CartLine, error)
	GetCartLine(ctx context.Context, lineID int64) (*model.CartLine, error)
	GetLineByCartProduct(ctx context.Context, cartID, productID int64) (*model.CartLine, error)
	AddOrIncrementLine(ctx context.Context, cartID, productID int64, qty int, unitPriceCents int64) (*model.CartLine, error)
	SetLineQuantity(ctx context.Context, lineID int64, qty int) error
	DeleteLine(ctx context.Context, lineID int64) error
	InsertTransaction(ctx context.Context, userID int64, amount int64, cause model.TransactionCause, referenceID *string) (bool, error)
	GetTransactionsByUser(ctx context.Context, userID int64) ([]model.PointsTransaction, error)
	CreateReferral(ctx context.Context, referrerID, referredID, pointsPerSide int64) (*model.Referral, error)
	GetReferral(ctx context.Context, id int64) (*model.Referral, error)
	MarkReferralApproved(ctx context.Context, id int64) (bool, error)
	GetApprovableReferrals(ctx context.Context, limit int) ([]model.Referral, error)
	CreateOrder(ctx context.Context, userID, cartID int64, totalCents int64) (*model.Order, error)
}

// ProductCatalog describes the read-only product lookup used by the service.
type ProductCatalog interface {
	GetProduct(ctx context.Context, productID int64) (*model.Product, time.Duration, error)
}

// Service holds the business logic of the feiramais core.
type Service struct {
	repo                Repository
	catalog             ProductCatalog
	logger              *zap.Logger
	shippingFeeCents    int64
	referralBonusPoints int64
}

// NewService creates a service with the given collaborators.
func NewService(repo Repository, catalog ProductCatalog, logger *zap.Logger, shippingFeeCents, referralBonusPoints int64) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:                repo,
		catalog:             catalog,
		logger:              logger,
		shippingFeeCents:    shippingFeeCents,
		referralBonusPoints: referralBonusPoints,
	}
}

// Close releases the service resources.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterUser registers a new user. When a referral code is supplied the
// referral is processed as well; a bad code does not fail the signup.
func (s *Service) RegisterUser(ctx context.Context, login, password, referralCode string) (int64, error) {
	hashed := hashPassword(login, password)

	code, err := generateReferralCode()
	if err != nil {
		return 0, err
	}

	id, err := s.repo.CreateUser(ctx, login, hashed, code)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			return 0, repository.ErrUserExists
		}
		return 0, err
	}

	if referralCode != "" {
		if _, err := s.ProcessReferral(ctx, id, referralCode); err != nil {
			s.logger.Warn("referral code rejected at signup",
				zap.Int64("userID", id),
				zap.String("code", referralCode),
				zap.Error(err))
		}
	}

	return id, nil
}

// AuthenticateUser checks the login and password and returns the user id.
func (s *Service) AuthenticateUser(ctx context.Context, login, password string) (int64, error) {
	u, err := s.repo.GetUserByLogin(ctx, login)
	if err != nil {
		return 0, err
	}

	hashed := hashPassword(login, password)
	if hex.EncodeToString(hashed) != hex.EncodeToString(u.PasswordHash) {
		return 0, ErrInvalidCredentials
	}

	return u.ID, nil
}

// GetProfile returns the profile of a user.
func (s *Service) GetProfile(ctx context.Context, userID int64) (*model.Profile, error) {
	return s.repo.GetProfile(ctx, userID)
}

func hashPassword(login, password string) []byte {
	sum := sha256.Sum256([]byte(login + ":" + password))
	return sum[:]
}

const referralCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func generateReferralCode() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i := range buf {
		buf[i] = referralCodeAlphabet[int(buf[i])%len(referralCodeAlphabet)]
	}
	return string(buf), nil
}
