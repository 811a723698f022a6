// Package repository contains the PostgreSQL data access layer.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/feiramais/feiramais-core/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUserExists is returned when creating a user with a login already taken.
var (
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound is returned when a user does not exist.
	ErrUserNotFound = errors.New("user not found")
	// ErrProfileNotFound is returned when a profile does not exist.
	ErrProfileNotFound = errors.New("profile not found")
	// ErrCartNotFound is returned when a cart does not exist.
	ErrCartNotFound = errors.New("cart not found")
	// ErrLineNotFound is returned when a cart line does not exist.
	ErrLineNotFound = errors.New("cart line not found")
	// ErrReferralNotFound is returned when a referral record does not exist.
	ErrReferralNotFound = errors.New("referral not found")
	// ErrReferralExists is returned when the referred user already has a referral record.
	ErrReferralExists = errors.New("referral already exists")
)

// PostgresRepository provides access to the data store in PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a repository and initializes the schema via migrations.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		// Serialization failures and deadlocks are worth retrying; pgxpool
		// handles reconnects on its own.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}

		if isConnectionError(err) {
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
		}

		break
	}
	return err
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close closes the database connection pool.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateUser creates a user together with its profile. The referral code is
// generated by the caller and must be unique.
func (r *PostgresRepository) CreateUser(ctx context.Context, login string, passwordHash []byte, referralCode string) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var id int64
	err = tx.QueryRow(ctx,
		`INSERT INTO users (login, password_hash) VALUES ($1, $2) RETURNING id`,
		login, passwordHash,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrUserExists, login)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO profiles (user_id, points_balance, referral_code) VALUES ($1, 0, $2)`,
		id, referralCode,
	)
	if err != nil {
		return 0, fmt.Errorf("create profile: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}

	return id, nil
}

// GetUserByLogin returns a user by login.
func (r *PostgresRepository) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, login, password_hash, created_at FROM users WHERE login = $1`,
		login,
	)

	var u model.User
	err := row.Scan(&u.ID, &u.Login, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	return &u, nil
}

// GetProfile returns the profile of the given user.
func (r *PostgresRepository) GetProfile(ctx context.Context, userID int64) (*model.Profile, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT user_id, points_balance, referral_code, created_at FROM profiles WHERE user_id = $1`,
		userID,
	)

	var p model.Profile
	err := row.Scan(&p.UserID, &p.PointsBalance, &p.ReferralCode, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("get profile: %w", err)
	}

	return &p, nil
}

// GetProfileByReferralCode returns the profile owning the given referral code.
func (r *PostgresRepository) GetProfileByReferralCode(ctx context.Context, code string) (*model.Profile, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT user_id, points_balance, referral_code, created_at FROM profiles WHERE referral_code = $1`,
		code,
	)

	var p model.Profile
	err := row.Scan(&p.UserID, &p.PointsBalance, &p.ReferralCode, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("get profile by code: %w", err)
	}

	return &p, nil
}

// IncrementBalance adds delta to the cached points balance of the profile.
func (r *PostgresRepository) IncrementBalance(ctx context.Context, userID int64, delta int64) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE profiles SET points_balance = points_balance + $2 WHERE user_id = $1`,
		userID, delta,
	)
	if err != nil {
		return fmt.Errorf("increment balance: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrProfileNotFound
	}
	return nil
}

// GetActiveCarts returns all active carts of the user, newest first.
func (r *PostgresRepository) GetActiveCarts(ctx context.Context, userID int64) ([]model.Cart, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, status, created_at
		 FROM carts
		 WHERE user_id = $1 AND status = $2
		 ORDER BY created_at DESC, id DESC`,
		userID, string(model.CartStatusActive),
	)
	if err != nil {
		return nil, fmt.Errorf("select active carts: %w", err)
	}
	defer rows.Close()

	var carts []model.Cart
	for rows.Next() {
		var c model.Cart
		var status string
		if err := rows.Scan(&c.ID, &c.UserID, &status, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan cart: %w", err)
		}
		c.Status = model.CartStatus(status)
		carts = append(carts, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return carts, nil
}

// CreateCart creates a new active cart for the user.
func (r *PostgresRepository) CreateCart(ctx context.Context, userID int64) (*model.Cart, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO carts (user_id, status) VALUES ($1, $2) RETURNING id, created_at`,
		userID, string(model.CartStatusActive),
	)

	c := model.Cart{
		UserID: userID,
		Status: model.CartStatusActive,
	}
	if err := row.Scan(&c.ID, &c.CreatedAt); err != nil {
		return nil, fmt.Errorf("create cart: %w", err)
	}

	return &c, nil
}

// SetCartStatus updates the status of a cart.
func (r *PostgresRepository) SetCartStatus(ctx context.Context, cartID int64, status model.CartStatus) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE carts SET status = $2 WHERE id = $1`,
		cartID, string(status),
	)
	if err != nil {
		return fmt.Errorf("update cart status: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrCartNotFound
	}
	return nil
}

// GetCartLines returns the lines of a cart.
func (r *PostgresRepository) GetCartLines(ctx context.Context, cartID int64) ([]model.CartLine, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, cart_id, product_id, quantity, unit_price_cents, created_at
		 FROM cart_lines
		 WHERE cart_id = $1
		 ORDER BY created_at, id`,
		cartID,
	)
	if err != nil {
		return nil, fmt.Errorf("select cart lines: %w", err)
	}
	defer rows.Close()

	var lines []model.CartLine
	for rows.Next() {
		var l model.CartLine
		if err := rows.Scan(&l.ID, &l.CartID, &l.ProductID, &l.Quantity, &l.UnitPriceCents, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan cart line: %w", err)
		}
		lines = append(lines, l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return lines, nil
}

// GetCartLine returns a single cart line by id.
func (r *PostgresRepository) GetCartLine(ctx context.Context, lineID int64) (*model.CartLine, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, cart_id, product_id, quantity, unit_price_cents, created_at
		 FROM cart_lines WHERE id = $1`,
		lineID,
	)

	var l model.CartLine
	err := row.Scan(&l.ID, &l.CartID, &l.ProductID, &l.Quantity, &l.UnitPriceCents, &l.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLineNotFound
		}
		return nil, fmt.Errorf("get cart line: %w", err)
	}

	return &l, nil
}

// GetLineByCartProduct returns the line of a cart holding the given product.
func (r *PostgresRepository) GetLineByCartProduct(ctx context.Context, cartID, productID int64) (*model.CartLine, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, cart_id, product_id, quantity, unit_price_cents, created_at
		 FROM cart_lines WHERE cart_id = $1 AND product_id = $2`,
		cartID, productID,
	)

	var l model.CartLine
	err := row.Scan(&l.ID, &l.CartID, &l.ProductID, &l.Quantity, &l.UnitPriceCents, &l.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLineNotFound
		}
		return nil, fmt.Errorf("get line by product: %w", err)
	}

	return &l, nil
}

// AddOrIncrementLine inserts a line for (cart, product) or, when one already
// exists, adds qty to its quantity. The merge happens in a single statement so
// concurrent adds cannot lose an update. The unit price of an existing line is
// kept as captured at creation time.
func (r *PostgresRepository) AddOrIncrementLine(ctx context.Context, cartID, productID int64, qty int, unitPriceCents int64) (*model.CartLine, error) {
	var l model.CartLine
	err := r.withRetry(ctx, func() error {
		row := r.pool.QueryRow(ctx,
			`INSERT INTO cart_lines (cart_id, product_id, quantity, unit_price_cents)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (cart_id, product_id)
			 DO UPDATE SET quantity = cart_lines.quantity + EXCLUDED.quantity
			 RETURNING id, cart_id, product_id, quantity, unit_price_cents, created_at`,
			cartID, productID, qty, unitPriceCents,
		)
		return row.Scan(&l.ID, &l.CartID, &l.ProductID, &l.Quantity, &l.UnitPriceCents, &l.CreatedAt)
	})
	if err != nil {
		return nil, fmt.Errorf("upsert cart line: %w", err)
	}

	return &l, nil
}

// SetLineQuantity overwrites the quantity of a line.
func (r *PostgresRepository) SetLineQuantity(ctx context.Context, lineID int64, qty int) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE cart_lines SET quantity = $2 WHERE id = $1`,
		lineID, qty,
	)
	if err != nil {
		return fmt.Errorf("update line quantity: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrLineNotFound
	}
	return nil
}

// DeleteLine removes a cart line.
func (r *PostgresRepository) DeleteLine(ctx context.Context, lineID int64) error {
	cmdTag, err := r.pool.Exec(ctx,
		`DELETE FROM cart_lines WHERE id = $1`,
		lineID,
	)
	if err != nil {
		return fmt.Errorf("delete line: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrLineNotFound
	}
	return nil
}

// InsertTransaction appends a points transaction. When referenceID is set and
// a transaction with the same (user, cause, reference) already exists, nothing
// is inserted and false is returned.
func (r *PostgresRepository) InsertTransaction(ctx context.Context, userID int64, amount int64, cause model.TransactionCause, referenceID *string) (bool, error) {
	var inserted bool
	err := r.withRetry(ctx, func() error {
		cmdTag, execErr := r.pool.Exec(ctx,
			`INSERT INTO point_transactions (user_id, amount, cause, reference_id)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (user_id, cause, reference_id) WHERE reference_id IS NOT NULL
			 DO NOTHING`,
			userID, amount, string(cause), referenceID,
		)
		if execErr != nil {
			return execErr
		}
		inserted = cmdTag.RowsAffected() == 1
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("insert transaction: %w", err)
	}

	return inserted, nil
}

// GetTransactionsByUser returns the full points history of a user, newest first.
func (r *PostgresRepository) GetTransactionsByUser(ctx context.Context, userID int64) ([]model.PointsTransaction, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, amount, cause, reference_id, created_at
		 FROM point_transactions
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select transactions: %w", err)
	}
	defer rows.Close()

	var res []model.PointsTransaction
	for rows.Next() {
		var t model.PointsTransaction
		var cause string
		if err := rows.Scan(&t.ID, &t.UserID, &t.Amount, &cause, &t.ReferenceID, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		t.Cause = model.TransactionCause(cause)
		res = append(res, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// CreateReferral creates a pending referral record.
func (r *PostgresRepository) CreateReferral(ctx context.Context, referrerID, referredID, pointsPerSide int64) (*model.Referral, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO referrals (referrer_user_id, referred_user_id, status, points_per_side)
		 VALUES ($1, $2, $3, $4) RETURNING id, created_at`,
		referrerID, referredID, string(model.ReferralStatusPending), pointsPerSide,
	)

	ref := model.Referral{
		ReferrerUserID: referrerID,
		ReferredUserID: referredID,
		Status:         model.ReferralStatusPending,
		PointsPerSide:  pointsPerSide,
	}
	if err := row.Scan(&ref.ID, &ref.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return nil, ErrReferralExists
		}
		return nil, fmt.Errorf("create referral: %w", err)
	}

	return &ref, nil
}

// GetReferral returns a referral record by id.
func (r *PostgresRepository) GetReferral(ctx context.Context, id int64) (*model.Referral, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, referrer_user_id, referred_user_id, status, points_per_side, created_at
		 FROM referrals WHERE id = $1`,
		id,
	)

	var ref model.Referral
	var status string
	err := row.Scan(&ref.ID, &ref.ReferrerUserID, &ref.ReferredUserID, &status, &ref.PointsPerSide, &ref.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReferralNotFound
		}
		return nil, fmt.Errorf("get referral: %w", err)
	}
	ref.Status = model.ReferralStatus(status)

	return &ref, nil
}

// MarkReferralApproved transitions a referral from pendente to aprovado and
// reports whether this call performed the transition. The conditional update
// is the state machine guard: replays find no pending row and return false.
func (r *PostgresRepository) MarkReferralApproved(ctx context.Context, id int64) (bool, error) {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE referrals SET status = $2 WHERE id = $1 AND status = $3`,
		id, string(model.ReferralStatusApproved), string(model.ReferralStatusPending),
	)
	if err != nil {
		return false, fmt.Errorf("approve referral: %w", err)
	}
	return cmdTag.RowsAffected() == 1, nil
}

// GetApprovableReferrals returns pending referrals whose referred user has at
// least one confirmed purchase, oldest first.
func (r *PostgresRepository) GetApprovableReferrals(ctx context.Context, limit int) ([]model.Referral, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT r.id, r.referrer_user_id, r.referred_user_id, r.status, r.points_per_side, r.created_at
		 FROM referrals r
		 WHERE r.status = $1
		   AND EXISTS (SELECT 1 FROM orders o WHERE o.user_id = r.referred_user_id)
		 ORDER BY r.created_at
		 LIMIT $2`,
		string(model.ReferralStatusPending), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select approvable referrals: %w", err)
	}
	defer rows.Close()

	var res []model.Referral
	for rows.Next() {
		var ref model.Referral
		var status string
		if err := rows.Scan(&ref.ID, &ref.ReferrerUserID, &ref.ReferredUserID, &status, &ref.PointsPerSide, &ref.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan referral: %w", err)
		}
		ref.Status = model.ReferralStatus(status)
		res = append(res, ref)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// CreateOrder records a confirmed purchase. Orders are unique per cart: when
// a row for the cart already exists it is returned instead, so a retried
// checkout keeps the same order id.
func (r *PostgresRepository) CreateOrder(ctx context.Context, userID, cartID int64, totalCents int64) (*model.Order, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO orders (user_id, cart_id, total_cents) VALUES ($1, $2, $3)
		 ON CONFLICT (cart_id) DO NOTHING
		 RETURNING id, created_at`,
		userID, cartID, totalCents,
	)

	o := model.Order{
		UserID:     userID,
		CartID:     cartID,
		TotalCents: totalCents,
	}
	err := row.Scan(&o.ID, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return r.getOrderByCart(ctx, cartID)
	}
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	return &o, nil
}

func (r *PostgresRepository) getOrderByCart(ctx context.Context, cartID int64) (*model.Order, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, user_id, cart_id, total_cents, created_at FROM orders WHERE cart_id = $1`,
		cartID,
	)

	var o model.Order
	if err := row.Scan(&o.ID, &o.UserID, &o.CartID, &o.TotalCents, &o.CreatedAt); err != nil {
		return nil, fmt.Errorf("get order by cart: %w", err)
	}

	return &o, nil
}
