package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/XSAM/otelsql"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/patrickwarner/flashbid/internal/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrEmailTaken is returned when registration hits the email unique constraint.
var ErrEmailTaken = errors.New("email already registered")

// Postgres wraps a postgres DB connection.
type Postgres struct {
	DB *sql.DB
}

// schemaSQL sets up the necessary tables if they don't exist.
//
// The unique index on bids (campaign_id, user_id) is what makes the bid
// upsert atomic; the unique constraint on orders (campaign_id, user_id) is
// the durable backstop for at-most-one order per bidder.
const schemaSQL = `CREATE TABLE IF NOT EXISTS users (
    user_id UUID PRIMARY KEY,
    email VARCHAR(255) NOT NULL UNIQUE,
    password_hash VARCHAR(255) NOT NULL,
    username VARCHAR(100) NOT NULL,
    weight NUMERIC(10,2) NOT NULL DEFAULT 1.00,
    status VARCHAR(20) NOT NULL DEFAULT 'active',
    is_admin BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMP NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS products (
    product_id UUID PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    description TEXT,
    image_url VARCHAR(500),
    stock INT NOT NULL CHECK (stock >= 0),
    min_price NUMERIC(10,2) NOT NULL CHECK (min_price > 0),
    version INT NOT NULL DEFAULT 0,
    status VARCHAR(20) NOT NULL DEFAULT 'draft',
    created_at TIMESTAMP NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS campaigns (
    campaign_id UUID PRIMARY KEY,
    product_id UUID NOT NULL REFERENCES products(product_id),
    start_time TIMESTAMP NOT NULL,
    end_time TIMESTAMP NOT NULL,
    alpha NUMERIC(10,4) NOT NULL DEFAULT 1.0000,
    beta NUMERIC(10,4) NOT NULL DEFAULT 1000.0000,
    gamma NUMERIC(10,4) NOT NULL DEFAULT 100.0000,
    quota INT NOT NULL DEFAULT 0,
    status VARCHAR(20) NOT NULL DEFAULT 'pending',
    created_at TIMESTAMP NOT NULL DEFAULT NOW(),
    CONSTRAINT chk_campaign_time CHECK (end_time > start_time)
);

CREATE TABLE IF NOT EXISTS bids (
    bid_id UUID PRIMARY KEY,
    campaign_id UUID NOT NULL REFERENCES campaigns(campaign_id),
    user_id UUID NOT NULL REFERENCES users(user_id),
    product_id UUID NOT NULL REFERENCES products(product_id),
    price NUMERIC(10,2) NOT NULL CHECK (price > 0),
    score NUMERIC(15,4) NOT NULL,
    time_elapsed_ms BIGINT NOT NULL,
    bid_number INT NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS orders (
    order_id UUID PRIMARY KEY,
    campaign_id UUID NOT NULL REFERENCES campaigns(campaign_id),
    user_id UUID NOT NULL REFERENCES users(user_id),
    product_id UUID NOT NULL REFERENCES products(product_id),
    final_price NUMERIC(10,2) NOT NULL,
    final_score NUMERIC(15,4) NOT NULL,
    final_rank INT NOT NULL CHECK (final_rank > 0),
    status VARCHAR(20) NOT NULL DEFAULT 'pending',
    created_at TIMESTAMP NOT NULL DEFAULT NOW(),
    CONSTRAINT uq_order_campaign_user UNIQUE (campaign_id, user_id)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_bids_campaign_user ON bids (campaign_id, user_id);
CREATE INDEX IF NOT EXISTS idx_bids_campaign_score ON bids (campaign_id, score);
CREATE INDEX IF NOT EXISTS idx_campaigns_status ON campaigns (status);
CREATE INDEX IF NOT EXISTS idx_campaigns_time ON campaigns (start_time, end_time);
CREATE INDEX IF NOT EXISTS idx_orders_campaign_created ON orders (campaign_id, created_at);
CREATE INDEX IF NOT EXISTS idx_orders_user_created ON orders (user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_users_email ON users (email);
`

// InitPostgres connects to Postgres with connection pooling configuration.
func InitPostgres(dsn string, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) (*Postgres, error) {
	// Register the otelsql wrapper for postgres
	driverName, err := otelsql.Register("postgres",
		otelsql.WithAttributes(
			attribute.String("db.system", "postgresql"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("register otelsql: %w", err)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)
	db.SetConnMaxIdleTime(connMaxIdleTime)

	if err := db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	p := &Postgres{DB: db}
	if err := p.ensureSchema(); err != nil {
		return nil, err
	}
	zap.L().Info("Connected to Postgres",
		zap.Int("max_open_conns", maxOpenConns),
		zap.Int("max_idle_conns", maxIdleConns),
		zap.Duration("conn_max_lifetime", connMaxLifetime))
	return p, nil
}

// Close terminates the Postgres connection.
func (p *Postgres) Close() {
	if p != nil && p.DB != nil {
		if err := p.DB.Close(); err != nil {
			zap.L().Error("postgres close", zap.Error(err))
		}
	}
}

// ensureSchema creates the required tables if they do not exist.
func (p *Postgres) ensureSchema() error {
	if _, err := p.DB.ExecContext(context.Background(), schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// ==================== Users ====================

const userColumns = `user_id, email, password_hash, username, weight, status, is_admin, created_at, updated_at`

func scanUser(row interface{ Scan(...interface{}) error }) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Username, &u.Weight, &u.Status, &u.IsAdmin, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

// InsertUser persists a new user. ErrEmailTaken is returned when the email
// unique constraint fires.
func (p *Postgres) InsertUser(ctx context.Context, u *models.User) error {
	_, err := p.DB.ExecContext(ctx, `INSERT INTO users (user_id, email, password_hash, username, weight, status, is_admin)
        VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		u.ID, u.Email, u.PasswordHash, u.Username, u.Weight, u.Status, u.IsAdmin)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrEmailTaken
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// UserByEmail fetches a user by email.
func (p *Postgres) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	row := p.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email=$1`, email)
	return scanUser(row)
}

// UserByID fetches a user by ID.
func (p *Postgres) UserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	row := p.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE user_id=$1`, id)
	return scanUser(row)
}

// ==================== Products ====================

const productColumns = `product_id, name, COALESCE(description,''), COALESCE(image_url,''), stock, min_price, version, status, created_at, updated_at`

func scanProduct(row interface{ Scan(...interface{}) error }) (*models.Product, error) {
	var pr models.Product
	err := row.Scan(&pr.ID, &pr.Name, &pr.Description, &pr.ImageURL, &pr.Stock, &pr.MinPrice, &pr.Version, &pr.Status, &pr.CreatedAt, &pr.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan product: %w", err)
	}
	return &pr, nil
}

// InsertProduct persists a new product.
func (p *Postgres) InsertProduct(ctx context.Context, pr *models.Product) error {
	_, err := p.DB.ExecContext(ctx, `INSERT INTO products (product_id, name, description, image_url, stock, min_price, version, status)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		pr.ID, pr.Name, pr.Description, pr.ImageURL, pr.Stock, pr.MinPrice, pr.Version, pr.Status)
	if err != nil {
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

// ProductByID fetches a product by ID.
func (p *Postgres) ProductByID(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	row := p.DB.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE product_id=$1`, id)
	return scanProduct(row)
}

// ListProducts returns active products, newest first, with the total count.
func (p *Postgres) ListProducts(ctx context.Context, skip, limit int) ([]models.Product, int, error) {
	var total int
	if err := p.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM products WHERE status='active'`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count products: %w", err)
	}

	rows, err := p.DB.QueryContext(ctx, `SELECT `+productColumns+` FROM products
        WHERE status='active' ORDER BY created_at DESC OFFSET $1 LIMIT $2`, skip, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("query products: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var products []models.Product
	for rows.Next() {
		pr, err := scanProduct(rows)
		if err != nil {
			return nil, 0, err
		}
		products = append(products, *pr)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows error: %w", err)
	}
	return products, total, nil
}

// ProductForUpdate selects the product row with an exclusive row lock inside
// the given transaction. Layer 3 of the inventory protection.
func (p *Postgres) ProductForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*models.Product, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE product_id=$1 FOR UPDATE`, id)
	return scanProduct(row)
}

// DecrementProductStock runs the version-checked stock decrement inside the
// given transaction. Layer 4 of the inventory protection. Returns false when
// no row matched (version moved or stock drained concurrently).
func (p *Postgres) DecrementProductStock(ctx context.Context, tx *sql.Tx, id uuid.UUID, seenVersion int) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE products
        SET stock = stock - 1, version = version + 1, updated_at = NOW()
        WHERE product_id = $1 AND version = $2 AND stock >= 1`, id, seenVersion)
	if err != nil {
		return false, fmt.Errorf("decrement product stock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("decrement product stock: %w", err)
	}
	return n == 1, nil
}

// ==================== Campaigns ====================

const campaignColumns = `campaign_id, product_id, start_time, end_time, alpha, beta, gamma, quota, status, created_at`

func scanCampaign(row interface{ Scan(...interface{}) error }) (*models.Campaign, error) {
	var c models.Campaign
	err := row.Scan(&c.ID, &c.ProductID, &c.StartTime, &c.EndTime, &c.Alpha, &c.Beta, &c.Gamma, &c.Quota, &c.Status, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan campaign: %w", err)
	}
	c.StartTime = c.StartTime.UTC()
	c.EndTime = c.EndTime.UTC()
	return &c, nil
}

// InsertCampaign persists a new campaign. Quota must already be snapshotted
// from the product's stock by the caller.
func (p *Postgres) InsertCampaign(ctx context.Context, c *models.Campaign) error {
	_, err := p.DB.ExecContext(ctx, `INSERT INTO campaigns (campaign_id, product_id, start_time, end_time, alpha, beta, gamma, quota, status)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		c.ID, c.ProductID, c.StartTime, c.EndTime, c.Alpha, c.Beta, c.Gamma, c.Quota, c.Status)
	if err != nil {
		return fmt.Errorf("insert campaign: %w", err)
	}
	return nil
}

// CampaignByID fetches a campaign by ID.
func (p *Postgres) CampaignByID(ctx context.Context, id uuid.UUID) (*models.Campaign, error) {
	row := p.DB.QueryRowContext(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE campaign_id=$1`, id)
	return scanCampaign(row)
}

// CampaignWithProduct fetches a campaign joined with its product.
func (p *Postgres) CampaignWithProduct(ctx context.Context, id uuid.UUID) (*models.Campaign, *models.Product, error) {
	c, err := p.CampaignByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	pr, err := p.ProductByID(ctx, c.ProductID)
	if err != nil {
		return nil, nil, err
	}
	return c, pr, nil
}

// ListCampaigns returns campaigns newest-start first with the total count.
func (p *Postgres) ListCampaigns(ctx context.Context, skip, limit int) ([]models.Campaign, int, error) {
	var total int
	if err := p.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaigns`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count campaigns: %w", err)
	}

	rows, err := p.DB.QueryContext(ctx, `SELECT `+campaignColumns+` FROM campaigns
        ORDER BY start_time DESC OFFSET $1 LIMIT $2`, skip, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("query campaigns: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var campaigns []models.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows error: %w", err)
	}
	return campaigns, total, nil
}

// ActiveCampaigns returns campaigns whose window contains now. Used for the
// startup cache pre-warm.
func (p *Postgres) ActiveCampaigns(ctx context.Context, now time.Time) ([]models.Campaign, error) {
	rows, err := p.DB.QueryContext(ctx, `SELECT `+campaignColumns+` FROM campaigns
        WHERE start_time <= $1 AND end_time > $1`, now)
	if err != nil {
		return nil, fmt.Errorf("query active campaigns: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var campaigns []models.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return campaigns, nil
}

// CampaignsToSettle returns campaigns whose window has closed but whose
// durable status has not flipped to ended yet.
func (p *Postgres) CampaignsToSettle(ctx context.Context, now time.Time) ([]models.Campaign, error) {
	rows, err := p.DB.QueryContext(ctx, `SELECT `+campaignColumns+` FROM campaigns
        WHERE status != 'ended' AND end_time < $1`, now)
	if err != nil {
		return nil, fmt.Errorf("query campaigns to settle: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var campaigns []models.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return campaigns, nil
}

// MarkCampaignEnded flips the durable campaign status inside a transaction.
func (p *Postgres) MarkCampaignEnded(ctx context.Context, tx *sql.Tx, id uuid.UUID) error {
	if _, err := tx.ExecContext(ctx, `UPDATE campaigns SET status='ended' WHERE campaign_id=$1`, id); err != nil {
		return fmt.Errorf("mark campaign ended: %w", err)
	}
	return nil
}

// ==================== Bids ====================

const bidColumns = `bid_id, campaign_id, user_id, product_id, price, score, time_elapsed_ms, bid_number, created_at`

func scanBid(row interface{ Scan(...interface{}) error }) (*models.Bid, error) {
	var b models.Bid
	var score decimal.Decimal
	err := row.Scan(&b.ID, &b.CampaignID, &b.UserID, &b.ProductID, &b.Price, &score, &b.TimeElapsedMS, &b.BidNumber, &b.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan bid: %w", err)
	}
	b.Score = score.InexactFloat64()
	return &b, nil
}

// UpsertBid inserts a bid or, on the (campaign_id, user_id) unique index,
// overwrites price/score/elapsed and bumps bid_number — a single atomic
// statement, never read-modify-write. The resulting row is returned.
func (p *Postgres) UpsertBid(ctx context.Context, b *models.Bid) (*models.Bid, error) {
	row := p.DB.QueryRowContext(ctx, `INSERT INTO bids (bid_id, campaign_id, user_id, product_id, price, score, time_elapsed_ms, bid_number)
        VALUES ($1,$2,$3,$4,$5,$6,$7,1)
        ON CONFLICT (campaign_id, user_id) DO UPDATE SET
            price = EXCLUDED.price,
            score = EXCLUDED.score,
            time_elapsed_ms = EXCLUDED.time_elapsed_ms,
            bid_number = bids.bid_number + 1
        RETURNING `+bidColumns,
		b.ID, b.CampaignID, b.UserID, b.ProductID, b.Price, decimal.NewFromFloat(b.Score), b.TimeElapsedMS)
	return scanBid(row)
}

// BidFor returns the stored bid for (campaign, user).
func (p *Postgres) BidFor(ctx context.Context, campaignID, userID uuid.UUID) (*models.Bid, error) {
	row := p.DB.QueryRowContext(ctx, `SELECT `+bidColumns+` FROM bids WHERE campaign_id=$1 AND user_id=$2`, campaignID, userID)
	return scanBid(row)
}

// MaxBidPrice returns the highest durable bid price for a campaign, or nil
// when no bids exist. The degraded fallback for the cached max-price cell.
func (p *Postgres) MaxBidPrice(ctx context.Context, campaignID uuid.UUID) (*float64, error) {
	var max sql.NullFloat64
	err := p.DB.QueryRowContext(ctx, `SELECT MAX(price) FROM bids WHERE campaign_id=$1`, campaignID).Scan(&max)
	if err != nil {
		return nil, fmt.Errorf("max bid price: %w", err)
	}
	if !max.Valid {
		return nil, nil
	}
	return &max.Float64, nil
}

// ==================== Orders ====================

const orderColumns = `order_id, campaign_id, user_id, product_id, final_price, final_score, final_rank, status, created_at`

func scanOrder(row interface{ Scan(...interface{}) error }) (*models.Order, error) {
	var o models.Order
	var score decimal.Decimal
	err := row.Scan(&o.ID, &o.CampaignID, &o.UserID, &o.ProductID, &o.FinalPrice, &score, &o.FinalRank, &o.Status, &o.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan order: %w", err)
	}
	o.FinalScore = score.InexactFloat64()
	return &o, nil
}

// InsertOrder persists a confirmed order inside the settlement transaction.
func (p *Postgres) InsertOrder(ctx context.Context, tx *sql.Tx, o *models.Order) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO orders (order_id, campaign_id, user_id, product_id, final_price, final_score, final_rank, status)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		o.ID, o.CampaignID, o.UserID, o.ProductID, o.FinalPrice, decimal.NewFromFloat(o.FinalScore), o.FinalRank, o.Status)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// OrdersByUser returns a user's orders, newest first, with the total count.
func (p *Postgres) OrdersByUser(ctx context.Context, userID uuid.UUID, skip, limit int) ([]models.Order, int, error) {
	var total int
	if err := p.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders WHERE user_id=$1`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}

	rows, err := p.DB.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders
        WHERE user_id=$1 ORDER BY created_at DESC OFFSET $2 LIMIT $3`, userID, skip, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("query orders: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var orders []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows error: %w", err)
	}
	return orders, total, nil
}

// OrdersByCampaign returns a campaign's orders in rank order with the total count.
func (p *Postgres) OrdersByCampaign(ctx context.Context, campaignID uuid.UUID, skip, limit int) ([]models.Order, int, error) {
	var total int
	if err := p.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders WHERE campaign_id=$1`, campaignID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}

	rows, err := p.DB.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders
        WHERE campaign_id=$1 ORDER BY final_rank ASC OFFSET $2 LIMIT $3`, campaignID, skip, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("query orders: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var orders []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows error: %w", err)
	}
	return orders, total, nil
}
