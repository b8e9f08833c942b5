package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	_ "github.com/ClickHouse/clickhouse-go/v2"

	"github.com/patrickwarner/flashbid/internal/models"
	"github.com/patrickwarner/flashbid/internal/observability"
)

// ErrUnavailable names the analytics-not-configured condition. No function
// in this package returns it: RecordBid on an unconfigured sink is a no-op.
var ErrUnavailable = fmt.Errorf("analytics unavailable")

// Analytics is the append-only bid audit stream. Every accepted bid becomes
// a bid_events row, so the upsert-collapsed bids table keeps a full history
// alongside it. Strictly best effort: the bid hot path never blocks on it.
type Analytics struct {
	DB      *sql.DB
	Metrics observability.MetricsRegistry

	events chan *models.Bid
}

// InitClickHouse connects to ClickHouse and ensures the bid_events table exists.
func InitClickHouse(dsn string, metrics observability.MetricsRegistry) (*Analytics, error) {
	db, err := sql.Open("clickhouse", dsn)
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	db.SetMaxOpenConns(25)
	if err := db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}

	create := `CREATE TABLE IF NOT EXISTS bid_events (
       event_time      DateTime,
       bid_id          String,
       campaign_id     String,
       user_id         String,
       product_id      String,
       price           Float64,
       score           Float64,
       time_elapsed_ms Int64,
       bid_number      Int32
   ) ENGINE=MergeTree() ORDER BY (campaign_id, event_time)`
	if _, err := db.ExecContext(context.Background(), create); err != nil {
		return nil, fmt.Errorf("clickhouse create table: %w", err)
	}

	zap.L().Info("Connected to ClickHouse")
	return &Analytics{
		DB:      db,
		Metrics: metrics,
		events:  make(chan *models.Bid, 1024),
	}, nil
}

// RecordBid queues an accepted bid for the audit stream. When the buffer is
// full the event is dropped and counted, never blocking the caller.
func (a *Analytics) RecordBid(b *models.Bid) {
	if a == nil || a.DB == nil {
		return
	}
	select {
	case a.events <- b:
	default:
		a.Metrics.IncrementAuditErrors()
	}
}

// Run drains the event buffer into ClickHouse until ctx is cancelled.
func (a *Analytics) Run(ctx context.Context) {
	for {
		select {
		case b := <-a.events:
			a.insert(ctx, b)
		case <-ctx.Done():
			// Flush whatever is already buffered, bounded by a grace period.
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			for {
				select {
				case b := <-a.events:
					a.insert(flushCtx, b)
				default:
					return
				}
			}
		}
	}
}

func (a *Analytics) insert(ctx context.Context, b *models.Bid) {
	stmt := `INSERT INTO bid_events (event_time, bid_id, campaign_id, user_id, product_id, price, score, time_elapsed_ms, bid_number)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := a.DB.ExecContext(ctx, stmt,
		time.Now(), b.ID.String(), b.CampaignID.String(), b.UserID.String(), b.ProductID.String(),
		b.Price.InexactFloat64(), b.Score, b.TimeElapsedMS, int32(b.BidNumber))
	if err != nil {
		zap.L().Error("clickhouse insert failed", zap.Error(err))
		a.Metrics.IncrementAuditErrors()
	}
}

// Close shuts down the ClickHouse connection.
func (a *Analytics) Close() {
	if a != nil && a.DB != nil {
		if err := a.DB.Close(); err != nil {
			zap.L().Error("clickhouse close", zap.Error(err))
		}
	}
}
