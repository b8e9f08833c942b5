package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/patrickwarner/flashbid/internal/cache"
	"github.com/patrickwarner/flashbid/internal/config"
	"github.com/patrickwarner/flashbid/internal/db"
	"github.com/patrickwarner/flashbid/internal/models"
	"github.com/patrickwarner/flashbid/internal/observability"
)

var (
	userCount = flag.Int("users", 20, "number of demo users")
	stock     = flag.Int("stock", 10, "product stock (campaign quota)")
	minPrice  = flag.Float64("min-price", 800, "product minimum price")
	duration  = flag.Duration("duration", 10*time.Minute, "campaign duration from now")
	seed      = flag.Int64("seed", time.Now().UnixNano(), "rng seed")
)

func main() {
	flag.Parse()

	logger, err := observability.InitLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg := config.Load()
	pg, err := db.InitPostgres(cfg.PostgresDSN, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect postgres: %v\n", err)
		os.Exit(1)
	}
	defer pg.Close()

	store, err := db.InitRedis(cfg.RedisAddr, cfg.RedisDialTimeout, cfg.RedisOpTimeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect redis: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx := context.Background()
	r := rand.New(rand.NewSource(*seed))
	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.DefaultCost)
	if err != nil {
		logger.Fatal("hash demo password", zap.Error(err))
	}

	admin := &models.User{
		ID:           uuid.New(),
		Email:        "admin@example.com",
		PasswordHash: string(hash),
		Username:     "admin",
		Weight:       decimal.NewFromFloat(1.0),
		Status:       models.UserStatusActive,
		IsAdmin:      true,
	}
	if err := pg.InsertUser(ctx, admin); err != nil && err != db.ErrEmailTaken {
		logger.Fatal("insert admin", zap.Error(err))
	}

	for i := 0; i < *userCount; i++ {
		weight := decimal.NewFromFloat(0.5 + r.Float64()*4.5).Round(2)
		user := &models.User{
			ID:           uuid.New(),
			Email:        fmt.Sprintf("bidder%02d@example.com", i+1),
			PasswordHash: string(hash),
			Username:     fmt.Sprintf("bidder%02d", i+1),
			Weight:       weight,
			Status:       models.UserStatusActive,
		}
		if err := pg.InsertUser(ctx, user); err != nil && err != db.ErrEmailTaken {
			logger.Fatal("insert user", zap.Error(err))
		}
	}

	product := &models.Product{
		ID:       uuid.New(),
		Name:     "Limited Edition Console",
		Stock:    *stock,
		MinPrice: decimal.NewFromFloat(*minPrice),
		Status:   models.ProductStatusActive,
	}
	if err := pg.InsertProduct(ctx, product); err != nil {
		logger.Fatal("insert product", zap.Error(err))
	}

	now := time.Now().UTC()
	campaign := &models.Campaign{
		ID:        uuid.New(),
		ProductID: product.ID,
		StartTime: now,
		EndTime:   now.Add(*duration),
		Alpha:     decimal.NewFromInt(1),
		Beta:      decimal.NewFromInt(1000),
		Gamma:     decimal.NewFromInt(100),
		Quota:     product.Stock,
		Status:    models.CampaignStatusPending,
	}
	if err := pg.InsertCampaign(ctx, campaign); err != nil {
		logger.Fatal("insert campaign", zap.Error(err))
	}

	if err := store.InitStock(ctx, product.ID.String(), product.Stock); err != nil {
		logger.Fatal("init stock counter", zap.Error(err))
	}
	view := models.ViewOf(campaign, product)
	if err := store.CacheCampaign(ctx, campaign.ID.String(), cache.Fields(view), *duration+cache.RedisTTLBuffer); err != nil {
		logger.Fatal("cache campaign", zap.Error(err))
	}

	logger.Info("seeded demo data",
		zap.String("campaign_id", campaign.ID.String()),
		zap.String("product_id", product.ID.String()),
		zap.Int("users", *userCount),
		zap.Int("quota", product.Stock))
}
