package db

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/patrickwarner/flashbid/internal/models"
)

// Key layout. Stable; integrators may inspect these directly.
//
//	bid:<campaign>                    sorted set, score = bid score
//	bid_details:<campaign>:<user>     hash {price, username}
//	stock:<product>                   integer counter
//	lock:product:<product>            owner token, short TTL
//	campaign:<id>                     hash of pre-parsed campaign parameters
//	campaign:<id>:max_price           string
//	campaign_stats_snapshot:<id>      JSON, 5 s TTL
//	user:<id>                         hash cache, 120 s TTL
//	login:<hash16>                    cached login response, 60 s TTL
//	jwt:<hash16>                      cached decoded claims, 10 s TTL
//	ratelimit:ip:<ip>                 sorted set (sliding window)
//	ratelimit:user:<hash>             sorted set (sliding window)
func RankingKey(campaignID string) string  { return "bid:" + campaignID }
func StockKey(productID string) string     { return "stock:" + productID }
func LockKey(productID string) string      { return "lock:product:" + productID }
func CampaignKey(campaignID string) string { return "campaign:" + campaignID }
func UserKey(userID string) string         { return "user:" + userID }

func bidDetailsKey(campaignID, userID string) string {
	return "bid_details:" + campaignID + ":" + userID
}

// Cache TTLs.
const (
	UserCacheTTL  = 120 * time.Second
	LoginCacheTTL = 60 * time.Second
	JWTCacheTTL   = 10 * time.Second
	StatsCacheTTL = 5 * time.Second
)

// decrementStockScript decrements stock:<product> only while it is >= 1,
// returning the new value, or -1 when exhausted.
var decrementStockScript = redis.NewScript(`
local stock = tonumber(redis.call("GET", KEYS[1]))
if stock and stock >= 1 then
    return redis.call("DECR", KEYS[1])
else
    return -1
end
`)

// releaseLockScript deletes the lock only when the caller still owns it.
var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
else
    return 0
end
`)

// maxPriceScript overwrites the max-price cell only when the new price is
// strictly greater, keeping the cell monotone under concurrent bids.
var maxPriceScript = redis.NewScript(`
local key = KEYS[1]
local new_price = tonumber(ARGV[1])
local current = tonumber(redis.call('GET', key) or '0')
if new_price > current then
    redis.call('SET', key, ARGV[1])
    return 1
end
return 0
`)

// rateLimitScript is an atomic sliding-window check-and-add over a sorted
// set: prune, count, admit. Returns {allowed, retry_after_seconds}.
var rateLimitScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local request_id = ARGV[4]
local window_start = now - window

redis.call('ZREMRANGEBYSCORE', key, 0, window_start)

local count = redis.call('ZCARD', key)

if count < limit then
    redis.call('ZADD', key, now, request_id)
    redis.call('EXPIRE', key, window + 1)
    return {1, 0}
else
    local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
    local retry_after = 1
    if oldest and #oldest >= 2 then
        retry_after = math.ceil(oldest[2] + window - now) + 1
        if retry_after < 1 then retry_after = 1 end
    end
    return {0, retry_after}
end
`)

// RedisStore wraps the redis client behind the leaderboard, inventory, lock
// and cache operations the services need.
type RedisStore struct {
	Client *redis.Client
}

// InitRedis initializes a Redis client with bounded timeouts and returns a RedisStore.
func InitRedis(addr string, dialTimeout, opTimeout time.Duration) (*RedisStore, error) {
	rs := &RedisStore{
		Client: redis.NewClient(&redis.Options{
			Addr:         addr,
			DialTimeout:  dialTimeout,
			ReadTimeout:  opTimeout,
			WriteTimeout: opTimeout,
		}),
	}

	if err := redisotel.InstrumentTracing(rs.Client); err != nil {
		return nil, fmt.Errorf("failed to instrument redis tracing: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := rs.Client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	zap.L().Info("Connected to Redis", zap.String("addr", addr))
	return rs, nil
}

// Close shuts down the Redis client.
func (r *RedisStore) Close() {
	if r != nil && r.Client != nil {
		if err := r.Client.Close(); err != nil {
			zap.L().Error("redis close", zap.Error(err))
		}
	}
}

// ==================== Ranking ====================

// UpdateRankingAndRank updates a user's leaderboard entry and reads back
// their rank in a single pipelined round-trip: ZADD + HSET + ZREVRANK.
// The returned rank is 1-based.
func (r *RedisStore) UpdateRankingAndRank(ctx context.Context, campaignID, userID string, score, price float64, username string) (int64, error) {
	key := RankingKey(campaignID)

	pipe := r.Client.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: score, Member: userID})
	pipe.HSet(ctx, bidDetailsKey(campaignID, userID), map[string]interface{}{
		"price":    strconv.FormatFloat(price, 'f', -1, 64),
		"username": username,
	})
	rankCmd := pipe.ZRevRank(ctx, key, userID)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("ranking pipeline exec: %w", err)
	}

	rank, err := rankCmd.Result()
	if err != nil {
		return 0, fmt.Errorf("read back rank: %w", err)
	}
	return rank + 1, nil
}

// UserRank returns the user's 1-based rank, or 0 if the user has no entry.
func (r *RedisStore) UserRank(ctx context.Context, campaignID, userID string) (int64, error) {
	rank, err := r.Client.ZRevRank(ctx, RankingKey(campaignID), userID).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return rank + 1, nil
}

// UserScore returns the user's score, or nil if the user has no entry.
func (r *RedisStore) UserScore(ctx context.Context, campaignID, userID string) (*float64, error) {
	score, err := r.Client.ZScore(ctx, RankingKey(campaignID), userID).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &score, nil
}

// TotalParticipants returns the number of distinct bidders in a campaign.
func (r *RedisStore) TotalParticipants(ctx context.Context, campaignID string) (int64, error) {
	return r.Client.ZCard(ctx, RankingKey(campaignID)).Result()
}

// TopK returns the highest-scoring K entries with their bid details.
//
// Equal scores are ordered by member: the sorted set keeps ties in ascending
// lexicographic user-id order, so the descending read yields them in
// descending user-id order. Settlement depends on this being deterministic.
func (r *RedisStore) TopK(ctx context.Context, campaignID string, k int) ([]models.RankingEntry, error) {
	if k <= 0 {
		return nil, nil
	}
	raw, err := r.Client.ZRevRangeWithScores(ctx, RankingKey(campaignID), 0, int64(k-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("top-k range: %w", err)
	}
	return r.attachDetails(ctx, campaignID, raw)
}

// attachDetails resolves the detail hashes for a page of leaderboard members
// in one pipelined round-trip.
func (r *RedisStore) attachDetails(ctx context.Context, campaignID string, raw []redis.Z) ([]models.RankingEntry, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	pipe := r.Client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(raw))
	for i, z := range raw {
		cmds[i] = pipe.HGetAll(ctx, bidDetailsKey(campaignID, z.Member.(string)))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("details pipeline exec: %w", err)
	}

	entries := make([]models.RankingEntry, 0, len(raw))
	for i, z := range raw {
		entry := models.RankingEntry{
			Rank:   i + 1,
			UserID: z.Member.(string),
			Score:  z.Score,
		}
		if details, err := cmds[i].Result(); err == nil {
			if p, ok := details["price"]; ok {
				entry.Price, _ = strconv.ParseFloat(p, 64)
			}
			entry.Username = details["username"]
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// BroadcastData fetches everything a broadcast tick needs in two pipelined
// round-trips: top-K with stats, then the detail hashes for the K members.
func (r *RedisStore) BroadcastData(ctx context.Context, campaignID string, k int) (*models.RankingSnapshot, error) {
	key := RankingKey(campaignID)
	if k < 1 {
		k = 1
	}

	pipe := r.Client.Pipeline()
	topCmd := pipe.ZRevRangeWithScores(ctx, key, 0, int64(k-1))
	cardCmd := pipe.ZCard(ctx, key)
	kthCmd := pipe.ZRevRangeWithScores(ctx, key, int64(k-1), int64(k-1))
	maxCmd := pipe.ZRevRangeWithScores(ctx, key, 0, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("broadcast pipeline exec: %w", err)
	}

	snap := &models.RankingSnapshot{TotalParticipants: cardCmd.Val()}
	if kth := kthCmd.Val(); len(kth) > 0 {
		score := kth[0].Score
		snap.MinWinningScore = &score
	}
	if max := maxCmd.Val(); len(max) > 0 {
		score := max[0].Score
		snap.MaxScore = &score
	}

	entries, err := r.attachDetails(ctx, campaignID, topCmd.Val())
	if err != nil {
		return nil, err
	}
	snap.TopK = entries
	return snap, nil
}

// CacheStatsSnapshot stores a pre-computed ranking snapshot with a short TTL.
func (r *RedisStore) CacheStatsSnapshot(ctx context.Context, campaignID string, snap *models.RankingSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return r.Client.SetEx(ctx, "campaign_stats_snapshot:"+campaignID, data, StatsCacheTTL).Err()
}

// StatsSnapshot returns the cached ranking snapshot, or nil when expired.
func (r *RedisStore) StatsSnapshot(ctx context.Context, campaignID string) (*models.RankingSnapshot, error) {
	data, err := r.Client.Get(ctx, "campaign_stats_snapshot:"+campaignID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snap models.RankingSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// ==================== Inventory ====================

// InitStock sets the stock counter for a product.
func (r *RedisStore) InitStock(ctx context.Context, productID string, quantity int) error {
	return r.Client.Set(ctx, StockKey(productID), quantity, 0).Err()
}

// Stock returns the current stock counter, or 0 when unset.
func (r *RedisStore) Stock(ctx context.Context, productID string) (int, error) {
	val, err := r.Client.Get(ctx, StockKey(productID)).Int()
	if err == redis.Nil {
		return 0, nil
	}
	return val, err
}

// DecrementStock atomically decrements the stock counter while it is >= 1.
// Returns the new value, or -1 when the counter is exhausted.
func (r *RedisStore) DecrementStock(ctx context.Context, productID string) (int, error) {
	res, err := decrementStockScript.Run(ctx, r.Client, []string{StockKey(productID)}).Int()
	if err != nil {
		return 0, fmt.Errorf("decrement stock: %w", err)
	}
	return res, nil
}

// IncrementStock restores one unit of stock. Used to roll back a decrement
// after a downstream durable failure.
func (r *RedisStore) IncrementStock(ctx context.Context, productID string) (int64, error) {
	return r.Client.Incr(ctx, StockKey(productID)).Result()
}

// ==================== Distributed lock ====================

// AcquireLock takes the short-TTL per-product lock via SET NX EX. The owner
// token must be presented again to release.
func (r *RedisStore) AcquireLock(ctx context.Context, productID, owner string, ttl time.Duration) (bool, error) {
	return r.Client.SetNX(ctx, LockKey(productID), owner, ttl).Result()
}

// ReleaseLock deletes the lock only if owner still holds it.
func (r *RedisStore) ReleaseLock(ctx context.Context, productID, owner string) (bool, error) {
	res, err := releaseLockScript.Run(ctx, r.Client, []string{LockKey(productID)}, owner).Int()
	if err != nil {
		return false, fmt.Errorf("release lock: %w", err)
	}
	return res == 1, nil
}

// ==================== Campaign cache (tier 2) ====================

// CacheCampaign writes campaign parameters as a hash with the given TTL.
func (r *RedisStore) CacheCampaign(ctx context.Context, campaignID string, fields map[string]string, ttl time.Duration) error {
	key := CampaignKey(campaignID)
	pipe := r.Client.Pipeline()
	pipe.HSet(ctx, key, fields)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// CachedCampaign returns the cached parameter hash, or nil on a miss.
func (r *RedisStore) CachedCampaign(ctx context.Context, campaignID string) (map[string]string, error) {
	data, err := r.Client.HGetAll(ctx, CampaignKey(campaignID)).Result()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	return data, nil
}

// InvalidateCampaign drops the cached parameter hash.
func (r *RedisStore) InvalidateCampaign(ctx context.Context, campaignID string) error {
	return r.Client.Del(ctx, CampaignKey(campaignID)).Err()
}

// ==================== Max price ====================

// UpdateMaxPrice raises the campaign's max-price cell when price exceeds the
// current value. Lower prices leave the cell untouched.
func (r *RedisStore) UpdateMaxPrice(ctx context.Context, campaignID string, price float64) error {
	key := CampaignKey(campaignID) + ":max_price"
	return maxPriceScript.Run(ctx, r.Client, []string{key}, strconv.FormatFloat(price, 'f', -1, 64)).Err()
}

// MaxPrice returns the cached campaign max price, or nil when unset.
func (r *RedisStore) MaxPrice(ctx context.Context, campaignID string) (*float64, error) {
	val, err := r.Client.Get(ctx, CampaignKey(campaignID)+":max_price").Float64()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &val, nil
}

// ==================== User cache ====================

// CacheUser stores a user hash for authentication lookups.
func (r *RedisStore) CacheUser(ctx context.Context, userID string, fields map[string]string) error {
	key := UserKey(userID)
	pipe := r.Client.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, UserCacheTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// CachedUser returns the cached user hash, or nil on a miss.
func (r *RedisStore) CachedUser(ctx context.Context, userID string) (map[string]string, error) {
	data, err := r.Client.HGetAll(ctx, UserKey(userID)).Result()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	return data, nil
}

// InvalidateUser drops the cached user hash. Nothing calls it, so a cached
// user picks up a durable status change only once UserCacheTTL expires.
func (r *RedisStore) InvalidateUser(ctx context.Context, userID string) error {
	return r.Client.Del(ctx, UserKey(userID)).Err()
}

// ==================== Login / JWT caches ====================

// CacheLogin stores a serialized login response under the credentials hash.
func (r *RedisStore) CacheLogin(ctx context.Context, hash string, payload []byte) error {
	return r.Client.SetEx(ctx, "login:"+hash, payload, LoginCacheTTL).Err()
}

// CachedLogin returns the cached login response, or nil on a miss.
func (r *RedisStore) CachedLogin(ctx context.Context, hash string) ([]byte, error) {
	data, err := r.Client.Get(ctx, "login:"+hash).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	return data, err
}

// CacheJWT stores decoded token claims under the token hash.
func (r *RedisStore) CacheJWT(ctx context.Context, hash string, payload []byte) error {
	return r.Client.SetEx(ctx, "jwt:"+hash, payload, JWTCacheTTL).Err()
}

// CachedJWT returns cached decoded claims, or nil on a miss.
func (r *RedisStore) CachedJWT(ctx context.Context, hash string) ([]byte, error) {
	data, err := r.Client.Get(ctx, "jwt:"+hash).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	return data, err
}

// ==================== Rate limiting ====================

// AllowRateLimit runs the sliding-window check-and-add for a key. The
// requestID must be unique per request so window members never collide.
// Returns whether the request is admitted and a retry-after hint in seconds.
func (r *RedisStore) AllowRateLimit(ctx context.Context, key string, limit int, window time.Duration, now time.Time, requestID string) (bool, int, error) {
	res, err := rateLimitScript.Run(ctx, r.Client, []string{key},
		float64(now.UnixNano())/float64(time.Second),
		window.Seconds(),
		limit,
		requestID,
	).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("rate limit script: %w", err)
	}
	if len(res) != 2 {
		return false, 0, fmt.Errorf("rate limit script: unexpected reply %v", res)
	}
	return res[0] == 1, int(res[1]), nil
}
