package usage

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisStore keeps the day's counters in a per-user hash keyed by UTC date,
// for deployments that prefer not to put hot counters on Postgres. Keys
// expire after two days; the date in the key does the actual daily reset.
type RedisStore struct {
	rc *redis.Client
}

func NewRedisStore(rc *redis.Client) *RedisStore { return &RedisStore{rc: rc} }

const (
	fieldAnalysis = "analysis"
	fieldScan     = "scan"
	redisKeyTTL   = 48 * time.Hour
)

func usageKey(userID string, now time.Time) string {
	return fmt.Sprintf("usage:%s:%s", userID, now.UTC().Format("20060102"))
}

func (s *RedisStore) TodayUsage(ctx context.Context, userID string) (Record, error) {
	vals, err := s.rc.HGetAll(ctx, usageKey(userID, time.Now())).Result()
	if err != nil {
		return Record{}, err
	}
	rec := Record{UserID: userID}
	fmt.Sscanf(vals[fieldAnalysis], "%d", &rec.AnalysisCount)
	fmt.Sscanf(vals[fieldScan], "%d", &rec.ScanCount)
	return rec, nil
}

func (s *RedisStore) IncrementAnalysis(ctx context.Context, userID string) (int, error) {
	return s.incr(ctx, userID, fieldAnalysis)
}

func (s *RedisStore) IncrementScan(ctx context.Context, userID string) (int, error) {
	return s.incr(ctx, userID, fieldScan)
}

func (s *RedisStore) incr(ctx context.Context, userID, field string) (int, error) {
	key := usageKey(userID, time.Now())
	n, err := s.rc.HIncrBy(ctx, key, field, 1).Result()
	if err != nil {
		return 0, err
	}
	_ = s.rc.Expire(ctx, key, redisKeyTTL).Err()
	return int(n), nil
}
