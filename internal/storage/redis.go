package storage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/price-monitor-bot/internal/types"
	"github.com/redis/go-redis/v9"
)

const redisStateKey = "pricemonitor:state"

// RedisStorage keeps the state as a hash, one field per state attribute
type RedisStorage struct {
	client  *redis.Client
	key     string
	timeout time.Duration
}

// NewRedisStorage connects to addr, which is a host:port or a redis:// URL
func NewRedisStorage(addr string) (*RedisStorage, error) {
	opts, err := redis.ParseURL(addr)
	if err != nil {
		opts = &redis.Options{Addr: addr}
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	r := &RedisStorage{
		client:  redis.NewClient(opts),
		key:     redisStateKey,
		timeout: 5 * time.Second,
	}

	ctx, cancel := r.context()
	defer cancel()

	if err := r.client.Ping(ctx).Err(); err != nil {
		r.client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}

	return r, nil
}

func (r *RedisStorage) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), r.timeout)
}

func (r *RedisStorage) Save(state *types.MonitorState) error {
	ctx, cancel := r.context()
	defer cancel()

	err := r.client.HSet(ctx, r.key,
		"first_run", strconv.FormatBool(state.FirstRun),
		"daily_min", strconv.FormatFloat(state.DailyMin, 'f', -1, 64),
		"last_report_date", state.LastReportDate,
	).Err()
	if err != nil {
		return fmt.Errorf("redis hset: %w", err)
	}

	return nil
}

func (r *RedisStorage) Load() (*types.MonitorState, error) {
	ctx, cancel := r.context()
	defer cancel()

	fields, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall: %w", err)
	}

	return stateFromFields(fields)
}

func (r *RedisStorage) Close() error {
	return r.client.Close()
}

// stateFromFields decodes the hash; a missing key yields an empty state
func stateFromFields(fields map[string]string) (*types.MonitorState, error) {
	state := &types.MonitorState{LastReportDate: fields["last_report_date"]}

	if v, ok := fields["first_run"]; ok {
		firstRun, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("decode first_run: %w", err)
		}
		state.FirstRun = firstRun
	}

	if v, ok := fields["daily_min"]; ok {
		dailyMin, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("decode daily_min: %w", err)
		}
		state.DailyMin = dailyMin
	}

	return state, nil
}
