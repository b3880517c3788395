// Package redis provides a Redis-backed GenerationLedger for deployments that
// run several service instances without a shared SQLite file.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/warp/maintenance-engine/maintenance"
	"go.uber.org/zap"
)

// DefaultRetention keeps ledger keys a bit over a year.
const DefaultRetention = 400 * 24 * time.Hour

// Config holds Redis connection configuration.
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	Retention time.Duration
}

// Commands is the subset of *redis.Client the ledger uses.
type Commands interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd
	ZRangeByScore(ctx context.Context, key string, opt *redis.ZRangeBy) *redis.StringSliceCmd
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
}

// Ledger stores one "begin" key and, once finished, one "done" key per run.
// Both are written with SET NX, so each is created at most once:
//
//	<prefix>run:<date>:<type>       started_at, triggered_by
//	<prefix>run:<date>:<type>:done  completed_at, orders_generated, details
//	<prefix>runs                    sorted set index, score = yyyymmdd
type Ledger struct {
	rdb       Commands
	prefix    string
	retention time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// NewClient connects and pings, failing fast on a bad address.
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}

// NewLedger returns a Ledger over rdb.
func NewLedger(rdb Commands, cfg Config, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "pm:"
	}
	retention := cfg.Retention
	if retention == 0 {
		retention = DefaultRetention
	}
	return &Ledger{rdb: rdb, prefix: prefix, retention: retention, logger: logger.Named("redis-ledger"), now: time.Now}
}

type beginRecord struct {
	Date        string    `json:"date"`
	Type        string    `json:"type"`
	StartedAt   time.Time `json:"started_at"`
	TriggeredBy string    `json:"triggered_by,omitempty"`
}

type doneRecord struct {
	CompletedAt     time.Time `json:"completed_at"`
	OrdersGenerated int       `json:"orders_generated"`
	Details         string    `json:"details,omitempty"`
}

func (l *Ledger) runKey(date string, typ maintenance.GenerationType) string {
	return l.prefix + "run:" + date + ":" + string(typ)
}

func (l *Ledger) indexKey() string { return l.prefix + "runs" }

// TryBeginRun reserves the key with SET NX.
func (l *Ledger) TryBeginRun(ctx context.Context, date string, typ maintenance.GenerationType, triggeredBy string) (maintenance.BeginResult, error) {
	score, err := dateScore(date)
	if err != nil {
		return maintenance.AlreadyRan, err
	}
	rec, _ := json.Marshal(beginRecord{Date: date, Type: string(typ), StartedAt: l.now().UTC(), TriggeredBy: triggeredBy})

	ok, err := l.rdb.SetNX(ctx, l.runKey(date, typ), rec, l.retention).Result()
	if err != nil {
		return maintenance.AlreadyRan, fmt.Errorf("failed to reserve generation run: %w", err)
	}
	if !ok {
		return maintenance.AlreadyRan, nil
	}

	// The index only serves Runs; the reservation above already stands.
	member := date + "|" + string(typ)
	if err := l.rdb.ZAdd(ctx, l.indexKey(), redis.Z{Score: score, Member: member}).Err(); err != nil {
		l.logger.Warn("failed to index generation run", zap.String("run", member), zap.Error(err))
	}
	return maintenance.Acquired, nil
}

// CompleteRun writes the done key with SET NX.
func (l *Ledger) CompleteRun(ctx context.Context, date string, typ maintenance.GenerationType, ordersGenerated int, details string) error {
	key := l.runKey(date, typ)
	n, err := l.rdb.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to check generation run: %w", err)
	}
	if n == 0 {
		return maintenance.ErrRunNotStarted
	}

	rec, _ := json.Marshal(doneRecord{CompletedAt: l.now().UTC(), OrdersGenerated: ordersGenerated, Details: details})
	ok, err := l.rdb.SetNX(ctx, key+":done", rec, l.retention).Result()
	if err != nil {
		return fmt.Errorf("failed to complete generation run: %w", err)
	}
	if !ok {
		return maintenance.ErrRunAlreadyCompleted
	}
	return nil
}

// Runs lists indexed runs with date in [from, to].
func (l *Ledger) Runs(ctx context.Context, from, to string) ([]maintenance.LedgerEntry, error) {
	lo, err := dateScore(from)
	if err != nil {
		return nil, err
	}
	hi, err := dateScore(to)
	if err != nil {
		return nil, err
	}

	members, err := l.rdb.ZRangeByScore(ctx, l.indexKey(), &redis.ZRangeBy{
		Min: strconv.FormatFloat(lo, 'f', 0, 64),
		Max: strconv.FormatFloat(hi, 'f', 0, 64),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list generation runs: %w", err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, 2*len(members))
	for _, m := range members {
		date, typ, _ := strings.Cut(m, "|")
		k := l.runKey(date, maintenance.GenerationType(typ))
		keys = append(keys, k, k+":done")
	}
	values, err := l.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load generation runs: %w", err)
	}

	entries := make([]maintenance.LedgerEntry, 0, len(members))
	for i := 0; i+1 < len(values); i += 2 {
		begin, ok := values[i].(string)
		if !ok {
			continue // expired
		}
		var b beginRecord
		if err := json.Unmarshal([]byte(begin), &b); err != nil {
			return nil, fmt.Errorf("corrupt ledger record %s: %w", keys[i], err)
		}
		e := maintenance.LedgerEntry{
			Date:        b.Date,
			Type:        maintenance.GenerationType(b.Type),
			StartedAt:   b.StartedAt,
			TriggeredBy: b.TriggeredBy,
		}
		if done, ok := values[i+1].(string); ok {
			var d doneRecord
			if err := json.Unmarshal([]byte(done), &d); err != nil {
				return nil, fmt.Errorf("corrupt ledger record %s: %w", keys[i+1], err)
			}
			e.CompletedAt = &d.CompletedAt
			e.OrdersGenerated = d.OrdersGenerated
			e.Details = d.Details
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// dateScore turns YYYY-MM-DD into yyyymmdd so the index sorts by date.
func dateScore(date string) (float64, error) {
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return 0, fmt.Errorf("invalid ledger date %q: %w", date, err)
	}
	return float64(t.Year()*10000 + int(t.Month())*100 + t.Day()), nil
}

var _ interface {
	maintenance.GenerationLedger
	maintenance.LedgerReader
} = (*Ledger)(nil)

