package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	ledgerPrefix = "tidegate:ledger:"
	appealPrefix = "tidegate:appeal:"

	// txRetries bounds the optimistic-transaction retry loop in UpdateRecord.
	txRetries = 16
)

type redisStore struct {
	rdb *redis.Client
	ctx context.Context
}

// RedisOptions configures the redis-backed store.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisStore connects to redis and verifies the connection with a ping.
// It satisfies the same atomicity contract as the bbolt store by running
// UpdateRecord under a WATCH-based optimistic transaction per identity key.
func NewRedisStore(opts RedisOptions) (Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", opts.Addr, err)
	}
	return &redisStore{rdb: rdb, ctx: ctx}, nil
}

// ---- Ledger ----------------------------------------------------------------

func (s *redisStore) GetRecord(id string) (*LedgerRecord, error) {
	raw, err := s.rdb.Get(s.ctx, ledgerPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec LedgerRecord
	if err := msgpack.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal record for %s: %w", id, err)
	}
	return &rec, nil
}

func (s *redisStore) UpdateRecord(id string, fn func(*LedgerRecord) error) (LedgerRecord, error) {
	key := ledgerPrefix + id
	var out LedgerRecord

	txn := func(tx *redis.Tx) error {
		var rec LedgerRecord
		raw, err := tx.Get(s.ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil {
			if err := msgpack.Unmarshal(raw, &rec); err != nil {
				return fmt.Errorf("unmarshal record for %s: %w", id, err)
			}
		}
		if err := fn(&rec); err != nil {
			return err
		}
		data, err := msgpack.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		_, err = tx.TxPipelined(s.ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(s.ctx, key, data, 0)
			return nil
		})
		if err != nil {
			return err
		}
		out = rec
		return nil
	}

	for i := 0; i < txRetries; i++ {
		err := s.rdb.Watch(s.ctx, txn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue // concurrent writer touched the key; retry
		}
		return out, err
	}
	return out, fmt.Errorf("update record %s: transaction contention after %d retries", id, txRetries)
}

func (s *redisStore) DeleteRecord(id string) error {
	return s.rdb.Del(s.ctx, ledgerPrefix+id).Err()
}

func (s *redisStore) ListRecords() (map[string]LedgerRecord, error) {
	result := make(map[string]LedgerRecord)
	iter := s.rdb.Scan(s.ctx, 0, ledgerPrefix+"*", 0).Iterator()
	for iter.Next(s.ctx) {
		key := iter.Val()
		raw, err := s.rdb.Get(s.ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var rec LedgerRecord
		if err := msgpack.Unmarshal(raw, &rec); err != nil {
			continue // skip corrupt entries
		}
		result[strings.TrimPrefix(key, ledgerPrefix)] = rec
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// ---- Appeals ---------------------------------------------------------------

func (s *redisStore) GetAppeal(id string) (*Appeal, error) {
	raw, err := s.rdb.Get(s.ctx, appealPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var a Appeal
	if err := msgpack.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("unmarshal appeal for %s: %w", id, err)
	}
	return &a, nil
}

func (s *redisStore) PutAppeal(a Appeal) error {
	data, err := msgpack.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal appeal: %w", err)
	}
	return s.rdb.Set(s.ctx, appealPrefix+a.Identity, data, 0).Err()
}

func (s *redisStore) DeleteAppeal(id string) error {
	return s.rdb.Del(s.ctx, appealPrefix+id).Err()
}

func (s *redisStore) ListAppeals() ([]Appeal, error) {
	var result []Appeal
	iter := s.rdb.Scan(s.ctx, 0, appealPrefix+"*", 0).Iterator()
	for iter.Next(s.ctx) {
		raw, err := s.rdb.Get(s.ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var a Appeal
		if err := msgpack.Unmarshal(raw, &a); err != nil {
			continue
		}
		result = append(result, a)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// ---- Janitor ---------------------------------------------------------------

func (s *redisStore) PruneSettled(now time.Time) (int, error) {
	records, err := s.ListRecords()
	if err != nil {
		return 0, err
	}
	var pruned int
	for id, rec := range records {
		if rec.Strikes <= 0 && !rec.InCooldown(now) {
			if err := s.rdb.Del(s.ctx, ledgerPrefix+id).Err(); err != nil {
				return pruned, err
			}
			pruned++
		}
	}
	return pruned, nil
}

// ---- Utility ---------------------------------------------------------------

// SizeBytes reports redis used_memory, the closest analogue to on-disk size.
func (s *redisStore) SizeBytes() (int64, error) {
	info, err := s.rdb.Info(s.ctx, "memory").Result()
	if err != nil {
		return 0, err
	}
	for _, line := range strings.Split(info, "\n") {
		if v, ok := strings.CutPrefix(strings.TrimSpace(line), "used_memory:"); ok {
			return strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		}
	}
	return 0, nil
}

func (s *redisStore) Close() error {
	return s.rdb.Close()
}
