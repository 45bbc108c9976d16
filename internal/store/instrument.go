package store

import (
	"context"
	"errors"
	"time"
)

// instrumentedKV reports failed operations to a callback with the operation
// name. Not-found results are part of the protocol, not failures.
type instrumentedKV struct {
	kv      KV
	onError func(op string)
}

// Instrument wraps a KV so every operation failure reaches onError. A nil
// callback returns the store unchanged.
func Instrument(kv KV, onError func(op string)) KV {
	if onError == nil {
		return kv
	}
	return &instrumentedKV{kv: kv, onError: onError}
}

func (i *instrumentedKV) report(op string, err error) {
	if err != nil && !errors.Is(err, ErrNotFound) {
		i.onError(op)
	}
}

func (i *instrumentedKV) Get(ctx context.Context, key string) (string, error) {
	v, err := i.kv.Get(ctx, key)
	i.report("get", err)
	return v, err
}

func (i *instrumentedKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	err := i.kv.Set(ctx, key, value, ttl)
	i.report("set", err)
	return err
}

func (i *instrumentedKV) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := i.kv.SetNX(ctx, key, value, ttl)
	i.report("setnx", err)
	return ok, err
}

func (i *instrumentedKV) Del(ctx context.Context, keys ...string) error {
	err := i.kv.Del(ctx, keys...)
	i.report("del", err)
	return err
}

func (i *instrumentedKV) Expire(ctx context.Context, key string, ttl time.Duration) error {
	err := i.kv.Expire(ctx, key, ttl)
	i.report("expire", err)
	return err
}

func (i *instrumentedKV) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	n, err := i.kv.Incr(ctx, key, ttl)
	i.report("incr", err)
	return n, err
}

func (i *instrumentedKV) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	fields, err := i.kv.HGetAll(ctx, key)
	i.report("hgetall", err)
	return fields, err
}

func (i *instrumentedKV) HSet(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error {
	err := i.kv.HSet(ctx, key, fields, ttl)
	i.report("hset", err)
	return err
}

func (i *instrumentedKV) HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error) {
	n, err := i.kv.HIncrBy(ctx, key, field, delta)
	i.report("hincrby", err)
	return n, err
}

func (i *instrumentedKV) SAdd(ctx context.Context, key string, members ...string) error {
	err := i.kv.SAdd(ctx, key, members...)
	i.report("sadd", err)
	return err
}

func (i *instrumentedKV) SRem(ctx context.Context, key string, members ...string) error {
	err := i.kv.SRem(ctx, key, members...)
	i.report("srem", err)
	return err
}

func (i *instrumentedKV) SIsMember(ctx context.Context, key, member string) (bool, error) {
	ok, err := i.kv.SIsMember(ctx, key, member)
	i.report("sismember", err)
	return ok, err
}

func (i *instrumentedKV) SMembers(ctx context.Context, key string) ([]string, error) {
	members, err := i.kv.SMembers(ctx, key)
	i.report("smembers", err)
	return members, err
}

func (i *instrumentedKV) LPush(ctx context.Context, key string, values ...string) error {
	err := i.kv.LPush(ctx, key, values...)
	i.report("lpush", err)
	return err
}

func (i *instrumentedKV) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	values, err := i.kv.LRange(ctx, key, start, stop)
	i.report("lrange", err)
	return values, err
}

func (i *instrumentedKV) LTrim(ctx context.Context, key string, start, stop int64) error {
	err := i.kv.LTrim(ctx, key, start, stop)
	i.report("ltrim", err)
	return err
}

func (i *instrumentedKV) Scan(ctx context.Context, pattern string) ([]string, error) {
	keys, err := i.kv.Scan(ctx, pattern)
	i.report("scan", err)
	return keys, err
}

func (i *instrumentedKV) Ping(ctx context.Context) error {
	err := i.kv.Ping(ctx)
	i.report("ping", err)
	return err
}

func (i *instrumentedKV) Close() error {
	return i.kv.Close()
}
