package store

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"sync"
	"time"
)

type entryKind int

const (
	kindString entryKind = iota
	kindHash
	kindSet
	kindList
)

type memEntry struct {
	kind      entryKind
	expiresAt time.Time // zero means no expiry
	str       string
	num       int64
	isNum     bool
	hash      map[string]string
	set       map[string]struct{}
	list      []string
}

func (e *memEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Memory implements KV on process-local maps. It is not shared across
// replicas and exists for single-instance deployments and tests; production
// multi-replica setups must use Redis.
type Memory struct {
	mu        sync.Mutex
	entries   map[string]*memEntry
	lastSweep time.Time
	now       func() time.Time
}

const memorySweepInterval = time.Minute

func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]*memEntry),
		now:     time.Now,
	}
}

// lookupLocked returns a live entry of the wanted kind, nil when absent.
func (m *Memory) lookupLocked(key string, kind entryKind) (*memEntry, error) {
	now := m.now()
	m.maybeSweepLocked(now)

	e, ok := m.entries[key]
	if !ok {
		return nil, nil
	}
	if e.expired(now) {
		delete(m.entries, key)
		return nil, nil
	}
	if e.kind != kind {
		return nil, fmt.Errorf("wrong type for key %s", key)
	}
	return e, nil
}

func (m *Memory) maybeSweepLocked(now time.Time) {
	if now.Sub(m.lastSweep) < memorySweepInterval {
		return
	}
	m.lastSweep = now
	for key, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, key)
		}
	}
}

func (m *Memory) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.now().Add(ttl)
}

func (m *Memory) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.lookupLocked(key, kindString)
	if err != nil {
		return "", err
	}
	if e == nil {
		return "", ErrNotFound
	}
	if e.isNum {
		return strconv.FormatInt(e.num, 10), nil
	}
	return e.str, nil
}

func (m *Memory) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.maybeSweepLocked(m.now())
	m.entries[key] = &memEntry{kind: kindString, str: value, expiresAt: m.deadline(ttl)}
	return nil
}

func (m *Memory) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.lookupLocked(key, kindString)
	if err != nil {
		return false, err
	}
	if e != nil {
		return false, nil
	}
	m.entries[key] = &memEntry{kind: kindString, str: value, expiresAt: m.deadline(ttl)}
	return true, nil
}

func (m *Memory) Del(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range keys {
		delete(m.entries, key)
	}
	return nil
}

func (m *Memory) Expire(ctx context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	e, ok := m.entries[key]
	if !ok || e.expired(now) {
		return nil
	}
	e.expiresAt = m.deadline(ttl)
	return nil
}

func (m *Memory) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.lookupLocked(key, kindString)
	if err != nil {
		return 0, err
	}
	if e == nil {
		e = &memEntry{kind: kindString, isNum: true}
		m.entries[key] = e
	}
	if !e.isNum {
		n, err := strconv.ParseInt(e.str, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("value at %s is not an integer", key)
		}
		e.num, e.isNum = n, true
	}
	e.num++
	if ttl > 0 {
		e.expiresAt = m.deadline(ttl)
	}
	return e.num, nil
}

func (m *Memory) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.lookupLocked(key, kindHash)
	if err != nil {
		return nil, err
	}
	fields := make(map[string]string)
	if e != nil {
		for k, v := range e.hash {
			fields[k] = v
		}
	}
	return fields, nil
}

func (m *Memory) HSet(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.lookupLocked(key, kindHash)
	if err != nil {
		return err
	}
	if e == nil {
		e = &memEntry{kind: kindHash, hash: make(map[string]string)}
		m.entries[key] = e
	}
	for k, v := range fields {
		e.hash[k] = v
	}
	if ttl > 0 {
		e.expiresAt = m.deadline(ttl)
	}
	return nil
}

func (m *Memory) HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.lookupLocked(key, kindHash)
	if err != nil {
		return 0, err
	}
	if e == nil {
		e = &memEntry{kind: kindHash, hash: make(map[string]string)}
		m.entries[key] = e
	}
	var cur int64
	if raw, ok := e.hash[field]; ok {
		cur, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("hash field %s at %s is not an integer", field, key)
		}
	}
	cur += delta
	e.hash[field] = strconv.FormatInt(cur, 10)
	return cur, nil
}

func (m *Memory) SAdd(ctx context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.lookupLocked(key, kindSet)
	if err != nil {
		return err
	}
	if e == nil {
		e = &memEntry{kind: kindSet, set: make(map[string]struct{})}
		m.entries[key] = e
	}
	for _, member := range members {
		e.set[member] = struct{}{}
	}
	return nil
}

func (m *Memory) SRem(ctx context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.lookupLocked(key, kindSet)
	if err != nil {
		return err
	}
	if e == nil {
		return nil
	}
	for _, member := range members {
		delete(e.set, member)
	}
	if len(e.set) == 0 {
		delete(m.entries, key)
	}
	return nil
}

func (m *Memory) SIsMember(ctx context.Context, key, member string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.lookupLocked(key, kindSet)
	if err != nil {
		return false, err
	}
	if e == nil {
		return false, nil
	}
	_, ok := e.set[member]
	return ok, nil
}

func (m *Memory) SMembers(ctx context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.lookupLocked(key, kindSet)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, nil
	}
	members := make([]string, 0, len(e.set))
	for member := range e.set {
		members = append(members, member)
	}
	return members, nil
}

func (m *Memory) LPush(ctx context.Context, key string, values ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.lookupLocked(key, kindList)
	if err != nil {
		return err
	}
	if e == nil {
		e = &memEntry{kind: kindList}
		m.entries[key] = e
	}
	for _, v := range values {
		e.list = append([]string{v}, e.list...)
	}
	return nil
}

func (m *Memory) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.lookupLocked(key, kindList)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, nil
	}
	n := int64(len(e.list))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return nil, nil
	}
	out := make([]string, stop-start+1)
	copy(out, e.list[start:stop+1])
	return out, nil
}

func (m *Memory) LTrim(ctx context.Context, key string, start, stop int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.lookupLocked(key, kindList)
	if err != nil {
		return err
	}
	if e == nil {
		return nil
	}
	n := int64(len(e.list))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		delete(m.entries, key)
		return nil
	}
	e.list = e.list[start : stop+1]
	return nil
}

func (m *Memory) Scan(ctx context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.maybeSweepLocked(now)

	var keys []string
	for key, e := range m.entries {
		if e.expired(now) {
			continue
		}
		ok, err := path.Match(pattern, key)
		if err != nil {
			return nil, fmt.Errorf("scan pattern %q: %w", pattern, err)
		}
		if ok {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
