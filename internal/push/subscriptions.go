// Package push delivers Web Push notifications to chat participants who are
// not connected. Subscriptions live in Redis; delivery uses VAPID. Everything
// here is best-effort: a failed push never propagates to the sender.
package push

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix  = "push:subs:"
	maxSubsPerUser  = 10
	subscriptionTTL = 30 * 24 * time.Hour
)

// Subscription is the browser-issued push subscription.
type Subscription struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

// SubscriptionStore holds per-user push subscriptions.
type SubscriptionStore interface {
	Add(ctx context.Context, userID string, sub Subscription) error
	List(ctx context.Context, userID string) ([]Subscription, error)
	Remove(ctx context.Context, userID, endpoint string) error
}

// RedisStore keeps subscriptions in a bounded, expiring Redis list per user.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) key(userID string) string { return redisKeyPrefix + userID }

func (s *RedisStore) Add(ctx context.Context, userID string, sub Subscription) error {
	raw, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("push: encode subscription: %w", err)
	}
	key := s.key(userID)
	pipe := s.rdb.Pipeline()
	pipe.RPush(ctx, key, string(raw))
	pipe.LTrim(ctx, key, -maxSubsPerUser, -1)
	pipe.Expire(ctx, key, subscriptionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push: save subscription: %w", err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context, userID string) ([]Subscription, error) {
	list, err := s.rdb.LRange(ctx, s.key(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("push: list subscriptions: %w", err)
	}
	subs := make([]Subscription, 0, len(list))
	for _, item := range list {
		var sub Subscription
		if json.Unmarshal([]byte(item), &sub) == nil && sub.Endpoint != "" {
			subs = append(subs, sub)
		}
	}
	return subs, nil
}

// Remove rewrites the user's list without the given endpoint.
func (s *RedisStore) Remove(ctx context.Context, userID, endpoint string) error {
	key := s.key(userID)
	list, err := s.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("push: list subscriptions: %w", err)
	}
	var kept []string
	for _, item := range list {
		var sub Subscription
		if json.Unmarshal([]byte(item), &sub) == nil && sub.Endpoint != endpoint {
			kept = append(kept, item)
		}
	}
	s.rdb.Del(ctx, key)
	for _, v := range kept {
		s.rdb.RPush(ctx, key, v)
	}
	if len(kept) > 0 {
		s.rdb.Expire(ctx, key, subscriptionTTL)
	}
	return nil
}

// MemoryStore is the dev/test subscription store.
type MemoryStore struct {
	mu   sync.RWMutex
	subs map[string][]Subscription
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{subs: make(map[string][]Subscription)}
}

func (s *MemoryStore) Add(ctx context.Context, userID string, sub Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.subs[userID]
	for _, existing := range list {
		if existing.Endpoint == sub.Endpoint {
			return nil
		}
	}
	list = append(list, sub)
	if len(list) > maxSubsPerUser {
		list = list[len(list)-maxSubsPerUser:]
	}
	s.subs[userID] = list
	return nil
}

func (s *MemoryStore) List(ctx context.Context, userID string) ([]Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Subscription(nil), s.subs[userID]...), nil
}

func (s *MemoryStore) Remove(ctx context.Context, userID, endpoint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.subs[userID]
	kept := list[:0]
	for _, sub := range list {
		if sub.Endpoint != endpoint {
			kept = append(kept, sub)
		}
	}
	if len(kept) == 0 {
		delete(s.subs, userID)
	} else {
		s.subs[userID] = kept
	}
	return nil
}
