package access

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// ScopeCache stores the granted scopes per token id in redis. An
// authorization service writes the scope set when it issues a token; the
// middleware reads it back on every request, so scopes can be revoked or
// extended without re-issuing tokens.
//
// Clients are created once per URL and then shared. The cache is safe for
// concurrent use.
type ScopeCache struct {
	mutex   sync.RWMutex
	clients map[string]*redis.Client
}

// NewScopeCache creates an empty scope cache
func NewScopeCache() *ScopeCache {
	return &ScopeCache{clients: make(map[string]*redis.Client)}
}

func (s *ScopeCache) client(url string) (*redis.Client, error) {
	s.mutex.RLock()
	client, ok := s.clients[url]
	s.mutex.RUnlock()
	if ok {
		return client, nil
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	if client, ok = s.clients[url]; ok {
		return client, nil
	}
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client = redis.NewClient(options)
	s.clients[url] = client
	return client, nil
}

func scopeKey(tokenID string) string {
	return "access:token:" + tokenID + ":scopes"
}

// Audiences returns the scope strings stored for the token id. A token
// without a stored set has no scopes.
func (s *ScopeCache) Audiences(ctx context.Context, url string, tokenID string) ([]string, error) {
	client, err := s.client(url)
	if err != nil {
		return nil, err
	}
	return client.SMembers(ctx, scopeKey(tokenID)).Result()
}

// StoreAudiences replaces the scope set for the token id. The set expires
// together with the token.
func (s *ScopeCache) StoreAudiences(ctx context.Context, url string, tokenID string, audiences []string, expiresAt time.Time) error {
	client, err := s.client(url)
	if err != nil {
		return err
	}
	key := scopeKey(tokenID)
	pipe := client.TxPipeline()
	pipe.Del(ctx, key)
	if len(audiences) > 0 {
		members := make([]interface{}, len(audiences))
		for i, a := range audiences {
			members[i] = a
		}
		pipe.SAdd(ctx, key, members...)
		if ttl := time.Until(expiresAt); ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
	}
	_, err = pipe.Exec(ctx)
	return err
}
