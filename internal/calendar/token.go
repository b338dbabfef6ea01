package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// expirySkew is subtracted from a token's lifetime so it is refreshed
// before the provider starts rejecting it.
const expirySkew = 60 * time.Second

// Token is an app-only bearer token.
type Token struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Valid reports whether the token can still be used at now.
func (t Token) Valid(now time.Time) bool {
	return t.AccessToken != "" && now.Add(expirySkew).Before(t.ExpiresAt)
}

// TokenCache stores the current token.  Get returns ok=false on a miss.
type TokenCache interface {
	Get(ctx context.Context) (Token, bool, error)
	Set(ctx context.Context, t Token) error
	Clear(ctx context.Context) error
}

// MemoryTokenCache keeps the token in the client process.
type MemoryTokenCache struct {
	mu  sync.Mutex
	tok Token
}

func (c *MemoryTokenCache) Get(context.Context) (Token, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tok, c.tok.AccessToken != "", nil
}

func (c *MemoryTokenCache) Set(_ context.Context, t Token) error {
	c.mu.Lock()
	c.tok = t
	c.mu.Unlock()
	return nil
}

func (c *MemoryTokenCache) Clear(context.Context) error {
	c.mu.Lock()
	c.tok = Token{}
	c.mu.Unlock()
	return nil
}

// RedisTokenCache shares the token between API replicas so each replica
// does not request its own.
type RedisTokenCache struct {
	rdb *redis.Client
	key string
}

// NewRedisTokenCache stores the token under key.
func NewRedisTokenCache(rdb *redis.Client, key string) *RedisTokenCache {
	if key == "" {
		key = "calendar:token"
	}
	return &RedisTokenCache{rdb: rdb, key: key}
}

func (c *RedisTokenCache) Get(ctx context.Context) (Token, bool, error) {
	raw, err := c.rdb.Get(ctx, c.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Token{}, false, nil
	}
	if err != nil {
		return Token{}, false, fmt.Errorf("redis get token: %w", err)
	}
	var t Token
	if err := json.Unmarshal(raw, &t); err != nil {
		return Token{}, false, nil
	}
	return t, true, nil
}

func (c *RedisTokenCache) Set(ctx context.Context, t Token) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return err
	}
	ttl := time.Until(t.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	return c.rdb.Set(ctx, c.key, raw, ttl).Err()
}

func (c *RedisTokenCache) Clear(ctx context.Context) error {
	return c.rdb.Del(ctx, c.key).Err()
}

// Credentials configure the client-credentials grant.
type Credentials struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scope        string
}

// tokenSource fetches tokens with the client-credentials grant and keeps
// them in a TokenCache.
type tokenSource struct {
	creds Credentials
	http  *http.Client
	cache TokenCache
	now   func() time.Time

	mu sync.Mutex // serializes refreshes within this process
}

// Token returns a valid token from the cache, refreshing it when it is
// missing or about to expire.
func (s *tokenSource) Token(ctx context.Context) (string, error) {
	if t, ok, err := s.cache.Get(ctx); err == nil && ok && t.Valid(s.now()) {
		return t.AccessToken, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// another goroutine may have refreshed while we waited
	if t, ok, err := s.cache.Get(ctx); err == nil && ok && t.Valid(s.now()) {
		return t.AccessToken, nil
	}
	t, err := s.fetch(ctx)
	if err != nil {
		return "", err
	}
	return t.AccessToken, nil
}

// Refresh drops the cached token and fetches a new one.
func (s *tokenSource) Refresh(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.cache.Clear(ctx)
	t, err := s.fetch(ctx)
	if err != nil {
		return "", err
	}
	return t.AccessToken, nil
}

func (s *tokenSource) fetch(ctx context.Context) (Token, error) {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {s.creds.ClientID},
		"client_secret": {s.creds.ClientSecret},
		"scope":         {s.creds.Scope},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.creds.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Token{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := s.http.Do(req)
	if err != nil {
		return Token{}, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Token{}, fmt.Errorf("token request: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Token{}, fmt.Errorf("decode token: %w", err)
	}
	if out.AccessToken == "" {
		return Token{}, errors.New("token response without access_token")
	}
	t := Token{AccessToken: out.AccessToken, ExpiresAt: s.now().Add(time.Duration(out.ExpiresIn) * time.Second)}
	if err := s.cache.Set(ctx, t); err != nil {
		return Token{}, fmt.Errorf("cache token: %w", err)
	}
	return t, nil
}
