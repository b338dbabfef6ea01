package config

import (
	"strings"
	"time"
)

// CacheConfig configures the response cache in front of the room
// catalogue reads.  Reservation reads are never cached: their ETag must
// reflect the latest change key.
type CacheConfig struct {
	Enabled      bool
	Methods      map[string]bool
	TTL          time.Duration
	KeyStrategy  string // route | method_route | method_route_query | route_query
	Prefix       string
	MaxBodyBytes int
}

func LoadCacheConfig() CacheConfig {
	cc := CacheConfig{
		Enabled:      envBool("CACHE_ENABLED", true),
		Methods:      map[string]bool{},
		TTL:          envDur("CACHE_TTL", 30*time.Second),
		KeyStrategy:  strings.ToLower(envStr("CACHE_KEY_STRATEGY", "route_query")),
		Prefix:       envStr("CACHE_PREFIX", "rooms"),
		MaxBodyBytes: envInt("CACHE_MAX_BODY_BYTES", 1<<20),
	}
	for _, m := range envList("CACHE_METHODS", "GET") {
		cc.Methods[m] = true
	}
	if cc.TTL <= 0 {
		cc.Enabled = false
	}
	return cc
}
