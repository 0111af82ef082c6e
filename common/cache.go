package common

import "time"

// CacheRepository defines a minimal interface for a key/value cache.
// The values are stored as raw []byte, which you can marshal/unmarshal
// from JSON or other formats as needed.
//
// Two implementations ship with the SDK:
//   - NewMemoryCache: an in-process map, the default for a single app instance
//   - NewRedisCache: Redis-backed, for hosts that share cache state
type CacheRepository interface {
	Get(key string) (value []byte, found bool)
	Set(key string, value []byte, expiration time.Duration)
	Delete(key string)
	// Clear drops every entry owned by this repository.
	Clear()
}
