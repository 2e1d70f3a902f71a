package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix  = "jobhunter:cycle:"
	DefaultTTL = 30 * time.Minute
)

// unlockScript deletes the key only when it still holds our token, so a flag
// that expired and was claimed by another process is left alone.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis shares flags between processes that point at the same server. The TTL
// bounds how long a crashed holder can block a cycle.
type Redis struct {
	client redis.UniversalClient
	ttl    time.Duration

	mu     sync.Mutex
	tokens map[string]string
}

func NewRedis(client redis.UniversalClient, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: client, ttl: ttl, tokens: map[string]string{}}
}

// NewRedisClient parses url and checks the server is reachable.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

func (r *Redis) TryLock(ctx context.Context, name string) (bool, error) {
	token := uuid.NewString()

	ok, err := r.client.SetNX(ctx, keyPrefix+name, token, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claiming %s flag: %w", name, err)
	}
	if !ok {
		return false, nil
	}

	r.mu.Lock()
	r.tokens[name] = token
	r.mu.Unlock()
	return true, nil
}

func (r *Redis) Unlock(ctx context.Context, name string) error {
	r.mu.Lock()
	token, ok := r.tokens[name]
	delete(r.tokens, name)
	r.mu.Unlock()

	if !ok {
		return nil
	}

	if err := unlockScript.Run(ctx, r.client, []string{keyPrefix + name}, token).Err(); err != nil {
		return fmt.Errorf("releasing %s flag: %w", name, err)
	}
	return nil
}
