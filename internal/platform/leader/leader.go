// Package leader decides whether this instance may run singleton jobs.
package leader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Provider reports current leadership. An error means leadership is unknown
// and callers treat it as not leading.
type Provider interface {
	IsLeader(ctx context.Context) (bool, error)
}

// Static is fixed leadership for single-instance deployments and tests.
type Static bool

func (s Static) IsLeader(context.Context) (bool, error) { return bool(s), nil }

// HTTPElector polls a pod-coordination endpoint that returns the current
// leader as {"name": "<pod>"} and compares it with this pod's name.
type HTTPElector struct {
	url      string
	identity string
	client   *http.Client
}

type ElectorOption func(*HTTPElector)

func WithElectorClient(c *http.Client) ElectorOption {
	return func(e *HTTPElector) {
		e.client = c
	}
}

// WithIdentity overrides the pod name, which defaults to the hostname.
func WithIdentity(name string) ElectorOption {
	return func(e *HTTPElector) {
		e.identity = name
	}
}

func NewHTTPElector(url string, opts ...ElectorOption) (*HTTPElector, error) {
	e := &HTTPElector{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.identity == "" {
		host, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("resolve hostname: %w", err)
		}
		e.identity = host
	}
	return e, nil
}

type electorResponse struct {
	Name string `json:"name"`
}

func (e *HTTPElector) IsLeader(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.url, nil)
	if err != nil {
		return false, fmt.Errorf("build elector request: %w", err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("query elector: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("elector returned status %d", resp.StatusCode)
	}
	var body electorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, fmt.Errorf("decode elector response: %w", err)
	}
	return strings.TrimSpace(body.Name) == e.identity, nil
}

// renewScript extends the lease only while this owner holds it.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// releaseScript deletes the lease only while this owner holds it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLease holds leadership as a Redis key with a TTL. The holder renews it
// on every check; when the holder stops, the key expires and another
// instance acquires it.
type RedisLease struct {
	client *redis.Client
	key    string
	owner  string
	ttl    time.Duration
}

func NewRedisLease(client *redis.Client, key, owner string, ttl time.Duration) *RedisLease {
	return &RedisLease{client: client, key: key, owner: owner, ttl: ttl}
}

func (l *RedisLease) IsLeader(ctx context.Context) (bool, error) {
	renewed, err := renewScript.Run(ctx, l.client, []string{l.key}, l.owner, l.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("renew lease: %w", err)
	}
	if renewed == 1 {
		return true, nil
	}
	acquired, err := l.client.SetArgs(ctx, l.key, l.owner, redis.SetArgs{Mode: "NX", TTL: l.ttl}).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("acquire lease: %w", err)
	}
	return acquired == "OK", nil
}

// Release gives up the lease if this instance holds it.
func (l *RedisLease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.owner).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}
