package state

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// redisStore persists the host state under a single Redis key so that every
// frontend replica serves the same /state view.
type redisStore struct {
	client redis.UniversalClient
	key    string
}

const redisKey = "uibridge:state"

// NewRedisStore connects to the given Redis address and returns a Store.
// The key is initialized to a default state if it does not exist.
func NewRedisStore(addr string) (*redisStore, error) {
	opts, err := parseRedisURL(addr)
	if err != nil {
		return nil, err
	}
	c := redis.NewUniversalClient(opts)
	ctx := context.Background()
	if err := c.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	if b, err := json.Marshal(State{Status: "not_ready"}); err == nil {
		_ = c.SetNX(ctx, redisKey, b, 0).Err()
	}
	return &redisStore{client: c, key: redisKey}, nil
}

// parseRedisURL accepts a bare host:port or a redis:// / rediss:// URL with
// optional credentials and database (path or db query parameter). A
// comma-separated host list selects cluster mode through the universal
// client.
func parseRedisURL(addr string) (*redis.UniversalOptions, error) {
	if !strings.Contains(addr, "://") {
		return &redis.UniversalOptions{Addrs: []string{addr}}, nil
	}
	u, err := url.Parse(addr)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("redis: unsupported scheme %q", u.Scheme)
	}
	opts := &redis.UniversalOptions{Addrs: strings.Split(u.Host, ",")}
	if u.User != nil {
		opts.Username = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			opts.Password = pw
		}
	}
	db := strings.TrimPrefix(u.Path, "/")
	if db == "" {
		db = u.Query().Get("db")
	}
	if db != "" {
		n, err := strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("redis: invalid db %q", db)
		}
		opts.DB = n
	}
	if u.Scheme == "rediss" {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return opts, nil
}

func (r *redisStore) Load() State {
	b, err := r.client.Get(context.Background(), r.key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return State{Status: "not_ready"}
		}
		return State{Status: "unknown"}
	}
	var st State
	if err := json.Unmarshal(b, &st); err != nil {
		return State{Status: "unknown"}
	}
	return st
}

func (r *redisStore) Store(s State) {
	b, err := json.Marshal(s)
	if err != nil {
		return
	}
	_ = r.client.Set(context.Background(), r.key, b, 0).Err()
}
