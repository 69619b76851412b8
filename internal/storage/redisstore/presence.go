// Package redisstore keeps socket presence in Redis so several relay nodes
// agree on who is online.
package redisstore

import (
	"context"
	"fmt"
	"strings"

	"socialchat/internal/config"
	"socialchat/internal/storage"
	"socialchat/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// Presence stores one set of socket ids per user under <prefix>presence:<user>
type Presence struct {
	rdb    redis.UniversalClient
	prefix string
}

var _ storage.PresenceStore = (*Presence)(nil)

// Connect opens a client from cfg and pings it
func Connect(ctx context.Context, cfg config.RedisConfig) (*Presence, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	opts.DB = cfg.DB
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	logger.WithField("addr", opts.Addr).Info("Connected to Redis")
	return NewPresence(rdb, cfg.Prefix), nil
}

// NewPresence wraps an existing client
func NewPresence(rdb redis.UniversalClient, prefix string) *Presence {
	return &Presence{rdb: rdb, prefix: prefix}
}

func (p *Presence) key(userID string) string {
	return p.prefix + "presence:" + userID
}

func (p *Presence) index() string {
	return p.prefix + "online"
}

func (p *Presence) Connect(ctx context.Context, userID, socketID string) (bool, error) {
	var card *redis.IntCmd
	_, err := p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, p.key(userID), socketID)
		pipe.SAdd(ctx, p.index(), userID)
		card = pipe.SCard(ctx, p.key(userID))
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("presence connect: %w", err)
	}
	return card.Val() == 1, nil
}

func (p *Presence) Disconnect(ctx context.Context, userID, socketID string) (bool, error) {
	var removed, card *redis.IntCmd
	_, err := p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.SRem(ctx, p.key(userID), socketID)
		card = pipe.SCard(ctx, p.key(userID))
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("presence disconnect: %w", err)
	}
	if removed.Val() == 0 || card.Val() > 0 {
		return false, nil
	}
	if err := p.rdb.SRem(ctx, p.index(), userID).Err(); err != nil {
		return true, fmt.Errorf("presence index: %w", err)
	}
	return true, nil
}

func (p *Presence) Online(ctx context.Context, userID string) (bool, error) {
	n, err := p.rdb.SCard(ctx, p.key(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("presence online: %w", err)
	}
	return n > 0, nil
}

func (p *Presence) OnlineUsers(ctx context.Context) ([]string, error) {
	users, err := p.rdb.SMembers(ctx, p.index()).Result()
	if err != nil {
		return nil, fmt.Errorf("presence members: %w", err)
	}
	out := users[:0]
	for _, u := range users {
		if strings.TrimSpace(u) != "" {
			out = append(out, u)
		}
	}
	return out, nil
}

func (p *Presence) Close() error {
	return p.rdb.Close()
}

// Ping checks the server is reachable
func (p *Presence) Ping(ctx context.Context) error {
	return p.rdb.Ping(ctx).Err()
}
