package repository

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// redisPresence sorted sets scored by expiry (unix ms):
//
//	presence:room:{room}:user:{user}  member connID
//	presence:room:{room}              member user|conn
//	presence:user:{user}              member room|conn
type redisPresence struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisPresence create redis PresenceRegistry
func NewRedisPresence(client *redis.Client, ttl time.Duration) PresenceRegistry {
	return &redisPresence{client: client, ttl: ttl, now: time.Now}
}

func userRoomKey(roomID, userID string) string {
	return "presence:room:" + roomID + ":user:" + userID
}

func roomKey(roomID string) string {
	return "presence:room:" + roomID
}

func userKey(userID string) string {
	return "presence:user:" + userID
}

func ms(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// Register add or refresh; keys outlive entries so an idle room cleans itself up
func (p *redisPresence) Register(ctx context.Context, userID, roomID, connID string) error {
	exp := float64(p.now().Add(p.ttl).UnixMilli())
	keep := 2 * p.ttl
	_, err := p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, userRoomKey(roomID, userID), &redis.Z{Score: exp, Member: connID})
		pipe.ZAdd(ctx, roomKey(roomID), &redis.Z{Score: exp, Member: userID + "|" + connID})
		pipe.ZAdd(ctx, userKey(userID), &redis.Z{Score: exp, Member: roomID + "|" + connID})
		pipe.PExpire(ctx, userRoomKey(roomID, userID), keep)
		pipe.PExpire(ctx, roomKey(roomID), keep)
		pipe.PExpire(ctx, userKey(userID), keep)
		return nil
	})
	return err
}

// Unregister remove an entry, report whether another live one remains
func (p *redisPresence) Unregister(ctx context.Context, userID, roomID, connID string) (bool, error) {
	var live *redis.IntCmd
	_, err := p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, userRoomKey(roomID, userID), connID)
		pipe.ZRem(ctx, roomKey(roomID), userID+"|"+connID)
		pipe.ZRem(ctx, userKey(userID), roomID+"|"+connID)
		live = pipe.ZCount(ctx, userRoomKey(roomID, userID), "("+ms(p.now()), "+inf")
		return nil
	})
	if err != nil {
		return false, err
	}
	return live.Val() > 0, nil
}

// IsPresent at least one unexpired entry
func (p *redisPresence) IsPresent(ctx context.Context, userID, roomID string) (bool, error) {
	n, err := p.client.ZCount(ctx, userRoomKey(roomID, userID), "("+ms(p.now()), "+inf").Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (p *redisPresence) liveMembers(ctx context.Context, key string) ([]string, error) {
	members, err := p.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: "(" + ms(p.now()),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	out := []string{}
	for _, m := range members {
		id, _, _ := strings.Cut(m, "|")
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// OnlineUsers users present in roomID, sorted
func (p *redisPresence) OnlineUsers(ctx context.Context, roomID string) ([]string, error) {
	return p.liveMembers(ctx, roomKey(roomID))
}

// RoomsOf rooms userID is present in, sorted
func (p *redisPresence) RoomsOf(ctx context.Context, userID string) ([]string, error) {
	return p.liveMembers(ctx, userKey(userID))
}

// Purge drop expired entries of roomID. Only the caller whose ZRem removed
// an entry reports the user, so concurrent sweeps in two processes do not
// both announce the same departure.
func (p *redisPresence) Purge(ctx context.Context, roomID string) ([]string, error) {
	now := ms(p.now())
	expired, err := p.client.ZRangeByScore(ctx, roomKey(roomID), &redis.ZRangeBy{Min: "-inf", Max: now}).Result()
	if err != nil {
		return nil, err
	}

	candidates := make(map[string]struct{})
	for _, m := range expired {
		userID, connID, ok := strings.Cut(m, "|")
		if !ok {
			continue
		}
		var removed *redis.IntCmd
		_, err := p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			removed = pipe.ZRem(ctx, roomKey(roomID), m)
			pipe.ZRem(ctx, userRoomKey(roomID, userID), connID)
			pipe.ZRem(ctx, userKey(userID), roomID+"|"+connID)
			return nil
		})
		if err != nil {
			return nil, err
		}
		if removed.Val() == 1 {
			candidates[userID] = struct{}{}
		}
	}

	gone := []string{}
	for userID := range candidates {
		live, err := p.IsPresent(ctx, userID, roomID)
		if err != nil {
			return nil, err
		}
		if !live {
			gone = append(gone, userID)
		}
	}
	sort.Strings(gone)
	return gone, nil
}
