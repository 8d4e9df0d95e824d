package cache

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Member is one live subscriber of a document.
type Member struct {
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
}

// PresenceCache shares who is editing which document across server
// nodes, with heartbeat TTLs deciding liveness.
type PresenceCache interface {
	AddMember(ctx context.Context, docID, userID, username string, ttl time.Duration) error
	RemoveMember(ctx context.Context, docID, userID string) error
	GetAliveMembers(ctx context.Context, docID string) ([]Member, error)
	SetCursor(ctx context.Context, docID, userID string, jsonData []byte, ttl time.Duration) error
	GetCursor(ctx context.Context, docID, userID string) ([]byte, error)
}

type redisPresence struct {
	rdb *redis.Client
}

func NewRedisPresence(rdb *redis.Client) PresenceCache {
	return &redisPresence{rdb: rdb}
}

func (p *redisPresence) AddMember(ctx context.Context, docID, userID, username string, ttl time.Duration) error {
	pipe := p.rdb.Pipeline()
	pipe.SAdd(ctx, roomKey(docID), userID)
	pipe.Set(ctx, memberKey(docID, userID), "1", ttl)
	pipe.HSet(ctx, namesKey(docID), userID, username)
	_, err := pipe.Exec(ctx)
	return err
}

func (p *redisPresence) RemoveMember(ctx context.Context, docID, userID string) error {
	pipe := p.rdb.Pipeline()
	pipe.SRem(ctx, roomKey(docID), userID)
	pipe.Del(ctx, memberKey(docID, userID))
	pipe.HDel(ctx, namesKey(docID), userID)
	pipe.Del(ctx, cursorKey(docID, userID))
	_, err := pipe.Exec(ctx)
	return err
}

// GetAliveMembers lists the room members whose heartbeat key still
// exists, with usernames filled in from the names hash.
func (p *redisPresence) GetAliveMembers(ctx context.Context, docID string) ([]Member, error) {
	userIDs, err := p.rdb.SMembers(ctx, roomKey(docID)).Result()
	if err != nil {
		return nil, err
	}
	if len(userIDs) == 0 {
		return nil, nil
	}

	existsCmds := make([]*redis.IntCmd, 0, len(userIDs))
	pipe := p.rdb.Pipeline()
	for _, uid := range userIDs {
		existsCmds = append(existsCmds, pipe.Exists(ctx, memberKey(docID, uid)))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	alive := make([]string, 0, len(userIDs))
	for i, cmd := range existsCmds {
		if cmd.Val() == 1 {
			alive = append(alive, userIDs[i])
		}
	}
	if len(alive) == 0 {
		return nil, nil
	}

	names, err := p.rdb.HMGet(ctx, namesKey(docID), alive...).Result()
	if err != nil {
		return nil, err
	}
	members := make([]Member, 0, len(alive))
	for i, v := range names {
		name := ""
		if v != nil {
			name, _ = v.(string)
		}
		members = append(members, Member{UserID: alive[i], Username: name})
	}
	return members, nil
}

func (p *redisPresence) SetCursor(ctx context.Context, docID, userID string, jsonData []byte, ttl time.Duration) error {
	return p.rdb.Set(ctx, cursorKey(docID, userID), jsonData, ttl).Err()
}

func (p *redisPresence) GetCursor(ctx context.Context, docID, userID string) ([]byte, error) {
	return p.rdb.Get(ctx, cursorKey(docID, userID)).Bytes()
}
