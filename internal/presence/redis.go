package presence

import (
	"context"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"notepad-sync/internal/domain"
)

const roomPrefix = "presence:room:"

// purgeScript removes members whose expire-at score is <= now and returns them as
// alternating id, name pairs.
var purgeScript = redis.NewScript(`
-- KEYS[1] = room zset, KEYS[2] = names hash, ARGV[1] = now (unix millis)
local expired = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
local out = {}
if #expired > 0 then
	local names = redis.call("HMGET", KEYS[2], unpack(expired))
	for i, id in ipairs(expired) do
		table.insert(out, id)
		table.insert(out, names[i] or "")
	end
	redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
	redis.call("HDEL", KEYS[2], unpack(expired))
end
return out
`)

// RedisRegistry keeps one ZSET per note scored by expire-at plus a hash of display
// names, so several server instances share presence.
type RedisRegistry struct {
	rdb *redis.Client
	now func() time.Time
}

func NewRedisRegistry(rdb *redis.Client) *RedisRegistry {
	return &RedisRegistry{rdb: rdb, now: time.Now}
}

func roomKey(noteID string) string  { return roomPrefix + noteID }
func namesKey(noteID string) string { return "presence:names:" + noteID }

func (r *RedisRegistry) Touch(ctx context.Context, noteID string, member domain.Identity, ttl time.Duration) error {
	expireAt := r.now().Add(ttl).UnixMilli()

	tx := r.rdb.TxPipeline()
	tx.ZAdd(ctx, roomKey(noteID), redis.Z{Score: float64(expireAt), Member: member.UserID})
	tx.HSet(ctx, namesKey(noteID), member.UserID, member.Username)
	_, err := tx.Exec(ctx)
	return err
}

func (r *RedisRegistry) Remove(ctx context.Context, noteID, userID string) error {
	tx := r.rdb.TxPipeline()
	tx.ZRem(ctx, roomKey(noteID), userID)
	tx.HDel(ctx, namesKey(noteID), userID)
	_, err := tx.Exec(ctx)
	return err
}

func (r *RedisRegistry) Members(ctx context.Context, noteID string) ([]domain.Member, error) {
	now := r.now().UnixMilli()

	alive, err := r.rdb.ZRangeByScoreWithScores(ctx, roomKey(noteID), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(now, 10),
		Max: "+inf",
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	if len(alive) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(alive))
	for _, z := range alive {
		ids = append(ids, z.Member.(string))
	}

	names, err := r.rdb.HMGet(ctx, namesKey(noteID), ids...).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}

	members := make([]domain.Member, 0, len(alive))
	for i, z := range alive {
		name := ""
		if i < len(names) && names[i] != nil {
			name, _ = names[i].(string)
		}
		members = append(members, domain.Member{
			UserID:    ids[i],
			Username:  name,
			ExpiresAt: time.UnixMilli(int64(z.Score)),
		})
	}
	sortMembers(members)
	return members, nil
}

func (r *RedisRegistry) Purge(ctx context.Context, noteID string) ([]domain.Member, error) {
	res, err := purgeScript.Run(ctx, r.rdb, []string{roomKey(noteID), namesKey(noteID)}, r.now().UnixMilli()).StringSlice()
	if err != nil && err != redis.Nil {
		return nil, err
	}

	var expired []domain.Member
	for i := 0; i+1 < len(res); i += 2 {
		expired = append(expired, domain.Member{UserID: res[i], Username: res[i+1]})
	}
	sortMembers(expired)
	return expired, nil
}

func (r *RedisRegistry) Notes(ctx context.Context) ([]string, error) {
	var notes []string
	iter := r.rdb.Scan(ctx, 0, roomPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if noteID := strings.TrimPrefix(iter.Val(), roomPrefix); noteID != "" {
			notes = append(notes, noteID)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return notes, nil
}
