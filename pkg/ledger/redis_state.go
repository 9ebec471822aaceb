package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// redisCreateScript creates a release record only if absent.
// KEYS[1] = record hash key, KEYS[2] = package version set
// ARGV[1] = document, ARGV[2] = version
var redisCreateScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
    return 0
end
redis.call("HSET", KEYS[1], "document", ARGV[1], "revision", 1)
redis.call("SADD", KEYS[2], ARGV[2])
return 1
`)

// redisUpdateScript is a compare-and-swap on the record revision.
// KEYS[1] = record hash key
// ARGV[1] = document, ARGV[2] = expected revision
// Returns -1 if missing, 0 on revision conflict, new revision on success.
var redisUpdateScript = redis.NewScript(`
local rev = redis.call("HGET", KEYS[1], "revision")
if not rev then
    return -1
end
if tonumber(rev) ~= tonumber(ARGV[2]) then
    return 0
end
local next = tonumber(rev) + 1
redis.call("HSET", KEYS[1], "document", ARGV[1], "revision", next)
return next
`)

// RedisState implements StateStore on Redis. Lua scripts run atomically on
// the server, so several registrar nodes can share one ledger state.
type RedisState struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisState creates a store backed by Redis.
func NewRedisState(addr, password string, db int) *RedisState {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisStateFromClient(rdb)
}

func NewRedisStateFromClient(client redis.UniversalClient) *RedisState {
	return &RedisState{client: client, keyPrefix: "relreg:ledger:"}
}

func (r *RedisState) recordKey(packageID, version string) string {
	return r.keyPrefix + "release:" + packageID + ":" + version
}

func (r *RedisState) versionsKey(packageID string) string {
	return r.keyPrefix + "versions:" + packageID
}

// Ping checks connectivity.
func (r *RedisState) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisState) Create(ctx context.Context, packageID, version string, value []byte) error {
	res, err := redisCreateScript.Run(ctx, r.client,
		[]string{r.recordKey(packageID, version), r.versionsKey(packageID)},
		string(value), version,
	).Int64()
	if err != nil {
		return fmt.Errorf("redis ledger create error: %w", err)
	}
	if res == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (r *RedisState) Read(ctx context.Context, packageID, version string) (Record, error) {
	vals, err := r.client.HMGet(ctx, r.recordKey(packageID, version), "document", "revision").Result()
	if err != nil {
		return Record{}, fmt.Errorf("redis ledger read error: %w", err)
	}
	return parseRedisRecord(vals)
}

func (r *RedisState) Update(ctx context.Context, packageID, version string, expected uint64, value []byte) error {
	res, err := redisUpdateScript.Run(ctx, r.client,
		[]string{r.recordKey(packageID, version)},
		string(value), expected,
	).Int64()
	if err != nil {
		return fmt.Errorf("redis ledger update error: %w", err)
	}
	switch res {
	case -1:
		return ErrNotFound
	case 0:
		return ErrRevisionConflict
	}
	return nil
}

func (r *RedisState) List(ctx context.Context, packageID string) ([]Record, error) {
	versions, err := r.client.SMembers(ctx, r.versionsKey(packageID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis ledger list error: %w", err)
	}
	sort.Strings(versions)

	pipe := r.client.Pipeline()
	cmds := make([]*redis.SliceCmd, len(versions))
	for i, v := range versions {
		cmds[i] = pipe.HMGet(ctx, r.recordKey(packageID, v), "document", "revision")
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis ledger list error: %w", err)
	}

	out := make([]Record, 0, len(versions))
	for _, cmd := range cmds {
		rec, err := parseRedisRecord(cmd.Val())
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *RedisState) Close() error {
	return r.client.Close()
}

func parseRedisRecord(vals []interface{}) (Record, error) {
	if len(vals) != 2 || vals[0] == nil || vals[1] == nil {
		return Record{}, ErrNotFound
	}
	doc, ok := vals[0].(string)
	if !ok {
		return Record{}, fmt.Errorf("invalid redis ledger document type %T", vals[0])
	}
	revStr, ok := vals[1].(string)
	if !ok {
		return Record{}, fmt.Errorf("invalid redis ledger revision type %T", vals[1])
	}
	rev, err := strconv.ParseUint(revStr, 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("invalid redis ledger revision: %w", err)
	}
	return Record{Value: []byte(doc), Revision: rev}, nil
}
