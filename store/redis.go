package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/Financial-Times/go-logger/v2"
	pkgerrors "github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// commitScript writes the state only when its sequence number is still the
// latest one issued, and aligns the expiry of the sequence keys with it so
// that a state never outlives the counter it was committed against.
// Returns 1 when written, 0 when superseded, -1 when the sequence number was
// never issued.
var commitScript = redis.NewScript(`
local issued = tonumber(redis.call('GET', KEYS[1]) or '0')
local seq = tonumber(ARGV[1])
if seq == 0 or seq > issued then
	return -1
end
if seq ~= issued then
	return 0
end
redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
redis.call('PEXPIRE', KEYS[3], ARGV[3])
redis.call('PEXPIRE', KEYS[4], ARGV[3])
return 1
`)

// RedisBackend shares view state between service instances.
type RedisBackend struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	log       *logger.UPPLogger
}

func NewRedisBackend(client *redis.Client, keyPrefix string, ttl time.Duration, log *logger.UPPLogger) *RedisBackend {
	return &RedisBackend{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       ttl,
		log:       log,
	}
}

func (r *RedisBackend) issuedKey(key string) string      { return r.keyPrefix + key + ":issued" }
func (r *RedisBackend) fingerprintKey(key string) string { return r.keyPrefix + key + ":fingerprint" }
func (r *RedisBackend) issuedAtKey(key string) string    { return r.keyPrefix + key + ":issuedAt" }
func (r *RedisBackend) stateKey(key string) string       { return r.keyPrefix + key + ":state" }

func (r *RedisBackend) Begin(ctx context.Context, key string, fingerprint string) (uint64, error) {
	var incr *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, r.issuedKey(key))
		pipe.Expire(ctx, r.issuedKey(key), r.ttl)
		pipe.Set(ctx, r.fingerprintKey(key), fingerprint, r.ttl)
		pipe.Set(ctx, r.issuedAtKey(key), time.Now().UnixMilli(), r.ttl)
		return nil
	})
	if err != nil {
		return 0, pkgerrors.Wrap(err, "failed to issue retrieval sequence")
	}
	return uint64(incr.Val()), nil
}

func (r *RedisBackend) Commit(ctx context.Context, key string, state State) (bool, error) {
	payload, err := json.Marshal(state)
	if err != nil {
		return false, err
	}
	res, err := commitScript.Run(ctx, r.client,
		[]string{r.issuedKey(key), r.stateKey(key), r.fingerprintKey(key), r.issuedAtKey(key)},
		strconv.FormatUint(state.Seq, 10), payload, r.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, pkgerrors.Wrap(err, "failed to commit view state")
	}
	switch res {
	case 1:
		return true, nil
	case 0:
		return false, nil
	default:
		return false, fmt.Errorf("key %s seq %d: %w", key, state.Seq, ErrUnknownSequence)
	}
}

func (r *RedisBackend) Load(ctx context.Context, key string) (Snapshot, error) {
	values, err := r.client.MGet(ctx, r.issuedKey(key), r.fingerprintKey(key), r.stateKey(key), r.issuedAtKey(key)).Result()
	if err != nil {
		return Snapshot{}, pkgerrors.Wrap(err, "failed to load view state")
	}

	var snapshot Snapshot
	if s, ok := values[0].(string); ok {
		if snapshot.Issued, err = strconv.ParseUint(s, 10, 64); err != nil {
			return Snapshot{}, pkgerrors.Wrap(err, "corrupt issued sequence")
		}
	}
	if s, ok := values[1].(string); ok {
		snapshot.Fingerprint = s
	}
	if s, ok := values[3].(string); ok {
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			snapshot.IssuedAt = time.UnixMilli(ms)
		}
	}
	if s, ok := values[2].(string); ok {
		if err = json.Unmarshal([]byte(s), &snapshot.State); err != nil {
			r.log.WithError(err).WithField("key", key).Warn("Discarding unreadable view state")
			snapshot.State = State{}
		}
	}
	return snapshot, nil
}

func (r *RedisBackend) Endpoint() string {
	return r.client.Options().Addr
}

func (r *RedisBackend) GTG() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return r.client.Ping(ctx).Err()
}
