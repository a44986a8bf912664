package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pitabwire/onboard/model"
)

// sessionKeyPrefix namespaces workflow instance keys in Redis.
const sessionKeyPrefix = "onboard:workflow:"

// updateScript performs a compare-and-swap on the stored instance: the write
// succeeds only when the stored version matches the expected one. Returns 1
// on success, -1 when the key is missing, -2 on a version mismatch.
var updateScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if not cur then
  return -1
end
local obj = cjson.decode(cur)
if obj.version ~= tonumber(ARGV[2]) then
  return -2
end
if tonumber(ARGV[3]) > 0 then
  redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
else
  redis.call('SET', KEYS[1], ARGV[1])
end
return 1
`)

// RedisSessionStore is a Redis-backed SessionStore. Instances are stored as
// JSON values with a TTL matching their expiration deadline, so Redis itself
// evicts expired sessions and FindExpired has nothing to sweep.
type RedisSessionStore struct {
	client redis.UniversalClient
	now    func() time.Time
}

// NewRedisSessionStore creates a new Redis session store.
func NewRedisSessionStore(client redis.UniversalClient) *RedisSessionStore {
	return &RedisSessionStore{client: client, now: time.Now}
}

// Create persists a new workflow instance.
func (s *RedisSessionStore) Create(ctx context.Context, inst model.WorkflowInstance) error {
	payload, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("marshal workflow instance: %w", err)
	}

	ok, err := s.client.SetNX(ctx, sessionKeyPrefix+inst.ID, payload, s.ttlFor(inst)).Result()
	if err != nil {
		return fmt.Errorf("store workflow instance: %w", err)
	}
	if !ok {
		return model.NewConflictError(
			fmt.Sprintf("workflow instance %q already exists", inst.ID),
		)
	}
	return nil
}

// Get retrieves a workflow instance by ID.
func (s *RedisSessionStore) Get(ctx context.Context, instanceID string) (model.WorkflowInstance, error) {
	payload, err := s.client.Get(ctx, sessionKeyPrefix+instanceID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return model.WorkflowInstance{}, model.NewInstanceNotFoundError(
				fmt.Sprintf("workflow instance %q not found", instanceID),
			)
		}
		return model.WorkflowInstance{}, fmt.Errorf("load workflow instance: %w", err)
	}

	var inst model.WorkflowInstance
	if err := json.Unmarshal(payload, &inst); err != nil {
		return model.WorkflowInstance{}, fmt.Errorf("unmarshal workflow instance: %w", err)
	}
	return inst, nil
}

// Update persists an updated instance with a compare-and-swap on version.
func (s *RedisSessionStore) Update(ctx context.Context, inst model.WorkflowInstance) error {
	expected := inst.Version
	inst.Version++
	inst.UpdatedAt = s.now().UTC()

	payload, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("marshal workflow instance: %w", err)
	}

	res, err := updateScript.Run(ctx, s.client,
		[]string{sessionKeyPrefix + inst.ID},
		payload, expected, s.ttlFor(inst).Milliseconds(),
	).Int()
	if err != nil {
		return fmt.Errorf("update workflow instance: %w", err)
	}

	switch res {
	case -1:
		return model.NewInstanceNotFoundError(
			fmt.Sprintf("workflow instance %q not found", inst.ID),
		)
	case -2:
		return model.NewConflictError(
			fmt.Sprintf("workflow instance %q version conflict", inst.ID),
		)
	}
	return nil
}

// Delete removes a workflow instance.
func (s *RedisSessionStore) Delete(ctx context.Context, instanceID string) error {
	deleted, err := s.client.Del(ctx, sessionKeyPrefix+instanceID).Result()
	if err != nil {
		return fmt.Errorf("delete workflow instance: %w", err)
	}
	if deleted == 0 {
		return model.NewInstanceNotFoundError(
			fmt.Sprintf("workflow instance %q not found", instanceID),
		)
	}
	return nil
}

// FindExpired returns no instances: Redis evicts expired sessions via TTL.
func (s *RedisSessionStore) FindExpired(_ context.Context, _ time.Time) ([]model.WorkflowInstance, error) {
	return nil, nil
}

// HealthCheck pings Redis.
func (s *RedisSessionStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// ttlFor derives the key TTL from the instance's deadline. Zero means no
// expiry.
func (s *RedisSessionStore) ttlFor(inst model.WorkflowInstance) time.Duration {
	if inst.ExpiresAt == nil {
		return 0
	}
	ttl := inst.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		// Already past deadline; keep the key just long enough for the
		// engine to observe the expiry.
		return time.Second
	}
	return ttl
}
