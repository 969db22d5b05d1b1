// Package redisq implements the queue broker on Redis.
//
// The broker is a transient hand-off mechanism only: it carries task IDs
// from producers to workers and tracks in-flight leases. It is never a
// source of truth for task status; the durable store answers all status
// queries.
package redisq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/atspro/task-service/internal/config"
	"github.com/atspro/task-service/internal/domain"
	"github.com/atspro/task-service/internal/store"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Redis key layout. Pending tasks sit in one list per priority tier;
// claimed tasks move to a lease-scored sorted set plus a claims hash
// recording which worker holds them; cancelled pending entries are either
// removed from their list directly or flagged in the cancelled set for
// dequeue-time skipping.
const (
	pendingKeyPrefix = "taskq:pending:"
	inflightKey      = "taskq:inflight"
	claimsKey        = "taskq:claims"
	cancelledKey     = "taskq:cancelled"
)

// tierOrder is the strict dequeue priority: all high before normal before
// low. BRPOP honors this because it checks keys in argument order.
var tierOrder = []domain.TaskPriority{
	domain.TaskPriorityHigh,
	domain.TaskPriorityNormal,
	domain.TaskPriorityLow,
}

// Ensure Broker implements the shared broker contract.
var _ store.TaskBroker = (*Broker)(nil)

// claimScript records the worker's claim and the lease deadline in one
// atomic step. The two writes must land together: a claim with no lease
// entry is invisible to the reclaim sweep, and its first-wins check would
// reject every future delivery of the task.
//
// KEYS[1] = claims hash, KEYS[2] = in-flight zset
// ARGV[1] = task ID, ARGV[2] = worker ID, ARGV[3] = lease deadline (unix)
var claimScript = redis.NewScript(`
if redis.call("HSETNX", KEYS[1], ARGV[1], ARGV[2]) == 1 then
	redis.call("ZADD", KEYS[2], ARGV[3], ARGV[1])
	return 1
end
return 0
`)

// Broker hands pending work to workers over Redis with at-least-once
// delivery and lease-based claim tracking. The connection pool is bounded:
// when saturated, operations fail with store.ErrResourceExhausted instead of
// opening more connections, and callers are expected to back off.
type Broker struct {
	client   redis.UniversalClient
	leaseTTL time.Duration
	logger   *slog.Logger
}

// New creates a Broker with its own bounded connection pool.
func New(cfg config.RedisConfig, leaseTTL time.Duration, logger *slog.Logger) *Broker {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		PoolTimeout: cfg.PoolTimeout,
	})
	return NewWithClient(client, leaseTTL, logger)
}

// NewWithClient creates a Broker on an existing client. Used by tests to
// point the broker at miniredis.
func NewWithClient(client redis.UniversalClient, leaseTTL time.Duration, logger *slog.Logger) *Broker {
	return &Broker{
		client:   client,
		leaseTTL: leaseTTL,
		logger:   logger,
	}
}

// pendingKey returns the list key for a priority tier.
func pendingKey(priority domain.TaskPriority) string {
	return pendingKeyPrefix + string(priority)
}

// wrapErr maps pool exhaustion onto the shared ResourceExhausted sentinel so
// callers can apply bounded backoff, and passes other errors through wrapped.
func wrapErr(op string, err error) error {
	if errors.Is(err, redis.ErrPoolTimeout) {
		return fmt.Errorf("%w: broker %s", store.ErrResourceExhausted, op)
	}
	return fmt.Errorf("broker %s: %w", op, err)
}

// Ping verifies broker connectivity.
func (b *Broker) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return wrapErr("ping", err)
	}
	return nil
}

// Enqueue appends the task ID to its priority tier. Callers must only
// enqueue after the durable store create has succeeded, so a broker entry
// never references a non-existent record.
func (b *Broker) Enqueue(ctx context.Context, taskID uuid.UUID, priority domain.TaskPriority) error {
	if !domain.IsValidTaskPriority(priority) {
		return fmt.Errorf("broker enqueue: %w", domain.ErrInvalidPriority)
	}
	if err := b.client.LPush(ctx, pendingKey(priority), taskID.String()).Err(); err != nil {
		return wrapErr("enqueue", err)
	}
	return nil
}

// Dequeue blocks up to timeout for a pending task and claims it for the
// given worker. The claim is destructive: the entry leaves the pending list
// and enters the in-flight set with a lease deadline. Returns ok=false on
// timeout, and also when the popped entry had been cancelled while pending
// (callers simply loop).
func (b *Broker) Dequeue(ctx context.Context, workerID string, timeout time.Duration) (uuid.UUID, bool, error) {
	keys := make([]string, len(tierOrder))
	for i, tier := range tierOrder {
		keys[i] = pendingKey(tier)
	}

	res, err := b.client.BRPop(ctx, timeout, keys...).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return uuid.Nil, false, nil
		}
		return uuid.Nil, false, wrapErr("dequeue", err)
	}

	// res is [key, value]
	taskID, err := uuid.Parse(res[1])
	if err != nil {
		b.logger.Error("dropping malformed broker entry", "entry", res[1], "key", res[0])
		return uuid.Nil, false, nil
	}

	// A cancel that raced the pop leaves its mark in the cancelled set;
	// consume it and skip the task instead of claiming it.
	removed, err := b.client.SRem(ctx, cancelledKey, taskID.String()).Result()
	if err != nil {
		return uuid.Nil, false, wrapErr("dequeue", err)
	}
	if removed > 0 {
		b.logger.Debug("skipping cancelled task at dequeue", "task_id", taskID)
		return uuid.Nil, false, nil
	}

	// First-wins claim: recovery can leave duplicate entries in the
	// pending lists, and a second delivery must not steal a live lease.
	deadline := time.Now().Add(b.leaseTTL)
	claimed, err := claimScript.Run(ctx, b.client,
		[]string{claimsKey, inflightKey},
		taskID.String(), workerID, deadline.Unix(),
	).Int()
	if err != nil {
		return uuid.Nil, false, wrapErr("claim", err)
	}
	if claimed == 0 {
		b.logger.Debug("skipping already-claimed task at dequeue", "task_id", taskID)
		return uuid.Nil, false, nil
	}

	return taskID, true, nil
}

// Heartbeat extends the worker's lease on an in-flight task. Returns
// ErrNotClaimed if the lease has been reclaimed or belongs to another
// worker.
func (b *Broker) Heartbeat(ctx context.Context, workerID string, taskID uuid.UUID) error {
	if err := b.checkClaim(ctx, workerID, taskID); err != nil {
		return err
	}

	deadline := time.Now().Add(b.leaseTTL)
	added := b.client.ZAddXX(ctx, inflightKey, redis.Z{
		Score:  float64(deadline.Unix()),
		Member: taskID.String(),
	})
	if err := added.Err(); err != nil {
		return wrapErr("heartbeat", err)
	}
	return nil
}

// Release removes the worker's in-flight claim. On OutcomeRetryable the
// task is re-enqueued at the tail of its tier instead of being dropped.
// The durable status write must already have happened: store first, then
// release, so a crash between the two leaves a lease to reclaim rather than
// a lost status.
func (b *Broker) Release(
	ctx context.Context,
	workerID string,
	taskID uuid.UUID,
	outcome store.Outcome,
	priority domain.TaskPriority,
) error {
	if err := b.checkClaim(ctx, workerID, taskID); err != nil {
		return err
	}

	pipe := b.client.TxPipeline()
	pipe.ZRem(ctx, inflightKey, taskID.String())
	pipe.HDel(ctx, claimsKey, taskID.String())
	pipe.SRem(ctx, cancelledKey, taskID.String())
	if outcome == store.OutcomeRetryable {
		pipe.LPush(ctx, pendingKey(priority), taskID.String())
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return wrapErr("release", err)
	}
	return nil
}

// Cancel drops a pending broker entry. If the entry is not found in any
// tier (it may be mid-claim or already in flight), the task is flagged so a
// later dequeue skips it; an already-executing worker observes cancellation
// through the durable store instead.
func (b *Broker) Cancel(ctx context.Context, taskID uuid.UUID) error {
	var removed int64
	for _, tier := range tierOrder {
		n, err := b.client.LRem(ctx, pendingKey(tier), 0, taskID.String()).Result()
		if err != nil {
			return wrapErr("cancel", err)
		}
		removed += n
	}
	if removed > 0 {
		return nil
	}

	if err := b.client.SAdd(ctx, cancelledKey, taskID.String()).Err(); err != nil {
		return wrapErr("cancel", err)
	}
	return nil
}

// ReclaimExpired removes in-flight entries whose lease deadline has passed
// (worker crashed or hung) and returns their task IDs. The caller decides
// per task whether to re-enqueue or mark it failed, based on its retry
// budget in the durable store.
func (b *Broker) ReclaimExpired(ctx context.Context) ([]uuid.UUID, error) {
	now := fmt.Sprintf("%d", time.Now().Unix())
	members, err := b.client.ZRangeByScore(ctx, inflightKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: now,
	}).Result()
	if err != nil {
		return nil, wrapErr("reclaim", err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, 0, len(members))
	pipe := b.client.TxPipeline()
	for _, member := range members {
		id, err := uuid.Parse(member)
		if err != nil {
			b.logger.Error("dropping malformed in-flight entry", "entry", member)
			pipe.ZRem(ctx, inflightKey, member)
			pipe.HDel(ctx, claimsKey, member)
			continue
		}
		ids = append(ids, id)
		pipe.ZRem(ctx, inflightKey, member)
		pipe.HDel(ctx, claimsKey, member)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, wrapErr("reclaim", err)
	}

	return ids, nil
}

// InFlight reports whether the task currently holds a live lease.
func (b *Broker) InFlight(ctx context.Context, taskID uuid.UUID) (bool, error) {
	err := b.client.ZScore(ctx, inflightKey, taskID.String()).Err()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, wrapErr("inflight", err)
	}
	return true, nil
}

// Close releases the broker's connection pool.
func (b *Broker) Close() error {
	return b.client.Close()
}

// checkClaim verifies the worker still owns the task's claim.
func (b *Broker) checkClaim(ctx context.Context, workerID string, taskID uuid.UUID) error {
	owner, err := b.client.HGet(ctx, claimsKey, taskID.String()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return store.ErrNotClaimed
		}
		return wrapErr("claim check", err)
	}
	if owner != workerID {
		return store.ErrNotClaimed
	}
	return nil
}
