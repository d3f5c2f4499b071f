package fanout

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/baechuer/queuecore/internal/domain"
	"github.com/baechuer/queuecore/internal/lease"
	"github.com/baechuer/queuecore/internal/metrics"
	"github.com/baechuer/queuecore/internal/outbox"
)

// safetyFactor multiplies a policy's cadence to compute the lease duration
// a coordinator run holds, leaving headroom so a slow run never outlives
// its own lease mid-dispatch (spec.md §4.G step 1).
const safetyFactor = 2

// Joiner attaches dispatched outbox messages to an outbox join (component
// H). Optional: a Coordinator with no Joiner simply skips step 3's
// "optionally joined via 4.H" clause.
type Joiner interface {
	Attach(ctx context.Context, joinID, outboxMessageID string) error
}

// shardPayload is the JSON envelope every fan-out dispatch carries,
// identifying which shard of which policy a handler is processing.
type shardPayload struct {
	Topic     string `json:"topic"`
	WorkKey   string `json:"work_key"`
	ShardKey  string `json:"shard_key"`
	BucketKey string `json:"bucket_key"`
}

// Coordinator implements Run(topic, workKey), the lease-guarded planner +
// cursor + dispatch loop of spec.md §4.G.
type Coordinator struct {
	leaseMgr *lease.Manager
	policies PolicyStore
	cursors  CursorStore
	planner  Planner
	outbox   *outbox.Outbox
	joins    Joiner
	log      zerolog.Logger

	now func() time.Time
}

// RecommendedLeaseDuration is the spec.md §4.G step 1 formula
// (cadence * safetyFactor) a host uses when constructing the lease.Manager
// it hands to NewCoordinator for a given policy's cadence class.
func RecommendedLeaseDuration(policy Policy) time.Duration {
	return time.Duration(policy.EverySeconds) * safetyFactor * time.Second
}

func NewCoordinator(leaseMgr *lease.Manager, policies PolicyStore, cursors CursorStore, planner Planner, ob *outbox.Outbox, joins Joiner, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		leaseMgr: leaseMgr, policies: policies, cursors: cursors, planner: planner,
		outbox: ob, joins: joins, log: log, now: time.Now,
	}
}

// Run attempts one fan-out pass for (topic, workKey), returning the number
// of shards dispatched. A refused lease (another node is running) returns
// (0, nil), not an error. joinID, if non-empty, attaches every dispatched
// message to that outbox join.
func (c *Coordinator) Run(ctx context.Context, topic, workKey, joinID string) (int, error) {
	policy, ok, err := c.policies.Get(ctx, topic, workKey)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrTransientStorage, err)
	}
	if !ok {
		return 0, domain.ErrNotFound
	}

	// The lease's duration is fixed on c.leaseMgr at construction time, not
	// computed per call: a host wires one Manager per fan-out cadence
	// class with duration ~= cadence * safetyFactor, since
	// lease.Manager.Acquire takes no per-call duration override.
	resource := fmt.Sprintf("fanout:%s:%s", topic, workKey)
	l, acquired, err := c.leaseMgr.Acquire(ctx, resource)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrTransientStorage, err)
	}
	if !acquired {
		return 0, nil
	}
	defer func() { _ = l.Release(ctx) }()

	shardKeys, err := c.planner.Candidates(ctx, topic, workKey)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrTransientStorage, err)
	}

	now := c.now()
	dispatched := 0
	for _, shardKey := range shardKeys {
		if err := l.ThrowIfLost(); err != nil {
			return dispatched, err
		}
		cursor, _, err := c.cursors.Get(ctx, topic, workKey, shardKey)
		if err != nil {
			c.log.Warn().Err(err).Str("shard", shardKey).Msg("fanout cursor lookup failed")
			continue
		}
		cursor.Topic, cursor.WorkKey, cursor.ShardKey = topic, workKey, shardKey
		if !isDue(cursor, policy, now) {
			continue
		}

		if err := c.cursors.MarkAttempt(ctx, topic, workKey, shardKey, AttemptPending, now); err != nil {
			c.log.Warn().Err(err).Str("shard", shardKey).Msg("fanout mark attempt failed")
			continue
		}

		bucket := bucketKey(policy, now)
		messageID := deterministicMessageID(topic, workKey, shardKey, bucket)
		payload, err := json.Marshal(shardPayload{Topic: topic, WorkKey: workKey, ShardKey: shardKey, BucketKey: bucket})
		if err != nil {
			c.log.Error().Err(err).Str("shard", shardKey).Msg("fanout payload marshal failed")
			continue
		}

		outboxID, err := c.outbox.EnqueueWithID(ctx, messageID, topic, payload, resource)
		if err != nil {
			_ = c.cursors.MarkAttempt(ctx, topic, workKey, shardKey, AttemptFailed, now)
			c.log.Warn().Err(err).Str("shard", shardKey).Msg("fanout enqueue failed, will retry next run")
			continue
		}
		if err := c.cursors.MarkAttempt(ctx, topic, workKey, shardKey, AttemptDispatched, now); err != nil {
			c.log.Warn().Err(err).Str("shard", shardKey).Msg("fanout mark dispatched failed")
		}
		if joinID != "" && c.joins != nil {
			if err := c.joins.Attach(ctx, joinID, outboxID); err != nil {
				c.log.Warn().Err(err).Str("shard", shardKey).Msg("fanout attach to join failed")
			}
		}
		metrics.RecordFanoutDispatch(topic)
		dispatched++
	}
	return dispatched, nil
}

// MarkShardCompleted is the callback a shard's handler invokes once its
// outbox message acks, advancing the shard's cursor past the current
// cadence window (spec.md §4.G step 4: "cursor advances to completed only
// after downstream ack, reported back via mark_completed").
func (c *Coordinator) MarkShardCompleted(ctx context.Context, topic, workKey, shardKey string) error {
	if err := c.cursors.MarkCompleted(ctx, topic, workKey, shardKey, c.now()); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransientStorage, err)
	}
	return nil
}

func bucketKey(policy Policy, now time.Time) string {
	every := time.Duration(policy.EverySeconds) * time.Second
	if every <= 0 {
		return now.UTC().Format(time.RFC3339)
	}
	return now.UTC().Truncate(every).Format(time.RFC3339)
}

// deterministicMessageID derives a stable outbox message id from the
// dispatch coordinates so a retried dispatch of the same shard within the
// same cadence bucket never double-enqueues (spec.md §4.G step 5).
func deterministicMessageID(topic, workKey, shardKey, bucket string) string {
	h := sha256.Sum256([]byte(topic + "|" + workKey + "|" + shardKey + "|" + bucket))
	return hex.EncodeToString(h[:16])
}
