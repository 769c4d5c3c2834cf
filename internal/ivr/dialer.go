package ivr

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Stanford-Legal-Tech-Design/legaltech-rapidpro/internal/monitoring"
	"github.com/Stanford-Legal-Tech-Design/legaltech-rapidpro/pkg/logger"
	"github.com/Stanford-Legal-Tech-Design/legaltech-rapidpro/pkg/utils"
	"github.com/redis/go-redis/v9"
)

// Dialer places queued outgoing calls on background workers, decoupling
// provider API latency from whatever triggered the call. There is no
// cancellation path: a job that cannot be placed ends as a failed status
// on the record, never as an error to the trigger.
type Dialer struct {
	svc  *Service
	jobs chan DialJob

	workers int

	// rdb, when set, caps concurrent placements per org via the shared
	// Lua scripts in pkg/utils. The cap blocks the worker, not the
	// enqueueing caller.
	rdb    *redis.Client
	orgCap int
	capTTL time.Duration

	metrics *monitoring.Metrics

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

type DialerConfig struct {
	Workers int
	Queue   int

	// OrgConcurrency limits in-flight placements per org when a redis
	// client is provided. Zero disables the cap.
	OrgConcurrency int
}

func (c DialerConfig) withDefaults() DialerConfig {
	out := c
	if out.Workers <= 0 {
		out.Workers = 4
	}
	if out.Queue <= 0 {
		out.Queue = 256
	}
	return out
}

func NewDialer(svc *Service, rdb *redis.Client, cfg DialerConfig) *Dialer {
	cfg = cfg.withDefaults()
	return &Dialer{
		svc:     svc,
		jobs:    make(chan DialJob, cfg.Queue),
		workers: cfg.Workers,
		rdb:     rdb,
		orgCap:  cfg.OrgConcurrency,
		capTTL:  2 * time.Minute,
		stop:    make(chan struct{}),
	}
}

// SetMetrics attaches placement counters. Nil is fine; counting is then
// a no-op.
func (d *Dialer) SetMetrics(m *monitoring.Metrics) { d.metrics = m }

// Enqueue queues a placement job. Non-blocking for the common case; a
// full queue drops the job and fails the record so the trigger path stays
// responsive even under a provider outage backlog.
func (d *Dialer) Enqueue(job DialJob) {
	select {
	case d.jobs <- job:
	default:
		ctx := context.Background()
		logger.From(ctx).Error("dial queue full, failing call", "call_id", job.CallID)
		d.svc.markFailed(ctx, job.CallID)
		d.metrics.CountCallPlaced("dropped")
	}
}

func (d *Dialer) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.run(ctx)
	}
}

// Stop drains nothing: pending jobs past this point fail on next boot as
// stale pending calls. Safe to call more than once.
func (d *Dialer) Stop() {
	d.once.Do(func() { close(d.stop) })
	d.wg.Wait()
}

func (d *Dialer) run(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stop:
			return
		case job := <-d.jobs:
			d.place(ctx, job)
		}
	}
}

func (d *Dialer) place(ctx context.Context, job DialJob) {
	release, err := d.acquireOrgSlot(ctx, job.CallID)
	if err != nil {
		logger.From(ctx).Warn("org dial cap check failed", "call_id", job.CallID, "err", err)
	}
	if release != nil {
		defer release()
	}

	if err := d.svc.PlaceQueued(ctx, job.CallID, job.Actor); err != nil {
		// Already absorbed into the record's status; log only.
		logger.From(ctx).Warn("placement finished with error", "call_id", job.CallID, "err", err)
		d.metrics.CountCallPlaced("failed")
		return
	}
	d.metrics.CountCallPlaced("ok")
}

func (d *Dialer) acquireOrgSlot(ctx context.Context, callID string) (func(), error) {
	if d.rdb == nil || d.orgCap <= 0 {
		return nil, nil
	}
	c, err := d.svc.store.Get(ctx, callID)
	if err != nil {
		return nil, err
	}
	key := fmt.Sprintf("ivr:dialcap:%s", c.OrgID)

	// Spin with a short backoff until a slot frees up. The cap protects
	// the provider account from concurrent-call limits.
	for {
		ok, err := utils.AcquireConcurrencyCap(ctx, d.rdb, key, d.orgCap, d.capTTL)
		if err != nil {
			return nil, err
		}
		if ok {
			return func() {
				if err := utils.ReleaseConcurrencyCap(context.Background(), d.rdb, key); err != nil {
					logger.From(ctx).Warn("dial cap release failed", "key", key, "err", err)
				}
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-d.stop:
			return nil, context.Canceled
		case <-time.After(250 * time.Millisecond):
		}
	}
}
