// Package syncer implements the sync coordinator: draining the durable
// mutation log against the remote service once connectivity returns.
package syncer

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"

	"github.com/caresync-labs/caresync/internal/domain"
	"github.com/caresync-labs/caresync/internal/ports"
	"github.com/caresync-labs/caresync/pkg/log"
)

// rejectionBodyLimit bounds how much of a terminal rejection body is kept
// for the log line.
const rejectionBodyLimit = 512

// Coordinator drains the mutation log. Replay is strictly sequential in
// enqueue order within one pass: clinical actions carry causal dependencies
// (create-admission before attach-order), so there is no reordering and no
// parallel replay. A pass never aborts on one failure.
type Coordinator struct {
	mlog     ports.MutationLog
	client   ports.HTTPClient
	notifier ports.Notifier
	logger   log.Logger

	// passMu serializes drain passes. A trigger arriving while a pass is in
	// flight sets pending instead of starting a concurrent pass, so no
	// mutation is ever replayed twice by overlapping passes.
	passMu    sync.Mutex
	pendingMu sync.Mutex
	pending   bool
}

// New creates a coordinator.
func New(mlog ports.MutationLog, client ports.HTTPClient, notifier ports.Notifier, logger log.Logger) *Coordinator {
	return &Coordinator{
		mlog:     mlog,
		client:   client,
		notifier: notifier,
		logger:   logger,
	}
}

// Drain runs one complete pass over the queued mutations. If a pass is
// already in flight the call is coalesced: exactly one follow-up pass runs
// after the current one finishes, and the returned summary has Coalesced
// set with no other counts.
func (c *Coordinator) Drain(ctx context.Context) (domain.DrainSummary, error) {
	if !c.passMu.TryLock() {
		c.pendingMu.Lock()
		c.pending = true
		c.pendingMu.Unlock()
		return domain.DrainSummary{Coalesced: true}, nil
	}
	defer c.passMu.Unlock()

	summary, err := c.pass(ctx)
	for err == nil && c.takePending() {
		summary, err = c.pass(ctx)
	}
	return summary, err
}

func (c *Coordinator) takePending() bool {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	p := c.pending
	c.pending = false
	return p
}

// pass reads one ordered snapshot and replays every entry verbatim.
func (c *Coordinator) pass(ctx context.Context) (domain.DrainSummary, error) {
	entries, err := c.mlog.ListAll(ctx)
	if err != nil {
		c.logger.Error("drain: read queue snapshot", log.Err(err))
		return domain.DrainSummary{}, err
	}

	var summary domain.DrainSummary
	for _, m := range entries {
		switch c.replay(ctx, m) {
		case domain.OutcomeSucceeded:
			summary.Synced++
		case domain.OutcomeFailedTerminal:
			summary.Failed++
		case domain.OutcomeFailedRetryable:
			summary.Remaining++
		}
	}

	// Exactly one summary per pass, plus the resulting queue depth.
	c.notifier.Broadcast(domain.DrainCompleted{
		Synced:    summary.Synced,
		Failed:    summary.Failed,
		Remaining: summary.Remaining,
	})
	if count, err := c.mlog.Count(ctx); err == nil {
		c.notifier.Broadcast(domain.QueueDepthChanged{PendingCount: count})
	}

	if len(entries) > 0 {
		c.logger.Info("drain pass complete",
			log.Int("synced", summary.Synced),
			log.Int("failed", summary.Failed),
			log.Int("remaining", summary.Remaining),
		)
	}
	return summary, nil
}

// replay re-issues the original call verbatim and classifies the outcome.
// Success and terminal rejection both remove the entry; retryable failures
// leave it queued for a later pass.
func (c *Coordinator) replay(ctx context.Context, m domain.QueuedMutation) domain.Outcome {
	req, err := http.NewRequestWithContext(ctx, m.Method, m.URL, bytes.NewReader(m.Body))
	if err != nil {
		// The entry can never be replayed; keeping it would wedge the queue.
		c.logger.Error("drain: unreplayable entry, removing",
			log.Int64("id", m.ID),
			log.String("url", m.URL),
			log.Err(err),
		)
		c.remove(ctx, m.ID)
		return domain.OutcomeFailedTerminal
	}
	req.Header = m.Header.Clone()

	resp, err := c.client.Do(req)
	if err != nil {
		// No response reached the server: always retryable.
		c.logger.Warn("drain: network failure, entry stays queued",
			log.Int64("id", m.ID),
			log.String("url", m.URL),
			log.Err(err),
		)
		return domain.OutcomeFailedRetryable
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode/100 == 2:
		c.remove(ctx, m.ID)
		c.logger.Debug("drain: replayed",
			log.Int64("id", m.ID),
			log.String("method", m.Method),
			log.String("url", m.URL),
		)
		return domain.OutcomeSucceeded

	case resp.StatusCode/100 == 4:
		// The request reached the server and was rejected; retrying risks
		// duplicate clinical side effects. Removed after this one attempt
		// and reported loudly so it is never silently dropped.
		body, _ := io.ReadAll(io.LimitReader(resp.Body, rejectionBodyLimit))
		c.logger.Error("drain: terminal rejection, entry removed",
			log.Int64("id", m.ID),
			log.String("method", m.Method),
			log.String("url", m.URL),
			log.Int("status", resp.StatusCode),
			log.String("response", string(body)),
			log.Time("enqueued_at", m.EnqueuedAt),
		)
		c.remove(ctx, m.ID)
		return domain.OutcomeFailedTerminal

	default:
		// 5xx and everything else: the server may recover.
		c.logger.Warn("drain: transient remote failure, entry stays queued",
			log.Int64("id", m.ID),
			log.String("url", m.URL),
			log.Int("status", resp.StatusCode),
		)
		return domain.OutcomeFailedRetryable
	}
}

func (c *Coordinator) remove(ctx context.Context, id int64) {
	if err := c.mlog.Remove(ctx, id); err != nil {
		// The entry will be replayed on a later pass; at-least-once rather
		// than lost.
		c.logger.Error("drain: remove entry", log.Int64("id", id), log.Err(err))
	}
}
