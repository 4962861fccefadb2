// Package approvals gates high-risk trades behind automatic or human
// approval with timeout semantics.
package approvals

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/nipunasudha/monopoly-polymarket-agent/internal/observability"
	"github.com/rs/zerolog/log"
)

// Status is an approval request's state. Pending transitions to
// exactly one terminal state.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusTimedOut Status = "timeout"
)

// Request is one pending approval.
type Request struct {
	TradeID    string                 `json:"trade_id"`
	TradeData  map[string]interface{} `json:"trade_data"`
	CreatedAt  time.Time              `json:"created_at"`
	Status     Status                 `json:"status"`
	ApprovedAt *time.Time             `json:"approved_at,omitempty"`
	RejectedAt *time.Time             `json:"rejected_at,omitempty"`
	Timeout    time.Duration          `json:"timeout"`
}

// Notifier broadcasts a new pending approval to an external observer.
// Strictly best effort; a notification failure never fails the
// approval flow.
type Notifier interface {
	Notify(tradeID string, tradeData map[string]interface{}) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(tradeID string, tradeData map[string]interface{}) error

func (f NotifierFunc) Notify(tradeID string, tradeData map[string]interface{}) error {
	return f(tradeID, tradeData)
}

// Options configures a Manager. Zero values fall back to defaults.
type Options struct {
	AutoApproveThreshold float64
	DefaultTimeout       time.Duration
	GraceDelay           time.Duration
	Notifier             Notifier
}

// Manager is the human-in-the-loop state machine for risky trades.
// Trades below the auto-approve threshold pass through without a
// stored request; everything else blocks on an explicit decision or a
// deadline. Each request has its own wait channel, so concurrent
// approvals never serialize behind one blocked caller.
type Manager struct {
	threshold      float64
	defaultTimeout time.Duration
	graceDelay     time.Duration
	notifier       Notifier

	pending map[string]*Request
	waiters map[string]chan struct{}
	stats   map[string]int64
	mu      sync.Mutex
}

// New creates a Manager.
func New(opts Options) *Manager {
	observability.EnsureRegistered()

	if opts.AutoApproveThreshold <= 0 {
		opts.AutoApproveThreshold = 0.05
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 5 * time.Minute
	}
	if opts.GraceDelay <= 0 {
		opts.GraceDelay = 5 * time.Second
	}

	return &Manager{
		threshold:      opts.AutoApproveThreshold,
		defaultTimeout: opts.DefaultTimeout,
		graceDelay:     opts.GraceDelay,
		notifier:       opts.Notifier,
		pending:        make(map[string]*Request),
		waiters:        make(map[string]chan struct{}),
		stats: map[string]int64{
			"total_requests":    0,
			"auto_approved":     0,
			"manually_approved": 0,
			"rejected":          0,
			"timeout":           0,
		},
	}
}

// RequestApproval blocks until the trade is approved, rejected, or the
// timeout elapses. Trades whose size is below the auto-approve
// threshold return true immediately without a stored request. A
// timeout is a true deadline and returns false.
func (m *Manager) RequestApproval(ctx context.Context, tradeID string, tradeData map[string]interface{}, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = m.defaultTimeout
	}

	m.mu.Lock()
	m.stats["total_requests"]++

	size := coerceSize(tradeData["size"])
	if size < m.threshold {
		m.stats["auto_approved"]++
		m.mu.Unlock()

		log.Info().
			Str("tradeId", tradeID).
			Float64("size", size).
			Float64("threshold", m.threshold).
			Msg("Trade auto-approved")
		observability.RecordApprovalDecision("auto_approved")

		return true
	}

	request := &Request{
		TradeID:   tradeID,
		TradeData: tradeData,
		CreatedAt: time.Now(),
		Status:    StatusPending,
		Timeout:   timeout,
	}
	waiter := make(chan struct{})
	m.pending[tradeID] = request
	m.waiters[tradeID] = waiter
	pendingCount := m.pendingCountLocked()
	m.mu.Unlock()

	observability.SetApprovalsPending(pendingCount)

	m.notify(tradeID, tradeData)

	return m.waitForDecision(ctx, tradeID, waiter, timeout)
}

// waitForDecision blocks the caller without holding the manager lock.
func (m *Manager) waitForDecision(ctx context.Context, tradeID string, waiter chan struct{}, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	expired := false
	select {
	case <-waiter:
	case <-timer.C:
		expired = true
	case <-ctx.Done():
		expired = true
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	request := m.pending[tradeID]

	if expired {
		// A decision may have raced the deadline. The status is
		// authoritative: decide sets it under this lock before the
		// waiter is closed, so the waiter alone can lag a landed
		// decision.
		decided := request != nil && request.Status != StatusPending
		if !decided {
			select {
			case <-waiter:
				decided = true
			default:
			}
		}

		if !decided {
			if request != nil {
				now := time.Now()
				request.Status = StatusTimedOut
				request.RejectedAt = &now
			}
			m.stats["timeout"]++

			// Timed-out bookkeeping goes immediately; the grace delay
			// is for explicit decisions only.
			delete(m.pending, tradeID)
			delete(m.waiters, tradeID)

			log.Warn().
				Str("tradeId", tradeID).
				Dur("timeout", timeout).
				Msg("Approval request timed out")
			observability.RecordApprovalDecision("timeout")
			observability.SetApprovalsPending(m.pendingCountLocked())

			return false
		}
	}

	if request != nil && request.Status == StatusApproved {
		m.stats["manually_approved"]++
		observability.RecordApprovalDecision("manually_approved")
		return true
	}
	if request != nil && request.Status == StatusRejected {
		m.stats["rejected"]++
		observability.RecordApprovalDecision("rejected")
	}
	return false
}

// Approve marks a pending trade approved and wakes its waiter.
// Returns false for unknown ids and for requests already in a
// terminal state; neither changes any statistic.
func (m *Manager) Approve(tradeID string) bool {
	return m.decide(tradeID, StatusApproved)
}

// Reject marks a pending trade rejected and wakes its waiter. Same
// idempotency rules as Approve.
func (m *Manager) Reject(tradeID string) bool {
	return m.decide(tradeID, StatusRejected)
}

func (m *Manager) decide(tradeID string, terminal Status) bool {
	m.mu.Lock()

	request := m.pending[tradeID]
	if request == nil {
		m.mu.Unlock()
		log.Warn().Str("tradeId", tradeID).Msg("Approval decision for unknown trade")
		return false
	}
	if request.Status != StatusPending {
		m.mu.Unlock()
		log.Warn().
			Str("tradeId", tradeID).
			Str("status", string(request.Status)).
			Msg("Approval decision for already processed trade")
		return false
	}

	now := time.Now()
	request.Status = terminal
	if terminal == StatusApproved {
		request.ApprovedAt = &now
	} else {
		request.RejectedAt = &now
	}

	waiter := m.waiters[tradeID]
	pendingCount := m.pendingCountLocked()
	m.mu.Unlock()

	if waiter != nil {
		close(waiter)
	}

	log.Info().
		Str("tradeId", tradeID).
		Str("decision", string(terminal)).
		Msg("Approval decision recorded")
	observability.SetApprovalsPending(pendingCount)

	// Keep the terminal record around briefly so a late status read
	// still sees the outcome.
	time.AfterFunc(m.graceDelay, func() {
		m.cleanup(tradeID)
	})

	return true
}

func (m *Manager) cleanup(tradeID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.pending, tradeID)
	delete(m.waiters, tradeID)
}

// SetNotifier replaces the approval observer. Used when the observer
// cannot exist yet at construction time, such as the dashboard server
// that itself needs the manager.
func (m *Manager) SetNotifier(n Notifier) {
	m.mu.Lock()
	m.notifier = n
	m.mu.Unlock()
}

func (m *Manager) notify(tradeID string, tradeData map[string]interface{}) {
	m.mu.Lock()
	notifier := m.notifier
	m.mu.Unlock()

	if notifier == nil {
		return
	}
	// Notification failures never block the approval flow.
	if err := notifier.Notify(tradeID, tradeData); err != nil {
		log.Error().Str("tradeId", tradeID).Err(err).Msg("Failed to notify approval observer")
	}
}

// GetPending returns a snapshot of requests still pending, including
// the remaining decision window for each.
func (m *Manager) GetPending() map[string]map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	out := make(map[string]map[string]interface{})
	for tradeID, request := range m.pending {
		if request.Status != StatusPending {
			continue
		}
		remaining := request.Timeout - now.Sub(request.CreatedAt)
		if remaining < 0 {
			remaining = 0
		}
		out[tradeID] = map[string]interface{}{
			"trade_id":       request.TradeID,
			"trade_data":     request.TradeData,
			"created_at":     request.CreatedAt,
			"status":         string(request.Status),
			"timeout":        request.Timeout.Seconds(),
			"time_remaining": remaining.Seconds(),
		}
	}
	return out
}

// GetStatus returns a snapshot of one request, or nil when unknown or
// already swept.
func (m *Manager) GetStatus(tradeID string) map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	request := m.pending[tradeID]
	if request == nil {
		return nil
	}

	return map[string]interface{}{
		"trade_id":    request.TradeID,
		"status":      string(request.Status),
		"created_at":  request.CreatedAt,
		"approved_at": request.ApprovedAt,
		"rejected_at": request.RejectedAt,
		"timeout":     request.Timeout.Seconds(),
	}
}

// GetStats returns cumulative counters plus the live pending count.
func (m *Manager) GetStats() map[string]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]int64, len(m.stats)+1)
	for k, v := range m.stats {
		out[k] = v
	}
	out["pending_count"] = int64(m.pendingCountLocked())
	return out
}

func (m *Manager) pendingCountLocked() int {
	count := 0
	for _, request := range m.pending {
		if request.Status == StatusPending {
			count++
		}
	}
	return count
}

// coerceSize reads a trade size that may arrive as a number or a
// string-encoded number. Unparseable values count as zero.
func coerceSize(v interface{}) float64 {
	switch size := v.(type) {
	case float64:
		return size
	case int:
		return float64(size)
	case int64:
		return float64(size)
	case string:
		parsed, err := strconv.ParseFloat(size, 64)
		if err != nil {
			return 0
		}
		return parsed
	default:
		return 0
	}
}
