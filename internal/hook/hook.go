package hook

import (
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/plexsphere/myfw/internal/rule"
)

// ErrUnsupported is returned on platforms without nftables and NFQUEUE.
var ErrUnsupported = errors.New("hook: packet hook is only supported on Linux")

// Decider returns the verdict for a raw IPv4 packet.
// Implementations must be safe for concurrent use.
type Decider interface {
	Decide(packet []byte) rule.Verdict
}

// NftablesController installs and removes the rule that diverts packets to
// the queue.
type NftablesController struct {
	cfg    Config
	logger *slog.Logger
}

// NewNftablesController returns a controller for cfg. Config defaults are
// applied automatically.
func NewNftablesController(cfg Config, logger *slog.Logger) *NftablesController {
	cfg.ApplyDefaults()
	return &NftablesController{cfg: cfg, logger: logger.With("component", "hook")}
}

// Stats holds the queue reader's counters.
type Stats struct {
	Processed     uint64 `json:"processed"`
	Accepted      uint64 `json:"accepted"`
	Dropped       uint64 `json:"dropped"`
	VerdictErrors uint64 `json:"verdict_errors"`
}

// Queue reads packets from an NFQUEUE and answers each one with the
// Decider's verdict.
type Queue struct {
	cfg     Config
	decider Decider
	logger  *slog.Logger

	processed     atomic.Uint64
	accepted      atomic.Uint64
	dropped       atomic.Uint64
	verdictErrors atomic.Uint64
}

// NewQueue returns a queue reader for cfg. Config defaults are applied
// automatically.
func NewQueue(cfg Config, d Decider, logger *slog.Logger) *Queue {
	cfg.ApplyDefaults()
	return &Queue{cfg: cfg, decider: d, logger: logger.With("component", "hook")}
}

// Stats returns a snapshot of the queue counters.
func (q *Queue) Stats() Stats {
	return Stats{
		Processed:     q.processed.Load(),
		Accepted:      q.accepted.Load(),
		Dropped:       q.dropped.Load(),
		VerdictErrors: q.verdictErrors.Load(),
	}
}

// decide asks the Decider about payload and counts the outcome. It reports
// whether the packet is to be accepted.
func (q *Queue) decide(payload []byte) bool {
	q.processed.Add(1)
	if q.decider.Decide(payload) == rule.Reject {
		q.dropped.Add(1)
		return false
	}
	q.accepted.Add(1)
	return true
}
