package filter

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/plexsphere/myfw/internal/classify"
	"github.com/plexsphere/myfw/internal/rule"
	"github.com/plexsphere/myfw/internal/rulestore"
)

// TruncatedSentinel terminates a listing that did not fit its buffer.
const TruncatedSentinel = "More Rules ...\n"

// listReserve is the space kept free at the end of a listing buffer so the
// longest rule line or the sentinel always fits.
const listReserve = 80

// Filter is the packet filter engine. Packet decisions run concurrently under
// a read lock; rule changes take the write lock.
type Filter struct {
	mu    sync.RWMutex
	store *rulestore.Store

	active     atomic.Bool
	classifier *classify.Classifier
	metrics    *Metrics
	logger     *slog.Logger
}

// New creates a Filter from cfg. Collectors are registered with reg, which
// may be nil. Config defaults are applied automatically.
func New(cfg Config, reg prometheus.Registerer, logger *slog.Logger) (*Filter, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	f := &Filter{
		store:      rulestore.New(cfg.MaxRules),
		classifier: classify.New(),
		metrics:    newMetrics(reg),
		logger:     logger.With("component", "filter"),
	}
	f.store.SetDefaultVerdict(cfg.defaultVerdict())
	if cfg.StartActive {
		f.Start()
	}
	return f, nil
}

// Start enables packet evaluation.
func (f *Filter) Start() {
	if !f.active.Swap(true) {
		f.metrics.Active.Set(1)
		f.logger.Info("filter started")
	}
}

// Shutdown disables packet evaluation; packets then bypass the rules.
func (f *Filter) Shutdown() {
	if f.active.Swap(false) {
		f.metrics.Active.Set(0)
		f.logger.Info("filter shut down")
	}
}

// Active reports whether packets are evaluated.
func (f *Filter) Active() bool {
	return f.active.Load()
}

// Decide returns the verdict for a raw IPv4 packet. Inactive filters and
// packets the classifier cannot describe are permitted without consulting
// the rules.
func (f *Filter) Decide(packet []byte) rule.Verdict {
	if !f.active.Load() {
		f.metrics.Packets.WithLabelValues(verdictLabel(rule.Permit), sourceInactive).Inc()
		return rule.Permit
	}
	d, ok := f.classifier.Classify(packet)
	if !ok {
		f.metrics.Packets.WithLabelValues(verdictLabel(rule.Permit), sourceUnclassified).Inc()
		return rule.Permit
	}

	f.mu.RLock()
	_, v, matched := f.store.Lookup(d)
	f.mu.RUnlock()

	source := sourceDefault
	if matched {
		source = sourceRule
	}
	f.metrics.Packets.WithLabelValues(verdictLabel(v), source).Inc()
	return v
}

// Evaluate returns the verdict for an already classified descriptor.
func (f *Filter) Evaluate(d rule.Rule) rule.Verdict {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return rulestore.Evaluate(d, f.store)
}

// Insert adds r in front of every existing rule.
func (f *Filter) Insert(r rule.Rule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.store.InsertFront(r); err != nil {
		return fmt.Errorf("filter: insert: %w", err)
	}
	f.changedLocked("insert", r)
	return nil
}

// Append adds r after every existing rule.
func (f *Filter) Append(r rule.Rule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.store.AppendTail(r); err != nil {
		return fmt.Errorf("filter: append: %w", err)
	}
	f.changedLocked("append", r)
	return nil
}

// InsertText parses text and inserts the rule at the front.
func (f *Filter) InsertText(text string) (rule.Rule, error) {
	r, err := f.parse(text)
	if err != nil {
		return rule.Rule{}, err
	}
	if err := f.Insert(r); err != nil {
		return rule.Rule{}, err
	}
	return r, nil
}

// AppendText parses text and appends the rule.
func (f *Filter) AppendText(text string) (rule.Rule, error) {
	r, err := f.parse(text)
	if err != nil {
		return rule.Rule{}, err
	}
	if err := f.Append(r); err != nil {
		return rule.Rule{}, err
	}
	return r, nil
}

// DeleteMatching removes every rule matched by pattern.
func (f *Filter) DeleteMatching(pattern rule.Rule) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.store.DeleteMatching(pattern)
	f.metrics.Rules.Set(float64(f.store.Len()))
	f.logger.Debug("rules deleted by pattern", "pattern", pattern.String(), "removed", n)
	return n
}

// DeleteMatchingText parses a pattern and removes every rule it matches.
func (f *Filter) DeleteMatchingText(text string) (int, error) {
	p, err := f.parse(text)
	if err != nil {
		return 0, err
	}
	return f.DeleteMatching(p), nil
}

// DeleteAt removes the rule at 0-based position i.
func (f *Filter) DeleteAt(i int) (rule.Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, err := f.store.DeleteAt(i)
	if err != nil {
		return rule.Rule{}, fmt.Errorf("filter: delete: %w", err)
	}
	f.metrics.Rules.Set(float64(f.store.Len()))
	f.logger.Debug("rule deleted", "position", i, "rule", r.String())
	return r, nil
}

// Clear removes every rule and resets the default verdict to Permit.
func (f *Filter) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.store.Len()
	f.store.Clear()
	f.metrics.Rules.Set(0)
	f.logger.Info("rules cleared", "removed", n)
}

// SetDefault changes the verdict applied when no rule matches.
func (f *Filter) SetDefault(v rule.Verdict) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.store.SetDefaultVerdict(v)
	f.logger.Info("default verdict changed", "verdict", v.String())
}

// Default returns the verdict applied when no rule matches.
func (f *Filter) Default() rule.Verdict {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.store.DefaultVerdict()
}

// Len returns the number of rules.
func (f *Filter) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.store.Len()
}

// Rules returns a copy of the rule list in evaluation order.
func (f *Filter) Rules() []rule.Rule {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.store.Rules()
}

// Status summarizes the filter state.
type Status struct {
	Active   bool   `json:"active"`
	Default  string `json:"default"`
	Rules    int    `json:"rules"`
	Capacity int    `json:"capacity,omitempty"`
}

// Status returns a consistent summary of the filter state.
func (f *Filter) Status() Status {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return Status{
		Active:   f.active.Load(),
		Default:  f.store.DefaultVerdict().String(),
		Rules:    f.store.Len(),
		Capacity: f.store.Cap(),
	}
}

// WriteRules writes the rule list in evaluation order, one rule per line.
// When capacity is positive the listing stops once fewer than 80 bytes of
// capacity remain, and TruncatedSentinel is written in place of the rest.
func (f *Filter) WriteRules(w io.Writer, capacity int) (truncated bool, err error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	written := 0
	for _, r := range f.store.All() {
		if capacity > 0 && written > capacity-listReserve {
			_, err = io.WriteString(w, TruncatedSentinel)
			return true, err
		}
		n, werr := io.WriteString(w, rule.Serialize(r))
		written += n
		if werr != nil {
			return false, werr
		}
	}
	return false, nil
}

// LoadResult reports the outcome of a batch load.
type LoadResult struct {
	Accepted int     `json:"accepted"`
	Rejected int     `json:"rejected"`
	Errors   []error `json:"-"`
}

// Err joins the per-line errors, or returns nil when every line was accepted.
func (r LoadResult) Err() error {
	return errors.Join(r.Errors...)
}

// LoadRules reads rule lines from rd and inserts each valid one at the front,
// so the last line of the input ends up with the highest precedence. Blank
// lines and lines starting with '#' are skipped. A rejected line leaves the
// rule list untouched. The whole input is read before any rule is inserted:
// when reading fails the rule list is unchanged and the returned result
// carries no accepted rules.
func (f *Filter) LoadRules(rd io.Reader) (LoadResult, error) {
	type parsedLine struct {
		no int
		r  rule.Rule
	}

	var res LoadResult
	var parsed []parsedLine
	sc := bufio.NewScanner(rd)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		r, err := f.parse(line)
		if err != nil {
			res.Rejected++
			res.Errors = append(res.Errors, fmt.Errorf("line %d: %w", lineNo, err))
			f.logger.Warn("rule line rejected", "line", lineNo, "error", err)
			continue
		}
		parsed = append(parsed, parsedLine{no: lineNo, r: r})
	}
	if err := sc.Err(); err != nil {
		return LoadResult{}, fmt.Errorf("filter: load rules: line %d: %w", lineNo+1, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range parsed {
		if err := f.store.InsertFront(p.r); err != nil {
			res.Rejected++
			res.Errors = append(res.Errors, fmt.Errorf("line %d: filter: insert: %w", p.no, err))
			f.logger.Warn("rule line rejected", "line", p.no, "error", err)
			continue
		}
		res.Accepted++
	}
	f.metrics.Rules.Set(float64(f.store.Len()))
	f.logger.Info("rules loaded", "accepted", res.Accepted, "rejected", res.Rejected)
	return res, nil
}

func (f *Filter) parse(text string) (rule.Rule, error) {
	r, err := rule.Parse(text)
	if err != nil {
		f.metrics.ParseErrors.Inc()
		return rule.Rule{}, err
	}
	return r, nil
}

func (f *Filter) changedLocked(op string, r rule.Rule) {
	f.metrics.Rules.Set(float64(f.store.Len()))
	f.logger.Debug("rule added", "op", op, "rule", r.String(), "count", f.store.Len())
}

func verdictLabel(v rule.Verdict) string {
	if v == rule.Reject {
		return "reject"
	}
	return "permit"
}
