package ctlapi

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/plexsphere/myfw/internal/filter"
	"github.com/plexsphere/myfw/internal/hook"
	"github.com/plexsphere/myfw/internal/rule"
	"github.com/plexsphere/myfw/internal/rulestore"
)

// maxRuleBytes bounds a request body carrying a single rule line.
const maxRuleBytes = 4096

// TruncatedHeader is set on a rule listing that ended with the sentinel.
const TruncatedHeader = "X-Myfw-Truncated"

// StatsSource reports packet queue counters.
type StatsSource interface {
	Stats() hook.Stats
}

// Handler provides HTTP handlers for the control API.
type Handler struct {
	filter   *filter.Filter
	cfg      Config
	queue    StatsSource
	gatherer prometheus.Gatherer
	logger   *slog.Logger

	// session admits one configuration change at a time.
	session sync.Mutex
}

// NewHandler creates a new Handler. queue and gatherer may be nil.
func NewHandler(f *filter.Filter, cfg Config, queue StatsSource, gatherer prometheus.Gatherer, logger *slog.Logger) *Handler {
	cfg.ApplyDefaults()
	return &Handler{
		filter:   f,
		cfg:      cfg,
		queue:    queue,
		gatherer: gatherer,
		logger:   logger.With("component", "ctlapi"),
	}
}

// Mux returns a configured ServeMux with all control API routes.
func (h *Handler) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/filter", h.handleStatus)
	mux.HandleFunc("POST /v1/filter/start", h.exclusive(h.handleStart))
	mux.HandleFunc("POST /v1/filter/shutdown", h.exclusive(h.handleShutdown))
	mux.HandleFunc("PUT /v1/filter/default", h.exclusive(h.handleSetDefault))
	mux.HandleFunc("GET /v1/rules", h.handleListRules)
	mux.HandleFunc("POST /v1/rules", h.exclusive(h.handleAddRule))
	mux.HandleFunc("POST /v1/rules/batch", h.exclusive(h.handleBatch))
	mux.HandleFunc("POST /v1/rules/delete", h.exclusive(h.handleDeleteMatching))
	mux.HandleFunc("DELETE /v1/rules/{index}", h.exclusive(h.handleDeleteAt))
	mux.HandleFunc("DELETE /v1/rules", h.exclusive(h.handleClear))
	if h.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// StatusResponse is the response for GET /v1/filter and the filter
// start/shutdown/default routes.
type StatusResponse struct {
	filter.Status
	Queue *hook.Stats `json:"queue,omitempty"`
}

// RuleResponse carries one rule in its text form.
type RuleResponse struct {
	Rule string `json:"rule"`
}

// BatchResponse is the response for POST /v1/rules/batch.
type BatchResponse struct {
	Accepted int      `json:"accepted"`
	Rejected int      `json:"rejected"`
	Errors   []string `json:"errors,omitempty"`
}

// DeleteResponse is the response for POST /v1/rules/delete.
type DeleteResponse struct {
	Removed int `json:"removed"`
}

// exclusive runs next inside the configuration session. A request arriving
// while another change is in progress is refused with 409.
func (h *Handler) exclusive(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.session.TryLock() {
			writeError(w, http.StatusConflict, "configuration session busy")
			return
		}
		defer h.session.Unlock()
		h.logger.Info("configuration change",
			append([]any{"method", r.Method, "path", r.URL.Path}, peerAttrs(r.Context())...)...,
		)
		next(w, r)
	}
}

func (h *Handler) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.status())
}

func (h *Handler) handleStart(w http.ResponseWriter, _ *http.Request) {
	h.filter.Start()
	h.persist()
	writeJSON(w, http.StatusOK, h.status())
}

func (h *Handler) handleShutdown(w http.ResponseWriter, _ *http.Request) {
	h.filter.Shutdown()
	h.persist()
	writeJSON(w, http.StatusOK, h.status())
}

func (h *Handler) handleSetDefault(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r, maxRuleBytes)
	if !ok {
		return
	}
	v, err := rule.ParseVerdict(strings.TrimSpace(body))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.filter.SetDefault(v)
	h.persist()
	writeJSON(w, http.StatusOK, h.status())
}

func (h *Handler) handleListRules(w http.ResponseWriter, _ *http.Request) {
	var buf bytes.Buffer
	truncated, err := h.filter.WriteRules(&buf, h.cfg.ListBufferSize)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if truncated {
		w.Header().Set(TruncatedHeader, "true")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (h *Handler) handleAddRule(w http.ResponseWriter, r *http.Request) {
	insert := h.filter.AppendText
	switch pos := r.URL.Query().Get("position"); pos {
	case "", "tail":
	case "front":
		insert = h.filter.InsertText
	default:
		writeError(w, http.StatusBadRequest, "position must be front or tail, got "+strconv.Quote(pos))
		return
	}

	body, ok := readBody(w, r, maxRuleBytes)
	if !ok {
		return
	}
	added, err := insert(body)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	h.persist()
	writeJSON(w, http.StatusCreated, RuleResponse{Rule: added.String()})
}

func (h *Handler) handleBatch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxBatchBytes)
	res, err := h.filter.LoadRules(r.Body)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	if res.Accepted > 0 {
		h.persist()
	}

	resp := BatchResponse{Accepted: res.Accepted, Rejected: res.Rejected}
	for _, e := range res.Errors {
		resp.Errors = append(resp.Errors, e.Error())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleDeleteMatching(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r, maxRuleBytes)
	if !ok {
		return
	}
	n, err := h.filter.DeleteMatchingText(body)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	if n > 0 {
		h.persist()
	}
	writeJSON(w, http.StatusOK, DeleteResponse{Removed: n})
}

func (h *Handler) handleDeleteAt(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil || index < 1 {
		writeError(w, http.StatusBadRequest, "rule index must be a positive integer")
		return
	}
	removed, err := h.filter.DeleteAt(index - 1)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	h.persist()
	writeJSON(w, http.StatusOK, RuleResponse{Rule: removed.String()})
}

func (h *Handler) handleClear(w http.ResponseWriter, _ *http.Request) {
	h.filter.Clear()
	h.persist()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) status() StatusResponse {
	resp := StatusResponse{Status: h.filter.Status()}
	if h.queue != nil {
		st := h.queue.Stats()
		resp.Queue = &st
	}
	return resp
}

// persist writes the snapshot when persistence is enabled. A failed write is
// logged; the change itself has already been applied.
func (h *Handler) persist() {
	if h.cfg.SnapshotDir == "" {
		return
	}
	if err := h.filter.SaveSnapshot(h.cfg.SnapshotDir); err != nil {
		h.logger.Error("failed to save rule snapshot", "error", err)
	}
}

func readBody(w http.ResponseWriter, r *http.Request, limit int64) (string, bool) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return "", false
		}
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return "", false
	}
	return string(data), true
}

func statusForError(err error) int {
	var maxErr *http.MaxBytesError
	switch {
	case errors.Is(err, rule.ErrInvalidRule), errors.Is(err, bufio.ErrTooLong):
		return http.StatusBadRequest
	case errors.Is(err, rulestore.ErrIndexOutOfRange):
		return http.StatusNotFound
	case errors.Is(err, rulestore.ErrStoreFull):
		return http.StatusInsufficientStorage
	case errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
