package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"querygate/internal/cache"
	"querygate/internal/cachekey"
	"querygate/internal/flight"
	"querygate/internal/metrics"
	"querygate/internal/ttl"
	"querygate/internal/upstream"
	"querygate/pkg/logging/logging"

	"go.uber.org/zap"
)

// Header toggles. ForceFreshHeader asks to bypass the cache lookup;
// CacheStatusHeader reports which pipeline branch served the response.
const (
	ForceFreshHeader  = "X-Force-Fresh"
	CacheStatusHeader = "X-Cache-Status"
)

// Pipeline branch tags. Debugging aid only, not part of the caching
// contract.
const (
	tagHit           = "hit"
	tagMiss          = "miss"
	tagCoalesced     = "coalesced"
	tagBypass        = "bypass"
	tagBypassNoWrite = "bypass-nowrite"
	tagUncached      = "uncached"
	tagError         = "error"
)

// Querier is the upstream boundary the pipeline dispatches to.
type Querier interface {
	Query(ctx context.Context, req upstream.QueryRequest) (*upstream.Outcome, error)
}

// WriteGate decides whether a forced-fresh result may overwrite the
// shared cache.
type WriteGate interface {
	ShouldWriteThrough(ctx context.Context, key string) bool
}

// flightResult carries the shared outcome plus the branch tag the
// flight leader decided. Waiters replace the tag with "coalesced".
type flightResult struct {
	outcome *upstream.Outcome
	tag     string
}

// QueryHandler composes clamp, key derivation, cache lookup,
// single-flight dispatch, and the write guard per request.
type QueryHandler struct {
	Cache    *cache.ResponseCache
	Policy   *ttl.Policy
	Upstream Querier
	Guard    WriteGate
	Flights  *flight.Coordinator[*flightResult]

	// WriteTimeout bounds the detached cache write goroutine.
	WriteTimeout time.Duration
}

func NewQueryHandler(rc *cache.ResponseCache, policy *ttl.Policy, up Querier, gate WriteGate) *QueryHandler {
	return &QueryHandler{
		Cache:        rc,
		Policy:       policy,
		Upstream:     up,
		Guard:        gate,
		Flights:      flight.NewCoordinator[*flightResult](),
		WriteTimeout: 5 * time.Second,
	}
}

// Query handles POST /graphql.
func (h *QueryHandler) Query(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.L(ctx)

	if h.Upstream == nil {
		writeError(w, http.StatusInternalServerError, "upstream_not_configured")
		return
	}

	var req upstream.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request_too_large")
			return
		}
		logger.Warn("invalid request body", zap.Error(err))
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "empty_query")
		return
	}
	if len(req.Query) > upstream.MaxQueryLength {
		writeError(w, http.StatusRequestEntityTooLarge, "query_too_large")
		return
	}

	req.Variables = cachekey.ClampVariables(req.Variables)
	key := cachekey.Derive(req.Query, req.Variables)
	ttlSeconds := h.Policy.Seconds(req.Query)
	forced := forceFresh(r)

	logger = logger.With(
		zap.String("cache_key", key),
		zap.Int("ttl_seconds", ttlSeconds),
		zap.Bool("forced", forced),
	)

	if !forced {
		entry, hit, err := h.Cache.Lookup(ctx, key)
		if err != nil {
			// Cache is best-effort; log and treat as miss.
			logger.Warn("cache lookup failed", zap.Error(err))
		}
		if hit {
			logger.Debug("serving cached entry")
			serveEntry(w, entry, tagHit)
			return
		}
	}

	result, led, err := h.Flights.Execute(ctx, key, func(workCtx context.Context) (*flightResult, error) {
		return h.fetchAndWrite(workCtx, key, req, ttlSeconds, forced)
	})
	if err != nil {
		serveUpstreamError(w, logger, err)
		return
	}

	tag := result.tag
	if !led {
		metrics.CoalescedRequestsTotal.Inc()
		tag = tagCoalesced
	}

	serveOutcome(w, result.outcome, ttlSeconds, tag)
}

// fetchAndWrite is the flight leader's work: one upstream call, then
// the write policy. It runs on a cancellation-detached context because
// its result is shared with every coalesced waiter.
func (h *QueryHandler) fetchAndWrite(ctx context.Context, key string, req upstream.QueryRequest, ttlSeconds int, forced bool) (*flightResult, error) {
	out, err := h.Upstream.Query(ctx, req)
	if err != nil {
		return nil, err
	}

	if !cache.Cacheable(out) {
		return &flightResult{outcome: out, tag: tagUncached}, nil
	}

	entry := &cache.Entry{
		Status:      out.Status,
		ContentType: out.ContentType,
		Body:        out.Body,
		TTLSeconds:  ttlSeconds,
	}

	if forced {
		if h.Guard != nil && h.Guard.ShouldWriteThrough(ctx, key) {
			h.storeDetached(ctx, key, entry)
			return &flightResult{outcome: out, tag: tagBypass}, nil
		}
		// Refused: serve fresh but leave the shared cache alone.
		return &flightResult{outcome: out, tag: tagBypassNoWrite}, nil
	}

	h.storeDetached(ctx, key, entry)
	return &flightResult{outcome: out, tag: tagMiss}, nil
}

// storeDetached writes the entry from its own goroutine so a slow or
// failing store can neither block nor fail the client response.
func (h *QueryHandler) storeDetached(ctx context.Context, key string, entry *cache.Entry) {
	logger := logging.L(ctx)
	go func() {
		writeCtx, cancel := context.WithTimeout(logging.WithLogger(context.Background(), logger), h.WriteTimeout)
		defer cancel()
		if err := h.Cache.Store(writeCtx, key, entry); err != nil {
			logger.Warn("cache write failed",
				zap.String("cache_key", key),
				zap.Error(err),
			)
		}
	}()
}

func forceFresh(r *http.Request) bool {
	switch r.Header.Get(ForceFreshHeader) {
	case "1", "true", "TRUE", "True":
		return true
	}
	return false
}

func serveEntry(w http.ResponseWriter, entry *cache.Entry, tag string) {
	if entry.ContentType != "" {
		w.Header().Set("Content-Type", entry.ContentType)
	}
	setFreshness(w, entry.TTLSeconds)
	w.Header().Set(CacheStatusHeader, tag)
	w.WriteHeader(entry.Status)
	_, _ = w.Write(entry.Body)
}

func serveOutcome(w http.ResponseWriter, out *upstream.Outcome, ttlSeconds int, tag string) {
	if out.ContentType != "" {
		w.Header().Set("Content-Type", out.ContentType)
	}
	if tag == tagUncached {
		w.Header().Set("Cache-Control", "no-store")
	} else {
		setFreshness(w, ttlSeconds)
	}
	w.Header().Set(CacheStatusHeader, tag)
	w.WriteHeader(out.Status)
	_, _ = w.Write(out.Body)
}

func serveUpstreamError(w http.ResponseWriter, logger *zap.Logger, err error) {
	w.Header().Set(CacheStatusHeader, tagError)
	switch {
	case errors.Is(err, upstream.ErrTimeout):
		logger.Warn("upstream timed out", zap.Error(err))
		writeError(w, http.StatusGatewayTimeout, "upstream_timeout")
	case errors.Is(err, context.Canceled):
		// Client went away while waiting; nobody reads this response.
		logger.Debug("request cancelled while waiting", zap.Error(err))
		writeError(w, http.StatusGatewayTimeout, "request_cancelled")
	default:
		logger.Warn("upstream unreachable", zap.Error(err))
		writeError(w, http.StatusBadGateway, "upstream_unreachable")
	}
}

// setFreshness advertises the intermediary-cacheable window while
// keeping client-side caching at zero.
func setFreshness(w http.ResponseWriter, ttlSeconds int) {
	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=0, s-maxage=%d", ttlSeconds))
}

func writeError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + code + `"}`))
}
