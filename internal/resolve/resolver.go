// Package resolve sequences the attribution pipeline: deterministic scoring,
// candidate selection, cache lookup, LLM arbitration with validation and
// retries, and the deterministic fallback chain. Every span that enters a
// run leaves it with a non-empty speaker; the only errors a run can surface
// are configuration-class problems detected before any span is processed,
// and cancellation.
//
// Scoring runs as a single ordered scan so continuity features see the
// provisional speakers of every preceding dialogue span. Escalated spans
// are then arbitrated concurrently under a bounded worker pool; results are
// written back by input index, so output order always matches input order
// regardless of completion order.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/narravox/narravox/internal/attrib/fallback"
	"github.com/narravox/narravox/internal/attrib/feature"
	"github.com/narravox/narravox/internal/attrib/score"
	"github.com/narravox/narravox/internal/attrib/validate"
	"github.com/narravox/narravox/internal/cache"
	"github.com/narravox/narravox/internal/config"
	"github.com/narravox/narravox/internal/infer"
	"github.com/narravox/narravox/internal/observe"
	"github.com/narravox/narravox/internal/roster"
	"github.com/narravox/narravox/internal/span"
)

// prevDialogueWindow bounds how many preceding attributed dialogue speakers
// the continuity and block features may see.
const prevDialogueWindow = 8

// Evidence tags added by the orchestrator on top of feature names.
const (
	evidenceLLM      = "llm_arbitration"
	evidenceCached   = "cache"
	evidenceFallback = "fallback_" // + rule name
)

// provisional is the scan-pass result for one span.
type provisional struct {
	spn      span.Span
	nb       feature.Neighborhood
	vectors  []feature.Vector
	winner   feature.Vector
	conf     span.Confidence
	escalate bool
}

// counters aggregates run statistics under a single mutex.
type counters struct {
	mu sync.Mutex

	byMethod       map[span.Method]int
	cacheHits      int
	cacheMisses    int
	inferenceCalls int
	retries        span.RetryStats
	lastResort     int
}

func newCounters() *counters {
	return &counters{byMethod: make(map[span.Method]int, 3)}
}

// Option is a functional option for configuring a [Resolver].
type Option func(*Resolver)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMetrics sets the metric instruments. Default: observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Resolver) {
		if m != nil {
			r.metrics = m
		}
	}
}

// Resolver orchestrates attribution runs. Safe for concurrent use; each Run
// owns its own batch state.
type Resolver struct {
	cfg     *config.Config
	client  *infer.Client
	store   cache.Store
	scorer  *score.Scorer
	logger  *slog.Logger
	metrics *observe.Metrics
}

// New returns a Resolver. cfg must already be validated; client and store
// must be non-nil.
func New(cfg *config.Config, client *infer.Client, store cache.Store, opts ...Option) (*Resolver, error) {
	if cfg == nil {
		return nil, fmt.Errorf("resolve: cfg must not be nil")
	}
	if client == nil {
		return nil, fmt.Errorf("resolve: client must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("resolve: store must not be nil")
	}

	weights := score.DefaultWeights()
	if cfg.Weights != nil {
		weights = *cfg.Weights
	}

	r := &Resolver{
		cfg:     cfg,
		client:  client,
		store:   store,
		scorer:  score.New(weights),
		logger:  slog.Default(),
		metrics: observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Run resolves every span in doc and returns the ordered batch plus its run
// metadata. The returned error is non-nil only for pre-flight problems (a
// chapter with dialogue but no roster) or cancellation; per-span failures
// are always absorbed by the fallback chain.
func (r *Resolver) Run(ctx context.Context, doc *span.Document) (*span.Batch, *span.RunMeta, error) {
	rost := roster.New(doc.Roster)

	hasDialogue := false
	for _, s := range doc.Spans {
		if s.Class.HasDialogue() {
			hasDialogue = true
			break
		}
	}
	if hasDialogue && rost.Len() == 0 {
		return nil, nil, fmt.Errorf("resolve: chapter %d has dialogue spans but an empty roster", doc.Chapter)
	}

	extractor := feature.New(rost)
	mentions := extractor.CountMentions(doc.Spans)
	validator := validate.New(rost)
	counts := newCounters()

	results := make([]span.Resolved, len(doc.Spans))
	provs := make([]provisional, len(doc.Spans))

	// Ordered scan: deterministic scoring plus provisional continuity.
	var prevDialogue []string
	for i, s := range doc.Spans {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		if !s.Class.HasDialogue() {
			results[i] = span.Resolved{Span: s}
			continue
		}

		nb := r.neighborhood(doc.Spans, i, prevDialogue, mentions)
		vectors := extractor.Extract(s, nb)
		winner, conf, _ := r.scorer.Pick(s.ID, doc.BookID, vectors)

		p := provisional{
			spn:      s,
			nb:       nb,
			vectors:  vectors,
			winner:   winner,
			conf:     conf,
			escalate: r.needsEscalation(s, conf.Score),
		}
		provs[i] = p

		state, err := Transition(StateScored, scanEvent(p.escalate))
		if err != nil {
			return nil, nil, err
		}
		if state == StatePassThrough {
			if _, err := Transition(state, EventResolved); err != nil {
				return nil, nil, err
			}
			results[i] = span.Resolved{
				Span: s,
				Attribution: &span.Attribution{
					Speaker:    winner.Candidate,
					Method:     span.MethodHeuristic,
					Confidence: conf,
				},
			}
			counts.add(span.MethodHeuristic)
			r.metrics.RecordResolution(ctx, string(span.MethodHeuristic))
		}

		prevDialogue = appendWindowed(prevDialogue, winner.Candidate)
	}

	// Concurrent arbitration of the escalation set, reassembled by index.
	escalated := r.partition(provs)
	if len(escalated) > 0 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.cfg.Concurrency)
		for _, idx := range escalated {
			g.Go(func() error {
				// Cooperative cancellation between spans; an in-flight
				// attempt still runs to its own timeout.
				if err := gctx.Err(); err != nil {
					return err
				}
				res, err := r.resolveEscalated(gctx, doc, provs[idx], validator, counts)
				if err != nil {
					return err
				}
				results[idx] = res
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, nil, err
		}
	}

	batch := &span.Batch{
		BookID:  doc.BookID,
		Chapter: doc.Chapter,
		Version: span.ArtifactVersion,
		Spans:   results,
	}
	return batch, r.meta(counts), nil
}

func scanEvent(escalate bool) Event {
	if escalate {
		return EventEscalate
	}
	return EventPass
}

// resolveEscalated walks one span through NeedsEscalation → Resolved. All
// paths terminate in a populated attribution; the state machine transitions
// are asserted along the way. The error is non-nil only when the run was
// cancelled mid-attempt: a cancelled span must surface the cancellation, not
// masquerade as a fallback resolution.
func (r *Resolver) resolveEscalated(ctx context.Context, doc *span.Document, p provisional, validator *validate.Validator, counts *counters) (span.Resolved, error) {
	names := make([]string, len(p.vectors))
	for i, v := range p.vectors {
		names[i] = v.Candidate
	}
	req := infer.Request{
		SpanText:      p.spn.Text,
		ContextWindow: renderWindow(p.nb, p.spn),
		Roster:        names,
	}
	key := cache.Key(r.client.CachePayload(req))

	state := StateNeedsEscalation

	entry, found, err := r.store.Get(key)
	switch {
	case err != nil:
		// Cache trouble never fails the run; degrade to miss.
		r.logger.Warn("cache lookup failed; treating as miss", "span", p.spn.ID, "err", err)
		r.metrics.RecordCacheLookup(ctx, "error")
		counts.cacheMiss()
		found = false
	case found:
		r.metrics.RecordCacheLookup(ctx, "hit")
		counts.cacheHit()
	default:
		r.metrics.RecordCacheLookup(ctx, "miss")
		counts.cacheMiss()
	}

	if found {
		if entry.Resolution != nil {
			state = mustTransition(state, EventCacheHit)
			return r.resolvedLLM(ctx, p, entry.Resolution, true, counts), nil
		}
		// Prior run exhausted arbitration on this exact payload; stay
		// cache-stable and fall back deterministically.
		state = mustTransition(state, EventExhausted)
		return r.resolvedFallback(ctx, p, counts), nil
	}

	state = mustTransition(state, EventCacheMiss)

	var lastRaw string
	for attempt := 0; attempt <= r.cfg.MaxJSONRetries; attempt++ {
		if attempt > 0 {
			counts.schemaRetry()
			r.metrics.RecordSchemaRejection(ctx)
			state = mustTransition(state, EventRetry)
		}

		start := time.Now()
		raw, tries, cerr := r.client.Complete(ctx, req)
		elapsed := time.Since(start).Seconds()
		counts.inference(tries)

		if cerr != nil {
			// A cancelled run is not a broken endpoint: propagate the
			// cancellation instead of downgrading the span to fallback.
			if ctx.Err() != nil {
				return span.Resolved{}, ctx.Err()
			}
			r.metrics.RecordInference(ctx, "transport_error", elapsed)
			var terr *infer.TransportError
			if errors.As(cerr, &terr) {
				r.logger.Warn("inference transport failure", "span", p.spn.ID, "attempts", terr.Attempts, "err", terr.Err)
			}
			// Transport retries are spent inside the client; nothing left
			// but the fallback chain. Not cached: no payload-derived
			// response exists.
			state = mustTransition(state, EventExhausted)
			return r.resolvedFallback(ctx, p, counts), nil
		}
		r.metrics.RecordInference(ctx, "ok", elapsed)
		lastRaw = raw

		parsed, verr := validator.Validate(raw)
		if verr == nil {
			state = mustTransition(state, EventValid)
			res := &cache.Resolution{
				Speaker:    parsed.Speaker,
				Confidence: parsed.Confidence,
				Rationale:  parsed.Rationale,
			}
			r.putCache(key, raw, res, p.spn.ID)
			return r.resolvedLLM(ctx, p, res, false, counts), nil
		}
		r.logger.Debug("invalid arbitration response", "span", p.spn.ID, "attempt", attempt+1, "err", verr)
	}

	// Schema retries exhausted. Cache the failure for audit (and so the
	// next run skips straight to fallback), then resolve deterministically.
	r.metrics.RecordSchemaRejection(ctx)
	r.putCache(key, lastRaw, nil, p.spn.ID)
	state = mustTransition(state, EventExhausted)
	return r.resolvedFallback(ctx, p, counts), nil
}

// resolvedLLM builds the terminal record for an arbitrated span.
func (r *Resolver) resolvedLLM(ctx context.Context, p provisional, res *cache.Resolution, cached bool, counts *counters) span.Resolved {
	evidence := []string{evidenceLLM}
	if cached {
		evidence = append(evidence, evidenceCached)
	}
	counts.add(span.MethodLLM)
	r.metrics.RecordResolution(ctx, string(span.MethodLLM))

	return span.Resolved{
		Span: p.spn,
		Attribution: &span.Attribution{
			Speaker: res.Speaker,
			Method:  span.MethodLLM,
			Confidence: span.Confidence{
				Score:       res.Confidence,
				Evidence:    evidence,
				Calibration: "llm/" + r.client.PromptVersion(),
			},
		},
	}
}

// resolvedFallback builds the terminal record via the deterministic chain.
func (r *Resolver) resolvedFallback(ctx context.Context, p provisional, counts *counters) span.Resolved {
	res := fallback.Resolve(fallback.Input{
		Target:       p.spn,
		Neighborhood: p.nb,
		Vectors:      p.vectors,
	})
	mustTransition(StateFallback, EventResolved)

	conf := r.scorer.Score(res.Vector)
	tag := evidenceFallback + res.Rule
	if res.Signal != "" {
		tag += ":" + res.Signal
	}
	conf.Evidence = append([]string{tag}, conf.Evidence...)

	out := span.Resolved{
		Span: p.spn,
		Attribution: &span.Attribution{
			Speaker:    res.Speaker,
			Method:     span.MethodFallback,
			Confidence: conf,
		},
	}
	if res.MandatoryReview {
		out.QAFlags = []string{span.FlagMandatoryReview}
		counts.lastResortHit()
	}

	counts.add(span.MethodFallback)
	r.metrics.RecordResolution(ctx, string(span.MethodFallback))
	r.metrics.RecordFallback(ctx, res.Rule)
	return out
}

// putCache writes an entry, logging rather than failing on error.
func (r *Resolver) putCache(key, raw string, res *cache.Resolution, spanID string) {
	err := r.store.Put(key, &cache.Entry{
		RawResponse: raw,
		Resolution:  res,
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		r.logger.Warn("cache write failed", "span", spanID, "err", err)
	}
}

// neighborhood assembles the bounded window around index i.
func (r *Resolver) neighborhood(spans []span.Span, i int, prevDialogue []string, mentions map[string]int) feature.Neighborhood {
	radius := r.cfg.ContextRadius
	lo := i - radius
	if lo < 0 {
		lo = 0
	}
	hi := i + radius + 1
	if hi > len(spans) {
		hi = len(spans)
	}
	return feature.Neighborhood{
		Before: spans[lo:i],
		After:  spans[i+1 : hi],
		// Snapshot: the scan pass keeps appending to its own slice.
		PrevDialogue: append([]string(nil), prevDialogue...),
		Mentions:     mentions,
	}
}

// meta snapshots the counters into the run metadata record.
func (r *Resolver) meta(c *counters) *span.RunMeta {
	c.mu.Lock()
	defer c.mu.Unlock()

	ratio := 0.0
	if lookups := c.cacheHits + c.cacheMisses; lookups > 0 {
		ratio = float64(c.cacheHits) / float64(lookups)
	}

	byMethod := make(map[span.Method]int, len(c.byMethod))
	for m, n := range c.byMethod {
		byMethod[m] = n
	}

	return &span.RunMeta{
		ArtifactVersion:    span.ArtifactVersion,
		CountsByMethod:     byMethod,
		CacheHits:          c.cacheHits,
		CacheMisses:        c.cacheMisses,
		CacheHitRatio:      ratio,
		InferenceCalls:     c.inferenceCalls,
		Retries:            c.retries,
		FallbackLastResort: c.lastResort,
		ConfigSnapshot:     *r.cfg,
	}
}

// mustTransition asserts a transition that is legal by construction. An
// illegal pair here is a bug in the orchestrator, not a runtime condition.
func mustTransition(s State, e Event) State {
	next, err := Transition(s, e)
	if err != nil {
		panic(err)
	}
	return next
}

// renderWindow flattens the neighborhood into the prompt context block.
func renderWindow(nb feature.Neighborhood, target span.Span) string {
	var sb strings.Builder
	for _, s := range nb.Before {
		sb.WriteString(s.Text)
		sb.WriteByte('\n')
	}
	sb.WriteString(target.Text)
	for _, s := range nb.After {
		sb.WriteByte('\n')
		sb.WriteString(s.Text)
	}
	return sb.String()
}

// appendWindowed appends name keeping at most prevDialogueWindow entries.
func appendWindowed(prev []string, name string) []string {
	prev = append(prev, name)
	if len(prev) > prevDialogueWindow {
		prev = prev[len(prev)-prevDialogueWindow:]
	}
	return prev
}

// --- counters ---

func (c *counters) add(m span.Method) {
	c.mu.Lock()
	c.byMethod[m]++
	c.mu.Unlock()
}

func (c *counters) cacheHit() {
	c.mu.Lock()
	c.cacheHits++
	c.mu.Unlock()
}

func (c *counters) cacheMiss() {
	c.mu.Lock()
	c.cacheMisses++
	c.mu.Unlock()
}

func (c *counters) inference(attempts int) {
	c.mu.Lock()
	c.inferenceCalls += attempts
	if attempts > 1 {
		c.retries.TransportRetries += attempts - 1
	}
	c.mu.Unlock()
}

func (c *counters) schemaRetry() {
	c.mu.Lock()
	c.retries.SchemaRetries++
	c.mu.Unlock()
}

func (c *counters) lastResortHit() {
	c.mu.Lock()
	c.lastResort++
	c.mu.Unlock()
}
