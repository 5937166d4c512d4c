package ingest

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/miradorstack/mirador-remediation/internal/cache"
	"github.com/miradorstack/mirador-remediation/internal/graph"
	"github.com/miradorstack/mirador-remediation/internal/metrics"
	"github.com/miradorstack/mirador-remediation/internal/models"
	"github.com/miradorstack/mirador-remediation/internal/repo"
	"github.com/miradorstack/mirador-remediation/internal/store"
)

var tracer = otel.Tracer("mirador.remediation.ingest")

// Source is the subset of the Loki client the poller needs.
type Source interface {
	QueryRange(ctx context.Context, query string, startNs int64, limit int) ([]repo.LokiStream, error)
}

// PollerConfig controls the polling loop.
type PollerConfig struct {
	Query        string
	Interval     time.Duration
	Limit        int
	WatermarkKey string
}

// DefaultPollerConfig polls every container every five seconds.
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		Query:        `{container=~".+"}`,
		Interval:     5 * time.Second,
		Limit:        100,
		WatermarkKey: "loki:watermark",
	}
}

// Poller pulls new log lines from a Source into the event store and grows the
// dependency graph from what it sees.
type Poller struct {
	src    Source
	events store.EventStore
	graph  *graph.Graph
	cache  cache.Provider
	cfg    PollerConfig
	logger *slog.Logger
	now    func() time.Time

	// OnBatch, when set, receives every non-empty stored batch.
	OnBatch func(ctx context.Context, events []models.LogEvent)

	watermark atomic.Int64
}

// NewPoller wires a poller. g and checkpoint may be nil.
func NewPoller(src Source, events store.EventStore, g *graph.Graph, checkpoint cache.Provider, cfg PollerConfig, logger *slog.Logger) *Poller {
	def := DefaultPollerConfig()
	if cfg.Query == "" {
		cfg.Query = def.Query
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Limit <= 0 {
		cfg.Limit = def.Limit
	}
	if cfg.WatermarkKey == "" {
		cfg.WatermarkKey = def.WatermarkKey
	}
	if checkpoint == nil {
		checkpoint = cache.NoopProvider{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		src:    src,
		events: events,
		graph:  g,
		cache:  checkpoint,
		cfg:    cfg,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Watermark returns the newest processed timestamp in epoch nanoseconds.
func (p *Poller) Watermark() int64 { return p.watermark.Load() }

// Run restores the checkpoint and polls until ctx is cancelled. Poll errors
// are logged and retried on the next tick.
func (p *Poller) Run(ctx context.Context) error {
	p.restore(ctx)
	p.logger.Info("log poller started",
		slog.String("query", p.cfg.Query),
		slog.Duration("interval", p.cfg.Interval),
		slog.Int64("watermark", p.Watermark()))

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("log poller stopped", slog.Int64("watermark", p.Watermark()))
			return nil
		case <-timer.C:
		}
		if n, err := p.PollOnce(ctx); err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Error("loki poll failed", slog.Any("error", err))
		} else if n > 0 {
			p.logger.Debug("loki poll ingested events", slog.Int("events", n))
		}
		timer.Reset(p.cfg.Interval)
	}
}

// PollOnce fetches lines newer than the watermark, stores them and advances
// the checkpoint. It returns the number of stored events.
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "ingest.PollOnce")
	defer span.End()

	last := p.Watermark()
	var start int64
	if last > 0 {
		start = last + 1
	}
	streams, err := p.src.QueryRange(ctx, p.cfg.Query, start, p.cfg.Limit)
	if err != nil {
		metrics.ObservePoll(metrics.OutcomeError)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}

	now := p.now()
	maxNs := last
	var batch []models.LogEvent
	for _, stream := range streams {
		container := stream.Labels["container"]
		if container == "" {
			container = "unknown"
		}
		if p.graph != nil {
			p.graph.AddNode(models.ServiceNode{ID: container, Name: container})
		}
		for _, entry := range stream.Entries {
			if entry.UnixNano <= last {
				continue
			}
			p.discover(container, entry.Line)
			ev, err := Normalize(models.RawEvent{
				SourceService: container,
				Message:       entry.Line,
				Metadata:      stream.Labels,
				Timestamp:     entry.Timestamp,
			}, now)
			if err != nil {
				p.logger.Debug("skipping log line", slog.String("container", container), slog.Any("error", err))
				continue
			}
			batch = append(batch, ev)
			if entry.UnixNano > maxNs {
				maxNs = entry.UnixNano
			}
		}
	}

	if len(batch) > 0 {
		if err := p.events.AppendEvents(ctx, batch); err != nil {
			metrics.ObservePoll(metrics.OutcomeError)
			span.SetStatus(codes.Error, err.Error())
			return 0, err
		}
		metrics.ObserveIngest("loki", len(batch))
	}
	if maxNs > last {
		p.watermark.Store(maxNs)
		p.checkpoint(ctx, maxNs)
	}
	metrics.ObservePoll(metrics.OutcomeSuccess)
	span.SetAttributes(attribute.Int("events", len(batch)), attribute.Int64("watermark", maxNs))

	if len(batch) > 0 && p.OnBatch != nil {
		p.OnBatch(ctx, batch)
	}
	return len(batch), nil
}

// discover applies the "calling <service>" heuristic: a caller depends on
// every known service its message names, so failures flow callee -> caller.
func (p *Poller) discover(container, line string) {
	if p.graph == nil {
		return
	}
	low := strings.ToLower(line)
	if !strings.Contains(low, "calling") {
		return
	}
	for _, id := range p.graph.NodeIDs() {
		if id == container || !strings.Contains(low, strings.ToLower(id)) {
			continue
		}
		if p.graph.AddEdge(models.DependencyEdge{From: id, To: container, Relation: "calls"}) {
			p.logger.Info("dependency discovered", slog.String("caller", container), slog.String("callee", id))
		}
	}
}

func (p *Poller) restore(ctx context.Context) {
	raw, err := p.cache.Get(ctx, p.cfg.WatermarkKey)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			p.logger.Warn("watermark restore failed", slog.Any("error", err))
		}
		return
	}
	ns, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		p.logger.Warn("ignoring malformed watermark", slog.String("value", string(raw)))
		return
	}
	if ns > p.watermark.Load() {
		p.watermark.Store(ns)
	}
}

func (p *Poller) checkpoint(ctx context.Context, ns int64) {
	// On failure a restart resumes from the older checkpoint and re-reads lines.
	if err := p.cache.Set(context.WithoutCancel(ctx), p.cfg.WatermarkKey, []byte(strconv.FormatInt(ns, 10)), 0); err != nil {
		p.logger.Warn("watermark checkpoint failed", slog.Any("error", err))
	}
}
