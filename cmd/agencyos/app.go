package main

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"agencyos/internal/collector"
	"agencyos/internal/commitments"
	"agencyos/internal/config"
	"agencyos/internal/gates"
	"agencyos/internal/loop"
	"agencyos/internal/moves"
	"agencyos/internal/normalize"
	"agencyos/internal/notify"
	"agencyos/internal/queue"
	"agencyos/internal/snapshot"
	"agencyos/internal/store"
)

// app is the wired system: everything a command needs to run cycles.
type app struct {
	cfg    *config.Config
	store  *store.Store
	loop   *loop.Loop
	writer *snapshot.Writer
	queue  *queue.Engine
	seeds  *collector.SeedsCollector
	logger *zap.Logger
}

// buildApp opens the store and assembles the control loop from config.
func buildApp(cfg *config.Config, logger *zap.Logger, onSnapshot func(*snapshot.Document)) (*app, error) {
	st, err := store.Open(cfg.Database.Path, logger)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, store: st, logger: logger}
	a.seeds = collector.NewSeeds(st, cfg.Seeds.Dir, cfg.Seeds.IntervalDuration(), logger)

	collectors := a.buildCollectors(cfg, st, logger)
	runner := collector.NewRunner(st, collectors, cfg.Collectors.TimeoutDuration(), logger)

	extractor := buildExtractor(cfg, logger)
	normalizer := normalize.New(st, commitments.New(st, extractor, logger), logger)

	gateEngine := gates.NewEngine(st, gates.Thresholds{
		ClientCoverage:    cfg.Gates.ClientCoverage,
		CommitmentReady:   cfg.Gates.CommitmentReady,
		FinanceARCoverage: cfg.Gates.FinanceARCoverage,
		MinBodyLength:     cfg.Gates.MinBodyLength,
	}, logger)

	a.queue = queue.NewEngine(st, queue.Config{
		StaleDays:  cfg.Queue.StaleDays,
		SnoozeDays: cfg.Queue.SnoozeDays,
	}, logger)

	builder := snapshot.NewBuilder(st, cfg.Mode(), logger)
	a.writer = snapshot.NewWriter(cfg.Snapshot.Dir, cfg.Snapshot.HistoryKeep, logger)

	moveEngine := moves.NewEngine(st, moves.Config{
		ARThreshold: cfg.Moves.ARThreshold,
		BlockedDays: cfg.Moves.BlockedDays,
		SilenceDays: cfg.Moves.SilenceDays,
		ContactDays: cfg.Moves.ContactDays,
		LinkDays:    cfg.Moves.LinkDays,
		ExpiryDays:  cfg.Moves.ExpiryDays,
	}, logger)

	a.loop = loop.New(loop.Options{
		Store:        st,
		Runner:       runner,
		Normalizer:   normalizer,
		Gates:        gateEngine,
		Queue:        a.queue,
		Builder:      builder,
		Writer:       a.writer,
		Moves:        moveEngine,
		Notifier:     notify.NewWebhook(cfg.Notify.WebhookURL, logger),
		Metrics:      loop.MustNewMetrics(prometheus.DefaultRegisterer),
		Logger:       logger,
		Interval:     cfg.Loop.IntervalDuration(),
		CycleTimeout: cfg.Loop.CycleTimeoutDuration(),
		OnSnapshot:   onSnapshot,
	})
	return a, nil
}

func (a *app) buildCollectors(cfg *config.Config, st *store.Store, logger *zap.Logger) []collector.Collector {
	collectors := []collector.Collector{}
	if cfg.Seeds.Enabled {
		collectors = append(collectors, a.seeds)
	}
	type sourceBuilder struct {
		cfg      config.SourceConfig
		interval time.Duration
		build    func(*collector.Fetcher, time.Duration) collector.Collector
	}
	for _, sb := range []sourceBuilder{
		{cfg.Collectors.GTasks, 5 * time.Minute, func(f *collector.Fetcher, iv time.Duration) collector.Collector {
			return collector.NewGTasks(st, f, iv, logger)
		}},
		{cfg.Collectors.Calendar, 5 * time.Minute, func(f *collector.Fetcher, iv time.Duration) collector.Collector {
			return collector.NewCalendar(st, f, iv, logger)
		}},
		{cfg.Collectors.Gmail, 10 * time.Minute, func(f *collector.Fetcher, iv time.Duration) collector.Collector {
			return collector.NewGmail(st, f, iv, logger)
		}},
		{cfg.Collectors.Asana, 5 * time.Minute, func(f *collector.Fetcher, iv time.Duration) collector.Collector {
			return collector.NewAsana(st, f, iv, logger)
		}},
		{cfg.Collectors.Xero, 30 * time.Minute, func(f *collector.Fetcher, iv time.Duration) collector.Collector {
			return collector.NewXero(st, f, iv, logger)
		}},
	} {
		if !sb.cfg.Enabled {
			continue
		}
		fetcher := collector.NewFetcher(sb.cfg.BaseURL, sb.cfg.Token)
		collectors = append(collectors, sb.build(fetcher, sb.cfg.IntervalDuration(sb.interval)))
	}
	return collectors
}

// buildExtractor returns the Gemini path when a key is configured,
// otherwise nil (heuristics only).
func buildExtractor(cfg *config.Config, logger *zap.Logger) commitments.ModelExtractor {
	if cfg.LLM.GeminiAPIKey == "" {
		return nil
	}
	extractor, err := commitments.NewGeminiExtractor(context.Background(), cfg.LLM.GeminiAPIKey, cfg.LLM.Model)
	if err != nil {
		logger.Warn("gemini extractor unavailable, falling back to heuristics", zap.Error(err))
		return nil
	}
	return extractor
}

// close releases everything buildApp opened.
func (a *app) close() {
	if a.seeds != nil {
		a.seeds.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
}
