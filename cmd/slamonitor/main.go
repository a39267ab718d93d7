// Command slamonitor runs the field-service SLA monitoring agent: it
// periodically fetches open service opportunities, classifies them against
// their SLA thresholds, and posts reminder/escalation notifications to the
// configured chat-group webhooks. See internal/orchestrator for the tick
// sequence and internal/agentconfig for every tunable.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/franksunye/FSOpsAssistant/internal/agentconfig"
	"github.com/franksunye/FSOpsAssistant/internal/agentlog"
	"github.com/franksunye/FSOpsAssistant/internal/businesstime"
	"github.com/franksunye/FSOpsAssistant/internal/datasync"
	"github.com/franksunye/FSOpsAssistant/internal/formatter"
	"github.com/franksunye/FSOpsAssistant/internal/notifier"
	"github.com/franksunye/FSOpsAssistant/internal/notifyqueue"
	"github.com/franksunye/FSOpsAssistant/internal/opportunity"
	"github.com/franksunye/FSOpsAssistant/internal/orchestrator"
	"github.com/franksunye/FSOpsAssistant/internal/routing"
	"github.com/franksunye/FSOpsAssistant/internal/runtracker"
	"github.com/franksunye/FSOpsAssistant/internal/scheduler"
	"github.com/franksunye/FSOpsAssistant/internal/store"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "slamonitor:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("slamonitor", flag.ExitOnError)
	var (
		dbPath        = fs.String("db", "", "path to the sqlite database (overrides AGENT_DB_PATH)")
		sourceURL     = fs.String("source-url", os.Getenv("OPPORTUNITY_SOURCE_URL"), "URL of the analytics source's opportunity feed")
		seedPath      = fs.String("seed", "", "optional YAML file of GroupConfig routing rows to load at startup")
		devLog        = fs.Bool("dev-log", false, "use human-readable console logging instead of JSON")
		validateCache = fs.Bool("validate-cache", false, "run a single cache-consistency check and exit, without starting the scheduler")
		triggerOnce   = fs.Bool("trigger-once", false, "run exactly one tick and exit, without starting the scheduler")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	opts := []agentconfig.Option{agentconfig.WithDevelopmentLogging(*devLog)}
	if *dbPath != "" {
		opts = append(opts, agentconfig.WithDatabasePath(*dbPath))
	}
	cfg, err := agentconfig.NewConfig(opts...)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if *seedPath != "" {
		cfg.GroupConfigSeed = *seedPath
	}

	logger, err := agentlog.NewProductionLogger(cfg.LogDevelopmentMode)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync()

	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	ctx := context.Background()
	if cfg.GroupConfigSeed != "" {
		n, err := routing.LoadSeedFile(ctx, db, cfg.GroupConfigSeed)
		if err != nil {
			return fmt.Errorf("failed to load group config seed: %w", err)
		}
		logger.Info("loaded group config seed", map[string]interface{}{"path": cfg.GroupConfigSeed, "count": n})
	}

	if *sourceURL == "" {
		return fmt.Errorf("an opportunity source URL is required: pass -source-url or set OPPORTUNITY_SOURCE_URL")
	}
	fetcher := opportunity.NewHTTPFetcher(*sourceURL)
	syncer := datasync.New(fetcher, db, logger.WithComponent("agent/datasync"))

	if *validateCache {
		return validateCacheOnce(ctx, syncer)
	}

	routes, err := routing.Load(ctx, db, os.Getenv("ESCALATION_FALLBACK_WEBHOOK_URL"))
	if err != nil {
		return fmt.Errorf("failed to load routing registry: %w", err)
	}

	classifier := opportunity.NewClassifier(
		opportunity.SLAConfig{
			PendingReminderHours:       cfg.SLA.PendingReminderHours,
			PendingEscalationHours:     cfg.SLA.PendingEscalationHours,
			NotVisitingReminderHours:   cfg.SLA.NotVisitingReminderHours,
			NotVisitingEscalationHours: cfg.SLA.NotVisitingEscalationHours,
		},
		businesstime.NewConfig(cfg.Business.WorkStartHour, cfg.Business.WorkEndHour, cfg.Business.WorkDays),
	)

	fmtr := formatter.New(formatter.Config{
		ReminderDisplayCap:   cfg.ReminderMaxDisplayOrders,
		EscalationDisplayCap: cfg.EscalationMaxDisplayOrders,
		WorkHoursPerDay:      float64(cfg.Business.WorkEndHour - cfg.Business.WorkStartHour),
	})

	sender := newWebhookSender(logger.WithComponent("agent/notifier"))

	mgr := notifier.New(
		notifyqueue.NewStore(db), routes, classifier, fmtr, formatter.NoOpAdvisor{}, sender, syncer,
		logger.WithComponent("agent/notifier"),
		notifier.Config{
			Cooldown:           cfg.NotificationCooldown,
			MaxRetryCount:      cfg.MaxRetryCount,
			WebhookAPIInterval: cfg.WebhookAPIInterval,
			ReminderEnabled:    cfg.ReminderEnabled,
			EscalationEnabled:  cfg.EscalationEnabled,
		},
	)

	tracker := runtracker.New(db)
	orch := orchestrator.New(syncer, classifier, mgr, tracker, logger.WithComponent("agent/orchestrator"), orchestrator.Config{
		TickTimeout: cfg.TickTimeout,
		Base:        cfg,
		Snapshot: func(ctx context.Context) (map[string]string, error) {
			snap, err := store.LoadSystemConfigSnapshot(ctx, db)
			return map[string]string(snap), err
		},
	})

	if *triggerOnce {
		summary, err := orch.Trigger(context.Background())
		if err != nil {
			return fmt.Errorf("tick failed: %w", err)
		}
		logger.Info("tick finished", map[string]interface{}{
			"run_id": summary.RunID, "status": string(summary.Status),
			"processed": summary.OpportunitiesProcessed, "sent": summary.NotificationsSent,
		})
		return nil
	}

	sched := scheduler.New(orch, cfg.ExecutionInterval, logger.WithComponent("agent/scheduler"))

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("slamonitor starting", map[string]interface{}{"execution_interval": cfg.ExecutionInterval.String()})
	if err := sched.Start(runCtx); err != nil {
		return fmt.Errorf("scheduler exited with error: %w", err)
	}
	logger.Info("slamonitor stopped", map[string]interface{}{"missed_ticks": sched.MissedTicks()})
	return nil
}

// newWebhookSender picks the Slack sender for normal operation, or a
// file-based fallback when SLACK_WEBHOOK_DEV_DIR is set, so a local/dev
// run never needs a real Slack workspace.
func newWebhookSender(log agentlog.Logger) notifier.WebhookSender {
	if dir := os.Getenv("SLACK_WEBHOOK_DEV_DIR"); dir != "" {
		return notifier.NewFileWebhookSender(dir, log)
	}
	return notifier.NewSlackWebhookSender(log)
}

// validateCacheOnce implements the --validate-cache diagnostic: it
// compares the persisted cache against a fresh fetch without touching the
// notification pipeline.
func validateCacheOnce(ctx context.Context, syncer *datasync.Syncer) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	report, err := syncer.ValidateConsistency(ctx, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("cache validation failed: %w", err)
	}
	fmt.Printf("cached=%d fresh=%d consistent=%t checked_at=%s\n",
		report.CachedCount, report.FreshCount, report.Consistent, report.CheckedAt.Format(time.RFC3339))
	if !report.Consistent {
		return fmt.Errorf("cache is out of sync with the analytics source")
	}
	return nil
}
