package app

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/flemzord/ragchat/internal/chat"
	"github.com/flemzord/ragchat/internal/config"
	"github.com/flemzord/ragchat/internal/core"
	"github.com/flemzord/ragchat/internal/cron"
	"github.com/flemzord/ragchat/internal/provider"
	"github.com/flemzord/ragchat/internal/retrieval"
	"github.com/flemzord/ragchat/internal/session"
)

// chatModule puts the orchestrator in the App lifecycle so shutdown waits
// for background compactions before the journal closes.
type chatModule struct {
	orch *chat.Orchestrator
}

func (m *chatModule) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{ID: "chat.orchestrator"}
}

func (m *chatModule) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.orch.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// schedulerModule wraps a *cron.Scheduler to satisfy core.Module.
type schedulerModule struct {
	*cron.Scheduler
}

func (m *schedulerModule) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{ID: "cron.scheduler"}
}

// wireChat builds the session store, retrieval gate, and orchestrator from
// the services that loaded modules registered, then appends the
// orchestrator and the job scheduler to the app lifecycle. Must be called
// after LoadModules and before Start.
func wireChat(
	ctx context.Context,
	app *core.App,
	appCtx *core.AppContext,
	cfg *config.Config,
	reg prometheus.Registerer,
	logger *slog.Logger,
) (*chat.Orchestrator, error) {
	chain, ok := core.Service[*provider.Chain](appCtx, "provider.chain")
	if !ok {
		return nil, errNoProvider
	}

	storeOpts := []session.StoreOption{session.WithLogger(logger.With("component", "session"))}
	journal, durable := core.Service[session.Journal](appCtx, "session.journal")
	if durable {
		storeOpts = append(storeOpts, session.WithJournal(journal))
	}
	store := session.NewStore(storeOpts...)
	if durable {
		n, err := store.Restore(ctx)
		if err != nil {
			return nil, err
		}
		logger.Info("sessions restored", "count", n)
	} else {
		logger.Warn("no store module configured; sessions are lost on restart")
	}

	retriever, _ := core.Service[retrieval.Retriever](appCtx, "retrieval.retriever")
	gate := retrieval.NewGate(retriever, cfg.RAG, retrieval.WithLogger(logger.With("component", "retrieval")))
	if cfg.RAG.Enabled && retriever == nil {
		logger.Warn("rag is enabled but no retrieval module is configured; answers are ungrounded")
	}

	metrics := chat.NewMetrics(reg, func() float64 { return float64(store.Len()) })
	orch, err := chat.New(chat.Config{
		Settings: cfg.Chat,
		Store:    store,
		Chain:    chain,
		Gate:     gate,
		Metrics:  metrics,
		Logger:   logger.With("component", "chat"),
	})
	if err != nil {
		return nil, err
	}
	appCtx.RegisterService("chat.orchestrator", orch)
	app.AppendModule("chat.orchestrator", &chatModule{orch: orch})

	scheduler := cron.NewScheduler(logger)
	jobs := []cron.Job{&cron.CompactionSweepJob{
		Sweeper:      orch,
		Logger:       logger,
		ScheduleExpr: cfg.Jobs.CompactionSweep,
	}}
	if cfg.Chat.SessionTTL > 0 {
		jobs = append(jobs, &cron.SessionCleanupJob{
			Sessions:     orch,
			Logger:       logger,
			ScheduleExpr: cfg.Jobs.SessionCleanup,
		})
	}
	for _, j := range jobs {
		if err := scheduler.RegisterJob(j); err != nil {
			return nil, err
		}
	}
	appCtx.RegisterService("cron.scheduler", scheduler)
	app.AppendModule("cron.scheduler", &schedulerModule{Scheduler: scheduler})
	return orch, nil
}
