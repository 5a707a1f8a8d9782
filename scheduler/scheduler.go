package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"mls_ingest/config"
	"mls_ingest/models"
	"mls_ingest/storage"
	"mls_ingest/syncer"
)

// Triggerable allows workers to be triggered manually
type Triggerable interface {
	Trigger()
}

// Syncer is the part of the orchestrator the scheduler drives.
type Syncer interface {
	RunAuto(ctx context.Context) *syncer.Result
	GetState(ctx context.Context) (models.SyncState, error)
	HandleCommand(ctx context.Context, cmd models.CommandType, params *models.CommandParams) (*syncer.Result, error)
}

// CommandQueue is the pending command table.
type CommandQueue interface {
	GetPendingCommands() ([]models.Command, error)
	MarkCommandProcessed(id int64) error
}

type Scheduler struct {
	cfg    config.SchedulerConfig
	syncer Syncer
	queue  CommandQueue
	cron   *cron.Cron
	ticker *time.Ticker
	stopCh chan struct{}
	now    func() time.Time

	geocodeWorker Triggerable
	recheckWorker Triggerable
	imageWorker   Triggerable
}

func New(cfg config.SchedulerConfig, s Syncer, queue CommandQueue) *Scheduler {
	return &Scheduler{
		cfg:    cfg,
		syncer: s,
		queue:  queue,
		cron:   cron.New(),
		stopCh: make(chan struct{}),
		now:    time.Now,
	}
}

// SetWorkers registers background workers for manual triggering
func (s *Scheduler) SetWorkers(geocode, recheck, images Triggerable) {
	s.geocodeWorker = geocode
	s.recheckWorker = recheck
	s.imageWorker = images
}

func (s *Scheduler) Start(ctx context.Context) error {
	if s.queue != nil {
		go s.pollCommands(ctx)
	}
	go s.pollResumes(ctx)

	if s.cfg.Cron != "" {
		slog.Info("Starting scheduler", "cron", s.cfg.Cron)
		_, err := s.cron.AddFunc(s.cfg.Cron, func() { s.runScheduled(ctx) })
		if err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
		s.cron.Start()
	} else if s.cfg.Interval > 0 {
		slog.Info("Starting scheduler", "interval", s.cfg.Interval)
		s.ticker = time.NewTicker(s.cfg.Interval)
		go func() {
			for {
				select {
				case <-s.ticker.C:
					s.runScheduled(ctx)
				case <-s.stopCh:
					return
				case <-ctx.Done():
					return
				}
			}
		}()
	} else {
		slog.Info("No schedule configured, daemon will only respond to commands")
	}

	return nil
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	if s.ticker != nil {
		s.ticker.Stop()
	}
	close(s.stopCh)
}

func (s *Scheduler) runScheduled(ctx context.Context) {
	res := s.syncer.RunAuto(ctx)
	logResult("Scheduled sync", res)
}

func (s *Scheduler) pollCommands(ctx context.Context) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.processCommands(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// processCommands drains the queue once. Commands are marked processed even
// when they fail so a bad command is not retried forever.
func (s *Scheduler) processCommands(ctx context.Context) {
	cmds, err := s.queue.GetPendingCommands()
	if err != nil {
		slog.Error("Error getting commands", "err", err)
		return
	}

	for i := range cmds {
		cmd := &cmds[i]
		slog.Info("Processing command", "command", cmd.Command, "id", cmd.ID)
		if err := s.handleCommand(ctx, cmd); err != nil {
			slog.Error("Command error", "command", cmd.Command, "err", err)
		}
		if err := s.queue.MarkCommandProcessed(cmd.ID); err != nil {
			slog.Error("Error marking command processed", "id", cmd.ID, "err", err)
		}
	}
}

func (s *Scheduler) handleCommand(ctx context.Context, cmd *models.Command) error {
	switch cmd.Command {
	case models.CmdRunGeocode:
		return triggerWorker("Geocode", s.geocodeWorker)
	case models.CmdRunRecheck:
		return triggerWorker("Recheck", s.recheckWorker)
	case models.CmdRunImages:
		return triggerWorker("Images", s.imageWorker)
	}

	params, err := storage.ParseCommandParams(cmd)
	if err != nil {
		return err
	}
	res, err := s.syncer.HandleCommand(ctx, cmd.Command, params)
	if err != nil {
		return err
	}
	if res != nil {
		logResult("Command "+string(cmd.Command), res)
	}
	return nil
}

func triggerWorker(name string, w Triggerable) error {
	if w == nil {
		return fmt.Errorf("%s worker not running", name)
	}
	w.Trigger()
	slog.Info(name + " worker triggered via command")
	return nil
}

const resumeDelay = 15 * time.Minute

func (s *Scheduler) pollResumes(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.checkResume(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// checkResume restarts an initial load that failed part way, once it has
// cooled down for resumeDelay. It reports whether a run was started.
func (s *Scheduler) checkResume(ctx context.Context) bool {
	st, err := s.syncer.GetState(ctx)
	if err != nil {
		slog.Error("Error checking sync state", "err", err)
		return false
	}
	if st.InitialSyncComplete || st.Status != models.SyncFailed {
		return false
	}
	if st.LastSyncStartedAt != nil && s.now().Sub(*st.LastSyncStartedAt) < resumeDelay {
		return false
	}

	slog.Info("Resuming initial load", "offset", st.CurrentBatchOffset)
	logResult("Resume", s.syncer.RunAuto(ctx))
	return true
}

func logResult(what string, res *syncer.Result) {
	if res == nil {
		return
	}
	if res.Success {
		slog.Info(what+" completed", "mode", res.Mode, "synced", res.Synced, "updated", res.Updated,
			"status_changed", res.StatusChanged, "failed", res.Failed, "offset", res.EndOffset)
		return
	}
	slog.Warn(what+" did not complete", "mode", res.Mode, "errors", res.Errors)
}
