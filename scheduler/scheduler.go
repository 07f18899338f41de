package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"propmarket/config"
	"propmarket/logging"
	"propmarket/models"
)

// Triggerable allows workers to be triggered manually
type Triggerable interface {
	Trigger()
}

// Cleaner runs a full orphan reconciliation
type Cleaner interface {
	Run(ctx context.Context, trigger string, dryRun bool) (*models.ReconcileResult, error)
}

// ListingSweeper clears a single listing prefix on demand
type ListingSweeper interface {
	Triggerable
	Sweep(ctx context.Context, listingID string) (models.ListingReconcile, error)
}

// CommandStore is the ops-DB command queue
type CommandStore interface {
	GetPendingCommands() ([]models.Command, error)
	MarkCommandProcessed(id int64) error
	ParseCommandParams(cmd *models.Command) (*models.CommandParams, error)
}

type Scheduler struct {
	cfg      config.ReconcileConfig
	cleaner  Cleaner
	commands CommandStore
	sweeper  ListingSweeper
	cron     *cron.Cron
	ticker   *time.Ticker
	stopCh   chan struct{}

	pollInterval time.Duration
}

func New(cfg config.ReconcileConfig, cleaner Cleaner, commands CommandStore) *Scheduler {
	return &Scheduler{
		cfg:          cfg,
		cleaner:      cleaner,
		commands:     commands,
		cron:         cron.New(),
		stopCh:       make(chan struct{}),
		pollInterval: 2 * time.Second,
	}
}

// SetSweeper registers the sweep worker for manual triggering
func (s *Scheduler) SetSweeper(w ListingSweeper) {
	s.sweeper = w
}

func (s *Scheduler) Start(ctx context.Context) error {
	if s.commands != nil {
		go s.pollCommands(ctx)
	}

	if s.cfg.Cron != "" {
		logging.Infof("Starting reconcile scheduler with cron: %s", s.cfg.Cron)
		_, err := s.cron.AddFunc(s.cfg.Cron, func() {
			s.runReconcile(ctx, "cron", false)
		})
		if err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
		s.cron.Start()
	} else if s.cfg.Interval > 0 {
		logging.Infof("Starting reconcile scheduler with interval: %s", s.cfg.Interval)
		s.ticker = time.NewTicker(s.cfg.Interval)
		go func() {
			for {
				select {
				case <-s.ticker.C:
					s.runReconcile(ctx, "interval", false)
				case <-s.stopCh:
					return
				case <-ctx.Done():
					return
				}
			}
		}()
	} else {
		logging.Infof("No reconcile schedule configured, daemon will only respond to commands and the API")
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

func (s *Scheduler) runReconcile(ctx context.Context, trigger string, dryRun bool) {
	if _, err := s.cleaner.Run(ctx, trigger, dryRun); err != nil {
		logging.Errorf("Scheduled reconcile (%s) error: %v", trigger, err)
	}
}

func (s *Scheduler) pollCommands(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
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

func (s *Scheduler) processCommands(ctx context.Context) {
	cmds, err := s.commands.GetPendingCommands()
	if err != nil {
		logging.Errorf("Error getting commands: %v", err)
		return
	}

	for _, cmd := range cmds {
		logging.Infof("Processing command: %s", cmd.Command)
		if err := s.handleCommand(ctx, &cmd); err != nil {
			logging.Errorf("Command error: %v", err)
		}
		if err := s.commands.MarkCommandProcessed(cmd.ID); err != nil {
			logging.Errorf("Error marking command processed: %v", err)
		}
	}
}

func (s *Scheduler) handleCommand(ctx context.Context, cmd *models.Command) error {
	params, err := s.commands.ParseCommandParams(cmd)
	if err != nil {
		return fmt.Errorf("command %d: %w", cmd.ID, err)
	}

	switch cmd.Command {
	case models.CmdReconcileNow:
		dryRun := params != nil && params.DryRun
		_, err := s.cleaner.Run(ctx, "command", dryRun)
		return err
	case models.CmdSweepNow:
		if s.sweeper != nil {
			s.sweeper.Trigger()
			logging.Infof("Sweep worker triggered via command")
		}
		return nil
	case models.CmdSweepListing:
		if params == nil || params.ListingID == "" {
			return fmt.Errorf("sweep_listing needs a listing_id")
		}
		if s.sweeper == nil {
			return fmt.Errorf("sweep worker not running")
		}
		lr, err := s.sweeper.Sweep(ctx, params.ListingID)
		if err != nil {
			return err
		}
		logging.Infof("Swept %s via command: %d deleted", lr.ListingID, lr.Deleted)
		return nil
	default:
		return fmt.Errorf("unknown command: %s", cmd.Command)
	}
}

// TriggerNow runs a reconcile synchronously
func (s *Scheduler) TriggerNow(ctx context.Context, dryRun bool) (*models.ReconcileResult, error) {
	return s.cleaner.Run(ctx, "manual", dryRun)
}
