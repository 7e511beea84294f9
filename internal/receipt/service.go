package receipt

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/receipt-extractor/internal/batch"
	"github.com/zombor/receipt-extractor/internal/scanning"
)

var (
	// ErrNotConfigured means no extraction backend was configured
	ErrNotConfigured = errors.New("API key not configured")

	// ErrRateLimited means every file of the batch was rejected by the backend rate limit
	ErrRateLimited = errors.New("rate limited by AI backend")

	// ErrQuotaExceeded means every file of the batch was rejected for lack of credits
	ErrQuotaExceeded = errors.New("AI backend credits exhausted")
)

// IDGenerator generates batch IDs
type IDGenerator interface {
	Generate() string
}

// uuidGenerator generates random UUIDs
type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

// Options tunes the batch pipeline. Zero values fall back to the defaults.
type Options struct {
	Policy         batch.Policy
	Window         int
	WindowDelay    time.Duration
	FlagDuplicates bool
	Metrics        *Metrics
	IDGenerator    IDGenerator
}

// DefaultOptions returns the reference pipeline settings
func DefaultOptions() Options {
	return Options{
		Policy:         batch.DefaultPolicy(),
		Window:         batch.DefaultWindow,
		WindowDelay:    batch.DefaultWindowDelay,
		FlagDuplicates: true,
	}
}

// Result is a processed batch
type Result struct {
	BatchID string
	Files   int
	Table   *batch.Table
	Errors  []batch.FileError
}

// Service runs uploaded batches through policy, scheduler and reconciler
type Service struct {
	extractor   scanning.Extractor
	profile     scanning.Profile
	policy      batch.Policy
	scheduler   *batch.Scheduler
	reconciler  *batch.Reconciler
	metrics     *Metrics
	idGenerator IDGenerator
}

// NewService creates a new Service. A nil extractor yields a Service that
// rejects every batch with ErrNotConfigured.
func NewService(extractor scanning.Extractor, profile scanning.Profile, opts Options) *Service {
	if opts.IDGenerator == nil {
		opts.IDGenerator = &uuidGenerator{}
	}

	s := &Service{
		extractor:   extractor,
		profile:     profile,
		policy:      opts.Policy,
		reconciler:  batch.NewReconciler(profile, opts.FlagDuplicates),
		metrics:     opts.Metrics,
		idGenerator: opts.IDGenerator,
	}

	if extractor != nil {
		schedOpts := []batch.SchedulerOption{
			batch.WithWindow(opts.Window),
			batch.WithWindowDelay(opts.WindowDelay),
		}
		if opts.Metrics != nil {
			schedOpts = append(schedOpts, batch.WithObserver(opts.Metrics))
		}
		s.scheduler = batch.NewScheduler(extractor, profile.Prompt, opts.Policy, schedOpts...)
	}
	return s
}

// Configured reports whether an extraction backend is available
func (s *Service) Configured() bool {
	return s.extractor != nil
}

// Policy returns the batch policy in force
func (s *Service) Policy() batch.Policy {
	return s.policy
}

// Profile returns the extraction profile in force
func (s *Service) Profile() scanning.Profile {
	return s.profile
}

// ExtractBatch extracts every file and merges the replies into one table.
// Per-file failures end up in Result.Errors; only configuration, validation and
// whole-batch backend refusals are returned as errors.
func (s *Service) ExtractBatch(ctx context.Context, files []batch.FileRecord) (*Result, error) {
	if !s.Configured() {
		s.metrics.BatchDone("not_configured")
		return nil, ErrNotConfigured
	}
	if err := s.policy.ValidateBatch(files); err != nil {
		s.metrics.BatchDone("rejected")
		return nil, err
	}

	id := s.idGenerator.Generate()
	logger := slog.With("batch_id", id)
	ctx = batch.WithLogger(ctx, logger)

	logger.Info("Processing batch", "files", len(files), "profile", s.profile.Name, "backend", s.extractor.Name())
	outcomes := s.scheduler.Run(ctx, files)

	if err := wholeBatchFailure(outcomes); err != nil {
		logger.Error("Every file was refused by the AI backend", "error", err)
		s.metrics.BatchDone("refused")
		return nil, err
	}

	table, failures := s.reconciler.Merge(outcomes)
	s.metrics.RowsMerged(table.Len())
	s.metrics.BatchDone("ok")

	logger.Info("Batch completed", "rows", table.Len(), "failed_files", len(failures))
	return &Result{
		BatchID: id,
		Files:   len(files),
		Table:   table,
		Errors:  failures,
	}, nil
}

// wholeBatchFailure reports a rate-limit or quota refusal only when it hit every file
func wholeBatchFailure(outcomes []batch.Outcome) error {
	if len(outcomes) == 0 {
		return nil
	}

	rateLimited, quota := 0, 0
	for _, o := range outcomes {
		switch {
		case o.OK():
			return nil
		case scanning.IsRateLimited(o.Err):
			rateLimited++
		case scanning.IsQuotaExceeded(o.Err):
			quota++
		}
	}

	switch len(outcomes) {
	case rateLimited:
		return ErrRateLimited
	case quota:
		return ErrQuotaExceeded
	}
	return nil
}
