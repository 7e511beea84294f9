package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zombor/receipt-extractor/internal/scanning"
)

const (
	DefaultWindow      = 5
	DefaultWindowDelay = time.Second
)

// Observer is told about every finished file
type Observer interface {
	FileDone(outcome Outcome, elapsed time.Duration)
}

// Scheduler sends the files of a batch to an Extractor in fixed-size windows.
// Files inside a window run concurrently; windows run one after another with a
// fixed pause in between to stay under backend rate limits.
type Scheduler struct {
	extractor scanning.Extractor
	prompt    string
	policy    Policy
	window    int
	delay     time.Duration
	observer  Observer
}

// SchedulerOption configures a Scheduler
type SchedulerOption func(*Scheduler)

// WithWindow sets how many files are dispatched together
func WithWindow(n int) SchedulerOption {
	return func(s *Scheduler) {
		if n > 0 {
			s.window = n
		}
	}
}

// WithWindowDelay sets the pause between windows
func WithWindowDelay(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d >= 0 {
			s.delay = d
		}
	}
}

// WithObserver registers an Observer
func WithObserver(o Observer) SchedulerOption {
	return func(s *Scheduler) {
		s.observer = o
	}
}

// NewScheduler creates a Scheduler that sends prompt with every file
func NewScheduler(extractor scanning.Extractor, prompt string, policy Policy, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		extractor: extractor,
		prompt:    prompt,
		policy:    policy,
		window:    DefaultWindow,
		delay:     DefaultWindowDelay,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run extracts every file and returns one Outcome per file in submission order.
// A failing file never stops its siblings.
func (s *Scheduler) Run(ctx context.Context, files []FileRecord) []Outcome {
	logger := loggerFrom(ctx)
	outcomes := make([]Outcome, len(files))

	for start := 0; start < len(files); start += s.window {
		if start > 0 {
			if err := sleep(ctx, s.delay); err != nil {
				logger.Warn("Batch interrupted between windows", "remaining", len(files)-start, "error", err)
				for i := start; i < len(files); i++ {
					outcomes[i] = Failure(files[i].Name, err)
				}
				return outcomes
			}
		}

		end := min(start+s.window, len(files))
		logger.Info("Dispatching window", "from", start+1, "to", end, "of", len(files))
		s.runWindow(ctx, files[start:end], outcomes[start:end])
	}

	return outcomes
}

// runWindow extracts files concurrently, each task writing only its own slot
func (s *Scheduler) runWindow(ctx context.Context, files []FileRecord, outcomes []Outcome) {
	var g errgroup.Group
	for i, file := range files {
		g.Go(func() error {
			outcomes[i] = s.extractOne(ctx, file)
			return nil
		})
	}
	_ = g.Wait()
}

// extractOne runs a single file with its own error handling
func (s *Scheduler) extractOne(ctx context.Context, file FileRecord) (outcome Outcome) {
	logger := loggerFrom(ctx)
	started := time.Now()

	defer func() {
		if r := recover(); r != nil {
			outcome = Failure(file.Name, fmt.Errorf("extractor panic: %v", r))
		}
		if !outcome.OK() {
			logger.Warn("Failed to extract receipt",
				"filename", file.Name,
				"content_type", file.MimeType,
				"file_size", file.Size(),
				"error", outcome.Err,
			)
		}
		if s.observer != nil {
			s.observer.FileDone(outcome, time.Since(started))
		}
	}()

	if err := s.policy.CheckFile(file); err != nil {
		return Failure(file.Name, err)
	}
	if err := ctx.Err(); err != nil {
		return Failure(file.Name, err)
	}

	fragment, err := s.extractor.Extract(ctx, file.Data, file.MimeType, s.prompt)
	if errors.Is(err, scanning.ErrEmptyResponse) {
		logger.Warn("Model returned no text", "filename", file.Name)
		return Success(file.Name, "")
	}
	if err != nil {
		return Failure(file.Name, err)
	}

	logger.Debug("Extracted receipt", "filename", file.Name, "elapsed", time.Since(started))
	return Success(file.Name, fragment)
}

// sleep waits for d or until ctx is done
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
