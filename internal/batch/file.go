package batch

import (
	"context"
	"errors"
	"log/slog"

	"github.com/zombor/receipt-extractor/internal/scanning"
)

// FileRecord is one uploaded document held in memory for the life of a request
type FileRecord struct {
	Name     string
	MimeType string
	Data     []byte
}

// Size returns the document size in bytes
func (f FileRecord) Size() int {
	return len(f.Data)
}

// Outcome is the extraction result for one file. Err is nil on success;
// Fragment may then still be empty when the model had nothing to say.
type Outcome struct {
	Filename string
	Fragment string
	Err      error
}

// Success creates a successful Outcome
func Success(filename string, fragment string) Outcome {
	return Outcome{Filename: filename, Fragment: fragment}
}

// Failure creates a failed Outcome
func Failure(filename string, err error) Outcome {
	return Outcome{Filename: filename, Err: err}
}

// OK reports whether the extraction succeeded
func (o Outcome) OK() bool {
	return o.Err == nil
}

// Message returns the user-safe description of a failed outcome
func (o Outcome) Message() string {
	var v *Violation
	switch {
	case o.Err == nil:
		return ""
	case errors.As(o.Err, &v):
		return v.Message
	case scanning.IsRateLimited(o.Err):
		return "Rate limit exceeded. Please try again later."
	case scanning.IsQuotaExceeded(o.Err):
		return "AI credits exhausted. Please add credits to continue."
	case errors.Is(o.Err, context.Canceled), errors.Is(o.Err, context.DeadlineExceeded):
		return "Request cancelled before the file was processed"
	default:
		return "Failed to process with AI"
	}
}

// FileError is a failed file as reported to the caller
type FileError struct {
	Filename string `json:"filename"`
	Error    string `json:"error"`
}

type loggerKey struct{}

// WithLogger attaches a logger to ctx for batch processing
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// loggerFrom returns the logger attached to ctx or the default logger
func loggerFrom(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok && logger != nil {
		return logger
	}
	return slog.Default()
}
