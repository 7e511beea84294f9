package batch

import (
	"errors"
	"fmt"
	"slices"
)

const (
	DefaultMaxFiles       = 30
	DefaultMaxFileBytes   = 1 << 20
	DefaultMaxUploadBytes = 5 << 20
)

var (
	ErrTooManyFiles    = errors.New("too many files")
	ErrUploadTooLarge  = errors.New("upload exceeds transport limit")
	ErrFileTooLarge    = errors.New("file exceeds size limit")
	ErrUnsupportedType = errors.New("unsupported file type")
)

// Violation is a policy failure carrying the message shown to the user
type Violation struct {
	Reason  error
	Message string
}

func (v *Violation) Error() string {
	return v.Message
}

func (v *Violation) Unwrap() error {
	return v.Reason
}

// Policy holds the limits applied to a batch before any backend call
type Policy struct {
	MaxFiles       int
	MaxFileBytes   int
	MaxUploadBytes int
	AcceptedTypes  []string
}

// DefaultPolicy returns the reference limits: 30 files, 1MB per file, 5MB transport cap
func DefaultPolicy() Policy {
	return Policy{
		MaxFiles:       DefaultMaxFiles,
		MaxFileBytes:   DefaultMaxFileBytes,
		MaxUploadBytes: DefaultMaxUploadBytes,
		AcceptedTypes:  AcceptedTypes,
	}
}

// ValidateBatch applies the whole-request rules. Any error fails the request.
func (p Policy) ValidateBatch(files []FileRecord) error {
	if len(files) == 0 {
		return ErrEmptyBatch
	}
	if p.MaxFiles > 0 && len(files) > p.MaxFiles {
		return &Violation{
			Reason:  ErrTooManyFiles,
			Message: fmt.Sprintf("Too many files. Maximum %d files allowed per request.", p.MaxFiles),
		}
	}
	if p.MaxUploadBytes > 0 {
		for _, f := range files {
			if f.Size() > p.MaxUploadBytes {
				return &Violation{
					Reason:  ErrUploadTooLarge,
					Message: fmt.Sprintf("File %s exceeds the %s upload limit.", f.Name, sizeLabel(p.MaxUploadBytes)),
				}
			}
		}
	}
	return nil
}

// CheckFile applies the per-file rules. A failure only affects that file.
func (p Policy) CheckFile(f FileRecord) error {
	if p.MaxFileBytes > 0 && f.Size() > p.MaxFileBytes {
		return &Violation{
			Reason:  ErrFileTooLarge,
			Message: fmt.Sprintf("File too large. Maximum size is %s.", sizeLabel(p.MaxFileBytes)),
		}
	}
	if len(p.AcceptedTypes) > 0 && !slices.Contains(p.AcceptedTypes, f.MimeType) {
		return &Violation{
			Reason:  ErrUnsupportedType,
			Message: fmt.Sprintf("Unsupported file type: %s", f.MimeType),
		}
	}
	return nil
}

// MaxBodyBytes is the largest request body a batch within policy can need
func (p Policy) MaxBodyBytes() int64 {
	if p.MaxFiles <= 0 || p.MaxUploadBytes <= 0 {
		return 0
	}
	return int64(p.MaxFiles)*int64(p.MaxUploadBytes) + 1<<20
}

// sizeLabel renders a byte count the way limits are quoted to users
func sizeLabel(n int) string {
	switch {
	case n >= 1<<20 && n%(1<<20) == 0:
		return fmt.Sprintf("%dMB", n>>20)
	case n >= 1<<10 && n%(1<<10) == 0:
		return fmt.Sprintf("%dKB", n>>10)
	default:
		return fmt.Sprintf("%d bytes", n)
	}
}
