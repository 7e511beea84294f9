package scanning

import "context"

// Extractor defines the interface for sending a document to an AI backend
type Extractor interface {
	// Extract sends the document and prompt to the backend and returns the raw reply text
	Extract(ctx context.Context, data []byte, contentType string, prompt string) (string, error)
	// Name identifies the backend in logs, metrics and cache keys
	Name() string
	// Close closes the extractor and releases resources
	Close() error
}
