package batch

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	// ErrMalformedUpload means the body has no usable multipart boundary
	ErrMalformedUpload = errors.New("no multipart boundary found")

	// ErrEmptyBatch means no part of the upload carried a file
	ErrEmptyBatch = errors.New("no files provided")
)

var (
	filenamePattern    = regexp.MustCompile(`filename="([^"]*)"`)
	contentTypePattern = regexp.MustCompile(`(?i)Content-Type:\s*([^\r\n]+)`)
)

// Ingestor turns an upload body into file records
type Ingestor interface {
	Ingest(body io.Reader, contentType string) ([]FileRecord, error)
}

// NewIngestor returns the ingestor registered under name
func NewIngestor(name string) (Ingestor, error) {
	switch name {
	case "", "scan":
		return ScanIngestor{}, nil
	case "std":
		return StdIngestor{}, nil
	default:
		return nil, fmt.Errorf("unknown ingestor %q (valid: scan, std)", name)
	}
}

// BoundaryFromContentType extracts the multipart boundary token from a Content-Type header
func BoundaryFromContentType(contentType string) (string, error) {
	_, params, err := mime.ParseMediaType(contentType)
	if err == nil && params["boundary"] != "" {
		return params["boundary"], nil
	}

	// Tolerate headers the strict parser rejects
	if _, after, ok := strings.Cut(contentType, "boundary="); ok {
		boundary := strings.Trim(strings.TrimSpace(strings.SplitN(after, ";", 2)[0]), `"`)
		if boundary != "" {
			return boundary, nil
		}
	}
	return "", ErrMalformedUpload
}

// ScanIngestor reads the whole body and splits it with ParseMultipart
type ScanIngestor struct{}

// Ingest implements Ingestor
func (ScanIngestor) Ingest(body io.Reader, contentType string) ([]FileRecord, error) {
	boundary, err := BoundaryFromContentType(contentType)
	if err != nil {
		return nil, err
	}

	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("reading upload: %w", err)
	}
	return ParseMultipart(raw, boundary)
}

// ParseMultipart splits a multipart/form-data body on the exact "--boundary"
// delimiter and returns every part that carries a filename. Header parsing is
// permissive: only filename="..." and Content-Type are looked at.
func ParseMultipart(body []byte, boundary string) ([]FileRecord, error) {
	if boundary == "" {
		return nil, ErrMalformedUpload
	}
	delimiter := []byte("--" + boundary)
	if !bytes.Contains(body, delimiter) {
		return nil, ErrMalformedUpload
	}

	var files []FileRecord
	start := -1
	pos := 0
	for {
		idx := bytes.Index(body[pos:], delimiter)
		if idx == -1 {
			break
		}
		idx += pos

		if start >= 0 {
			if file, ok := parsePart(body[start:idx]); ok {
				files = append(files, file)
			}
		}

		start = idx + len(delimiter)
		pos = start
	}

	if len(files) == 0 {
		return nil, ErrEmptyBatch
	}
	return files, nil
}

// parsePart parses the segment between two delimiters
func parsePart(segment []byte) (FileRecord, bool) {
	// The closing delimiter is followed by "--"
	if bytes.HasPrefix(segment, []byte("--")) {
		return FileRecord{}, false
	}

	separator := []byte("\r\n\r\n")
	headerEnd := bytes.Index(segment, separator)
	if headerEnd == -1 {
		separator = []byte("\n\n")
		headerEnd = bytes.Index(segment, separator)
	}
	if headerEnd == -1 {
		return FileRecord{}, false
	}

	headers := string(segment[:headerEnd])
	data := segment[headerEnd+len(separator):]

	// The line break before the next delimiter belongs to the framing
	if bytes.HasSuffix(data, []byte("\r\n")) {
		data = data[:len(data)-2]
	} else if bytes.HasSuffix(data, []byte("\n")) {
		data = data[:len(data)-1]
	}

	match := filenamePattern.FindStringSubmatch(headers)
	if match == nil || match[1] == "" {
		return FileRecord{}, false
	}
	// Directory components are dropped, as mime/multipart does
	name := filepath.Base(match[1])

	declared := ""
	if ct := contentTypePattern.FindStringSubmatch(headers); ct != nil {
		declared = ct[1]
	}

	return FileRecord{
		Name:     name,
		MimeType: DetectMimeType(name, declared),
		Data:     data,
	}, true
}

// StdIngestor decodes the body with mime/multipart
type StdIngestor struct{}

// Ingest implements Ingestor
func (StdIngestor) Ingest(body io.Reader, contentType string) ([]FileRecord, error) {
	boundary, err := BoundaryFromContentType(contentType)
	if err != nil {
		return nil, err
	}

	reader := multipart.NewReader(body, boundary)
	var files []FileRecord
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			if len(files) == 0 && !isReadLimit(err) {
				return nil, fmt.Errorf("%w: %v", ErrMalformedUpload, err)
			}
			return nil, fmt.Errorf("reading upload: %w", err)
		}

		if part.FileName() == "" {
			part.Close()
			continue
		}

		data, err := io.ReadAll(part)
		part.Close()
		if err != nil {
			return nil, fmt.Errorf("reading part %q: %w", part.FileName(), err)
		}

		files = append(files, FileRecord{
			Name:     part.FileName(),
			MimeType: DetectMimeType(part.FileName(), part.Header.Get("Content-Type")),
			Data:     data,
		})
	}

	if len(files) == 0 {
		return nil, ErrEmptyBatch
	}
	return files, nil
}

// isReadLimit reports whether err came from a body size cap rather than bad framing
func isReadLimit(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}
