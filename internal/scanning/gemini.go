package scanning

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/googleapis/gax-go/v2/apierror"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
)

// Gemini implements the Extractor interface using Google Gemini
type Gemini struct {
	client    *genai.Client
	model     *genai.GenerativeModel
	modelName string
}

// NewGemini creates a new Gemini Extractor instance
func NewGemini(apiKey string, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: %w", ErrMissingAPIKey)
	}
	if modelName == "" {
		modelName = "gemini-2.0-flash"
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SetTemperature(0.1)
	model.SetMaxOutputTokens(2048)

	return &Gemini{
		client:    client,
		model:     model,
		modelName: modelName,
	}, nil
}

// Extract sends the document inline alongside the prompt and returns the reply text
func (g *Gemini) Extract(ctx context.Context, data []byte, contentType string, prompt string) (string, error) {
	mimeType := normalizeMimeType(contentType)
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	parts := []genai.Part{
		genai.Text(prompt),
		genai.Blob{MIMEType: mimeType, Data: data},
	}

	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", classifyGeminiError(err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", ErrEmptyResponse
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}

	text := cleanReply(responseText.String())
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// classifyGeminiError maps SDK errors onto TransportError so callers can tell rate limits apart
func classifyGeminiError(err error) error {
	te := &TransportError{Backend: "gemini", Err: err}

	var apiErr *apierror.APIError
	if errors.As(err, &apiErr) {
		if code := apiErr.HTTPCode(); code > 0 {
			te.StatusCode = code
		} else if st := apiErr.GRPCStatus(); st != nil {
			switch st.Code() {
			case codes.ResourceExhausted:
				te.StatusCode = http.StatusTooManyRequests
			case codes.InvalidArgument:
				te.StatusCode = http.StatusBadRequest
			case codes.PermissionDenied, codes.Unauthenticated:
				te.StatusCode = http.StatusForbidden
			case codes.Unavailable:
				te.StatusCode = http.StatusServiceUnavailable
			}
		}
	}
	return te
}

// Name returns the backend name
func (g *Gemini) Name() string {
	return "gemini/" + g.modelName
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}
