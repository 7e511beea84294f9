package scanning

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultGatewayURL   = "https://ai.gateway.lovable.dev/v1/chat/completions"
	defaultGatewayModel = "google/gemini-2.5-flash"
)

// Gateway implements the Extractor interface against an OpenAI-compatible
// chat completions gateway (Lovable AI). It reports 429 when rate limited
// and 402 when the workspace is out of credits.
type Gateway struct {
	url    string
	apiKey string
	model  string
	client *http.Client
}

// NewGateway creates a new Gateway Extractor instance
func NewGateway(url string, apiKey string, modelName string) (*Gateway, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gateway: %w", ErrMissingAPIKey)
	}
	if url == "" {
		url = defaultGatewayURL
	}
	if modelName == "" {
		modelName = defaultGatewayModel
	}

	return &Gateway{
		url:    url,
		apiKey: apiKey,
		model:  modelName,
		client: &http.Client{
			Timeout: 120 * time.Second,
		},
	}, nil
}

type gatewayRequest struct {
	Model       string           `json:"model"`
	Messages    []gatewayMessage `json:"messages"`
	Temperature float64          `json:"temperature"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
}

type gatewayMessage struct {
	Role    string           `json:"role"`
	Content []gatewayContent `json:"content"`
}

type gatewayContent struct {
	Type     string           `json:"type"`
	Text     string           `json:"text,omitempty"`
	ImageURL *gatewayImageURL `json:"image_url,omitempty"`
}

type gatewayImageURL struct {
	URL string `json:"url"`
}

type gatewayResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Extract sends the document as a base64 data URL and returns the reply text
func (g *Gateway) Extract(ctx context.Context, data []byte, contentType string, prompt string) (string, error) {
	imageData, mimeType, err := rasterize(data, contentType)
	if err != nil {
		return "", err
	}

	dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(imageData))
	reqBody := gatewayRequest{
		Model:       g.model,
		Temperature: 0.1,
		MaxTokens:   2048,
		Messages: []gatewayMessage{
			{
				Role: "user",
				Content: []gatewayContent{
					{Type: "text", Text: prompt},
					{Type: "image_url", ImageURL: &gatewayImageURL{URL: dataURL}},
				},
			},
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return "", &TransportError{Backend: "gateway", Err: fmt.Errorf("calling gateway API: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", &TransportError{Backend: "gateway", StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var chatResp gatewayResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return "", ErrEmptyResponse
	}

	text := cleanReply(chatResp.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// Name returns the backend name
func (g *Gateway) Name() string {
	return "gateway/" + g.model
}

// Close is a no-op for the HTTP client
func (g *Gateway) Close() error {
	return nil
}
