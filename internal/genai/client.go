// Package genai wraps the Gemini generateContent REST API behind a small
// Generator interface. One call in, one completion (or classified failure) out.
package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

// DefaultBaseURL is the Gemini API endpoint.
const DefaultBaseURL = "https://generativelanguage.googleapis.com"

// Generator is the interface the dispatcher generates replies through.
type Generator interface {
	// Generate sends prompt to the generation service and returns the
	// completion text. An empty completion is reported as ErrNoContent,
	// distinct from transport or service failures.
	Generate(ctx context.Context, prompt string) (string, error)
}

// Config holds sampling parameters and safety thresholds for generation.
type Config struct {
	Model           string
	Temperature     float64
	TopP            float64
	TopK            int
	MaxOutputTokens int
	Safety          map[string]string // category → threshold; empty disables none
}

// Client calls the Gemini generateContent endpoint.
type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
	Config  Config
}

// New creates a Client with the default endpoint and a 90s request timeout.
func New(apiKey string, cfg Config) *Client {
	return &Client{
		BaseURL: DefaultBaseURL,
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: 90 * time.Second},
		Config:  cfg,
	}
}

type generateRequest struct {
	Contents         []content       `json:"contents"`
	GenerationConfig genConfig       `json:"generationConfig"`
	SafetySettings   []safetySetting `json:"safetySettings,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type genConfig struct {
	Temperature     float64 `json:"temperature"`
	TopP            float64 `json:"topP,omitempty"`
	TopK            int     `json:"topK,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type safetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback,omitempty"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error,omitempty"`
}

// Generate implements Generator. The request carries the configured sampling
// parameters and safety thresholds. History is not replayed; each call is
// stateless per message.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	body := generateRequest{
		Contents: []content{
			{Role: "user", Parts: []part{{Text: prompt}}},
		},
		GenerationConfig: genConfig{
			Temperature:     c.Config.Temperature,
			TopP:            c.Config.TopP,
			TopK:            c.Config.TopK,
			MaxOutputTokens: c.Config.MaxOutputTokens,
		},
		SafetySettings: safetySettings(c.Config.Safety),
	}

	b, err := json.Marshal(body)
	if err != nil {
		return "", &Error{Kind: KindTerminal, Message: fmt.Sprintf("marshal request: %v", err)}
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
		strings.TrimRight(c.BaseURL, "/"), c.Config.Model, c.APIKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return "", &Error{Kind: KindTerminal, Message: fmt.Sprintf("build request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return "", &Error{Kind: KindTransient, Message: fmt.Sprintf("request: %v", err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &Error{Kind: KindTransient, Status: resp.StatusCode, Message: fmt.Sprintf("read response: %v", err)}
	}

	var out generateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", &Error{Kind: KindTransient, Status: resp.StatusCode, Message: fmt.Sprintf("malformed response: %v", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := string(raw)
		if out.Error != nil && out.Error.Message != "" {
			msg = out.Error.Message
		}
		return "", &Error{Kind: classifyStatus(resp.StatusCode), Status: resp.StatusCode, Message: msg}
	}

	// A prompt blocked by safety filters yields no candidates plus a block
	// reason. That is a content decision, not an outage; do not retry.
	if out.PromptFeedback != nil && out.PromptFeedback.BlockReason != "" {
		return "", &Error{Kind: KindTerminal, Status: resp.StatusCode,
			Message: "prompt blocked: " + out.PromptFeedback.BlockReason}
	}

	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return "", ErrNoContent
	}

	var sb strings.Builder
	for _, p := range out.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	text := sb.String()
	if text == "" {
		return "", ErrNoContent
	}
	return text, nil
}

// safetySettings converts the config map into the wire list in a stable order.
func safetySettings(m map[string]string) []safetySetting {
	if len(m) == 0 {
		return nil
	}
	categories := make([]string, 0, len(m))
	for cat := range m {
		categories = append(categories, cat)
	}
	sort.Strings(categories)

	settings := make([]safetySetting, 0, len(categories))
	for _, cat := range categories {
		settings = append(settings, safetySetting{Category: cat, Threshold: m[cat]})
	}
	return settings
}
