// Package translate calls the translation API used to localize extracted
// comment bodies. The client is optional: when no endpoint is configured
// the extractor stores comments untranslated.
package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type Client struct {
	baseURL    string
	apiKey     string
	targetLang string
	httpClient *http.Client
}

// New builds a client for the translation endpoint. Returns nil when
// baseURL or targetLang is blank, which callers treat as "translation
// disabled".
func New(baseURL, apiKey, targetLang string) *Client {
	if strings.TrimSpace(baseURL) == "" || strings.TrimSpace(targetLang) == "" {
		return nil
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		targetLang: targetLang,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type translateRequest struct {
	Text   string `json:"q"`
	Target string `json:"target"`
}

type translateResponse struct {
	TranslatedText string `json:"translatedText"`
}

// Translate returns text in the configured target language. Blank input is
// returned as-is without a network call.
func (c *Client) Translate(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return text, nil
	}

	body, err := json.Marshal(translateRequest{Text: text, Target: c.targetLang})
	if err != nil {
		return "", fmt.Errorf("marshal translate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/translate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build translate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("call translation api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("translation api returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var payload translateResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode translate response: %w", err)
	}
	return payload.TranslatedText, nil
}
