// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package embed calls the embeddings service that turns report text
// into the dense vectors the similarity search runs on.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrInvalidInput is returned for nil contexts or empty inputs.
var ErrInvalidInput = errors.New("invalid input")

// DefaultTimeout is the default timeout for embedding requests.
const DefaultTimeout = 30 * time.Second

// Embedder converts text into vectors. Implemented by Client and by
// test fakes.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Client talks to the embeddings service over HTTP.
//
// # Thread Safety
//
// Client is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates an embedding client for the service at baseURL,
// e.g. "http://localhost:8000".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

// WithTimeout sets a custom timeout for embedding requests.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	c.httpClient.Timeout = timeout
	return c
}

// embeddingRequest is the request body for the /batch_embed endpoint.
type embeddingRequest struct {
	Texts []string `json:"texts"`
}

// embeddingResponse is the response from the /batch_embed endpoint.
type embeddingResponse struct {
	ID        string      `json:"id"`
	Timestamp int64       `json:"timestamp"`
	Model     string      `json:"model"`
	Vectors   [][]float32 `json:"vectors"`
	Dim       int         `json:"dim"`
}

// healthResponse is the response from the /health endpoint.
type healthResponse struct {
	Status string `json:"status"`
	Model  string `json:"model"`
}

// Embed computes the vector for one report text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if ctx == nil {
		return nil, ErrInvalidInput
	}
	if text == "" {
		return nil, fmt.Errorf("%w: text is empty", ErrInvalidInput)
	}

	vectors, err := c.BatchEmbed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("embedding service returned no vectors")
	}
	return vectors[0], nil
}

// BatchEmbed computes embeddings for multiple texts in one request.
func (c *Client) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	if ctx == nil {
		return nil, ErrInvalidInput
	}
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts is empty", ErrInvalidInput)
	}

	bodyBytes, err := json.Marshal(embeddingRequest{Texts: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := c.baseURL + "/batch_embed"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding service returned status %d: %s", resp.StatusCode, string(body))
	}

	var embResp embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&embResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return embResp.Vectors, nil
}

// Health verifies the embeddings service is up and its model loaded.
func (c *Client) Health(ctx context.Context) error {
	if ctx == nil {
		return ErrInvalidInput
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("embedding service unhealthy: status %d", resp.StatusCode)
	}

	var health healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if health.Status != "ok" && health.Status != "healthy" {
		return fmt.Errorf("embedding service unhealthy: %s", health.Status)
	}
	return nil
}
