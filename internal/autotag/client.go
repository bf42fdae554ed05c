// Package autotag talks to the external image classifier that suggests
// tags for catalog photos.
package autotag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// DefaultMinConfidence drops classifier suggestions at or below this score.
const DefaultMinConfidence = 0.4

// Suggestion is one tag proposed by the classifier.
type Suggestion struct {
	Name       string
	Confidence float64
}

// Client posts images to the classifier endpoint.
type Client struct {
	url           string
	minConfidence float64
	http          *http.Client
}

// NewClient returns a classifier client. A nil httpClient gets a 60s timeout.
func NewClient(url string, minConfidence float64, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	if minConfidence <= 0 {
		minConfidence = DefaultMinConfidence
	}
	return &Client{url: url, minConfidence: minConfidence, http: httpClient}
}

// Classify uploads the file at path and returns suggestions above the
// confidence threshold, highest first.
func (c *Client) Classify(ctx context.Context, path string) ([]Suggestion, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, err
	}
	if err := writer.WriteField("format", "json"); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("autotagger response status=%d", resp.StatusCode)
	}
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var parsed []struct {
		Tags map[string]float64 `json:"tags"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decode autotagger response: %w", err)
	}
	if len(parsed) == 0 {
		return nil, nil
	}

	out := make([]Suggestion, 0, len(parsed[0].Tags))
	for name, conf := range parsed[0].Tags {
		if conf > c.minConfidence {
			out = append(out, Suggestion{Name: name, Confidence: conf})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence == out[j].Confidence {
			return out[i].Name < out[j].Name
		}
		return out[i].Confidence > out[j].Confidence
	})
	return out, nil
}
