package facerec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"borderwatch/internal/model"
)

// Client talks to a face-recognition sidecar over HTTP. The sidecar
// exposes /health, /detect (frame bytes in, detections out) and /embed
// (image reference in, one embedding out).
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

type healthResponse struct {
	Status       string `json:"status"`
	ModelsLoaded bool   `json:"models_loaded"`
}

func (c *Client) Ready(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("recognizer health: status %d", resp.StatusCode)
	}
	var hr healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&hr); err != nil {
		return err
	}
	if !hr.ModelsLoaded {
		return ErrNotLoaded
	}
	return nil
}

type detectResponse struct {
	Faces []struct {
		Box       model.BoundingBox `json:"box"`
		Embedding []float32         `json:"embedding"`
	} `json:"faces"`
}

func (c *Client) LocateFaces(ctx context.Context, frame model.Frame) ([]model.Detection, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/detect", bytes.NewReader(frame.Raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "image/jpeg")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusServiceUnavailable {
		return nil, ErrNotLoaded
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("recognizer detect: status %d", resp.StatusCode)
	}
	var dr detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return nil, err
	}
	detections := make([]model.Detection, 0, len(dr.Faces))
	for _, f := range dr.Faces {
		detections = append(detections, model.Detection{
			Box:       f.Box,
			Embedding: f.Embedding,
		})
	}
	return detections, nil
}

type embedRequest struct {
	URL string `json:"url"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (c *Client) EmbedImage(ctx context.Context, imageURL string) (model.Embedding, error) {
	body, err := json.Marshal(embedRequest{URL: imageURL})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		// The service reports "no face in this image" as 404.
		io.Copy(io.Discard, resp.Body)
		return nil, ErrNoFace
	case http.StatusServiceUnavailable:
		return nil, ErrNotLoaded
	default:
		return nil, fmt.Errorf("recognizer embed: status %d", resp.StatusCode)
	}
	var er embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return nil, err
	}
	if len(er.Embedding) == 0 {
		return nil, ErrNoFace
	}
	return er.Embedding, nil
}
