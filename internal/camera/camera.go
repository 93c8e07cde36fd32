// Package camera provides frame acquisition for the detection loop.
package camera

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"borderwatch/internal/model"
)

// Source yields one frame per call. Grab honors the context deadline;
// Close releases the underlying device or connection.
type Source interface {
	Grab(ctx context.Context) (model.Frame, error)
	Close() error
}

// SnapshotSource pulls single JPEG frames from an IP-camera style
// snapshot endpoint.
type SnapshotSource struct {
	url  string
	http *http.Client
}

func NewSnapshotSource(url string, timeout time.Duration) *SnapshotSource {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &SnapshotSource{
		url:  url,
		http: &http.Client{Timeout: timeout},
	}
}

func (s *SnapshotSource) Grab(ctx context.Context) (model.Frame, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return model.Frame{}, err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return model.Frame{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return model.Frame{}, fmt.Errorf("camera snapshot: status %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return model.Frame{}, err
	}
	if len(raw) == 0 {
		return model.Frame{}, fmt.Errorf("camera snapshot: empty body")
	}
	return model.Frame{Raw: raw, CapturedAt: time.Now().UTC()}, nil
}

func (s *SnapshotSource) Close() error {
	s.http.CloseIdleConnections()
	return nil
}
