package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"borderwatch/internal/config"
)

const alertMessage = "Security Alert: An unidentified individual has been detected in a restricted area. Access has been denied by the administrator."

// Mailer sends the intruder alert through a transactional email HTTP
// API (EmailJS-style service/template contract).
type Mailer struct {
	cfg  config.EmailConfig
	http *http.Client
}

func NewMailer(cfg config.EmailConfig, timeout time.Duration) *Mailer {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Mailer{cfg: cfg, http: &http.Client{Timeout: timeout}}
}

type mailRequest struct {
	ServiceID      string         `json:"service_id"`
	TemplateID     string         `json:"template_id"`
	UserID         string         `json:"user_id"`
	TemplateParams map[string]any `json:"template_params"`
}

func (m *Mailer) SendIntruderAlert(ctx context.Context, imageURL string, detectedAt time.Time) error {
	payload := mailRequest{
		ServiceID:  m.cfg.ServiceID,
		TemplateID: m.cfg.TemplateID,
		UserID:     m.cfg.PublicKey,
		TemplateParams: map[string]any{
			"alert_time":         detectedAt.UTC().Format(time.RFC3339),
			"alert_message":      alertMessage,
			"intruder_image_url": imageURL,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := m.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("email send: status %d", resp.StatusCode)
	}
	return nil
}
