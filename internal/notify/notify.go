// Package notify delivers vault lifecycle events to chat and webhook
// endpoints. Events carry ids, revisions and counts only, never names of
// secrets or key material.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rowjay/secret-vault/internal/config"
)

type Event struct {
	Type      string    `json:"type"` // create, save, delete, verify
	Message   string    `json:"message"`
	Status    string    `json:"status"`
	VaultID   string    `json:"vault_id"`
	Revision  int       `json:"revision"`
	Backend   string    `json:"backend"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	Duration  string    `json:"duration"`
	Error     string    `json:"error,omitempty"`
}

type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

type Multi struct {
	Targets []Notifier
}

// Notify delivers to every target and joins their errors.
func (m Multi) Notify(ctx context.Context, event Event) error {
	var errs []error
	for _, target := range m.Targets {
		if target == nil {
			continue
		}
		if err := target.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type Webhook struct {
	Name    string
	URL     string
	Headers map[string]string
	Client  *http.Client
}

func (w Webhook) Notify(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return post(ctx, w.Client, "webhook "+w.Name, w.URL, body, w.Headers)
}

type Mattermost struct {
	Name   string
	URL    string
	Client *http.Client
}

func (m Mattermost) Notify(ctx context.Context, event Event) error {
	text := fmt.Sprintf("[%s] %s", event.Status, event.Message)
	if event.Error != "" {
		text += ": " + event.Error
	}
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return err
	}
	return post(ctx, m.Client, "mattermost "+m.Name, m.URL, body, nil)
}

func post(ctx context.Context, client *http.Client, target, url string, body []byte, headers map[string]string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if client == nil {
		client = httpClient()
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", target, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s returned %s", target, resp.Status)
	}
	return nil
}

func FromConfig(cfg config.NotificationsConfig) Multi {
	var targets []Notifier
	for _, w := range cfg.Webhooks {
		targets = append(targets, Webhook{Name: w.Name, URL: w.URL, Headers: w.Headers})
	}
	for _, mm := range cfg.Mattermost {
		targets = append(targets, Mattermost{Name: mm.Name, URL: mm.URL})
	}
	return Multi{Targets: targets}
}

func httpClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}
