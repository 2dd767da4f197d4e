package provision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPProvisioner drives the downstream access API over JSON. The wire
// protocol is intentionally minimal: one endpoint for granting, one for
// revoking, both keyed on the access tuple.
type HTTPProvisioner struct {
	baseURL string
	client  *http.Client
}

// NewHTTPProvisioner constructs a client for the downstream API.
func NewHTTPProvisioner(baseURL string, timeout time.Duration) *HTTPProvisioner {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPProvisioner{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type accessPayload struct {
	PrincipalID string `json:"principal_id"`
	Scope       string `json:"scope,omitempty"`
	Resource    string `json:"resource"`
	Level       string `json:"level"`
}

// Grant provisions the access downstream.
func (p *HTTPProvisioner) Grant(ctx context.Context, access Access) error {
	return p.send(ctx, http.MethodPost, access)
}

// Revoke removes the access downstream.
func (p *HTTPProvisioner) Revoke(ctx context.Context, access Access) error {
	return p.send(ctx, http.MethodDelete, access)
}

func (p *HTTPProvisioner) send(ctx context.Context, method string, access Access) error {
	if p.baseURL == "" {
		return ErrNotConfigured
	}
	body, err := json.Marshal(accessPayload{
		PrincipalID: access.PrincipalID,
		Scope:       access.Scope,
		Resource:    access.Resource,
		Level:       string(access.Level),
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+"/v1/access", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("provision: downstream returned %d", resp.StatusCode)
}
