// Package seam talks to the Seam lock vendor API.
package seam

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultBaseURL is the hosted Seam endpoint.
const DefaultBaseURL = "https://connect.getseam.com"

// ErrNoAPIKey is returned when a call is attempted without a configured
// vendor credential. Checked per call so the server can boot without one.
var ErrNoAPIKey = errors.New("seam api key is not configured")

// APIError is a failed vendor call, either an HTTP-level failure or a
// response the vendor itself flagged as not ok.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("seam api error: status %d: %s", e.Status, e.Body)
}

// AccessCode is a vendor-issued code bound to one device.
type AccessCode struct {
	Code         string `json:"code"`
	AccessCodeID string `json:"access_code_id"`
	DeviceID     string `json:"device_id"`
}

// Device is an entry of the vendor device list.
type Device struct {
	DeviceID   string `json:"device_id"`
	DeviceType string `json:"device_type"`
	Properties struct {
		Name   string `json:"name"`
		Online bool   `json:"online"`
	} `json:"properties"`
}

// Client is a minimal HTTP client for the Seam access code endpoints.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient constructs a client. An empty baseURL selects the hosted API.
func NewClient(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type createCodeRequest struct {
	DeviceID string `json:"device_id"`
	StartsAt string `json:"starts_at"`
	EndsAt   string `json:"ends_at"`
	Code     string `json:"code,omitempty"`
}

type codeEnvelope struct {
	OK         bool            `json:"ok"`
	AccessCode AccessCode      `json:"access_code"`
	Error      json.RawMessage `json:"error"`
}

// CreateAccessCode sets a timed code on a device. With code == "" the
// vendor generates one; a non-empty code is set verbatim, which is how
// the same code lands on several devices.
func (c *Client) CreateAccessCode(ctx context.Context, deviceID string, startsAt, endsAt time.Time, code string) (*AccessCode, error) {
	if c.apiKey == "" {
		return nil, ErrNoAPIKey
	}

	payload := createCodeRequest{
		DeviceID: deviceID,
		StartsAt: formatTime(startsAt),
		EndsAt:   formatTime(endsAt),
		Code:     code,
	}

	var env codeEnvelope
	status, err := c.doPost(ctx, "/access_codes/create", payload, &env)
	if err != nil {
		return nil, err
	}
	if !env.OK {
		return nil, &APIError{Status: status, Body: string(env.Error)}
	}

	ac := env.AccessCode
	if ac.DeviceID == "" {
		ac.DeviceID = deviceID
	}
	return &ac, nil
}

// DeleteAccessCode removes a code by its vendor handle.
func (c *Client) DeleteAccessCode(ctx context.Context, accessCodeID string) error {
	if c.apiKey == "" {
		return ErrNoAPIKey
	}

	payload := struct {
		AccessCodeID string `json:"access_code_id"`
	}{AccessCodeID: accessCodeID}

	var env codeEnvelope
	status, err := c.doPost(ctx, "/access_codes/delete", payload, &env)
	if err != nil {
		return err
	}
	if !env.OK {
		return &APIError{Status: status, Body: string(env.Error)}
	}
	return nil
}

// ListDevices returns every device registered in the vendor account.
func (c *Client) ListDevices(ctx context.Context) ([]Device, error) {
	if c.apiKey == "" {
		return nil, ErrNoAPIKey
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/devices/list", http.NoBody)
	if err != nil {
		return nil, err
	}
	c.addHeaders(req)

	var wrap struct {
		Devices []Device `json:"devices"`
	}
	if _, err := c.do(req, &wrap); err != nil {
		return nil, err
	}
	return wrap.Devices, nil
}

func (c *Client) doPost(ctx context.Context, path string, body, out any) (int, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(string(data)))
	if err != nil {
		return 0, err
	}
	c.addHeaders(req)
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) (int, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, err
	}

	if resp.StatusCode >= 300 {
		return resp.StatusCode, &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if out == nil {
		return resp.StatusCode, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return resp.StatusCode, &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	return resp.StatusCode, nil
}

func (c *Client) addHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
