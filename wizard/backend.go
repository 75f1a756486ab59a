package wizard

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/creasty/defaults"
)

// Backend is the remote consent store the wizard reads and writes.
type Backend interface {
	Lookup(ctx context.Context, mobile string) (LookupResult, error)
	Submit(ctx context.Context, payload SubmitPayload) error
}

// LookupResult is a normalized prefill response.
type LookupResult struct {
	Exists     bool
	ParentName string
	Children   []ChildInput
}

// WireChild is a child as it travels to and from the backend. Decoding
// accepts both legalName/legalname and displayName/displayname; encoding
// uses the lowercase submission contract.
type WireChild struct {
	LegalName   string
	DisplayName string
	DOB         string
}

func (c WireChild) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		LegalName   string `json:"legalname"`
		DisplayName string `json:"displayname"`
		DOB         string `json:"dob"`
	}{c.LegalName, c.DisplayName, c.DOB})
}

func (c *WireChild) UnmarshalJSON(b []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*c = WireChild{}
	for k, v := range raw {
		s, _ := v.(string)
		switch strings.ToLower(k) {
		case "legalname":
			c.LegalName = strings.TrimSpace(s)
		case "displayname":
			c.DisplayName = strings.TrimSpace(s)
		case "dob", "dateofbirth":
			c.DOB = strings.TrimSpace(s)
		}
	}
	return nil
}

// Input converts the wire shape to a form input.
func (c WireChild) Input() ChildInput {
	return ChildInput{LegalName: c.LegalName, DisplayName: c.DisplayName, DateOfBirth: c.DOB}
}

// SubmitPayload is the body of POST /api/consent.
type SubmitPayload struct {
	ParentName string      `json:"parentName" binding:"required"`
	Mobile     string      `json:"mobile" binding:"required"`
	Children   []WireChild `json:"children" binding:"required,min=1"`
	Signature  string      `json:"signature" binding:"required"`
}

// LookupData is the prefill body, either at the top level or under "data".
type LookupData struct {
	ParentName string      `json:"parentName"`
	Children   []WireChild `json:"children"`
}

// LookupResponse is the body of GET /api/consent.
type LookupResponse struct {
	Exists bool        `json:"exists"`
	Data   *LookupData `json:"data,omitempty"`
	LookupData
}

// Result flattens either response shape.
func (r LookupResponse) Result() LookupResult {
	if !r.Exists {
		return LookupResult{}
	}
	d := r.LookupData
	if r.Data != nil {
		d = *r.Data
	}
	res := LookupResult{Exists: true, ParentName: strings.TrimSpace(d.ParentName)}
	for _, c := range d.Children {
		res.Children = append(res.Children, c.Input())
	}
	return res
}

// SubmitResponse is the body returned by POST /api/consent.
type SubmitResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// BackendOptions configures HTTPBackend.
type BackendOptions struct {
	BaseURL string        `default:"http://localhost:8080/api/consent"`
	Timeout time.Duration `default:"10s"`
}

// HTTPBackend talks to the consent API over HTTP.
type HTTPBackend struct {
	baseURL string
	client  *http.Client
}

// NewHTTPBackend builds a backend client; a nil client gets one with the
// configured timeout.
func NewHTTPBackend(opts BackendOptions, client *http.Client) (*HTTPBackend, error) {
	if err := defaults.Set(&opts); err != nil {
		return nil, fmt.Errorf("backend options: %w", err)
	}
	if _, err := url.ParseRequestURI(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid consent backend url %q: %w", opts.BaseURL, err)
	}
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	return &HTTPBackend{baseURL: opts.BaseURL, client: client}, nil
}

func (b *HTTPBackend) Lookup(ctx context.Context, mobile string) (LookupResult, error) {
	u := b.baseURL + "?" + url.Values{"mobile": {mobile}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return LookupResult{}, &NetworkError{Op: "lookup", Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return LookupResult{}, &NetworkError{Op: "lookup", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return LookupResult{}, &NetworkError{Op: "lookup", Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	var body LookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return LookupResult{}, &NetworkError{Op: "lookup", Err: fmt.Errorf("decode response: %w", err)}
	}
	return body.Result(), nil
}

func (b *HTTPBackend) Submit(ctx context.Context, payload SubmitPayload) error {
	buf, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode consent payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL, bytes.NewReader(buf))
	if err != nil {
		return &NetworkError{Op: "submit", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return &NetworkError{Op: "submit", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &NetworkError{Op: "submit", Err: err}
	}

	var body SubmitResponse
	decodeErr := json.Unmarshal(raw, &body)
	ok := resp.StatusCode >= 200 && resp.StatusCode < 300

	switch {
	case decodeErr != nil && ok:
		return &NetworkError{Op: "submit", Err: fmt.Errorf("decode response: %w", decodeErr)}
	case decodeErr != nil:
		return &NetworkError{Op: "submit", Err: errors.New("unexpected status " + resp.Status)}
	case ok && body.Success:
		return nil
	case resp.StatusCode >= 500 && body.Message == "":
		return &NetworkError{Op: "submit", Err: errors.New("unexpected status " + resp.Status)}
	}
	return &ApplicationError{
		Message:   body.Message,
		Duplicate: resp.StatusCode == http.StatusConflict || isDuplicateMessage(body.Message),
	}
}
