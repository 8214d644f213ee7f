package graph

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

	"callbot-platform/internal/bot"
	"callbot-platform/internal/calls"

	"golang.org/x/oauth2/clientcredentials"
)

const DefaultBaseURL = "https://graph.microsoft.com/v1.0"

var ErrMissingID = errors.New("graph: response carried no id")

// APIError is a non-2xx response from the calling platform.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("graph: status %d", e.StatusCode)
	}
	return fmt.Sprintf("graph: status %d: %s: %s", e.StatusCode, e.Code, e.Message)
}

type Config struct {
	BaseURL      string
	TenantID     string
	ClientID     string
	ClientSecret string
	// TokenURL defaults to the tenant's v2 token endpoint.
	TokenURL string
	Timeout  time.Duration
}

// Client implements bot.CallingClient over the calling REST API.
type Client struct {
	baseURL string
	http    *http.Client
}

var _ bot.CallingClient = (*Client)(nil)

// New builds a client whose requests carry an app-only bearer token.
func New(ctx context.Context, cfg Config) *Client {
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", url.PathEscape(cfg.TenantID))
	}
	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     tokenURL,
		Scopes:       []string{"https://graph.microsoft.com/.default"},
	}
	hc := cc.Client(ctx)
	hc.Timeout = cfg.Timeout
	if hc.Timeout <= 0 {
		hc.Timeout = 15 * time.Second
	}
	return NewWithHTTPClient(cfg.BaseURL, hc)
}

// NewWithHTTPClient uses hc as is; authentication is hc's concern.
func NewWithHTTPClient(baseURL string, hc *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: hc}
}

type identity struct {
	ID          string `json:"id,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
}

type identitySet struct {
	User  *identity `json:"user,omitempty"`
	Phone *identity `json:"phone,omitempty"`
}

type invitationParticipant struct {
	ODataType string      `json:"@odata.type"`
	Identity  identitySet `json:"identity"`
}

func toParticipant(t bot.Target) invitationParticipant {
	p := invitationParticipant{ODataType: "#microsoft.graph.invitationParticipantInfo"}
	if t.PhoneNumber != "" {
		p.Identity.Phone = &identity{ID: t.PhoneNumber, DisplayName: t.DisplayName}
	} else {
		p.Identity.User = &identity{ID: t.UserID, DisplayName: t.DisplayName}
	}
	return p
}

type createCallBody struct {
	ODataType           string                  `json:"@odata.type"`
	CallbackURI         string                  `json:"callbackUri"`
	TenantID            string                  `json:"tenantId,omitempty"`
	Targets             []invitationParticipant `json:"targets"`
	RequestedModalities []string                `json:"requestedModalities"`
	MediaConfig         map[string]string       `json:"mediaConfig"`
	ClientContext       string                  `json:"clientContext,omitempty"`
}

type resourceResponse struct {
	ID     string               `json:"id"`
	State  calls.LifecycleState `json:"state,omitempty"`
	Status string               `json:"status,omitempty"`
}

func (c *Client) CreateCall(ctx context.Context, req bot.CreateCallRequest) (bot.CreatedCall, error) {
	body := createCallBody{
		ODataType:           "#microsoft.graph.call",
		CallbackURI:         req.CallbackURL,
		TenantID:            req.TenantID,
		RequestedModalities: []string{"audio"},
		MediaConfig:         map[string]string{"@odata.type": "#microsoft.graph.serviceHostedMediaConfig"},
		ClientContext:       req.ClientContext,
	}
	for _, t := range req.Targets {
		body.Targets = append(body.Targets, toParticipant(t))
	}
	var out resourceResponse
	if err := c.do(ctx, http.MethodPost, "/communications/calls", body, &out); err != nil {
		return bot.CreatedCall{}, err
	}
	if out.ID == "" {
		return bot.CreatedCall{}, ErrMissingID
	}
	return bot.CreatedCall{ID: out.ID, State: out.State}, nil
}

type mediaInfo struct {
	URI        string `json:"uri"`
	ResourceID string `json:"resourceId,omitempty"`
}

type mediaPrompt struct {
	ODataType string    `json:"@odata.type"`
	MediaInfo mediaInfo `json:"mediaInfo"`
}

func (c *Client) PlayPrompt(ctx context.Context, callID string, prompts []calls.MediaPrompt, clientContext string) (string, error) {
	body := struct {
		ClientContext string        `json:"clientContext,omitempty"`
		Prompts       []mediaPrompt `json:"prompts"`
	}{ClientContext: clientContext}
	for _, p := range prompts {
		body.Prompts = append(body.Prompts, mediaPrompt{
			ODataType: "#microsoft.graph.mediaPrompt",
			MediaInfo: mediaInfo{URI: p.URI, ResourceID: p.Name},
		})
	}
	var out resourceResponse
	if err := c.do(ctx, http.MethodPost, callPath(callID)+"/playPrompt", body, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", ErrMissingID
	}
	return out.ID, nil
}

func (c *Client) InviteParticipant(ctx context.Context, callID string, invitee bot.Target, clientContext string) (string, error) {
	body := struct {
		Participants  []invitationParticipant `json:"participants"`
		ClientContext string                  `json:"clientContext,omitempty"`
	}{Participants: []invitationParticipant{toParticipant(invitee)}, ClientContext: clientContext}
	var out resourceResponse
	if err := c.do(ctx, http.MethodPost, callPath(callID)+"/participants/invite", body, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *Client) HangUp(ctx context.Context, callID string) error {
	return c.do(ctx, http.MethodDelete, callPath(callID), nil, nil)
}

func callPath(callID string) string {
	return calls.BuildResourcePath(url.PathEscape(callID))
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("graph: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(raw, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("graph: decode %s %s: %w", method, path, err)
	}
	return nil
}
