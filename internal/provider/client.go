package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultHTTPTimeout = 30 * time.Second

// Config captures credentials and endpoints for the voice-call provider and
// the telephony status API behind it.
type Config struct {
	APIKey             string
	BaseURL            string
	AgentID            string
	AgentPhoneNumberID string

	StatusAccountSID string
	StatusAuthToken  string
	StatusBaseURL    string

	RequestTimeout int
}

// Client places conversational agent calls and queries telephony call
// status. Placement goes to the agent platform; status lookups go to the
// underlying telephony carrier with basic auth.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient constructs a provider client from the supplied configuration.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.RequestTimeout > 0 {
		timeout = time.Duration(cfg.RequestTimeout) * time.Second
	}
	client := &Client{
		cfg: Config{
			APIKey:             strings.TrimSpace(cfg.APIKey),
			BaseURL:            strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
			AgentID:            strings.TrimSpace(cfg.AgentID),
			AgentPhoneNumberID: strings.TrimSpace(cfg.AgentPhoneNumberID),
			StatusAccountSID:   strings.TrimSpace(cfg.StatusAccountSID),
			StatusAuthToken:    strings.TrimSpace(cfg.StatusAuthToken),
			StatusBaseURL:      strings.TrimRight(strings.TrimSpace(cfg.StatusBaseURL), "/"),
			RequestTimeout:     cfg.RequestTimeout,
		},
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// PlaceCallRequest describes one outbound call. Details carries the lead
// context string the agent sees before dialing.
type PlaceCallRequest struct {
	ToNumber     string
	CustomerID   string
	CustomerName string
	Greeting     string
	Details      string
	Email        string
	CallID       int64
	DispatchID   string
}

// PlaceCallResult carries the identifiers the provider assigns to a new
// call: the agent conversation id and the telephony call SID.
type PlaceCallResult struct {
	ConversationID string
	CallSID        string
}

type placeCallPayload struct {
	AgentID            string         `json:"agent_id"`
	AgentPhoneNumberID string         `json:"agent_phone_number_id"`
	ToNumber           string         `json:"to_number"`
	ClientData         map[string]any `json:"conversation_initiation_client_data,omitempty"`
}

type placeCallResponse struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id"`
	CallSID        string `json:"callSid"`
}

// PlaceCall starts an outbound agent call. It is never retried; a second
// attempt could dial the lead twice.
func (c *Client) PlaceCall(ctx context.Context, req PlaceCallRequest) (PlaceCallResult, error) {
	var empty PlaceCallResult
	if c.cfg.APIKey == "" {
		return empty, errors.New("place call: api key required")
	}
	if strings.TrimSpace(req.ToNumber) == "" {
		return empty, errors.New("place call: destination number required")
	}

	payload := placeCallPayload{
		AgentID:            c.cfg.AgentID,
		AgentPhoneNumberID: c.cfg.AgentPhoneNumberID,
		ToNumber:           req.ToNumber,
	}
	clientData := map[string]any{}
	vars := map[string]any{}
	if req.CustomerName != "" {
		vars["customer_name"] = req.CustomerName
	}
	if req.CustomerID != "" {
		vars["customer_id"] = req.CustomerID
	}
	if req.Greeting != "" {
		vars["opening_line"] = req.Greeting
	}
	if req.Details != "" {
		vars["details"] = req.Details
	}
	if req.Email != "" {
		vars["email"] = req.Email
	}
	if req.CallID != 0 {
		vars["call_id"] = strconv.FormatInt(req.CallID, 10)
	}
	if req.DispatchID != "" {
		vars["dispatch_id"] = req.DispatchID
	}
	vars["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	clientData["dynamic_variables"] = vars
	payload.ClientData = clientData

	encoded, err := json.Marshal(payload)
	if err != nil {
		return empty, fmt.Errorf("place call: encode body: %w", err)
	}

	endpoint := c.cfg.BaseURL + "/v1/convai/twilio/outbound-call"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return empty, fmt.Errorf("place call: new request: %w", err)
	}
	httpReq.Header.Set("xi-api-key", c.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return empty, fmt.Errorf("place call: http error: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return empty, fmt.Errorf("place call: read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return empty, fmt.Errorf("place call: http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded placeCallResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return empty, fmt.Errorf("place call: decode response: %w", err)
	}
	if !decoded.Success && decoded.Message != "" {
		return empty, fmt.Errorf("place call: provider rejected: %s", decoded.Message)
	}
	if decoded.ConversationID == "" && decoded.CallSID == "" {
		return empty, errors.New("place call: provider returned no identifiers")
	}
	return PlaceCallResult{
		ConversationID: decoded.ConversationID,
		CallSID:        decoded.CallSID,
	}, nil
}

// CallStatus fetches the telephony status for a call SID.
func (c *Client) CallStatus(ctx context.Context, callSID string) (string, error) {
	if strings.TrimSpace(callSID) == "" {
		return "", errors.New("call status: call sid required")
	}
	if c.cfg.StatusAccountSID == "" || c.cfg.StatusAuthToken == "" {
		return "", errors.New("call status: account credentials required")
	}

	endpoint := fmt.Sprintf(
		"%s/2010-04-01/Accounts/%s/Calls/%s.json",
		c.cfg.StatusBaseURL,
		url.PathEscape(c.cfg.StatusAccountSID),
		url.PathEscape(callSID),
	)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("call status: new request: %w", err)
	}
	req.SetBasicAuth(c.cfg.StatusAccountSID, c.cfg.StatusAuthToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("call status: http error: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("call status: read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return "", fmt.Errorf("call status: http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("call status: decode response: %w", err)
	}
	if decoded.Status == "" {
		return "", errors.New("call status: response missing status")
	}
	return strings.ToLower(strings.TrimSpace(decoded.Status)), nil
}

// Transcript fetches the conversation transcript for a finished call and
// flattens it to "role: message" lines.
func (c *Client) Transcript(ctx context.Context, conversationID string) (string, error) {
	if strings.TrimSpace(conversationID) == "" {
		return "", errors.New("transcript: conversation id required")
	}
	if c.cfg.APIKey == "" {
		return "", errors.New("transcript: api key required")
	}

	endpoint := c.cfg.BaseURL + "/v1/convai/conversations/" + url.PathEscape(conversationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("transcript: new request: %w", err)
	}
	req.Header.Set("xi-api-key", c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcript: http error: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("transcript: read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return "", fmt.Errorf("transcript: http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded struct {
		Transcript []struct {
			Role    string `json:"role"`
			Message string `json:"message"`
		} `json:"transcript"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("transcript: decode response: %w", err)
	}

	var b strings.Builder
	for _, turn := range decoded.Transcript {
		message := strings.TrimSpace(turn.Message)
		if message == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(turn.Role)
		b.WriteString(": ")
		b.WriteString(message)
	}
	return b.String(), nil
}
