package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"playmate-chat/apperrors"
	"playmate-chat/models"
)

const DefaultTimeout = 15 * time.Second

// API is the request/response half of the client.
type API interface {
	Conversations(ctx context.Context) ([]models.ConversationListEntry, error)
	StartConversation(ctx context.Context, userID string) (*models.Conversation, error)
	History(ctx context.Context, conversationID string, limit int, before string) (*models.Page, error)
	SendMessage(ctx context.Context, conversationID, content string, msgType models.MessageType, clientKey string) (*models.Message, error)
	MarkRead(ctx context.Context, conversationID string) (int64, error)
}

// APIClient talks to the REST surface with a bearer token.
type APIClient struct {
	token      string
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

var _ API = (*APIClient)(nil)

type Option func(*APIClient)

func WithBaseURL(u string) Option {
	return func(c *APIClient) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithTimeout applies to whichever http.Client ends up in use, on a copy
// so a caller's client is left untouched.
func WithTimeout(timeout time.Duration) Option {
	return func(c *APIClient) { c.timeout = timeout }
}

func WithHTTPClient(client *http.Client) Option {
	return func(c *APIClient) { c.httpClient = client }
}

func NewAPIClient(token string, opts ...Option) *APIClient {
	c := &APIClient{
		token:      token,
		baseURL:    "http://localhost:8082",
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.timeout > 0 {
		hc := *c.httpClient
		hc.Timeout = c.timeout
		c.httpClient = &hc
	}
	return c
}

// doRequest performs one call and decodes the body into out. Failures come
// back as *apperrors.AppError: server error bodies keep their code, network
// failures and 5xx responses become TRANSPORT.
func (c *APIClient) doRequest(ctx context.Context, method, path string, body any, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return apperrors.Validation("unencodable request body")
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return apperrors.Validation("invalid request: " + err.Error())
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.Transport("request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperrors.Transport("read response", err)
	}

	if resp.StatusCode >= 400 {
		return decodeError(resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return apperrors.Transport("decode response", err)
	}
	return nil
}

func decodeError(status int, data []byte) error {
	msg := http.StatusText(status)
	var body struct {
		Error *apperrors.AppError `json:"error"`
	}
	if json.Unmarshal(data, &body) == nil && body.Error != nil && body.Error.Message != "" {
		msg = body.Error.Message
		if status < 500 && body.Error.Code != "" {
			return &apperrors.AppError{Code: body.Error.Code, Message: msg}
		}
	}
	if status >= 500 {
		return apperrors.Transport(msg, nil)
	}
	return apperrors.FromStatus(status, msg)
}

func (c *APIClient) Conversations(ctx context.Context) ([]models.ConversationListEntry, error) {
	var out struct {
		Conversations []models.ConversationListEntry `json:"conversations"`
	}
	if err := c.doRequest(ctx, http.MethodGet, "/chat/conversations", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Conversations, nil
}

func (c *APIClient) StartConversation(ctx context.Context, userID string) (*models.Conversation, error) {
	var conv models.Conversation
	err := c.doRequest(ctx, http.MethodPost, "/chat/conversations", map[string]string{"user_id": userID}, nil, &conv)
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func (c *APIClient) History(ctx context.Context, conversationID string, limit int, before string) (*models.Page, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if before != "" {
		q.Set("before", before)
	}
	var page models.Page
	if err := c.doRequest(ctx, http.MethodGet, "/chat/conversations/"+url.PathEscape(conversationID)+"/messages", nil, q, &page); err != nil {
		return nil, err
	}
	if page.Messages == nil {
		page.Messages = []models.Message{}
	}
	return &page, nil
}

// SendMessage posts a message. A non-empty clientKey makes retries of the
// same send return the stored message instead of adding another.
func (c *APIClient) SendMessage(ctx context.Context, conversationID, content string, msgType models.MessageType, clientKey string) (*models.Message, error) {
	body := map[string]string{"content": content}
	if msgType != "" {
		body["message_type"] = string(msgType)
	}
	if clientKey != "" {
		body["client_key"] = clientKey
	}
	var msg models.Message
	if err := c.doRequest(ctx, http.MethodPost, "/chat/conversations/"+url.PathEscape(conversationID)+"/messages", body, nil, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *APIClient) MarkRead(ctx context.Context, conversationID string) (int64, error) {
	var out struct {
		Updated int64 `json:"updated"`
	}
	if err := c.doRequest(ctx, http.MethodPost, "/chat/conversations/"+url.PathEscape(conversationID)+"/read", nil, nil, &out); err != nil {
		return 0, err
	}
	return out.Updated, nil
}

// Me returns the caller's profile.
func (c *APIClient) Me(ctx context.Context) (*models.Profile, error) {
	var p models.Profile
	if err := c.doRequest(ctx, http.MethodGet, "/chat/me", nil, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
