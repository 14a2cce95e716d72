package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
)

// TransportError is a non-2xx response or a failed request. The message is
// taken from the JSON error body when the server sent one; raw HTML or
// stack-trace bodies are never surfaced.
type TransportError struct {
	Status  int
	Message string
}

func (e *TransportError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("server error (status %d)", e.Status)
}

// LogFile is one attached log for a start request.
type LogFile struct {
	Name    string
	Content []byte
}

// StartRequest starts (or, with Respond, continues) a conversation.
type StartRequest struct {
	UserID      string    `json:"userId"`
	Requirement string    `json:"requirement"`
	RepoURL     string    `json:"repoUrl"`
	LogsPasted  string    `json:"logsPasted,omitempty"`
	LogFiles    []LogFile `json:"-"`
}

type StartResponse struct {
	ConversationID string  `json:"conversationId"`
	Status         Status  `json:"status"`
	Message        string  `json:"message,omitempty"`
	Agent          string  `json:"agent,omitempty"`
	Progress       float64 `json:"progress,omitempty"`
}

type HistoryResponse struct {
	Messages []Message `json:"messages"`
	Status   Status    `json:"status"`
}

type StatusResponse struct {
	Status          Status `json:"status"`
	HasActiveStream bool   `json:"hasActiveStream"`
	Mode            string `json:"mode,omitempty"`
}

const historyCacheSize = 32

// Client issues request/response calls against the backend chat API. It
// never touches persisted or rendered state; the coordinator does that.
type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger

	history *lru.Cache[string, HistoryResponse]
}

func NewClient(baseURL string, timeout time.Duration, log zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	cache, _ := lru.New[string, HistoryResponse](historyCacheSize)
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     log,
		history: cache,
	}
}

// Start begins a new conversation. JSON body normally; multipart form when
// log files are attached, since inlining file content in JSON is not
// practical.
func (c *Client) Start(ctx context.Context, req StartRequest) (StartResponse, error) {
	var out StartResponse
	if len(req.LogFiles) == 0 {
		err := c.doJSON(ctx, http.MethodPost, "/chat", req, &out)
		return out, err
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("userId", req.UserID)
	_ = mw.WriteField("requirement", req.Requirement)
	_ = mw.WriteField("repoUrl", req.RepoURL)
	if req.LogsPasted != "" {
		_ = mw.WriteField("logsPasted", req.LogsPasted)
	}
	for _, lf := range req.LogFiles {
		part, err := mw.CreateFormFile("logFiles", lf.Name)
		if err != nil {
			return out, err
		}
		if _, err := part.Write(lf.Content); err != nil {
			return out, err
		}
	}
	if err := mw.Close(); err != nil {
		return out, err
	}

	r, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat", &buf)
	if err != nil {
		return out, err
	}
	r.Header.Set("Content-Type", mw.FormDataContentType())
	err = c.do(r, &out)
	return out, err
}

// Respond sends a follow-up message into a running conversation.
func (c *Client) Respond(ctx context.Context, conversationID, text string) (StartResponse, error) {
	var out StartResponse
	body := map[string]string{"response": text}
	err := c.doJSON(ctx, http.MethodPost, "/chat/"+url.PathEscape(conversationID)+"/respond", body, &out)
	return out, err
}

// History fetches the authoritative transcript. Responses are cached so a
// quick reopen does not refetch; InvalidateHistory drops the entry when a
// stream delivers new content.
func (c *Client) History(ctx context.Context, conversationID string) (HistoryResponse, error) {
	if cached, ok := c.history.Get(conversationID); ok {
		return cached, nil
	}
	var out HistoryResponse
	err := c.doJSON(ctx, http.MethodGet, "/chat/"+url.PathEscape(conversationID)+"/history", nil, &out)
	if err == nil {
		c.history.Add(conversationID, out)
	}
	return out, err
}

func (c *Client) InvalidateHistory(conversationID string) {
	c.history.Remove(conversationID)
}

// Status tells the coordinator whether a stream should be (re)attached.
func (c *Client) Status(ctx context.Context, conversationID string) (StatusResponse, error) {
	var out StatusResponse
	err := c.doJSON(ctx, http.MethodGet, "/chat/"+url.PathEscape(conversationID)+"/status", nil, &out)
	return out, err
}

func (c *Client) ListConversations(ctx context.Context, userID string) ([]ConversationSummary, error) {
	var out []ConversationSummary
	err := c.doJSON(ctx, http.MethodGet, "/chat/conversations?userId="+url.QueryEscape(userID), nil, &out)
	return out, err
}

func (c *Client) DeleteConversation(ctx context.Context, conversationID string) error {
	err := c.doJSON(ctx, http.MethodDelete, "/chat/"+url.PathEscape(conversationID), nil, nil)
	if err == nil {
		c.history.Remove(conversationID)
	}
	return err
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Message: fmt.Sprintf("request failed: %v", err)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Status: resp.StatusCode, Message: "failed to read response"}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.transportError(resp, data)
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", req.Method, req.URL.Path, err)
	}
	return nil
}

func (c *Client) transportError(resp *http.Response, data []byte) error {
	terr := &TransportError{Status: resp.StatusCode}
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		var body struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &body) == nil {
			if body.Message != "" {
				terr.Message = body.Message
			} else if body.Error != "" {
				terr.Message = body.Error
			}
		}
	}
	c.log.Debug().Int("status", resp.StatusCode).Str("path", resp.Request.URL.Path).Msg("request rejected")
	return terr
}

// retryThresholdParam formats the problematic-calls query parameter.
func retryThresholdParam(n int) string {
	return "retryThreshold=" + strconv.Itoa(n)
}
