package app

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
)

// maxFrameSize bounds one SSE frame; partial agent output stays well under
// this.
const maxFrameSize = 1 << 20

// streamEventName is the named SSE event carrying conversation updates.
// Frames on the default (unnamed) message event are accepted too.
const streamEventName = "chat-update"

// Subscription is the client half of one conversation's event stream.
// Close is idempotent and safe to call from any goroutine.
type Subscription struct {
	conversationID string
	cancel         context.CancelFunc
	once           sync.Once
	done           chan struct{}
}

func (s *Subscription) ConversationID() string { return s.conversationID }

// Close detaches the subscription. The reader goroutine exits and no
// further callbacks fire once Done is closed.
func (s *Subscription) Close() {
	s.once.Do(s.cancel)
}

// Done is closed when the reader goroutine has exited.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Connect opens the long-lived event stream for one conversation. Each
// decoded frame is delivered via onUpdate in arrival order. The stream
// closes itself after delivering a terminal frame; a transport error
// reports once via onError and closes. Reconnection is not attempted here,
// resumption is the coordinator's job.
func (c *Client) Connect(ctx context.Context, conversationID string, onUpdate func(StreamUpdate), onError func(error)) (*Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/chat/"+url.PathEscape(conversationID)+"/stream", nil)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	// The shared client enforces a request timeout; the stream must outlive
	// it, so use the bare transport.
	resp, err := streamHTTPClient.Do(req)
	if err != nil {
		cancel()
		return nil, &TransportError{Message: fmt.Sprintf("stream connect failed: %v", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxFrameSize))
		resp.Body.Close()
		cancel()
		return nil, c.transportError(resp, data)
	}

	sub := &Subscription{
		conversationID: conversationID,
		cancel:         cancel,
		done:           make(chan struct{}),
	}
	go c.readStream(ctx, resp.Body, sub, onUpdate, onError)
	return sub, nil
}

var streamHTTPClient = &http.Client{}

func (c *Client) readStream(ctx context.Context, body io.ReadCloser, sub *Subscription, onUpdate func(StreamUpdate), onError func(error)) {
	defer close(sub.done)
	defer body.Close()
	defer sub.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize)

	var event string
	var data strings.Builder

	dispatch := func() bool {
		payload := data.String()
		name := event
		event = ""
		data.Reset()

		if payload == "" {
			return false
		}
		if name != "" && name != streamEventName {
			return false
		}

		var update StreamUpdate
		if err := json.Unmarshal([]byte(payload), &update); err != nil {
			if truncatedJSON(err) {
				onError(fmt.Errorf("truncated stream frame: %w", err))
				return true
			}
			// A single malformed frame must not abort a healthy stream.
			c.log.Warn().Err(err).Str("conversation", sub.conversationID).Msg("skipping malformed stream frame")
			return false
		}
		if update.ConversationID == "" {
			update.ConversationID = sub.conversationID
		}
		onUpdate(update)
		return update.Terminal()
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if dispatch() {
				return
			}
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		case strings.HasPrefix(line, ":"):
			// Comment / keep-alive.
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		onError(&TransportError{Message: fmt.Sprintf("stream closed: %v", err)})
		return
	}
	if ctx.Err() != nil {
		// Detached locally; not an error.
		return
	}
	// Server closed without a terminal frame; flush any buffered frame and
	// report the drop so the conversation does not hang.
	if dispatch() {
		return
	}
	onError(&TransportError{Message: "stream ended unexpectedly"})
}

func truncatedJSON(err error) bool {
	var syn *json.SyntaxError
	if errors.As(err, &syn) {
		return strings.Contains(syn.Error(), "unexpected end")
	}
	return errors.Is(err, io.ErrUnexpectedEOF)
}
