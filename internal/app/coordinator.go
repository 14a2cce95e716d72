package app

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// provisionalPrefix marks conversation ids issued locally while a start
// call is in flight. They never reach the backend.
const provisionalPrefix = "local-"

func isProvisionalID(id string) bool {
	return strings.HasPrefix(id, provisionalPrefix)
}

// ValidationError blocks a send before it reaches the network. The TUI
// shows it inline above the composer.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// Backend is the slice of the client the coordinator depends on. Tests
// substitute fakes.
type Backend interface {
	Start(ctx context.Context, req StartRequest) (StartResponse, error)
	Respond(ctx context.Context, conversationID, text string) (StartResponse, error)
	History(ctx context.Context, conversationID string) (HistoryResponse, error)
	Status(ctx context.Context, conversationID string) (StatusResponse, error)
	ListConversations(ctx context.Context, userID string) ([]ConversationSummary, error)
	DeleteConversation(ctx context.Context, conversationID string) error
	Connect(ctx context.Context, conversationID string, onUpdate func(StreamUpdate), onError func(error)) (*Subscription, error)
	InvalidateHistory(conversationID string)
}

// StreamHandle is the ownership token for one live subscription.
type StreamHandle interface {
	Close()
	ConversationID() string
}

// EventKind tells the UI which slice of coordinator state changed.
type EventKind int

const (
	EventMessages EventKind = iota
	EventConversations
	EventLoading
	EventTheme
	EventAlert
)

type Event struct {
	Kind  EventKind
	Alert string
}

// Coordinator owns all conversation state: the record map, the summary
// list, the focused conversation, the displayed transcript, the loading
// flag and the table of live subscriptions. Every other component is a
// read-only consumer plus intent emitter. Stream callbacks arrive on
// reader goroutines, so everything mutable sits behind one mutex; change
// notifications go out on a buffered event channel the UI drains.
type Coordinator struct {
	backend Backend
	store   *Store
	log     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	theme       string
	userID      string
	lastRepoURL string
	records     map[string]*ConversationRecord
	summaries   []ConversationSummary
	focused     string
	displayed   []Message
	loading     bool
	streams     map[string]StreamHandle
	terminal    map[string]bool
	selectGen   map[string]int

	events chan Event
}

func NewCoordinator(backend Backend, store *Store, log zerolog.Logger) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		backend:   backend,
		store:     store,
		log:       log,
		ctx:       ctx,
		cancel:    cancel,
		records:   map[string]*ConversationRecord{},
		streams:   map[string]StreamHandle{},
		terminal:  map[string]bool{},
		selectGen: map[string]int{},
		events:    make(chan Event, 256),
	}
}

// Events is the change-notification channel the UI drains. Delivery is
// best effort: the channel is buffered and a slow consumer drops
// notifications, never blocks a stream reader.
func (c *Coordinator) Events() <-chan Event { return c.events }

func (c *Coordinator) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
	}
}

// Hydrate loads persisted state. One-shot, local only; it gates nothing
// but the first paint. defaultTheme applies when the store has none.
func (c *Coordinator) Hydrate(defaultTheme string) error {
	st, err := c.store.LoadState()
	if err != nil {
		return err
	}
	userID, err := c.store.EnsureUserID(st.UserID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.theme = st.Theme
	if c.theme == "" {
		c.theme = defaultTheme
	}
	if c.theme == "" {
		c.theme = "dark"
	}
	c.lastRepoURL = st.LastRepoURL
	c.userID = userID
	for i := range st.Conversations {
		rec := st.Conversations[i]
		c.records[rec.ID] = &rec
		if tail := tailAgentMessage(rec.Messages); tail != nil && tail.Status.Terminal() {
			c.terminal[rec.ID] = true
		}
	}
	c.rebuildSummariesLocked()
	return nil
}

// Close shuts down every live subscription.
func (c *Coordinator) Close() {
	c.cancel()
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, h := range c.streams {
		h.Close()
		delete(c.streams, id)
	}
}

// Accessors. All return copies; the internal slices stay owned by the
// coordinator.

func (c *Coordinator) Theme() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.theme
}

func (c *Coordinator) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *Coordinator) LastRepoURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRepoURL
}

func (c *Coordinator) FocusedID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.focused
}

func (c *Coordinator) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

func (c *Coordinator) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.displayed))
	copy(out, c.displayed)
	return out
}

func (c *Coordinator) Conversations() []ConversationSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ConversationSummary, len(c.summaries))
	copy(out, c.summaries)
	return out
}

// Record returns the persisted record for a conversation, if known.
func (c *Coordinator) Record(id string) (ConversationRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[id]
	if !ok {
		return ConversationRecord{}, false
	}
	out := *rec
	out.Messages = append([]Message(nil), rec.Messages...)
	return out, true
}

// ActiveStreamCount reports how many subscriptions are live.
func (c *Coordinator) ActiveStreamCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.streams)
}

// SetTheme persists and announces a theme change.
func (c *Coordinator) SetTheme(theme string) {
	c.mu.Lock()
	c.theme = theme
	c.mu.Unlock()
	if err := c.store.SaveTheme(theme); err != nil {
		c.log.Warn().Err(err).Msg("theme not persisted")
	}
	c.emit(Event{Kind: EventTheme})
}

// Send submits user input. With no focused running conversation a new
// workflow starts; otherwise the text is a follow-up into the focused one.
// Validation failures return synchronously and never reach the network.
func (c *Coordinator) Send(text, repoURL string, logFiles []LogFile) error {
	requirement, pastedLogs := SplitRequirementAndLogs(text)
	if strings.TrimSpace(requirement) == "" && pastedLogs == "" && len(logFiles) == 0 {
		return &ValidationError{Reason: "message is empty"}
	}

	c.mu.Lock()
	focused := c.focused
	if isProvisionalID(focused) && !c.terminal[focused] {
		// The start call has not confirmed an id yet; the backend cannot
		// route a follow-up to a conversation it never issued.
		c.mu.Unlock()
		return &ValidationError{Reason: "conversation is still starting, try again in a moment"}
	}
	followUp := focused != "" && !c.terminal[focused]
	if !followUp && !IsValidRepoURL(repoURL) {
		c.mu.Unlock()
		return &ValidationError{Reason: "enter a valid repository URL (http:// or https://)"}
	}

	now := time.Now()
	userMsg := Message{
		ID:        NewMessageID(now),
		Role:      RoleUser,
		Content:   strings.TrimSpace(text),
		Timestamp: now,
	}

	if followUp {
		rec := c.records[focused]
		rec.Messages = append(rec.Messages, userMsg)
		rec.Timestamp = now
		c.displayed = append(c.displayed, userMsg)
		c.loading = true
		c.persistLocked()
		c.mu.Unlock()
		c.emit(Event{Kind: EventMessages})
		c.emit(Event{Kind: EventLoading})
		go c.respond(focused, userMsg.Content)
		return nil
	}

	// New conversation: provisional id until the start call confirms the
	// authoritative one.
	provisional := provisionalPrefix + uuid.NewString()
	rec := &ConversationRecord{
		ID:        provisional,
		RepoURL:   repoURL,
		Messages:  []Message{userMsg},
		Timestamp: now,
	}
	c.records[provisional] = rec
	c.focused = provisional
	c.displayed = append([]Message(nil), userMsg)
	c.loading = true
	c.lastRepoURL = repoURL
	userID := c.userID
	c.rebuildSummariesLocked()
	c.persistLocked()
	c.mu.Unlock()

	if err := c.store.SaveLastRepoURL(repoURL); err != nil {
		c.log.Warn().Err(err).Msg("repo url not persisted")
	}
	c.emit(Event{Kind: EventMessages})
	c.emit(Event{Kind: EventLoading})
	c.emit(Event{Kind: EventConversations})

	go c.start(provisional, StartRequest{
		UserID:      userID,
		Requirement: requirement,
		RepoURL:     repoURL,
		LogsPasted:  pastedLogs,
		LogFiles:    logFiles,
	})
	return nil
}

func (c *Coordinator) start(provisional string, req StartRequest) {
	resp, err := c.backend.Start(c.ctx, req)
	if err != nil {
		c.failConversation(provisional, err)
		return
	}

	c.mu.Lock()
	rec, ok := c.records[provisional]
	if !ok {
		// Deleted while in flight; nothing to reconcile.
		c.mu.Unlock()
		return
	}
	id := resp.ConversationID
	if id == "" {
		id = provisional
	} else if id != provisional {
		// Single reconciliation step: the provisional key becomes the
		// authoritative id everywhere at once, terminal flag included.
		delete(c.records, provisional)
		rec.ID = id
		c.records[id] = rec
		if c.terminal[provisional] {
			c.terminal[id] = true
			delete(c.terminal, provisional)
		}
		if gen, ok := c.selectGen[provisional]; ok {
			c.selectGen[id] = gen
			delete(c.selectGen, provisional)
		}
		if c.focused == provisional {
			c.focused = id
		}
	}

	if c.terminal[id] {
		// The conversation already failed while the start call was in
		// flight; do not revive it with a running placeholder.
		c.rebuildSummariesLocked()
		c.persistLocked()
		c.mu.Unlock()
		c.emit(Event{Kind: EventConversations})
		return
	}

	now := time.Now()
	placeholder := Message{
		ID:        NewMessageID(now),
		Role:      RoleAgent,
		Content:   resp.Message,
		Timestamp: now,
		AgentName: resp.Agent,
		Status:    StatusRunning,
		Progress:  resp.Progress,
	}
	rec.Messages = append(rec.Messages, placeholder)
	rec.Timestamp = now
	focused := c.focused == id
	if focused {
		c.displayed = append([]Message(nil), rec.Messages...)
	}
	c.rebuildSummariesLocked()
	c.persistLocked()
	c.mu.Unlock()

	if focused {
		c.emit(Event{Kind: EventMessages})
	}
	c.emit(Event{Kind: EventConversations})
	c.openStream(id)
}

func (c *Coordinator) respond(id, text string) {
	if _, err := c.backend.Respond(c.ctx, id, text); err != nil {
		c.failConversation(id, err)
		return
	}
	c.openStream(id)
}

// openStream attaches the single live subscription for a conversation,
// closing any prior handle for the same id first.
func (c *Coordinator) openStream(id string) {
	c.mu.Lock()
	if prev, ok := c.streams[id]; ok {
		prev.Close()
		delete(c.streams, id)
	}
	c.mu.Unlock()

	sub, err := c.backend.Connect(c.ctx, id,
		func(u StreamUpdate) { c.applyUpdate(u) },
		func(err error) { c.streamFailed(id, err) },
	)
	if err != nil {
		c.failConversation(id, err)
		return
	}

	c.mu.Lock()
	// Connect can race with itself on reopen; keep exactly one handle.
	if prev, ok := c.streams[id]; ok {
		prev.Close()
		delete(c.streams, id)
	}
	if c.terminal[id] {
		// The stream delivered its terminal frame before registration;
		// parking the handle would make the table over-report.
		c.mu.Unlock()
		sub.Close()
		return
	}
	c.streams[id] = sub
	c.mu.Unlock()
}

// applyUpdate folds one stream frame into the conversation. This is the
// hot path. The persisted record is always updated; the displayed
// transcript only when the frame belongs to the focused conversation.
func (c *Coordinator) applyUpdate(u StreamUpdate) {
	id := u.ConversationID

	c.mu.Lock()
	if c.terminal[id] {
		// Terminal state is sticky; a stale frame cannot resurrect it.
		c.mu.Unlock()
		return
	}
	rec, ok := c.records[id]
	if !ok {
		c.mu.Unlock()
		return
	}

	now := time.Now()
	tail := tailAgentMessage(rec.Messages)
	if tail == nil {
		// Race at start: the placeholder is not in yet. Append rather than
		// drop the update.
		rec.Messages = append(rec.Messages, Message{
			ID:        NewMessageID(now),
			Role:      RoleAgent,
			Timestamp: now,
			Status:    StatusRunning,
		})
		tail = &rec.Messages[len(rec.Messages)-1]
	}

	terminal := u.Terminal()
	switch {
	case terminal:
		if u.Content != "" {
			tail.Content = u.Content
		}
		tail.Status = u.TerminalStatus()
		tail.Progress = 1
	case u.Type == UpdatePartial:
		tail.Content = u.Content
		tail.Status = StatusRunning
	default: // thinking, tool, connected
		if u.Content != "" {
			if tail.Content != "" {
				tail.Content += "\n"
			}
			tail.Content += u.Content
		}
		tail.Status = StatusRunning
	}
	if u.AgentName != "" {
		tail.AgentName = u.AgentName
	}
	if u.Progress > 0 && !terminal {
		tail.Progress = u.Progress
	}
	rec.Timestamp = now

	focused := c.focused == id
	if focused {
		c.displayed = append([]Message(nil), rec.Messages...)
	}

	loadingChanged := false
	if terminal {
		c.terminal[id] = true
		if h, ok := c.streams[id]; ok {
			h.Close()
			delete(c.streams, id)
		}
		if focused && c.loading {
			c.loading = false
			loadingChanged = true
		}
		c.backend.InvalidateHistory(id)
	}
	c.rebuildSummariesLocked()
	c.persistLocked()
	c.mu.Unlock()

	if focused {
		c.emit(Event{Kind: EventMessages})
	}
	if loadingChanged {
		c.emit(Event{Kind: EventLoading})
	}
	c.emit(Event{Kind: EventConversations})
	if terminal {
		go c.RefreshConversations()
	}
}

// streamFailed handles the one-shot error callback of a subscription.
func (c *Coordinator) streamFailed(id string, err error) {
	c.log.Warn().Err(err).Str("conversation", id).Msg("stream error")
	c.failConversation(id, err)
}

// failConversation converts a transport or stream error into a visible
// terminal message. The UI never stays on a spinner once an error is
// detected.
func (c *Coordinator) failConversation(id string, err error) {
	c.mu.Lock()
	if c.terminal[id] {
		c.mu.Unlock()
		return
	}
	rec, ok := c.records[id]
	if !ok {
		c.mu.Unlock()
		return
	}

	now := time.Now()
	explanation := humanError(err)
	if tail := tailAgentMessage(rec.Messages); tail != nil && !tail.Status.Terminal() {
		tail.Status = StatusFailed
		if strings.TrimSpace(tail.Content) == "" {
			tail.Content = explanation
		} else {
			tail.Content += "\n\n" + explanation
		}
	} else {
		rec.Messages = append(rec.Messages, Message{
			ID:        NewMessageID(now),
			Role:      RoleAgent,
			Content:   explanation,
			Timestamp: now,
			Status:    StatusFailed,
		})
	}
	rec.Timestamp = now
	c.terminal[id] = true
	if h, ok := c.streams[id]; ok {
		h.Close()
		delete(c.streams, id)
	}

	focused := c.focused == id
	loadingChanged := false
	if focused {
		c.displayed = append([]Message(nil), rec.Messages...)
		if c.loading {
			c.loading = false
			loadingChanged = true
		}
	}
	c.rebuildSummariesLocked()
	c.persistLocked()
	c.mu.Unlock()

	if focused {
		c.emit(Event{Kind: EventMessages})
	}
	if loadingChanged {
		c.emit(Event{Kind: EventLoading})
	}
	c.emit(Event{Kind: EventConversations})
}

// Select focuses a known conversation: cached messages render immediately,
// then authoritative history replaces them, then the server's run state
// decides whether a subscription must be reattached (the resumption path
// that survives a restart).
func (c *Coordinator) Select(id string) {
	c.mu.Lock()
	rec, ok := c.records[id]
	if !ok {
		c.mu.Unlock()
		return
	}
	c.focused = id
	c.displayed = append([]Message(nil), rec.Messages...)
	c.loading = !c.terminal[id] && len(rec.Messages) > 0
	c.selectGen[id]++
	gen := c.selectGen[id]
	c.mu.Unlock()

	c.emit(Event{Kind: EventMessages})
	c.emit(Event{Kind: EventLoading})

	go c.reconcile(id, gen)
}

func (c *Coordinator) reconcile(id string, gen int) {
	hist, err := c.backend.History(c.ctx, id)
	if err != nil {
		c.log.Warn().Err(err).Str("conversation", id).Msg("history fetch failed, keeping cached transcript")
	} else {
		c.mu.Lock()
		rec, ok := c.records[id]
		stale := !ok || c.selectGen[id] != gen
		if !stale {
			// Server history is authoritative even when empty.
			rec.Messages = append([]Message(nil), hist.Messages...)
			if hist.Status.Terminal() {
				c.terminal[id] = true
			}
			if c.focused == id {
				c.displayed = append([]Message(nil), rec.Messages...)
			}
			c.persistLocked()
		}
		focused := !stale && c.focused == id
		c.mu.Unlock()
		if focused {
			c.emit(Event{Kind: EventMessages})
		}
	}

	status, err := c.backend.Status(c.ctx, id)
	if err != nil {
		c.log.Debug().Err(err).Str("conversation", id).Msg("status check failed")
		c.setLoadingIfFocused(id, false)
		return
	}

	c.mu.Lock()
	stale := c.selectGen[id] != gen
	running := !status.Status.Terminal() && status.HasActiveStream
	if status.Status.Terminal() {
		c.terminal[id] = true
	}
	needStream := running && !stale && c.streams[id] == nil && !c.terminal[id]
	if c.focused == id && !stale {
		c.loading = running
	}
	c.mu.Unlock()

	c.emit(Event{Kind: EventLoading})
	if needStream {
		c.openStream(id)
	}
}

func (c *Coordinator) setLoadingIfFocused(id string, v bool) {
	c.mu.Lock()
	changed := false
	if c.focused == id && c.loading != v {
		c.loading = v
		changed = true
	}
	c.mu.Unlock()
	if changed {
		c.emit(Event{Kind: EventLoading})
	}
}

// NewChat clears focus and the displayed transcript. Background
// conversations keep their subscriptions and keep folding updates into
// their records.
func (c *Coordinator) NewChat() {
	c.mu.Lock()
	c.focused = ""
	c.displayed = nil
	c.loading = false
	c.mu.Unlock()
	c.emit(Event{Kind: EventMessages})
	c.emit(Event{Kind: EventLoading})
}

// Delete removes a conversation, backend first. Local state only changes
// on success; a failed delete leaves everything untouched and raises an
// alert.
func (c *Coordinator) Delete(id string) {
	go func() {
		if err := c.backend.DeleteConversation(c.ctx, id); err != nil {
			c.log.Warn().Err(err).Str("conversation", id).Msg("delete failed")
			c.emit(Event{Kind: EventAlert, Alert: fmt.Sprintf("Could not delete conversation: %v", err)})
			return
		}

		c.mu.Lock()
		delete(c.records, id)
		delete(c.terminal, id)
		delete(c.selectGen, id)
		if h, ok := c.streams[id]; ok {
			h.Close()
			delete(c.streams, id)
		}
		wasFocused := c.focused == id
		if wasFocused {
			c.focused = ""
			c.displayed = nil
			c.loading = false
		}
		c.rebuildSummariesLocked()
		c.persistLocked()
		c.mu.Unlock()

		if wasFocused {
			c.emit(Event{Kind: EventMessages})
			c.emit(Event{Kind: EventLoading})
		}
		c.emit(Event{Kind: EventConversations})
	}()
}

// RefreshConversations replaces the summary list with the server's view.
func (c *Coordinator) RefreshConversations() {
	c.mu.Lock()
	userID := c.userID
	c.mu.Unlock()
	if userID == "" {
		return
	}

	list, err := c.backend.ListConversations(c.ctx, userID)
	if err != nil {
		c.log.Debug().Err(err).Msg("conversation list refresh failed")
		return
	}

	c.mu.Lock()
	c.summaries = list
	sortSummaries(c.summaries)
	for _, s := range list {
		if s.Status.Terminal() {
			c.terminal[s.ID] = true
		}
	}
	c.mu.Unlock()
	c.emit(Event{Kind: EventConversations})
}

// rebuildSummariesLocked derives the local summary list from the records.
// The server list replaces it whenever RefreshConversations succeeds.
func (c *Coordinator) rebuildSummariesLocked() {
	out := make([]ConversationSummary, 0, len(c.records))
	for id, rec := range c.records {
		status := StatusActive
		if tail := tailAgentMessage(rec.Messages); tail != nil && tail.Status.Terminal() {
			status = tail.Status
		}
		created := rec.Timestamp
		if len(rec.Messages) > 0 {
			created = rec.Messages[0].Timestamp
		}
		out = append(out, ConversationSummary{
			ID:           id,
			RepoURL:      rec.RepoURL,
			RepoName:     repoName(rec.RepoURL),
			Status:       status,
			CreatedAt:    created,
			LastActivity: rec.Timestamp,
			MessageCount: len(rec.Messages),
		})
	}
	sortSummaries(out)
	c.summaries = out
}

func (c *Coordinator) persistLocked() {
	records := make([]ConversationRecord, 0, len(c.records))
	for _, rec := range c.records {
		cp := *rec
		cp.Messages = append([]Message(nil), rec.Messages...)
		records = append(records, cp)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Timestamp.After(records[j].Timestamp)
	})
	if err := c.store.SaveConversations(records); err != nil {
		c.log.Warn().Err(err).Msg("conversations not persisted")
	}
}

func sortSummaries(s []ConversationSummary) {
	sort.Slice(s, func(i, j int) bool {
		return s[i].LastActivity.After(s[j].LastActivity)
	})
}

// tailAgentMessage returns the mutable tail: the last message, only if it
// is agent-authored.
func tailAgentMessage(msgs []Message) *Message {
	if len(msgs) == 0 {
		return nil
	}
	last := &msgs[len(msgs)-1]
	if last.Role != RoleAgent {
		return nil
	}
	return last
}

func repoName(repoURL string) string {
	trimmed := strings.TrimRight(repoURL, "/")
	if i := strings.LastIndex(trimmed, "/"); i >= 0 && i+1 < len(trimmed) {
		return strings.TrimSuffix(trimmed[i+1:], ".git")
	}
	return ""
}

func humanError(err error) string {
	if te, ok := err.(*TransportError); ok {
		return "The agent run failed: " + te.Error()
	}
	return fmt.Sprintf("The agent run failed: %v", err)
}
