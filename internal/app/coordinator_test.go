package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeStream is one Connect call: the subscription handed back plus the
// callbacks the coordinator registered, so tests can push frames.
type fakeStream struct {
	sub      *Subscription
	closed   *atomic.Bool
	onUpdate func(StreamUpdate)
	onError  func(error)
}

type fakeBackend struct {
	mu sync.Mutex

	startResp  StartResponse
	startErr   error
	startGate  chan struct{}
	starts     []StartRequest
	respondErr error
	responds   []string
	history    HistoryResponse
	historyErr error
	status     StatusResponse
	statusErr  error
	list       []ConversationSummary
	listErr    error
	deleteErr  error
	deletes    []string
	connectErr error
	// connectHook runs inside Connect after the subscription exists but
	// before it is handed back, so tests can deliver frames in the gap.
	connectHook func(id string, onUpdate func(StreamUpdate))

	streams     []*fakeStream
	invalidated []string
}

func (f *fakeBackend) Start(_ context.Context, req StartRequest) (StartResponse, error) {
	f.mu.Lock()
	f.starts = append(f.starts, req)
	gate := f.startGate
	resp, err := f.startResp, f.startErr
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return resp, err
}

func (f *fakeBackend) Respond(_ context.Context, _, text string) (StartResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responds = append(f.responds, text)
	return StartResponse{}, f.respondErr
}

func (f *fakeBackend) History(context.Context, string) (HistoryResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.history, f.historyErr
}

func (f *fakeBackend) Status(context.Context, string) (StatusResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, f.statusErr
}

func (f *fakeBackend) ListConversations(context.Context, string) ([]ConversationSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.list, f.listErr
}

func (f *fakeBackend) DeleteConversation(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, id)
	return f.deleteErr
}

func (f *fakeBackend) Connect(_ context.Context, id string, onUpdate func(StreamUpdate), onError func(error)) (*Subscription, error) {
	f.mu.Lock()
	if f.connectErr != nil {
		f.mu.Unlock()
		return nil, f.connectErr
	}
	closed := &atomic.Bool{}
	sub := &Subscription{
		conversationID: id,
		cancel:         func() { closed.Store(true) },
		done:           make(chan struct{}),
	}
	f.streams = append(f.streams, &fakeStream{sub: sub, closed: closed, onUpdate: onUpdate, onError: onError})
	hook := f.connectHook
	f.mu.Unlock()
	if hook != nil {
		hook(id, onUpdate)
	}
	return sub, nil
}

func (f *fakeBackend) InvalidateHistory(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, id)
}

func (f *fakeBackend) stream(i int) *fakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.streams) {
		return nil
	}
	return f.streams[i]
}

func (f *fakeBackend) streamCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.streams)
}

func newTestCoordinator(t *testing.T, backend *fakeBackend) *Coordinator {
	t.Helper()
	store := newTestStore(t)
	c := NewCoordinator(backend, store, zerolog.Nop())
	if err := c.Hydrate("dark"); err != nil {
		t.Fatalf("Hydrate: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitForAlert(t *testing.T, c *Coordinator) string {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-c.Events():
			if ev.Kind == EventAlert {
				return ev.Alert
			}
		case <-deadline:
			t.Fatalf("no alert event")
		}
	}
}

const testRepo = "https://github.com/acme/widgets"

func TestSendValidation(t *testing.T) {
	backend := &fakeBackend{}
	c := newTestCoordinator(t, backend)

	var verr *ValidationError
	if err := c.Send("   ", testRepo, nil); !errors.As(err, &verr) {
		t.Fatalf("empty message: err = %v, want *ValidationError", err)
	}
	if err := c.Send("do the thing", "not a url", nil); !errors.As(err, &verr) {
		t.Fatalf("bad repo url: err = %v, want *ValidationError", err)
	}
	if len(backend.starts) != 0 {
		t.Fatalf("rejected sends must not reach the backend")
	}
}

func TestSendStartsAndReconcilesID(t *testing.T) {
	backend := &fakeBackend{
		startResp: StartResponse{ConversationID: "conv-1", Status: StatusRunning, Message: "Analyzing the repository", Agent: "planner"},
		startGate: make(chan struct{}),
	}
	c := newTestCoordinator(t, backend)

	if err := c.Send("add retries to billing", testRepo, nil); err != nil {
		t.Fatalf("Send: %v", err)
	}

	// Optimistic: the user message is visible before the backend answers.
	msgs := c.Messages()
	if len(msgs) != 1 || msgs[0].Role != RoleUser || msgs[0].Content != "add retries to billing" {
		t.Fatalf("optimistic transcript = %+v", msgs)
	}
	if !c.Loading() {
		t.Fatalf("loading should be set while the start is in flight")
	}
	if c.LastRepoURL() != testRepo {
		t.Fatalf("LastRepoURL = %q", c.LastRepoURL())
	}

	close(backend.startGate)

	waitFor(t, "stream attach", func() bool { return c.ActiveStreamCount() == 1 })

	// The provisional id was renamed to the authoritative one in one step.
	if c.FocusedID() != "conv-1" {
		t.Fatalf("focused = %q, want conv-1", c.FocusedID())
	}
	if _, ok := c.Record("conv-1"); !ok {
		t.Fatalf("authoritative record missing")
	}
	sums := c.Conversations()
	if len(sums) != 1 || sums[0].ID != "conv-1" || sums[0].RepoName != "widgets" {
		t.Fatalf("summaries = %+v", sums)
	}

	// The backend's first message became the running agent placeholder.
	msgs = c.Messages()
	if len(msgs) != 2 {
		t.Fatalf("transcript = %+v", msgs)
	}
	if msgs[1].Role != RoleAgent || msgs[1].Status != StatusRunning || msgs[1].AgentName != "planner" {
		t.Fatalf("placeholder = %+v", msgs[1])
	}
}

func TestApplyUpdateFoldsIntoTail(t *testing.T) {
	backend := &fakeBackend{startResp: StartResponse{ConversationID: "conv-1", Status: StatusRunning}}
	c := newTestCoordinator(t, backend)

	if err := c.Send("fix the bug", testRepo, nil); err != nil {
		t.Fatalf("Send: %v", err)
	}
	waitFor(t, "stream attach", func() bool { return c.ActiveStreamCount() == 1 })
	fs := backend.stream(0)

	fs.onUpdate(StreamUpdate{ConversationID: "conv-1", Type: UpdateThinking, Content: "reading code"})
	fs.onUpdate(StreamUpdate{ConversationID: "conv-1", Type: UpdateTool, Content: "ran tests", Progress: 0.4})

	msgs := c.Messages()
	tail := msgs[len(msgs)-1]
	if tail.Content != "reading code\nran tests" {
		t.Fatalf("progress lines not appended: %q", tail.Content)
	}
	if tail.Progress != 0.4 || tail.Status != StatusRunning {
		t.Fatalf("tail = %+v", tail)
	}

	// Partial frames replace the tail content instead of appending.
	fs.onUpdate(StreamUpdate{ConversationID: "conv-1", Type: UpdatePartial, Content: "Here is the fix"})
	msgs = c.Messages()
	if got := msgs[len(msgs)-1].Content; got != "Here is the fix" {
		t.Fatalf("partial did not replace content: %q", got)
	}

	fs.onUpdate(StreamUpdate{ConversationID: "conv-1", Type: UpdateComplete, Status: StatusCompleted, Content: "Done, PR opened"})
	msgs = c.Messages()
	tail = msgs[len(msgs)-1]
	if tail.Status != StatusCompleted || tail.Progress != 1 || tail.Content != "Done, PR opened" {
		t.Fatalf("terminal tail = %+v", tail)
	}
	if c.Loading() {
		t.Fatalf("loading must clear on the terminal frame")
	}
	if c.ActiveStreamCount() != 0 {
		t.Fatalf("subscription not released after terminal frame")
	}
	if !fs.closed.Load() {
		t.Fatalf("subscription handle not closed")
	}
	waitFor(t, "history invalidation", func() bool {
		backend.mu.Lock()
		defer backend.mu.Unlock()
		return len(backend.invalidated) == 1 && backend.invalidated[0] == "conv-1"
	})
}

func TestTerminalStateIsSticky(t *testing.T) {
	backend := &fakeBackend{startResp: StartResponse{ConversationID: "conv-1", Status: StatusRunning}}
	c := newTestCoordinator(t, backend)

	if err := c.Send("fix the bug", testRepo, nil); err != nil {
		t.Fatalf("Send: %v", err)
	}
	waitFor(t, "stream attach", func() bool { return c.ActiveStreamCount() == 1 })
	fs := backend.stream(0)

	fs.onUpdate(StreamUpdate{ConversationID: "conv-1", Type: UpdateComplete, Status: StatusCompleted, Content: "finished"})
	before := c.Messages()

	// A stale frame after the terminal one must not resurrect the run.
	fs.onUpdate(StreamUpdate{ConversationID: "conv-1", Type: UpdatePartial, Content: "zombie output"})
	after := c.Messages()
	if len(after) != len(before) {
		t.Fatalf("stale frame changed the transcript")
	}
	tail := after[len(after)-1]
	if tail.Status != StatusCompleted || tail.Content != "finished" {
		t.Fatalf("stale frame mutated terminal tail: %+v", tail)
	}
}

func TestFocusIsolation(t *testing.T) {
	backend := &fakeBackend{startResp: StartResponse{ConversationID: "conv-a", Status: StatusRunning}}
	c := newTestCoordinator(t, backend)

	if err := c.Send("first task", testRepo, nil); err != nil {
		t.Fatalf("Send: %v", err)
	}
	waitFor(t, "first stream", func() bool { return c.ActiveStreamCount() == 1 })
	streamA := backend.stream(0)

	backend.mu.Lock()
	backend.startResp = StartResponse{ConversationID: "conv-b", Status: StatusRunning}
	backend.mu.Unlock()

	c.NewChat()
	if err := c.Send("second task", testRepo, nil); err != nil {
		t.Fatalf("Send: %v", err)
	}
	waitFor(t, "second stream", func() bool { return c.ActiveStreamCount() == 2 })
	if c.FocusedID() != "conv-b" {
		t.Fatalf("focused = %q, want conv-b", c.FocusedID())
	}

	displayedBefore := c.Messages()
	streamA.onUpdate(StreamUpdate{ConversationID: "conv-a", Type: UpdatePartial, Content: "background progress"})

	// The background update lands in the record, never on screen.
	displayedAfter := c.Messages()
	if len(displayedAfter) != len(displayedBefore) {
		t.Fatalf("unfocused update leaked into the displayed transcript")
	}
	for i := range displayedAfter {
		if displayedAfter[i].Content != displayedBefore[i].Content {
			t.Fatalf("unfocused update leaked into the displayed transcript")
		}
	}
	rec, ok := c.Record("conv-a")
	if !ok {
		t.Fatalf("record conv-a missing")
	}
	tail := rec.Messages[len(rec.Messages)-1]
	if tail.Content != "background progress" {
		t.Fatalf("background record not updated: %+v", tail)
	}
}

func TestFollowUpUsesRespond(t *testing.T) {
	backend := &fakeBackend{startResp: StartResponse{ConversationID: "conv-1", Status: StatusRunning}}
	c := newTestCoordinator(t, backend)

	if err := c.Send("first message", testRepo, nil); err != nil {
		t.Fatalf("Send: %v", err)
	}
	waitFor(t, "stream attach", func() bool { return backend.streamCount() == 1 })
	first := backend.stream(0)

	// No repo url needed for a follow-up into the focused conversation.
	if err := c.Send("please also add tests", "", nil); err != nil {
		t.Fatalf("follow-up Send: %v", err)
	}
	waitFor(t, "respond call", func() bool {
		backend.mu.Lock()
		defer backend.mu.Unlock()
		return len(backend.responds) == 1
	})
	backend.mu.Lock()
	gotRespond := backend.responds[0]
	gotStarts := len(backend.starts)
	backend.mu.Unlock()
	if gotRespond != "please also add tests" {
		t.Fatalf("respond text = %q", gotRespond)
	}
	if gotStarts != 1 {
		t.Fatalf("follow-up must not start a new conversation, starts = %d", gotStarts)
	}

	// The reopened stream replaces the previous handle.
	waitFor(t, "stream reopen", func() bool { return backend.streamCount() == 2 })
	waitFor(t, "old handle closed", func() bool { return first.closed.Load() })
	if c.ActiveStreamCount() != 1 {
		t.Fatalf("ActiveStreamCount = %d, want 1", c.ActiveStreamCount())
	}
}

func TestStartFailureShowsFailedTail(t *testing.T) {
	backend := &fakeBackend{startErr: &TransportError{Status: 502, Message: "repository unreachable"}}
	c := newTestCoordinator(t, backend)

	if err := c.Send("fix it", testRepo, nil); err != nil {
		t.Fatalf("Send: %v", err)
	}
	waitFor(t, "failure surfaced", func() bool { return !c.Loading() })

	msgs := c.Messages()
	tail := msgs[len(msgs)-1]
	if tail.Role != RoleAgent || tail.Status != StatusFailed {
		t.Fatalf("tail = %+v", tail)
	}
	if !strings.Contains(tail.Content, "repository unreachable") {
		t.Fatalf("failure reason missing from tail: %q", tail.Content)
	}
	if c.ActiveStreamCount() != 0 {
		t.Fatalf("no stream should be live after a failed start")
	}
}

func TestStreamErrorFailsConversation(t *testing.T) {
	backend := &fakeBackend{startResp: StartResponse{ConversationID: "conv-1", Status: StatusRunning}}
	c := newTestCoordinator(t, backend)

	if err := c.Send("fix it", testRepo, nil); err != nil {
		t.Fatalf("Send: %v", err)
	}
	waitFor(t, "stream attach", func() bool { return c.ActiveStreamCount() == 1 })
	fs := backend.stream(0)

	fs.onError(&TransportError{Message: "stream ended unexpectedly"})

	msgs := c.Messages()
	tail := msgs[len(msgs)-1]
	if tail.Status != StatusFailed {
		t.Fatalf("tail = %+v", tail)
	}
	if c.Loading() {
		t.Fatalf("loading stuck after stream error")
	}
	if c.ActiveStreamCount() != 0 {
		t.Fatalf("stream handle not released")
	}
}

func TestSelectReplacesCachedWithHistory(t *testing.T) {
	backend := &fakeBackend{
		history: HistoryResponse{
			Status: StatusCompleted,
			Messages: []Message{
				{ID: "m-1", Role: RoleUser, Content: "fix it"},
				{ID: "m-2", Role: RoleAgent, Content: "authoritative answer", Status: StatusCompleted},
			},
		},
		status: StatusResponse{Status: StatusCompleted},
	}
	c := newTestCoordinator(t, backend)

	now := time.Now()
	c.mu.Lock()
	c.records["conv-9"] = &ConversationRecord{
		ID:       "conv-9",
		RepoURL:  testRepo,
		Messages: []Message{{ID: "m-1", Role: RoleUser, Content: "fix it", Timestamp: now}},
	}
	c.mu.Unlock()

	c.Select("conv-9")

	// Cached transcript paints immediately.
	if msgs := c.Messages(); len(msgs) == 0 || msgs[0].Content != "fix it" {
		t.Fatalf("cached transcript not shown: %+v", msgs)
	}

	waitFor(t, "authoritative history", func() bool { return len(c.Messages()) == 2 })
	msgs := c.Messages()
	if msgs[1].Content != "authoritative answer" {
		t.Fatalf("history did not replace cache: %+v", msgs)
	}
	waitFor(t, "loading cleared", func() bool { return !c.Loading() })
	if c.ActiveStreamCount() != 0 {
		t.Fatalf("terminal conversation must not reattach a stream")
	}
}

func TestSelectReattachesRunningStream(t *testing.T) {
	backend := &fakeBackend{
		history: HistoryResponse{
			Status: StatusRunning,
			Messages: []Message{
				{ID: "m-1", Role: RoleUser, Content: "fix it"},
				{ID: "m-2", Role: RoleAgent, Content: "working", Status: StatusRunning},
			},
		},
		status: StatusResponse{Status: StatusRunning, HasActiveStream: true},
	}
	c := newTestCoordinator(t, backend)

	c.mu.Lock()
	c.records["conv-9"] = &ConversationRecord{ID: "conv-9", RepoURL: testRepo}
	c.mu.Unlock()

	c.Select("conv-9")

	// The resumption path: a run still live on the server gets its
	// subscription back without any user action.
	waitFor(t, "stream reattach", func() bool { return c.ActiveStreamCount() == 1 })
	if got := backend.stream(0).sub.ConversationID(); got != "conv-9" {
		t.Fatalf("reattached to %q", got)
	}
	if !c.Loading() {
		t.Fatalf("loading should track the running state")
	}
}

func TestDeleteFailureLeavesStateUntouched(t *testing.T) {
	backend := &fakeBackend{deleteErr: &TransportError{Status: 500, Message: "delete failed upstream"}}
	c := newTestCoordinator(t, backend)

	c.mu.Lock()
	c.records["conv-9"] = &ConversationRecord{ID: "conv-9", RepoURL: testRepo}
	c.rebuildSummariesLocked()
	c.mu.Unlock()

	c.Delete("conv-9")

	alert := waitForAlert(t, c)
	if !strings.Contains(alert, "delete failed upstream") {
		t.Fatalf("alert = %q", alert)
	}
	if _, ok := c.Record("conv-9"); !ok {
		t.Fatalf("failed delete must not remove local state")
	}
}

func TestDeleteSuccessRemovesConversation(t *testing.T) {
	backend := &fakeBackend{}
	c := newTestCoordinator(t, backend)

	c.mu.Lock()
	c.records["conv-9"] = &ConversationRecord{ID: "conv-9", RepoURL: testRepo}
	c.focused = "conv-9"
	c.displayed = []Message{{ID: "m-1", Role: RoleUser, Content: "fix it"}}
	c.rebuildSummariesLocked()
	c.mu.Unlock()

	c.Delete("conv-9")

	waitFor(t, "record removal", func() bool {
		_, ok := c.Record("conv-9")
		return !ok
	})
	if c.FocusedID() != "" {
		t.Fatalf("deleting the focused conversation must clear focus")
	}
	if len(c.Messages()) != 0 {
		t.Fatalf("displayed transcript not cleared")
	}
	backend.mu.Lock()
	defer backend.mu.Unlock()
	if len(backend.deletes) != 1 || backend.deletes[0] != "conv-9" {
		t.Fatalf("deletes = %v", backend.deletes)
	}
}

func TestInFlightFailureSurvivesIDRename(t *testing.T) {
	backend := &fakeBackend{
		startResp: StartResponse{ConversationID: "conv-1", Status: StatusRunning},
		startGate: make(chan struct{}),
	}
	c := newTestCoordinator(t, backend)

	if err := c.Send("fix it", testRepo, nil); err != nil {
		t.Fatalf("Send: %v", err)
	}
	provisional := c.FocusedID()
	if !isProvisionalID(provisional) {
		t.Fatalf("focused = %q, want a provisional id", provisional)
	}

	// While the start call is in flight there is no backend id to route a
	// follow-up to; the send is rejected before the network.
	var verr *ValidationError
	if err := c.Send("and add tests", "", nil); !errors.As(err, &verr) {
		t.Fatalf("follow-up during start: err = %v, want *ValidationError", err)
	}
	backend.mu.Lock()
	responds := len(backend.responds)
	backend.mu.Unlock()
	if responds != 0 {
		t.Fatalf("follow-up reached Respond with a provisional id")
	}

	// A transport failure lands before the start call returns.
	c.failConversation(provisional, &TransportError{Status: 404, Message: "conversation not found"})
	close(backend.startGate)

	waitFor(t, "id rename", func() bool { return c.FocusedID() == "conv-1" })
	if _, ok := c.Record(provisional); ok {
		t.Fatalf("provisional record survived the rename")
	}

	// The failed state rode along with the rename: no placeholder, no
	// stream, and a later frame cannot resurrect the conversation.
	if backend.streamCount() != 0 {
		t.Fatalf("stream opened for a conversation that already failed")
	}
	c.applyUpdate(StreamUpdate{ConversationID: "conv-1", Type: UpdatePartial, Content: "zombie output"})
	rec, ok := c.Record("conv-1")
	if !ok {
		t.Fatalf("record conv-1 missing")
	}
	tail := rec.Messages[len(rec.Messages)-1]
	if tail.Status != StatusFailed {
		t.Fatalf("failed conversation resurrected: tail = %+v", tail)
	}
	if strings.Contains(tail.Content, "zombie output") {
		t.Fatalf("stale frame mutated failed tail: %q", tail.Content)
	}
}

func TestSelectAcceptsEmptyAuthoritativeHistory(t *testing.T) {
	backend := &fakeBackend{
		history: HistoryResponse{Status: StatusCompleted},
		status:  StatusResponse{Status: StatusCompleted},
	}
	c := newTestCoordinator(t, backend)

	c.mu.Lock()
	c.records["conv-9"] = &ConversationRecord{
		ID:       "conv-9",
		RepoURL:  testRepo,
		Messages: []Message{{ID: "m-1", Role: RoleUser, Content: "stale local copy"}},
	}
	c.mu.Unlock()

	c.Select("conv-9")

	// An empty server transcript replaces the cached one; empty is an
	// answer, not an error.
	waitFor(t, "empty history applied", func() bool { return len(c.Messages()) == 0 })
	rec, _ := c.Record("conv-9")
	if len(rec.Messages) != 0 {
		t.Fatalf("record kept stale messages: %+v", rec.Messages)
	}
	waitFor(t, "loading cleared", func() bool { return !c.Loading() })
}

func TestTerminalFrameDuringConnectReleasesHandle(t *testing.T) {
	backend := &fakeBackend{startResp: StartResponse{ConversationID: "conv-1", Status: StatusRunning}}
	backend.connectHook = func(id string, onUpdate func(StreamUpdate)) {
		onUpdate(StreamUpdate{ConversationID: id, Type: UpdateComplete, Status: StatusCompleted, Content: "instant answer"})
	}
	c := newTestCoordinator(t, backend)

	if err := c.Send("fix it", testRepo, nil); err != nil {
		t.Fatalf("Send: %v", err)
	}

	waitFor(t, "terminal tail", func() bool {
		rec, ok := c.Record("conv-1")
		if !ok || len(rec.Messages) == 0 {
			return false
		}
		return rec.Messages[len(rec.Messages)-1].Status == StatusCompleted
	})

	// The frame beat the registration; the handle must not be parked in
	// the table where it would block a future reattach.
	waitFor(t, "handle released", func() bool { return c.ActiveStreamCount() == 0 })
	waitFor(t, "handle closed", func() bool { return backend.stream(0).closed.Load() })
}

func TestHydrateRestoresPersistedState(t *testing.T) {
	store := newTestStore(t)
	now := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)
	records := []ConversationRecord{
		{
			ID:      "conv-1",
			RepoURL: testRepo,
			Messages: []Message{
				{ID: "m-1", Role: RoleUser, Content: "fix it", Timestamp: now},
				{ID: "m-2", Role: RoleAgent, Content: "done", Timestamp: now.Add(time.Minute), Status: StatusCompleted},
			},
			Timestamp: now.Add(time.Minute),
		},
	}
	if err := store.SaveConversations(records); err != nil {
		t.Fatalf("SaveConversations: %v", err)
	}
	if err := store.SaveTheme("light"); err != nil {
		t.Fatalf("SaveTheme: %v", err)
	}

	backend := &fakeBackend{}
	c := NewCoordinator(backend, store, zerolog.Nop())
	if err := c.Hydrate("dark"); err != nil {
		t.Fatalf("Hydrate: %v", err)
	}
	defer c.Close()

	if c.Theme() != "light" {
		t.Fatalf("Theme = %q, want light", c.Theme())
	}
	if c.UserID() == "" {
		t.Fatalf("user id not generated on first hydrate")
	}
	sums := c.Conversations()
	if len(sums) != 1 || sums[0].ID != "conv-1" || sums[0].Status != StatusCompleted {
		t.Fatalf("summaries = %+v", sums)
	}

	// A terminal frame for a restored terminal conversation stays ignored.
	c.applyUpdate(StreamUpdate{ConversationID: "conv-1", Type: UpdatePartial, Content: "zombie"})
	rec, _ := c.Record("conv-1")
	if rec.Messages[len(rec.Messages)-1].Content != "done" {
		t.Fatalf("restored terminal conversation was mutated")
	}
}
