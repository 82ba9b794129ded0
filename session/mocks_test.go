package session

import (
	"context"
	"scriptroom/domain"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// --- WebsocketConnection ---

type MockWebsocketConnection struct {
	mock.Mock
}

func (m *MockWebsocketConnection) Close(reason string) {
	m.Called(reason)
}

// expectClose registers one Close(reason) call and returns a channel that
// is closed once the call happened.
func (m *MockWebsocketConnection) expectClose(reason string) <-chan struct{} {
	called := make(chan struct{})
	m.On("Close", reason).Run(func(mock.Arguments) { close(called) }).Return().Once()
	return called
}

func waitClosed(t *testing.T, called <-chan struct{}) {
	t.Helper()
	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("socket was not closed")
	}
}

func (m *MockWebsocketConnection) Write(data []byte) error {
	args := m.Called(data)
	return args.Error(0)
}

func (m *MockWebsocketConnection) Read() ([]byte, error) {
	args := m.Called()
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

func (m *MockWebsocketConnection) Ping() error {
	args := m.Called()
	return args.Error(0)
}

// --- UniqueIdGenerator ---

type MockUniqueIdGenerator struct {
	mock.Mock
}

func (m *MockUniqueIdGenerator) Generate() string {
	args := m.Called()
	return args.String(0)
}

// --- PeriodicTickerChannelCreator ---

type MockPeriodicTickerChannelCreator struct {
	mock.Mock
}

func (m *MockPeriodicTickerChannelCreator) Create(duration time.Duration) <-chan time.Time {
	args := m.Called(duration)
	return args.Get(0).(chan time.Time)
}

// --- UserGetter ---

type MockUserGetter struct {
	mock.Mock
}

func (m *MockUserGetter) GetUserById(ctx context.Context, id string) (domain.User, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(domain.User), args.Error(1)
}

// --- DescriptionUpdater ---

type MockLobby struct {
	mock.Mock
}

func (m *MockLobby) RequestUpdateDescription(desc RoomSummary) {
	m.Called(desc)
}

// --- Room ---

type MockRoom struct {
	mock.Mock
}

func (m *MockRoom) Id() string    { return m.Called().String(0) }
func (m *MockRoom) Name() string  { return m.Called().String(0) }
func (m *MockRoom) Admin() string { return m.Called().String(0) }

func (m *MockRoom) Send(cmd Command) bool {
	args := m.Called(cmd)
	return args.Bool(0)
}

func (m *MockRoom) Run() {
	m.Called()
}

func (m *MockRoom) Close() {
	m.Called()
}

// --- Dispatcher ---

type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) Submit(member Member, cmd Command) {
	m.Called(member, cmd)
}

func (m *MockDispatcher) Disconnect(member Member) {
	m.Called(member)
}

// --- Member ---

// sent is an outbound packet as a member received it.
type sent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// recordingMember keeps everything sent to it so tests can assert on the
// exact packet sequence.
type recordingMember struct {
	id    string
	mu    sync.Mutex
	out   []sent
	pings int
}

func newMember(id string) *recordingMember {
	return &recordingMember{id: id}
}

func (m *recordingMember) Id() string { return m.id }

func (m *recordingMember) Send(data []byte) {
	var p sent
	if err := json.Unmarshal(data, &p); err != nil {
		panic(err)
	}
	m.mu.Lock()
	m.out = append(m.out, p)
	m.mu.Unlock()
}

func (m *recordingMember) Ping() {
	m.mu.Lock()
	m.pings++
	m.mu.Unlock()
}

// drain returns and forgets everything received so far.
func (m *recordingMember) drain() []sent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.out
	m.out = nil
	return out
}

func (m *recordingMember) pingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pings
}

func types(packets []sent) []string {
	out := make([]string, 0, len(packets))
	for _, p := range packets {
		out = append(out, p.Type)
	}
	return out
}

func decodeAs[T any](t *testing.T, p sent) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(p.Data, &v))
	return v
}

// lastOf returns the payload of the last packet of type msgType.
func lastOf[T any](t *testing.T, packets []sent, msgType string) T {
	t.Helper()
	for i := len(packets) - 1; i >= 0; i-- {
		if packets[i].Type == msgType {
			return decodeAs[T](t, packets[i])
		}
	}
	t.Fatalf("no %s packet in %v", msgType, types(packets))
	var zero T
	return zero
}

// --- Timers ---

type fakeTimer struct {
	parent  *fakeTimers
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.parent.mu.Lock()
	defer t.parent.mu.Unlock()
	wasPending := !t.stopped && !t.fired
	t.stopped = true
	return wasPending
}

// fakeTimers never fires on its own; tests fire timers explicitly.
type fakeTimers struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (f *fakeTimers) AfterFunc(d time.Duration, fn func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTimer{parent: f, d: d, f: fn}
	f.timers = append(f.timers, t)
	return t
}

func (f *fakeTimers) pending() []*fakeTimer {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*fakeTimer
	for _, t := range f.timers {
		if !t.stopped && !t.fired {
			out = append(out, t)
		}
	}
	return out
}

func (f *fakeTimers) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.timers)
}

func (f *fakeTimers) fire(t *fakeTimer) {
	f.mu.Lock()
	t.fired = true
	f.mu.Unlock()
	t.f()
}

// waitFor blocks until a packet of msgType arrives, then returns it and
// forgets everything received up to it.
func (m *recordingMember) waitFor(t *testing.T, msgType string) sent {
	t.Helper()
	var found sent
	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, p := range m.out {
			if p.Type == msgType {
				found = p
				m.out = m.out[i+1:]
				return true
			}
		}
		return false
	}, 2*time.Second, time.Millisecond, "waiting for %s", msgType)
	return found
}
