package session

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// mockRoomFactory hands out MockRooms and remembers them by name.
type mockRoomFactory struct {
	mu    sync.Mutex
	rooms map[string]*MockRoom
	send  bool
}

func (f *mockRoomFactory) create(id, name, admin string, parent DescriptionUpdater) Room {
	m := &MockRoom{}
	m.On("Id").Return(id)
	m.On("Name").Return(name)
	m.On("Admin").Return(admin)
	m.On("Run").Return().Maybe()
	m.On("Close").Return().Maybe()
	m.On("Send", mock.Anything).Return(f.send).Maybe()

	f.mu.Lock()
	f.rooms[name] = m
	f.mu.Unlock()
	return m
}

func (f *mockRoomFactory) get(name string) *MockRoom {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rooms[name]
}

func newTestLobby(t *testing.T) (*Lobby, *mockRoomFactory, *MockUniqueIdGenerator) {
	t.Helper()
	factory := &mockRoomFactory{rooms: map[string]*MockRoom{}, send: true}
	idgen := &MockUniqueIdGenerator{}
	l := NewLobby(testCatalog(), factory.create, idgen, &MockPeriodicTickerChannelCreator{})
	return l, factory, idgen
}

func loggedIn(t *testing.T, l *Lobby, connId, identity string) *recordingMember {
	t.Helper()
	m := newMember(connId)
	l.handleConnect(m, "")
	l.handleCommand(m, Command{Type: MsgLogin, Identity: identity})
	return m
}

func errorOf(t *testing.T, packets []sent) ErrorPayload {
	t.Helper()
	return lastOf[ErrorPayload](t, packets, OutErrorMessage)
}

func TestLobbyLogin(t *testing.T) {
	t.Parallel()
	l, _, _ := newTestLobby(t)

	alice := loggedIn(t, l, "c1", "  alice ")
	got := alice.drain()
	assert.Equal(t, []string{OutActiveUsers, OutRooms, OutScriptListFull}, types(got))
	assert.Equal(t, []string{"alice"}, decodeAs[ActiveUsersPayload](t, got[0]).Users)
	assert.Empty(t, decodeAs[RoomsPayload](t, got[1]).Rooms)
	assert.Len(t, decodeAs[ScriptListPayload](t, got[2]).Scripts, 3)

	bob := loggedIn(t, l, "c2", "bob")
	assert.Equal(t, []string{"alice", "bob"}, lastOf[ActiveUsersPayload](t, alice.drain(), OutActiveUsers).Users)
	assert.Equal(t, []string{"alice", "bob"}, lastOf[ActiveUsersPayload](t, bob.drain(), OutActiveUsers).Users)

	t.Run("same identity again is idempotent", func(t *testing.T) {
		l.handleCommand(alice, Command{Type: MsgLogin, Identity: "alice"})
		assert.Equal(t, []string{OutActiveUsers, OutRooms, OutScriptListFull}, types(alice.drain()))
		assert.Empty(t, bob.drain())
	})

	t.Run("switching identity is refused", func(t *testing.T) {
		l.handleCommand(alice, Command{Type: MsgLogin, Identity: "mallory"})
		assert.Equal(t, ErrorPayload{Kind: KindConflict, Message: "already-logged-in"}, errorOf(t, alice.drain()))
		assert.Equal(t, "alice", l.sessions["c1"].identity)
	})

	t.Run("invalid identities", func(t *testing.T) {
		carol := newMember("c3")
		l.handleConnect(carol, "")
		for _, identity := range []string{"", "   ", strings.Repeat("x", maxIdentityLength+1)} {
			l.handleCommand(carol, Command{Type: MsgLogin, Identity: identity})
			assert.Equal(t, KindInvalidArgument, errorOf(t, carol.drain()).Kind)
		}
		assert.Empty(t, l.sessions["c3"].identity)
	})
}

func TestLobbyLoginUsesAuthenticatedIdentity(t *testing.T) {
	t.Parallel()
	l, _, _ := newTestLobby(t)

	m := newMember("c1")
	l.handleConnect(m, "romeo")
	l.handleCommand(m, Command{Type: MsgLogin, Identity: "juliet"})

	assert.Equal(t, []string{"romeo"}, lastOf[ActiveUsersPayload](t, m.drain(), OutActiveUsers).Users)
	assert.Equal(t, "romeo", l.sessions["c1"].identity)

	// an empty payload is fine when the token already named the user
	m2 := newMember("c2")
	l.handleConnect(m2, "juliet")
	l.handleCommand(m2, Command{Type: MsgLogin})
	assert.Equal(t, []string{"juliet", "romeo"}, lastOf[ActiveUsersPayload](t, m2.drain(), OutActiveUsers).Users)
}

func TestLobbyPresence(t *testing.T) {
	t.Parallel()
	l, _, _ := newTestLobby(t)

	alice1 := loggedIn(t, l, "c1", "alice")
	alice2 := loggedIn(t, l, "c2", "alice")
	bob := loggedIn(t, l, "c3", "bob")
	alice1.drain()
	alice2.drain()
	bob.drain()

	l.handleDisconnect(alice1)
	assert.Empty(t, bob.drain(), "alice still has a connection")

	l.handleDisconnect(alice2)
	assert.Equal(t, []string{"bob"}, lastOf[ActiveUsersPayload](t, bob.drain(), OutActiveUsers).Users)

	// a second disconnect of the same connection is ignored
	l.handleDisconnect(alice2)
	assert.Empty(t, bob.drain())
	assert.Equal(t, map[string]int{"bob": 1}, l.presence)

	// connections that never logged in do not show up
	anon := newMember("c4")
	l.handleConnect(anon, "")
	l.handleDisconnect(anon)
	assert.Empty(t, bob.drain())
}

func TestLobbyCreateRoom(t *testing.T) {
	t.Parallel()
	l, factory, idgen := newTestLobby(t)
	idgen.On("Generate").Return("room-1").Once()

	anon := newMember("c0")
	l.handleConnect(anon, "")
	l.handleCommand(anon, Command{Type: MsgCreateRoom, Room: "stage"})
	assert.Equal(t, ErrorPayload{Kind: KindUnauthorized, Message: "login-required"}, errorOf(t, anon.drain()))

	alice := loggedIn(t, l, "c1", "alice")
	bob := loggedIn(t, l, "c2", "bob")
	alice.drain()
	bob.drain()

	for _, name := range []string{"", "   ", strings.Repeat("é", maxRoomNameLength+1)} {
		l.handleCommand(alice, Command{Type: MsgCreateRoom, Room: name})
		assert.Equal(t, KindInvalidArgument, errorOf(t, alice.drain()).Kind)
	}

	l.handleCommand(alice, Command{Type: MsgCreateRoom, Room: " stage "})

	expected := []RoomSummary{{Id: "room-1", Name: "stage", Admin: "alice"}}
	assert.Equal(t, expected, lastOf[RoomsPayload](t, alice.drain(), OutRooms).Rooms)
	assert.Equal(t, expected, lastOf[RoomsPayload](t, bob.drain(), OutRooms).Rooms)
	assert.Equal(t, expected, l.roomList())
	require.NotNil(t, factory.get("stage"))

	l.handleCommand(bob, Command{Type: MsgCreateRoom, Room: "stage"})
	assert.Equal(t, ErrorPayload{Kind: KindConflict, Message: "room-name-taken"}, errorOf(t, bob.drain()))

	l.handleCommand(alice, Command{Type: MsgCreateRoom, Room: "balcony"})
	assert.Equal(t, ErrorPayload{Kind: KindConflict, Message: "admin-already-owns-room"}, errorOf(t, alice.drain()))

	idgen.AssertExpectations(t)
}

func TestLobbyDeleteRoom(t *testing.T) {
	t.Parallel()
	l, factory, idgen := newTestLobby(t)
	idgen.On("Generate").Return("room-1").Once()
	idgen.On("Generate").Return("room-2").Once()

	alice := loggedIn(t, l, "c1", "alice")
	bob := loggedIn(t, l, "c2", "bob")
	l.handleCommand(alice, Command{Type: MsgCreateRoom, Room: "stage"})
	alice.drain()
	bob.drain()
	stage := factory.get("stage")

	l.handleCommand(bob, Command{Type: MsgDeleteRoom, Room: "stage"})
	assert.Equal(t, ErrorPayload{Kind: KindForbidden, Message: "not-room-admin"}, errorOf(t, bob.drain()))
	stage.AssertNotCalled(t, "Close")

	l.handleCommand(alice, Command{Type: MsgDeleteRoom, Room: "stage"})
	stage.AssertCalled(t, "Close")
	assert.Empty(t, lastOf[RoomsPayload](t, bob.drain(), OutRooms).Rooms)
	assert.Empty(t, l.rooms)
	assert.Empty(t, l.admins)

	// deleting again is not an error
	l.handleCommand(alice, Command{Type: MsgDeleteRoom, Room: "stage"})
	assert.NotContains(t, types(alice.drain()), OutErrorMessage)

	// the admin is free to open a new room, the old name is free too
	l.handleCommand(bob, Command{Type: MsgCreateRoom, Room: "stage"})
	assert.Equal(t, []RoomSummary{{Id: "room-2", Name: "stage", Admin: "bob"}}, l.roomList())
}

func TestLobbyRoutesToRoom(t *testing.T) {
	t.Parallel()
	l, factory, idgen := newTestLobby(t)
	idgen.On("Generate").Return("room-1").Once()

	alice := loggedIn(t, l, "c1", "alice")
	bob := loggedIn(t, l, "c2", "bob")
	l.handleCommand(alice, Command{Type: MsgCreateRoom, Room: "stage"})
	alice.drain()
	bob.drain()
	stage := factory.get("stage")

	l.handleCommand(bob, Command{Type: MsgJoinRoom, Room: "stage", Identity: "alice"})
	stage.AssertCalled(t, "Send", mock.MatchedBy(func(cmd Command) bool {
		return cmd.Type == MsgJoinRoom && cmd.Identity == "bob" && cmd.from == bob
	}))

	l.handleCommand(bob, Command{Type: MsgStartScene, Room: "nowhere"})
	assert.Equal(t, ErrorPayload{Kind: KindNotFound, Message: "room-not-found"}, errorOf(t, bob.drain()))

	anon := newMember("c3")
	l.handleConnect(anon, "")
	l.handleCommand(anon, Command{Type: MsgJoinRoom, Room: "stage"})
	assert.Equal(t, KindUnauthorized, errorOf(t, anon.drain()).Kind)

	// commands from unknown connections are dropped
	ghost := newMember("ghost")
	l.handleCommand(ghost, Command{Type: MsgListRooms})
	assert.Empty(t, ghost.drain())

	l.handleCommand(bob, Command{Type: MsgListRooms})
	assert.Equal(t, []RoomSummary{{Id: "room-1", Name: "stage", Admin: "alice"}}, lastOf[RoomsPayload](t, bob.drain(), OutRooms).Rooms)
}

func TestLobbyRouteToClosedRoom(t *testing.T) {
	t.Parallel()
	l, factory, idgen := newTestLobby(t)
	factory.send = false
	idgen.On("Generate").Return("room-1").Once()

	alice := loggedIn(t, l, "c1", "alice")
	l.handleCommand(alice, Command{Type: MsgCreateRoom, Room: "stage"})
	alice.drain()

	l.handleCommand(alice, Command{Type: MsgJoinRoom, Room: "stage"})
	assert.Equal(t, KindNotFound, errorOf(t, alice.drain()).Kind)
}

func TestLobbyDisconnectLeavesRooms(t *testing.T) {
	t.Parallel()
	l, factory, idgen := newTestLobby(t)
	idgen.On("Generate").Return("room-1").Once()
	idgen.On("Generate").Return("room-2").Once()

	alice := loggedIn(t, l, "c1", "alice")
	bob := loggedIn(t, l, "c2", "bob")
	l.handleCommand(alice, Command{Type: MsgCreateRoom, Room: "stage"})
	l.handleCommand(bob, Command{Type: MsgCreateRoom, Room: "balcony"})

	l.handleDisconnect(bob)

	for _, name := range []string{"stage", "balcony"} {
		factory.get(name).AssertCalled(t, "Send", mock.MatchedBy(func(cmd Command) bool {
			return cmd.Type == msgDisconnect && cmd.from == bob && cmd.Identity == "bob"
		}))
	}
	// rooms outlive their admin's connection
	assert.Len(t, l.roomList(), 2)
}

func TestLobbyDescriptionUpdates(t *testing.T) {
	t.Parallel()
	l, _, idgen := newTestLobby(t)
	idgen.On("Generate").Return("room-1").Once()

	alice := loggedIn(t, l, "c1", "alice")
	l.handleCommand(alice, Command{Type: MsgCreateRoom, Room: "stage"})
	alice.drain()

	l.handleDescriptionUpdate(RoomSummary{Id: "old-room", Name: "stage", Admin: "alice", Members: 9})
	l.handleDescriptionUpdate(RoomSummary{Id: "room-9", Name: "elsewhere", Admin: "alice"})
	assert.Empty(t, alice.drain())

	update := RoomSummary{Id: "room-1", Name: "stage", Admin: "alice", Members: 1, ScriptId: "solo", Active: true}
	l.handleDescriptionUpdate(update)
	assert.Equal(t, []RoomSummary{update}, lastOf[RoomsPayload](t, alice.drain(), OutRooms).Rooms)

	l.handleDescriptionUpdate(update)
	assert.Empty(t, alice.drain())
}

func TestLobbyCoalescesDescriptionUpdates(t *testing.T) {
	t.Parallel()
	l, _, idgen := newTestLobby(t)
	idgen.On("Generate").Return("room-1").Once()
	idgen.On("Generate").Return("room-2").Once()

	alice := loggedIn(t, l, "c1", "alice")
	bob := loggedIn(t, l, "c2", "bob")
	l.handleCommand(alice, Command{Type: MsgCreateRoom, Room: "stage"})
	l.handleCommand(bob, Command{Type: MsgCreateRoom, Room: "wings"})
	alice.drain()

	// far more updates than the actor could queue, none may be lost
	for i := 1; i <= 1000; i++ {
		l.RequestUpdateDescription(RoomSummary{Id: "room-1", Name: "stage", Admin: "alice", Members: i})
	}
	l.RequestUpdateDescription(RoomSummary{Id: "room-2", Name: "wings", Admin: "bob", Active: true})
	assert.Len(t, l.descReady, 1)

	<-l.descReady
	l.flushDescriptionUpdates()

	got := alice.drain()
	require.Equal(t, []string{OutRooms}, types(got))
	assert.Equal(t, []RoomSummary{
		{Id: "room-1", Name: "stage", Admin: "alice", Members: 1000},
		{Id: "room-2", Name: "wings", Admin: "bob", Active: true},
	}, decodeAs[RoomsPayload](t, got[0]).Rooms)

	l.flushDescriptionUpdates()
	assert.Empty(t, alice.drain())
}

func TestLobbyActor(t *testing.T) {
	t.Parallel()

	factory := &mockRoomFactory{rooms: map[string]*MockRoom{}, send: true}
	idgen := &MockUniqueIdGenerator{}
	idgen.On("Generate").Return("room-1").Once()
	tickerCreator := &MockPeriodicTickerChannelCreator{}
	pingTicker := make(chan time.Time)
	tickerCreator.On("Create", time.Second*30).Return(pingTicker)

	l := NewLobby(testCatalog(), factory.create, idgen, tickerCreator)
	started := make(chan struct{})
	go l.LobbyActor(started)
	<-started

	alice := newMember("c1")
	l.Connect(alice, "alice")
	l.Submit(alice, Command{Type: MsgLogin})
	alice.waitFor(t, OutScriptListFull)

	l.Submit(alice, Command{Type: MsgCreateRoom, Room: "stage"})
	rooms := decodeAs[RoomsPayload](t, alice.waitFor(t, OutRooms))
	assert.Equal(t, []RoomSummary{{Id: "room-1", Name: "stage", Admin: "alice"}}, rooms.Rooms)
	assert.Equal(t, rooms.Rooms, l.ListRooms())

	// updates reach the actor without blocking the caller
	l.RequestUpdateDescription(RoomSummary{Id: "room-1", Name: "stage", Admin: "alice", Members: 1})
	rooms = decodeAs[RoomsPayload](t, alice.waitFor(t, OutRooms))
	assert.Equal(t, 1, rooms.Rooms[0].Members)

	pingTicker <- time.Now()
	require.Eventually(t, func() bool { return alice.pingCount() == 1 }, time.Second, time.Millisecond)

	l.Stop()
	factory.get("stage").AssertCalled(t, "Close")
	assert.Nil(t, l.ListRooms())

	// everything is a no-op once stopped
	l.Submit(alice, Command{Type: MsgListRooms})
	l.Disconnect(alice)
	l.Stop()
	tickerCreator.AssertExpectations(t)
}
