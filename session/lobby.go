package session

import (
	"errors"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
)

const (
	maxRoomNameLength = 64
	maxIdentityLength = 32
	pingInterval      = 30 * time.Second
)

type clientSession struct {
	member       Member
	authIdentity string
	identity     string
}

// incoming carries every event of a connection on one channel so that the
// lobby sees them in the order the connection produced them.
type incoming struct {
	from Member
	cmd  Command
}

// Lobby is the session registry. Its maps are only touched by the
// LobbyActor goroutine.
type Lobby struct {
	rooms        map[string]Room
	order        []string
	descriptions map[string]RoomSummary
	admins       map[string]string

	sessions map[string]*clientSession
	presence map[string]int

	catalog       ScriptCatalog
	newRoom       RoomFactory
	idGenerator   UniqueIdGenerator
	tickerCreator PeriodicTickerChannelCreator

	// Room descriptions are coalesced by room id; the actor is woken
	// through descReady and takes the latest one of each room.
	pendingMu    sync.Mutex
	pendingDescs map[string]RoomSummary
	descReady    chan struct{}

	inbox    chan incoming
	roomsReq chan chan []RoomSummary
	stopReq        chan struct{}
	done           chan struct{}
}

func NewLobby(catalog ScriptCatalog, newRoom RoomFactory, idgen UniqueIdGenerator, tickerCreator PeriodicTickerChannelCreator) *Lobby {
	return &Lobby{
		rooms:          make(map[string]Room),
		descriptions:   make(map[string]RoomSummary),
		admins:         make(map[string]string),
		sessions:       make(map[string]*clientSession),
		presence:       make(map[string]int),
		catalog:        catalog,
		newRoom:        newRoom,
		idGenerator:    idgen,
		tickerCreator:  tickerCreator,
		pendingDescs:   make(map[string]RoomSummary),
		descReady:      make(chan struct{}, 1),
		inbox:          make(chan incoming, 1024),
		roomsReq:       make(chan chan []RoomSummary, 16),
		stopReq:        make(chan struct{}),
		done:           make(chan struct{}),
	}
}

// Connect registers a transport. authIdentity is the verified username, or
// empty when the connection will name itself at login.
func (l *Lobby) Connect(m Member, authIdentity string) {
	l.post(m, Command{Type: msgConnect, Identity: authIdentity})
}

func (l *Lobby) Submit(m Member, cmd Command) {
	l.post(m, cmd)
}

func (l *Lobby) Disconnect(m Member) {
	l.post(m, Command{Type: msgDisconnect})
}

func (l *Lobby) post(m Member, cmd Command) {
	select {
	case l.inbox <- incoming{from: m, cmd: cmd}:
	case <-l.done:
	}
}

// RequestUpdateDescription never blocks. A newer description of the same
// room replaces one the actor has not picked up yet.
func (l *Lobby) RequestUpdateDescription(desc RoomSummary) {
	l.pendingMu.Lock()
	l.pendingDescs[desc.Id] = desc
	l.pendingMu.Unlock()

	select {
	case l.descReady <- struct{}{}:
	default:
	}
}

// ListRooms returns the current room list, or nil once the lobby stopped.
func (l *Lobby) ListRooms() []RoomSummary {
	resp := make(chan []RoomSummary, 1)
	select {
	case l.roomsReq <- resp:
	case <-l.done:
		return nil
	}
	select {
	case rooms := <-resp:
		return rooms
	case <-l.done:
		return nil
	}
}

// Stop closes every room and ends the actor.
func (l *Lobby) Stop() {
	select {
	case l.stopReq <- struct{}{}:
		<-l.done
	case <-l.done:
	}
}

func (l *Lobby) LobbyActor(started chan struct{}) {
	defer close(l.done)
	pingTicker := l.tickerCreator.Create(pingInterval)

	close(started)

	for {
		select {
		case in := <-l.inbox:
			switch in.cmd.Type {
			case msgConnect:
				l.handleConnect(in.from, in.cmd.Identity)
			case msgDisconnect:
				l.handleDisconnect(in.from)
			default:
				l.handleCommand(in.from, in.cmd)
			}

		case <-l.descReady:
			l.flushDescriptionUpdates()

		case resp := <-l.roomsReq:
			resp <- l.roomList()

		case <-pingTicker:
			for _, s := range l.sessions {
				s.member.Ping()
			}

		case <-l.stopReq:
			l.handleStop()
			return
		}
	}
}

func (l *Lobby) handleConnect(m Member, authIdentity string) {
	l.sessions[m.Id()] = &clientSession{member: m, authIdentity: authIdentity}
}

// handleDisconnect releases presence and every room membership held by the
// connection.
func (l *Lobby) handleDisconnect(m Member) {
	s, ok := l.sessions[m.Id()]
	if !ok {
		return
	}
	delete(l.sessions, m.Id())

	for _, r := range l.rooms {
		r.Send(Command{Type: msgDisconnect, Identity: s.identity, from: m})
	}

	if s.identity == "" {
		return
	}
	l.presence[s.identity]--
	if l.presence[s.identity] <= 0 {
		delete(l.presence, s.identity)
		l.broadcastActiveUsers()
	}
	log.Info().Str("identity", s.identity).Str("conn", m.Id()).Msg("disconnected")
}

func (l *Lobby) handleCommand(m Member, cmd Command) {
	s, ok := l.sessions[m.Id()]
	if !ok {
		return
	}

	var err error
	switch cmd.Type {
	case MsgLogin:
		err = l.handleLogin(s, cmd.Identity)
	case MsgListRooms:
		m.Send(l.roomsPacket())
	case MsgCreateRoom:
		err = l.handleCreateRoom(s, cmd.Room)
	case MsgDeleteRoom:
		err = l.handleDeleteRoom(s, cmd.Room)
		if errors.Is(err, ErrRoomNotFound) {
			// deleting a room that is already gone is not an error
			err = nil
		}
	default:
		err = l.handleRoute(s, cmd)
	}

	if err != nil {
		m.Send(encodeError(err))
	}
}

func validIdentity(identity string) bool {
	n := utf8.RuneCountInString(identity)
	return n > 0 && n <= maxIdentityLength
}

func (l *Lobby) handleLogin(s *clientSession, requested string) error {
	identity := s.authIdentity
	if identity == "" {
		identity = strings.TrimSpace(requested)
		if !validIdentity(identity) {
			return ErrInvalidIdentity
		}
	}

	switch s.identity {
	case "":
		s.identity = identity
		l.presence[identity]++
		log.Info().Str("identity", identity).Str("conn", s.member.Id()).Msg("logged in")
		if l.presence[identity] == 1 {
			l.broadcastActiveUsers()
		} else {
			s.member.Send(l.activeUsersPacket())
		}
	case identity:
		s.member.Send(l.activeUsersPacket())
	default:
		return ErrAlreadyLoggedIn
	}

	s.member.Send(l.roomsPacket())
	s.member.Send(encode(OutScriptListFull, ScriptListPayload{Scripts: l.catalog.ListAll()}))
	return nil
}

func validRoomName(name string) bool {
	n := utf8.RuneCountInString(name)
	return n > 0 && n <= maxRoomNameLength
}

func (l *Lobby) handleCreateRoom(s *clientSession, name string) error {
	if s.identity == "" {
		return ErrUnauthenticated
	}
	name = strings.TrimSpace(name)
	if !validRoomName(name) {
		return ErrInvalidRoomName
	}
	if _, taken := l.rooms[name]; taken {
		return ErrNameTaken
	}
	if _, owns := l.admins[s.identity]; owns {
		return ErrAdminAlreadyOwnsRoom
	}

	id := l.idGenerator.Generate()
	r := l.newRoom(id, name, s.identity, l)

	l.rooms[name] = r
	l.order = append(l.order, name)
	l.admins[s.identity] = name
	l.descriptions[name] = RoomSummary{Id: id, Name: name, Admin: s.identity}

	go r.Run()

	log.Info().Str("room", name).Str("admin", s.identity).Msg("room created")
	l.broadcastRooms()
	return nil
}

func (l *Lobby) handleDeleteRoom(s *clientSession, name string) error {
	if s.identity == "" {
		return ErrUnauthenticated
	}
	name = strings.TrimSpace(name)
	r, ok := l.rooms[name]
	if !ok {
		return ErrRoomNotFound
	}
	if r.Admin() != s.identity {
		return ErrNotAdmin
	}

	r.Close()
	l.removeRoom(name, r.Admin())

	log.Info().Str("room", name).Str("admin", s.identity).Msg("room deleted")
	l.broadcastRooms()
	return nil
}

func (l *Lobby) removeRoom(name, admin string) {
	delete(l.rooms, name)
	delete(l.descriptions, name)
	delete(l.admins, admin)
	l.order = slices.DeleteFunc(l.order, func(n string) bool { return n == name })
}

func (l *Lobby) handleRoute(s *clientSession, cmd Command) error {
	if s.identity == "" {
		return ErrUnauthenticated
	}
	r, ok := l.rooms[cmd.Room]
	if !ok {
		return ErrRoomNotFound
	}

	cmd.Identity = s.identity
	cmd.from = s.member
	if !r.Send(cmd) {
		return ErrRoomNotFound
	}
	return nil
}

func (l *Lobby) flushDescriptionUpdates() {
	l.pendingMu.Lock()
	pending := l.pendingDescs
	l.pendingDescs = make(map[string]RoomSummary)
	l.pendingMu.Unlock()

	changed := false
	for _, desc := range pending {
		if l.applyDescription(desc) {
			changed = true
		}
	}
	if changed {
		l.broadcastRooms()
	}
}

func (l *Lobby) handleDescriptionUpdate(desc RoomSummary) {
	if l.applyDescription(desc) {
		l.broadcastRooms()
	}
}

// applyDescription ignores updates from rooms that were deleted (or
// replaced by a new room with the same name) in the meantime.
func (l *Lobby) applyDescription(desc RoomSummary) bool {
	r, ok := l.rooms[desc.Name]
	if !ok || r.Id() != desc.Id {
		return false
	}
	if l.descriptions[desc.Name] == desc {
		return false
	}
	l.descriptions[desc.Name] = desc
	return true
}

func (l *Lobby) handleStop() {
	for name, r := range l.rooms {
		r.Close()
		l.removeRoom(name, r.Admin())
	}
	log.Info().Msg("lobby stopped")
}

func (l *Lobby) roomList() []RoomSummary {
	out := make([]RoomSummary, 0, len(l.order))
	for _, name := range l.order {
		out = append(out, l.descriptions[name])
	}
	return out
}

func (l *Lobby) roomsPacket() []byte {
	return encode(OutRooms, RoomsPayload{Rooms: l.roomList()})
}

func (l *Lobby) activeUsersPacket() []byte {
	users := make([]string, 0, len(l.presence))
	for identity := range l.presence {
		users = append(users, identity)
	}
	sort.Strings(users)
	return encode(OutActiveUsers, ActiveUsersPayload{Users: users})
}

func (l *Lobby) broadcastLoggedIn(data []byte) {
	for _, s := range l.sessions {
		if s.identity != "" {
			s.member.Send(data)
		}
	}
}

func (l *Lobby) broadcastRooms() {
	l.broadcastLoggedIn(l.roomsPacket())
}

func (l *Lobby) broadcastActiveUsers() {
	l.broadcastLoggedIn(l.activeUsersPacket())
}
