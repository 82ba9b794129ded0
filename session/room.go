package session

import (
	"scriptroom/domain"
	"sort"

	"github.com/rs/zerolog/log"
)

type playback struct {
	active    bool
	finished  bool
	lineIndex int
	charIndex int
}

type room struct {
	// Identity
	id    string
	name  string
	admin string

	// Collaborators
	parent   DescriptionUpdater
	catalog  ScriptCatalog
	timers   TimerFactory
	defaults domain.Timing

	// Membership: connection id -> member / identity
	members map[string]Member
	names   map[string]string

	// Script and cast
	script *domain.Script
	lines  [][]rune
	timing domain.Timing
	cast   castTable

	// Playback
	playback   playback
	timer      Timer
	generation uint64

	// Communication
	inbox     chan Command
	ticks     chan uint64
	closeReqs chan chan struct{}
	done      chan struct{}
}

func NewRoom(id, name, admin string, parent DescriptionUpdater, catalog ScriptCatalog, timers TimerFactory, defaults domain.Timing) *room {
	return &room{
		id:        id,
		name:      name,
		admin:     admin,
		parent:    parent,
		catalog:   catalog,
		timers:    timers,
		defaults:  defaults,
		timing:    defaults,
		members:   make(map[string]Member),
		names:     make(map[string]string),
		cast:      castTable{},
		inbox:     make(chan Command, 256),
		ticks:     make(chan uint64, 4),
		closeReqs: make(chan chan struct{}),
		done:      make(chan struct{}),
	}
}

// NewRoomFactory returns the factory the lobby uses for real rooms.
func NewRoomFactory(catalog ScriptCatalog, timers TimerFactory, defaults domain.Timing) RoomFactory {
	return func(id, name, admin string, parent DescriptionUpdater) Room {
		return NewRoom(id, name, admin, parent, catalog, timers, defaults)
	}
}

func (r *room) Id() string    { return r.id }
func (r *room) Name() string  { return r.name }
func (r *room) Admin() string { return r.admin }

func (r *room) description() RoomSummary {
	desc := RoomSummary{
		Id:      r.id,
		Name:    r.name,
		Admin:   r.admin,
		Members: len(r.members),
		Active:  r.playback.active,
	}
	if r.script != nil {
		desc.ScriptId = r.script.Id
	}
	return desc
}

func (r *room) publishDescription() {
	if r.parent != nil {
		r.parent.RequestUpdateDescription(r.description())
	}
}

func (r *room) broadcast(data []byte) {
	for _, m := range r.members {
		m.Send(data)
	}
}

func (r *room) hasIdentity(identity string) bool {
	for _, name := range r.names {
		if name == identity {
			return true
		}
	}
	return false
}

func (r *room) memberViews() []MemberView {
	views := make([]MemberView, 0, len(r.names))
	for id, name := range r.names {
		views = append(views, MemberView{Id: id, Name: name})
	}
	sort.Slice(views, func(i, j int) bool {
		if views[i].Name != views[j].Name {
			return views[i].Name < views[j].Name
		}
		return views[i].Id < views[j].Id
	})
	return views
}

func (r *room) roomStatePacket() []byte {
	return encode(OutRoomState, RoomStatePayload{Room: r.name, Users: r.memberViews(), Admin: r.admin})
}

func (r *room) scriptSelectedPacket() []byte {
	payload := ScriptSelectedPayload{
		Room:       r.name,
		ScriptData: r.script,
		Timing:     timingView(r.timing),
		Admin:      r.admin,
	}
	if r.script != nil {
		payload.ScriptId = r.script.Id
	}
	return encode(OutScriptSelected, payload)
}

func (r *room) assignmentsPacket() []byte {
	return encode(OutCharacterAssignments, AssignmentsPayload{Room: r.name, Assignments: r.cast.snapshot()})
}

func (r *room) snapshotPacket() []byte {
	return encode(OutPlaybackSnapshot, PlaybackSnapshotPayload{
		Room:      r.name,
		Active:    r.playback.active,
		Finished:  r.playback.finished,
		LineIndex: r.playback.lineIndex,
		CharIndex: r.playback.charIndex,
	})
}

func (r *room) handleCommand(cmd Command) error {
	switch cmd.Type {
	case MsgJoinRoom:
		r.handleJoin(cmd)
		return nil
	case MsgLeaveRoom, msgDisconnect:
		r.handleLeave(cmd)
		return nil
	}

	if cmd.from == nil || r.members[cmd.from.Id()] == nil {
		return ErrNotMember
	}

	switch cmd.Type {
	case MsgSelectScript:
		return r.handleSelectScript(cmd)
	case MsgAssignCharacter:
		r.handleAssign(cmd)
	case MsgUnassignCharacter:
		r.handleUnassign(cmd)
	case MsgResetAssignments:
		return r.handleResetAssignments(cmd)
	case MsgStartScene:
		return r.startScene()
	case MsgStopScene:
		r.stopScene()
	case MsgEndScene:
		r.endScene()
	default:
		return ErrUnknownMessage
	}
	return nil
}

// handleJoin adds the connection and sends it everything needed to render
// the room as it is right now, including live playback progress.
func (r *room) handleJoin(cmd Command) {
	m := cmd.from
	if m == nil {
		return
	}

	_, already := r.members[m.Id()]
	r.members[m.Id()] = m
	r.names[m.Id()] = cmd.Identity

	if already {
		m.Send(r.roomStatePacket())
	} else {
		r.broadcast(r.roomStatePacket())
		log.Info().Str("room", r.name).Str("identity", cmd.Identity).Str("conn", m.Id()).Msg("member joined")
	}

	if r.script != nil {
		m.Send(r.scriptSelectedPacket())
	}
	m.Send(r.assignmentsPacket())
	m.Send(r.snapshotPacket())

	if !already {
		r.publishDescription()
	}
}

// handleLeave removes the connection. Claims are released once the identity
// has no connection left in the room.
func (r *room) handleLeave(cmd Command) {
	if cmd.from == nil {
		return
	}
	id := cmd.from.Id()
	identity, ok := r.names[id]
	if !ok {
		return
	}

	delete(r.members, id)
	delete(r.names, id)
	log.Info().Str("room", r.name).Str("identity", identity).Str("conn", id).Msg("member left")

	r.broadcast(r.roomStatePacket())
	if !r.hasIdentity(identity) && r.cast.releaseAll(identity) {
		r.broadcast(r.assignmentsPacket())
	}
	r.publishDescription()
}

func (r *room) handleSelectScript(cmd Command) error {
	if cmd.Identity != r.admin {
		return ErrNotAdmin
	}

	var script *domain.Script
	if cmd.ScriptId != "" {
		s, ok := r.catalog.Find(cmd.ScriptId)
		if !ok {
			return ErrScriptNotFound
		}
		script = s
	}

	wasActive := r.resetPlayback()
	r.cast.reset()
	r.setScript(script)

	if wasActive {
		r.broadcast(encode(OutSceneStopped, RoomRefPayload{Room: r.name}))
	}
	r.broadcast(r.scriptSelectedPacket())
	r.broadcast(r.assignmentsPacket())
	r.publishDescription()
	return nil
}

func (r *room) setScript(script *domain.Script) {
	r.script = script
	r.lines = nil
	r.timing = r.defaults
	if script == nil {
		return
	}
	r.timing = script.Timing.Resolve(r.defaults)
	r.lines = make([][]rune, len(script.Lines))
	for i, line := range script.Lines {
		r.lines[i] = []rune(line.Text)
	}
}

func (r *room) handleAssign(cmd Command) {
	if r.cast.assign(r.script, cmd.Character, cmd.Identity) {
		r.broadcast(r.assignmentsPacket())
	}
}

func (r *room) handleUnassign(cmd Command) {
	if r.cast.unassign(cmd.Character, cmd.Identity) {
		r.broadcast(r.assignmentsPacket())
	}
}

func (r *room) handleResetAssignments(cmd Command) error {
	if cmd.Identity != r.admin {
		return ErrNotAdmin
	}
	r.cast.reset()
	r.broadcast(r.assignmentsPacket())
	return nil
}

// handleClose is the last thing a room does: members are told the room is
// gone and forgotten, and no timer survives.
func (r *room) handleClose() {
	r.cancelTimer()
	r.playback = playback{}

	r.broadcast(encode(OutRoomDeleted, RoomRefPayload{Room: r.name}))
	clear(r.members)
	clear(r.names)
	log.Info().Str("room", r.name).Msg("room closed")
}
