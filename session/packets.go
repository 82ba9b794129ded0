package session

import (
	"scriptroom/domain"
	"strings"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/unicode/norm"
)

// Inbound message types.
const (
	MsgLogin             = "login"
	MsgListRooms         = "listRooms"
	MsgCreateRoom        = "createRoom"
	MsgDeleteRoom        = "deleteRoom"
	MsgJoinRoom          = "joinRoom"
	MsgLeaveRoom         = "leaveRoom"
	MsgSelectScript      = "selectScript"
	MsgAssignCharacter   = "assignCharacter"
	MsgUnassignCharacter = "unassignCharacter"
	MsgResetAssignments  = "resetAssignments"
	MsgStartScene        = "startScene"
	MsgStopScene         = "stopScene"
	MsgEndScene          = "endScene"

	// Never decoded from the wire; the lobby synthesizes these when a
	// transport comes and goes.
	msgConnect    = "connect"
	msgDisconnect = "disconnect"
)

// Outbound message types.
const (
	OutRooms                = "rooms"
	OutActiveUsers          = "activeUsers"
	OutScriptListFull       = "scriptListFull"
	OutRoomState            = "roomState"
	OutScriptSelected       = "scriptSelected"
	OutCharacterAssignments = "characterAssignments"
	OutSceneStarted         = "sceneStarted"
	OutLineProgress         = "lineProgress"
	OutSceneFinished        = "sceneFinished"
	OutSceneStopped         = "sceneStopped"
	OutPlaybackSnapshot     = "playbackSnapshot"
	OutRoomDeleted          = "roomDeleted"
	OutErrorMessage         = "errorMessage"
)

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Command is a decoded client request. Identity is overwritten by the lobby
// with the session identity before a command reaches a room.
type Command struct {
	Type      string
	Room      string
	Identity  string
	ScriptId  string
	Character string

	from Member
}

type commandData struct {
	Identity  string `json:"identity"`
	Room      string `json:"room"`
	RoomName  string `json:"roomName"`
	ScriptId  string `json:"scriptId"`
	Character string `json:"character"`
}

var knownCommands = map[string]bool{
	MsgLogin:             true,
	MsgListRooms:         true,
	MsgCreateRoom:        true,
	MsgDeleteRoom:        true,
	MsgJoinRoom:          true,
	MsgLeaveRoom:         true,
	MsgSelectScript:      true,
	MsgAssignCharacter:   true,
	MsgUnassignCharacter: true,
	MsgResetAssignments:  true,
	MsgStartScene:        true,
	MsgStopScene:         true,
	MsgEndScene:          true,
}

// DecodeCommand parses one websocket frame. "room" and "roomName" are
// accepted interchangeably. Character names are put in NFC to match the
// catalog.
func DecodeCommand(raw []byte) (Command, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Command{}, ErrMalformedMessage
	}
	if !knownCommands[env.Type] {
		return Command{}, ErrUnknownMessage
	}

	var data commandData
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return Command{}, ErrMalformedMessage
		}
	}

	room := data.Room
	if room == "" {
		room = data.RoomName
	}

	return Command{
		Type:      env.Type,
		Room:      strings.TrimSpace(room),
		Identity:  data.Identity,
		ScriptId:  data.ScriptId,
		Character: norm.NFC.String(strings.TrimSpace(data.Character)),
	}, nil
}

func encode(msgType string, data any) []byte {
	payload, err := json.Marshal(data)
	if err != nil {
		log.Error().Err(err).Str("type", msgType).Msg("encoding outbound message")
		return nil
	}
	out, err := json.Marshal(envelope{Type: msgType, Data: payload})
	if err != nil {
		log.Error().Err(err).Str("type", msgType).Msg("encoding outbound envelope")
		return nil
	}
	return out
}

// RoomSummary is the lobby's view of one room.
type RoomSummary struct {
	Id       string `json:"id"`
	Name     string `json:"name"`
	Admin    string `json:"admin"`
	Members  int    `json:"members"`
	ScriptId string `json:"scriptId,omitempty"`
	Active   bool   `json:"active"`
}

type MemberView struct {
	Id   string `json:"id"`
	Name string `json:"name"`
}

type TimingView struct {
	KaraokeStep      int   `json:"karaokeStep"`
	BaseDelay        int64 `json:"baseDelay"`
	PunctuationDelay int64 `json:"punctuationDelay"`
}

func timingView(t domain.Timing) TimingView {
	return TimingView{
		KaraokeStep:      t.KaraokeStep,
		BaseDelay:        t.BaseDelay.Milliseconds(),
		PunctuationDelay: t.PunctuationDelay.Milliseconds(),
	}
}

type RoomsPayload struct {
	Rooms []RoomSummary `json:"rooms"`
}

type ActiveUsersPayload struct {
	Users []string `json:"users"`
}

type ScriptListPayload struct {
	Scripts []*domain.Script `json:"scripts"`
}

type RoomStatePayload struct {
	Room  string       `json:"room"`
	Users []MemberView `json:"users"`
	Admin string       `json:"admin"`
}

type ScriptSelectedPayload struct {
	Room       string         `json:"room"`
	ScriptId   string         `json:"scriptId"`
	ScriptData *domain.Script `json:"scriptData"`
	Timing     TimingView     `json:"timing"`
	Admin      string         `json:"admin"`
}

type AssignmentsPayload struct {
	Room        string            `json:"room"`
	Assignments map[string]string `json:"assignments"`
}

type ProgressPayload struct {
	Room      string `json:"room"`
	LineIndex int    `json:"lineIndex"`
	CharIndex int    `json:"charIndex"`
}

type SceneStartedPayload struct {
	Room      string     `json:"room"`
	LineIndex int        `json:"lineIndex"`
	CharIndex int        `json:"charIndex"`
	Timing    TimingView `json:"timing"`
}

type PlaybackSnapshotPayload struct {
	Room      string `json:"room"`
	Active    bool   `json:"active"`
	Finished  bool   `json:"finished"`
	LineIndex int    `json:"lineIndex"`
	CharIndex int    `json:"charIndex"`
}

type RoomRefPayload struct {
	Room string `json:"room"`
}

type ErrorPayload struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

func encodeError(err error) []byte {
	return encode(OutErrorMessage, ErrorPayload{Kind: KindOf(err), Message: err.Error()})
}
