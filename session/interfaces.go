package session

import (
	"context"
	"scriptroom/domain"
	"time"
)

// Member is one connection as seen by the lobby and the rooms.
type Member interface {
	Id() string
	Send(data []byte)
	Ping()
}

type Room interface {
	Id() string
	Name() string
	Admin() string
	// Send queues a command; it reports false once the room has closed.
	Send(cmd Command) bool
	Run()
	// Close cancels playback, evicts members and stops Run. It returns
	// only after the room has stopped emitting events.
	Close()
}

// RoomFactory builds a room that is not running yet.
type RoomFactory func(id, name, admin string, parent DescriptionUpdater) Room

type DescriptionUpdater interface {
	RequestUpdateDescription(desc RoomSummary)
}

type ScriptCatalog interface {
	ListAll() []*domain.Script
	Find(id string) (*domain.Script, bool)
}

type Timer interface {
	Stop() bool
}

type TimerFactory interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type PeriodicTickerChannelCreator interface {
	Create(d time.Duration) <-chan time.Time
}

type UniqueIdGenerator interface {
	Generate() string
}

type UserGetter interface {
	GetUserById(ctx context.Context, id string) (domain.User, error)
}

type WebsocketConnection interface {
	Close(reason string)
	Write(data []byte) error
	Read() ([]byte, error)
	Ping() error
}

// Dispatcher receives what a client reads off its socket.
type Dispatcher interface {
	Submit(m Member, cmd Command)
	Disconnect(m Member)
}

// Registry is what the websocket handler needs from the lobby.
type Registry interface {
	Dispatcher
	Connect(m Member, authIdentity string)
}
