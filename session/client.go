package session

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	outboxSize     = 256
	messagesPerSec = 10
	messageBurst   = 20
)

// Client is one websocket connection. Writes go through a buffered outbox
// drained by WritePump so that rooms and the lobby never block on a socket.
type Client struct {
	id          string
	socket      WebsocketConnection
	rateLimiter *rate.Limiter
	outbox      chan []byte
	pingChan    chan struct{}
	closed      chan struct{}
	closeOnce   sync.Once
}

func NewClient(socket WebsocketConnection) *Client {
	return &Client{
		id:          uuid.NewString(),
		socket:      socket,
		rateLimiter: rate.NewLimiter(messagesPerSec, messageBurst),
		outbox:      make(chan []byte, outboxSize),
		pingChan:    make(chan struct{}, 1),
		closed:      make(chan struct{}),
	}
}

func (c *Client) Id() string { return c.id }

// Send never blocks. A client that cannot keep up with its outbox is dropped.
func (c *Client) Send(data []byte) {
	if data == nil {
		return
	}
	select {
	case <-c.closed:
		return
	default:
	}

	select {
	case c.outbox <- data:
	default:
		log.Warn().Str("conn", c.id).Msg("outbox full, dropping client")
		c.Release("slow-consumer")
	}
}

func (c *Client) Ping() {
	select {
	case c.pingChan <- struct{}{}:
	default:
	}
}

// Release closes the socket once. ReadPump then fails and reports the
// disconnect. It runs on the goroutine of whoever is sending, so the close
// handshake, which can wait behind a stuck write, happens in the background.
func (c *Client) Release(reason string) {
	c.closeOnce.Do(func() {
		close(c.closed)
		go c.socket.Close(reason)
	})
}

func (c *Client) ReadPump(dispatcher Dispatcher) {
	defer func() {
		dispatcher.Disconnect(c)
		c.Release("")
	}()

	for {
		data, err := c.socket.Read()
		if err != nil {
			log.Debug().Err(err).Str("conn", c.id).Msg("read pump stopped")
			return
		}

		if !c.rateLimiter.Allow() {
			log.Warn().Str("conn", c.id).Msg("rate limit exceeded")
			continue
		}

		cmd, err := DecodeCommand(data)
		if err != nil {
			c.Send(encodeError(err))
			continue
		}

		dispatcher.Submit(c, cmd)
	}
}

func (c *Client) WritePump() {
	defer c.Release("")

	for {
		select {
		case data := <-c.outbox:
			if err := c.socket.Write(data); err != nil {
				log.Debug().Err(err).Str("conn", c.id).Msg("write failed")
				return
			}
		case <-c.pingChan:
			if err := c.socket.Ping(); err != nil {
				return
			}
		case <-c.closed:
			return
		}
	}
}
