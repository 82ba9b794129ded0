package session

import (
	"net/http"
	"scriptroom/auth"
	"slices"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type sessionHandler struct {
	registry       Registry
	userGetter     UserGetter
	allowedOrigins []string
}

func NewSessionHandler(registry Registry, userGetter UserGetter, allowedOrigins []string) *sessionHandler {
	return &sessionHandler{
		registry:       registry,
		userGetter:     userGetter,
		allowedOrigins: allowedOrigins,
	}
}

func (h *sessionHandler) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return slices.Contains(h.allowedOrigins, r.Header.Get("Origin"))
		},
	}
}

// ConnectHandler upgrades the request to a session socket. Behind the auth
// middleware the connection is bound to the account's username; without it
// the client names itself with a login message.
func (h *sessionHandler) ConnectHandler(ctx *gin.Context) {
	identity := ""

	if id := ctx.GetString(auth.ContextUserIdKey); id != "" {
		user, err := h.userGetter.GetUserById(ctx.Request.Context(), id)
		if err != nil {
			log.Error().Err(err).Str("id", id).Str("ip", ctx.ClientIP()).Msg("resolving session user")
			ctx.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "unknown-error"})
			return
		}
		identity = user.Username
	}

	upgrader := h.upgrader()
	conn, err := upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		log.Warn().Err(err).Str("ip", ctx.ClientIP()).Msg("websocket upgrade failed")
		return
	}

	client := NewClient(NewWebsocketConnection(conn))
	h.registry.Connect(client, identity)

	log.Info().Str("conn", client.Id()).Str("identity", identity).Str("ip", ctx.ClientIP()).Msg("client connected")

	go client.WritePump()
	go client.ReadPump(h.registry)
}
