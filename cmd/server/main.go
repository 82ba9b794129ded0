package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"scriptroom/auth"
	"scriptroom/catalog"
	"scriptroom/config"
	"scriptroom/crypto"
	"scriptroom/domain"
	"scriptroom/logger"
	"scriptroom/migrations"
	"scriptroom/session"
	"scriptroom/storage"
	"slices"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type userStore interface {
	auth.UserRepo
	Close() error
}

func CreateServer(allowedOrigins []string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/health", func(ctx *gin.Context) { ctx.String(200, "healthy") })

	r.Use(func(ctx *gin.Context) {
		origin := ctx.Request.Header.Get("Origin")

		if slices.Contains(allowedOrigins, origin) {
			ctx.Next()
			return
		}
		ctx.String(http.StatusForbidden, "forbidden origin")
		ctx.Abort()
	})

	r.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowCredentials: true,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{
			"Content-Type",
			"Authorization",
			"Upgrade",
			"Connection",
			"Sec-WebSocket-Key",
			"Sec-WebSocket-Version",
			"Sec-WebSocket-Extensions",
			"Sec-WebSocket-Protocol",
		},
	}))

	return r
}

func openStore(ctx context.Context, cfg config.Config) (userStore, error) {
	switch cfg.StorageDriver {
	case config.DriverPostgres:
		if err := migrations.MigratePostgres(ctx, cfg.PostgresURL); err != nil {
			return nil, err
		}
		return storage.NewPostgresRepo(ctx, cfg.PostgresURL)
	default:
		return storage.OpenSQLite(ctx, cfg.SQLitePath)
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Setup("info", false)
		log.Fatal().Err(err).Msg("loading config")
	}
	logger.Setup(cfg.LogLevel, cfg.LogPretty)
	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Dependencies
	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.StorageDriver).Msg("opening user store")
	}
	defer store.Close()

	scripts, err := catalog.Load(os.DirFS(cfg.ScriptsDir))
	if err != nil {
		log.Fatal().Err(err).Str("dir", cfg.ScriptsDir).Msg("loading scripts")
	}
	log.Info().Int("scripts", len(scripts.ListAll())).Msg("catalog loaded")

	passwordHasher := crypto.NewArgon2idHasher(3, 1024*64, 32, 16, 1)
	tokenManager := crypto.NewJWTManager(cfg.JWTKey, cfg.TokenMaxAge)

	authService := auth.NewService(store, passwordHasher, tokenManager)
	authHandler := auth.NewAuthHandler(authService, cfg.TokenMaxAge)

	defaults := domain.Timing{
		KaraokeStep:      cfg.KaraokeStep,
		BaseDelay:        cfg.BaseDelay,
		PunctuationDelay: cfg.PunctuationDelay,
	}
	roomFactory := session.NewRoomFactory(scripts, session.NewTimerFactory(), defaults)
	lobby := session.NewLobby(scripts, roomFactory, session.NewIdGen(), session.NewTickerGen())

	lobbyStarted := make(chan struct{})
	go lobby.LobbyActor(lobbyStarted)
	<-lobbyStarted

	r := CreateServer(cfg.AllowedOrigins)

	{
		auth := r.Group("/auth")
		auth.POST("/signup", authHandler.SignupHandler)
		auth.POST("/login", authHandler.LoginHandler)
		auth.POST("/logout", authHandler.LogoutHandler)
		auth.GET("/refresh", authHandler.RefreshSessionHandler)
	}

	r.GET("/scripts", catalog.NewCatalogHandler(scripts).ListHandler)

	sessionHandler := session.NewSessionHandler(lobby, store, cfg.AllowedOrigins)
	if cfg.RequireAuth {
		r.GET("/ws", authHandler.RequireAuthMiddleware(time.Second*2), sessionHandler.ConnectHandler)
	} else {
		r.GET("/ws", sessionHandler.ConnectHandler)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Bool("require_auth", cfg.RequireAuth).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	lobby.Stop()
}
