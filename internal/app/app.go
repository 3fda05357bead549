package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"example.com/mafia/internal/auth"
	"example.com/mafia/internal/config"
	"example.com/mafia/internal/game"
	"example.com/mafia/internal/httpapi"
	"example.com/mafia/internal/media"
	"example.com/mafia/internal/monitor"
	"example.com/mafia/internal/store"
	"example.com/mafia/internal/ws"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"
)

type App struct {
	cfg config.Config
	log *slog.Logger

	mongo *mongo.Client

	srv *http.Server
}

func New(ctx context.Context, cfg config.Config, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.Default()
	}

	// --- Mongo ---
	client, err := store.Connect(ctx, cfg.Mongo.URI)
	if err != nil {
		return nil, err
	}
	db := client.Database(cfg.Mongo.Database)

	// --- Stores ---
	users := store.NewUserStore(db)
	games := store.NewGameStore(db)
	messages := store.NewMessageStore(db)
	if err := users.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("user indexes: %w", err)
	}

	// --- Services ---
	authSvc := auth.NewService([]byte(cfg.Auth.Secret))
	gameSvc := game.NewService(games, game.Timers{
		SpeakTime: cfg.Game.SpeakTime,
		VotesTime: cfg.Game.VotesTime,
	})
	mediaSvc := media.NewClient(cfg.LiveKit.URL, cfg.LiveKit.APIKey, cfg.LiveKit.APISecret, cfg.LiveKit.TokenTTL)

	// --- Metrics ---
	reg := prometheus.NewRegistry()
	mon := monitor.New("mafia", reg)

	// --- Realtime layer ---
	hub := ws.NewHub()
	presence := ws.NewPresence()
	wsSrv := ws.NewServer(ws.Deps{
		Log:      log,
		Hub:      hub,
		Presence: presence,
		Games:    gameSvc,
		Messages: messages,
		Media:    mediaSvc,
		Verifier: authSvc,
		Monitor:  mon,
	})

	// --- HTTP surface ---
	requireAuth := httpapi.AuthMiddleware(authSvc)

	authH := &httpapi.AuthHandler{Users: users, Auth: authSvc, TokenTTL: cfg.Auth.TokenTTL}
	gameH := &httpapi.GameHandler{Games: gameSvc, Notify: wsSrv}
	msgH := &httpapi.MessageHandler{Messages: messages}
	mediaH := &httpapi.MediaHandler{Media: mediaSvc}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	wsSrv.RegisterRoutes(mux)

	mux.HandleFunc("POST /api/auth/register", authH.Register)
	mux.HandleFunc("POST /api/auth/login", authH.Login)
	mux.Handle("GET /api/me", requireAuth(http.HandlerFunc(authH.Me)))

	gameH.RegisterRoutes(mux, requireAuth)
	msgH.RegisterRoutes(mux, requireAuth)
	mediaH.RegisterRoutes(mux, requireAuth)

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           mux,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}

	return &App{cfg: cfg, log: log, mongo: client, srv: srv}, nil
}

func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	a.log.Info("http server starting", "addr", a.cfg.HTTP.Addr)

	g.Go(func() error {
		err := a.srv.ListenAndServe()
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
		defer cancel()
		a.log.Info("http server shutting down")
		_ = a.srv.Shutdown(shutdownCtx)
		return nil
	})

	err := g.Wait()
	_ = a.Close(context.Background())
	return err
}

func (a *App) Close(ctx context.Context) error {
	// best-effort
	if a.mongo != nil {
		_ = a.mongo.Disconnect(ctx)
	}
	return nil
}
