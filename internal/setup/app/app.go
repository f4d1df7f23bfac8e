package app

import (
	"context"
	"fmt"
	"log"

	"latentsetup/internal/setup/config"
	"latentsetup/internal/setup/handler"
	"latentsetup/internal/setup/repository/latent"
	"latentsetup/internal/setup/server"
	"latentsetup/internal/setup/service/render"
	"latentsetup/internal/setup/service/session"
)

type App struct {
	server   *server.Server
	sessions *session.Manager
	stores   *setupStores
	summary  string
}

func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return NewWithConfig(cfg)
}

func NewWithConfig(cfg *config.Config) (*App, error) {
	// Dependencies
	client, err := latent.New(latent.Config{
		APIRoot: cfg.Latent.APIRoot,
		Timeout: cfg.Latent.Timeout,
		Retries: cfg.Latent.Retries,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init latent client: %w", err)
	}
	backend := latent.NewCachedClient(client, latent.CacheConfig{TTL: cfg.Latent.CacheTTL})
	log.Printf("latent backend: %s", cfg.Latent.APIRoot)

	stores, err := initStores(cfg)
	if err != nil {
		return nil, err
	}

	sessions := session.NewManager(backend, stores.session)
	renderSvc := render.New(stores.render)

	sessionHandler := handler.NewSessionHandler(sessions)
	sessionWSHandler := handler.NewSessionWSHandler(sessions)
	datasetHandler := handler.NewDatasetHandler(backend)
	renderHandler := handler.NewRenderHandler(renderSvc)

	// Routing & Server
	mux := server.NewMux(sessionHandler, sessionWSHandler, datasetHandler, renderHandler)
	srv := server.New(cfg.Port, mux)
	summary := fmt.Sprintf("port=%s latent=%s sessions=%s renders=%s",
		cfg.Port, cfg.Latent.APIRoot, stores.sessionLabel, stores.renderLabel)

	return &App{
		server:   srv,
		sessions: sessions,
		stores:   stores,
		summary:  summary,
	}, nil
}

// Summary names the listen port, backend and stores the app was built with.
func (a *App) Summary() string {
	return a.summary
}

func (a *App) Start() error {
	return a.server.Start()
}

func (a *App) Shutdown(ctx context.Context) error {
	err := a.server.Shutdown(ctx)
	a.sessions.Close()
	if cerr := a.stores.close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
