package app

import (
	"fmt"
	"log"
	"strings"

	rendercache "latentsetup/internal/cache/render"
	"latentsetup/internal/setup/config"
	renderrepo "latentsetup/internal/setup/repository/render"
	"latentsetup/internal/setup/repository/sessionstore"
)

type setupStores struct {
	session *sessionstore.Store
	render  renderrepo.Store
	disk    *renderrepo.DiskStore

	sessionLabel string
	renderLabel  string
}

func initStores(cfg *config.Config) (*setupStores, error) {
	sessions, label := sessionstore.Open(cfg.Session.PostgresDSN, cfg.Session.FilePath)
	log.Printf("session store: %s", label)

	fallback, fallbackLabel, err := localRenderStore(cfg)
	if err != nil {
		_ = sessions.Close()
		return nil, err
	}
	renders, err := chooseRenderStore(cfg, fallback, fallbackLabel, newRenderS3StoreFactory(cfg))
	if err != nil {
		_ = sessions.Close()
		return nil, err
	}
	renderLabel := fallbackLabel
	if cfg.Render.CanUseS3() {
		renderLabel = "s3 " + cfg.Render.Bucket
	}
	stores := &setupStores{
		session:      sessions,
		render:       renders,
		sessionLabel: label,
		renderLabel:  renderLabel,
	}
	if disk, ok := fallback.(*renderrepo.DiskStore); ok {
		stores.disk = disk
	}
	return stores, nil
}

func (s *setupStores) close() error {
	if s == nil {
		return nil
	}
	if s.disk != nil {
		if err := s.disk.Flush(); err != nil {
			log.Printf("render store: flush index failed: %v", err)
		}
	}
	return s.session.Close()
}

// localRenderStore is the disk store when a directory is configured, else memory.
func localRenderStore(cfg *config.Config) (renderrepo.Store, string, error) {
	dir := strings.TrimSpace(cfg.Render.DiskDir)
	if dir == "" {
		return renderrepo.NewMemoryStore(), "in-memory", nil
	}
	store, err := renderrepo.NewDiskStore(renderrepo.DiskConfig{Root: dir, MaxBytes: cfg.Render.DiskMaxBytes})
	if err != nil {
		return nil, "", fmt.Errorf("failed to initialize render disk store: %w", err)
	}
	return store, "disk " + dir, nil
}

func newRenderS3StoreFactory(cfg *config.Config) func() (renderrepo.Store, error) {
	return func() (renderrepo.Store, error) {
		s3Cfg := renderrepo.S3Config{
			Endpoint:  cfg.Render.Endpoint,
			Region:    cfg.Render.Region,
			AccessKey: cfg.Render.AccessKey,
			SecretKey: cfg.Render.SecretKey,
			Bucket:    cfg.Render.Bucket,
			UseSSL:    cfg.Render.UseSSL,
		}
		s3Store, err := renderrepo.NewS3Store(s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize render s3 store: %w", err)
		}
		log.Printf("render store: s3 bucket=%s endpoint=%s", s3Cfg.Bucket, s3Cfg.Endpoint)
		return s3Store, nil
	}
}

func chooseRenderStore(
	cfg *config.Config,
	fallback renderrepo.Store,
	fallbackLabel string,
	s3Factory func() (renderrepo.Store, error),
) (renderrepo.Store, error) {
	var origin renderrepo.Store
	if cfg.Render.CanUseS3() {
		s3Store, err := s3Factory()
		if err != nil {
			return nil, err
		}
		origin = s3Store
	} else {
		if cfg.Render.Enabled {
			log.Printf("render store: using %s fallback (s3 config incomplete)", fallbackLabel)
		} else {
			log.Printf("render store: %s", fallbackLabel)
		}
		origin = fallback
	}
	if origin == nil {
		return nil, fmt.Errorf("render origin store is nil")
	}
	cacheCfg := rendercache.DefaultCacheConfig()
	if cfg.Render.CacheTTL > 0 {
		cacheCfg.BlobTTL = cfg.Render.CacheTTL
	}
	return rendercache.NewCachedStore(origin, cacheCfg), nil
}
