package bkt

import (
	"os"

	log "github.com/sirupsen/logrus"

	internalbkt "github.com/relay-tools/bkt/internal/bkt"
	"github.com/relay-tools/bkt/internal/statsdb"
	"github.com/relay-tools/bkt/pkg/config"
	"github.com/relay-tools/bkt/pkg/util"
)

const appName = "bkt"

// loadSettings reads ~/.bkt/bkt.json (or $BKT_CONFIG), falling back to
// built-in defaults when no file is present.
func loadSettings() config.Settings {
	settings := config.Defaults()

	mgr, err := config.New(appName, "", "", appName, true)
	if err != nil {
		log.WithError(err).Debug("failed to initialize config manager")
		return settings
	}
	if file := os.Getenv("BKT_CONFIG"); file != "" {
		if err := mgr.LoadFile(file, &settings); err != nil {
			log.WithError(err).Debug("failed to load config file, using defaults")
		}
		return settings
	}
	if err := mgr.Load(&settings); err != nil {
		log.WithError(err).Debug("failed to load config file, using defaults")
	}
	return settings
}

// newOrchestrator builds a Bkt instance from CLI flags layered over config
// file defaults: CLI flags win, config file values win over built-ins.
func newOrchestrator() (*internalbkt.Bkt, error) {
	settings := loadSettings()

	root := rootDir
	if root == "" {
		root = settings.RootDir
	}
	sc := scope
	if sc == "" {
		sc = settings.Scope
	}

	b, err := internalbkt.New(root, sc)
	if err != nil {
		return nil, err
	}
	b = b.WithStaleLockThreshold(settings.StaleLockThreshold).
		WithCleanupInterval(settings.CleanupInterval).
		WithDebugMode(Debug)

	if settings.StatsEnabled {
		if err := util.PrepareDir(b.CacheRoot()); err != nil {
			log.WithError(err).Debug("failed to prepare cache root, continuing without stats")
			return b, nil
		}
		db, err := statsdb.Open(b.CacheRoot() + "/stats.db")
		if err != nil {
			log.WithError(err).Debug("failed to open stats database, continuing without stats")
		} else {
			b = b.WithStats(db)
		}
	}

	return b, nil
}
