// ABOUTME: Engine options and their construction from configuration
// ABOUTME: Picks the blob backend and maps config keys onto manager options

package engine

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"

	"github.com/nainya/contentvcs/internal/config"
	"github.com/nainya/contentvcs/internal/logger"
	"github.com/nainya/contentvcs/pkg/backup"
	"github.com/nainya/contentvcs/pkg/version"
)

// DefaultSignificantChangeThreshold is the diff size above which a commit
// takes a significant_changes backup
const DefaultSignificantChangeThreshold = 10

// Options configure an Engine
type Options struct {
	// JournalPath enables durability; empty keeps all state in memory
	JournalPath string
	JournalSync bool

	// Blobs receives backup manifests; nil uses an in-memory store
	Blobs backup.BlobStore

	// CloseBlobs makes Close also close Blobs when it is an io.Closer
	CloseBlobs bool

	// BackendName is reported in logs only
	BackendName string

	Backup                     backup.Options
	MaxVersions                int
	SignificantChangeThreshold int

	Logger *logger.Logger

	// Registry receives the engine metrics; nil creates a private registry
	Registry *prometheus.Registry

	// Clock overrides time.Now, for tests
	Clock func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Blobs == nil {
		o.Blobs = backup.NewMemoryBlobStore()
		o.BackendName = config.BackendMemory
	}
	if o.MaxVersions <= 0 {
		o.MaxVersions = version.DefaultMaxVersions
	}
	if o.SignificantChangeThreshold <= 0 {
		o.SignificantChangeThreshold = DefaultSignificantChangeThreshold
	}
	if o.Logger == nil {
		o.Logger = logger.Nop()
	}
	if o.Registry == nil {
		o.Registry = prometheus.NewRegistry()
	}
	return o
}

// FromConfig builds Options for cfg, opening the configured blob backend
func FromConfig(cfg *config.Config, log *logger.Logger) (Options, error) {
	opts := Options{
		JournalPath:                cfg.Journal.Path,
		JournalSync:                cfg.Journal.Sync,
		BackendName:                cfg.Backup.Backend,
		MaxVersions:                cfg.Engine.MaxVersions,
		SignificantChangeThreshold: cfg.Engine.SignificantChangeThreshold,
		Logger:                     log,
		Backup: backup.Options{
			Retention: cfg.Backup.Retention,
			Timeout:   cfg.Backup.Timeout,
			Retry: backup.RetryPolicy{
				MaxAttempts:  cfg.Backup.Retry.MaxAttempts,
				InitialDelay: cfg.Backup.Retry.InitialDelay,
				MaxDelay:     cfg.Backup.Retry.MaxDelay,
				Multiplier:   cfg.Backup.Retry.Multiplier,
			},
			SweepWorkers: cfg.Backup.SweepWorkers,
		},
	}

	switch cfg.Backup.Backend {
	case config.BackendMemory, "":
		opts.Blobs = backup.NewMemoryBlobStore()
	case config.BackendFS:
		store, err := backup.NewFSBlobStore(afero.NewOsFs(), filepath.Clean(cfg.Backup.Dir))
		if err != nil {
			return Options{}, err
		}
		opts.Blobs = store
	case config.BackendSQLite:
		store, err := backup.OpenSQLiteBlobStore(cfg.Backup.SQLitePath)
		if err != nil {
			return Options{}, err
		}
		opts.Blobs = store
		opts.CloseBlobs = true
	default:
		return Options{}, fmt.Errorf("unknown backup backend %q", cfg.Backup.Backend)
	}
	return opts, nil
}
