package commands

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/teranos/locussync/am"
	"github.com/teranos/locussync/errors"
	"github.com/teranos/locussync/internal/httpclient"
	"github.com/teranos/locussync/logger"
	syncPkg "github.com/teranos/locussync/sync"
)

// newClient builds the locus transport from cfg.
func newClient(cfg *am.Config) *httpclient.Client {
	return httpclient.New(httpclient.Options{
		Timeout:           time.Duration(cfg.HTTP.TimeoutSeconds) * time.Second,
		RetryMax:          retryMax(cfg.HTTP.RetryMax),
		RetryWaitMin:      time.Duration(cfg.HTTP.RetryWaitMinMs) * time.Millisecond,
		RetryWaitMax:      time.Duration(cfg.HTTP.RetryWaitMaxMs) * time.Millisecond,
		RequestsPerSecond: cfg.HTTP.RequestsPerSecond,
		Burst:             cfg.HTTP.Burst,
		Token:             cfg.HTTP.Token,
		AllowedSchemes:    cfg.HTTP.AllowedSchemes,
		MaxRedirects:      cfg.HTTP.MaxRedirects,
		AllowPrivate:      cfg.HTTP.AllowPrivate,
		Logger:            logger.ComponentLogger("httpclient"),
	})
}

// retryMax maps the config's "0 = no retries" onto the client's "0 = default".
func retryMax(n int) int {
	if n == 0 {
		return -1
	}
	return n
}

// locusURL resolves --locus against the configured default.
func locusURL(cmd *cobra.Command, cfg *am.Config) (string, error) {
	url, _ := cmd.Flags().GetString("locus")
	if url == "" {
		url = cfg.Sync.LocusURL
	}
	if url == "" {
		return "", errors.WithHint(
			errors.New("no locus URL"),
			"pass --locus or set sync.locus_url (LOCUSSYNC_SYNC_LOCUS_URL)",
		)
	}
	return url, nil
}

// debugID resolves --debug-id, falling back to config and then a fresh id.
func debugID(cmd *cobra.Command, cfg *am.Config) string {
	if id, _ := cmd.Flags().GetString("debug-id"); id != "" {
		return id
	}
	if cfg.Sync.DebugID != "" {
		return cfg.Sync.DebugID
	}
	return "locussync_" + uuid.NewString()[:8]
}

// startReplica fetches the locus snapshot and builds a parser from it. A
// snapshot that describes no datasets is bootstrapped through discovery.
func startReplica(ctx context.Context, cfg *am.Config, client *httpclient.Client, url, id string, callback syncPkg.UpdateCallback) (*syncPkg.Parser, error) {
	var snap syncPkg.Snapshot
	if err := client.GetJSON(ctx, url, &snap); err != nil {
		return nil, errors.Wrap(err, "failed to fetch locus")
	}

	parser, err := syncPkg.NewParser(syncPkg.Options{
		InitialLocus: &snap,
		Transport:    client,
		Callback:     callback,
		DebugID:      id,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create parser")
	}

	if len(snap.DataSets) == 0 && snap.Locus != nil {
		initCtx := ctx
		if secs := cfg.Sync.InitialSyncTimeoutSeconds; secs > 0 {
			var cancel context.CancelFunc
			initCtx, cancel = context.WithTimeout(ctx, time.Duration(secs)*time.Second)
			defer cancel()
		}
		if err := parser.InitializeFromGetLociResponse(initCtx, snap.Locus); err != nil {
			parser.Stop()
			return nil, errors.Wrap(err, "initial sync failed")
		}
	}
	return parser, nil
}

// LoadConfig loads the file named by --config, or the regular cascade.
func LoadConfig(cmd *cobra.Command) (*am.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path != "" {
		return am.LoadFromFile(path)
	}
	return am.Load()
}

// LogLevel picks the more verbose of the configured level and -v flags.
func LogLevel(cfg *am.Config, verbosity int) zapcore.Level {
	lvl := logger.VerbosityToLevel(verbosity)
	if cfg == nil || cfg.Log.Level == "" {
		return lvl
	}
	configured, err := zapcore.ParseLevel(cfg.Log.Level)
	if err != nil {
		return lvl
	}
	return min(lvl, configured)
}
