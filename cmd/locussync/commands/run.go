package commands

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	gosync "sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/teranos/locussync/am"
	"github.com/teranos/locussync/errors"
	"github.com/teranos/locussync/internal/feed"
	"github.com/teranos/locussync/logger"
	syncPkg "github.com/teranos/locussync/sync"
	"github.com/teranos/locussync/version"
)

// RunCmd keeps a replica of a locus in sync until interrupted
var RunCmd = &cobra.Command{
	Use:   "run",
	Short: "Replicate a locus and stream its changes",
	Long: `Fetch the locus snapshot, build the hash tree replica and keep it in sync.

Every change is written to stdout as one JSON line:

  {"type":"OBJECTS_UPDATED","updatedObjects":[...]}

Messages pushed over the websocket feed (--feed) restart idle timers; when a
data set stays idle its hash tree is reconciled against the server. The
command exits on SIGINT/SIGTERM or when the local participant is dropped
from the roster.`,
	RunE: runRun,
}

func init() {
	RunCmd.Flags().String("locus", "", "Locus URL returning the initial snapshot (overrides sync.locus_url)")
	RunCmd.Flags().String("feed", "", "Websocket URL of the message feed (overrides feed.url)")
	RunCmd.Flags().String("debug-id", "", "Identifier attached to every log line")
	RunCmd.Flags().String("metrics-addr", "", "Serve prometheus metrics on this address (overrides metrics.addr)")
	RunCmd.Flags().Bool("watch-config", false, "Reload the log level when the config file changes")
}

// updateLine is one line of run's output.
type updateLine struct {
	Type           syncPkg.UpdateType      `json:"type"`
	UpdatedObjects []syncPkg.ElementUpdate `json:"updatedObjects,omitempty"`
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := LoadConfig(cmd)
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	url, err := locusURL(cmd, cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	id := debugID(cmd, cfg)
	log := logger.ComponentLogger("run").With(logger.FieldDebugID, id)

	var outMu gosync.Mutex
	enc := json.NewEncoder(cmd.OutOrStdout())
	callback := func(kind syncPkg.UpdateType, update syncPkg.Update) {
		outMu.Lock()
		defer outMu.Unlock()
		if err := enc.Encode(updateLine{Type: kind, UpdatedObjects: update.UpdatedObjects}); err != nil {
			log.Warnw("Failed to write update", logger.FieldError, err)
		}
		if kind == syncPkg.MeetingEnded {
			log.Infow("Removed from roster, stopping")
			cancel()
		}
	}

	client := newClient(cfg)
	parser, err := startReplica(ctx, cfg, client, url, id, callback)
	if err != nil {
		return err
	}
	defer parser.Stop()

	log.Infow("Replica started",
		logger.FieldURL, url,
		logger.FieldDataSets, parser.VisibleDataSets(),
	)
	if !logger.JSONOutput {
		pterm.Info.Printfln("Replicating %s (%d visible data sets)", url, len(parser.VisibleDataSets()))
	}

	if watch, _ := cmd.Flags().GetBool("watch-config"); watch {
		stopWatch, err := watchLogLevel()
		if err != nil {
			log.Warnw("Config watcher unavailable", logger.FieldError, err)
		} else {
			defer stopWatch()
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	feedURL, _ := cmd.Flags().GetString("feed")
	if feedURL == "" {
		feedURL = cfg.Feed.URL
	}
	if feedURL != "" {
		header := http.Header{}
		header.Set("User-Agent", version.Get().UserAgent())
		if cfg.HTTP.Token != "" {
			header.Set("Authorization", "Bearer "+cfg.HTTP.Token)
		}
		f := feed.New(parser, feed.Options{
			URL:          feed.HTTPToWS(feedURL),
			Header:       header,
			ReconnectMin: time.Duration(cfg.Feed.ReconnectMinMs) * time.Millisecond,
			ReconnectMax: time.Duration(cfg.Feed.ReconnectMaxMs) * time.Millisecond,
			ReadLimit:    cfg.Feed.ReadLimitBytes,
			CheckURL:     client.CheckWebsocketURL,
			Dialer:       client.WebsocketDialer(),
			Logger:       logger.ComponentLogger("feed").With(logger.FieldDebugID, id),
		})
		g.Go(func() error { return f.Run(gctx) })
	}

	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	if metricsAddr == "" {
		metricsAddr = cfg.Metrics.Addr
	}
	if metricsAddr != "" {
		g.Go(func() error { return serveMetrics(gctx, metricsAddr) })
	}

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	err = g.Wait()
	parser.Stop()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Infow("Replica stopped", "ended", parser.Ended())
	return nil
}

func serveMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Logger.Infow("Serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrapf(err, "metrics server on %s", addr)
	}
	return nil
}

// watchLogLevel applies log.level from the highest-precedence existing
// config file whenever it changes.
func watchLogLevel() (func(), error) {
	var path string
	for _, file := range am.ConfigFiles() {
		if _, err := os.Stat(file.Path); err == nil {
			path = file.Path
		}
	}
	if path == "" {
		return nil, errors.New("no config file to watch")
	}

	w, err := am.NewConfigWatcher(path)
	if err != nil {
		return nil, err
	}
	w.OnReload(func(cfg *am.Config) error {
		lvl, err := zapcore.ParseLevel(cfg.Log.Level)
		if err != nil {
			return err
		}
		logger.SetLevel(lvl)
		return nil
	})
	am.SetGlobalWatcher(w)
	w.Start()
	return func() {
		am.SetGlobalWatcher(nil)
		_ = w.Stop()
	}, nil
}
