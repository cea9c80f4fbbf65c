package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"brickstream.ai/internal/brickmap"
	"brickstream.ai/internal/config"
	"brickstream.ai/internal/heightfield"
	"brickstream.ai/internal/logger"
	"brickstream.ai/internal/metrics"
	"brickstream.ai/internal/palette"
	"brickstream.ai/internal/persistence/indexdb"
	plog "brickstream.ai/internal/persistence/log"
	"brickstream.ai/internal/transport/stream"
	"brickstream.ai/internal/world"
	"brickstream.ai/internal/worldgen"
)

func main() {
	flags := config.RegisterFlags(flag.CommandLine)
	rebuild := flag.Bool("rebuild", false, "build from the source even when a snapshot exists")
	flag.Parse()

	cfg, err := config.Load(flags.Config, flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	lc := cfg.Logging
	log := logger.New(logger.Options{
		Level:   lc.Level,
		Console: true,
		File: logger.FileConfig{
			Path:       lc.File,
			MaxSizeMB:  lc.MaxSizeMB,
			MaxBackups: lc.MaxBackups,
			MaxAgeDays: lc.MaxAgeDays,
			Compress:   lc.Compress,
		},
	})
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *rebuild, log); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, forceRebuild bool, log *zap.Logger) error {
	pal := palette.Default()
	if cfg.Palette.Path != "" {
		p, err := palette.Load(cfg.Palette.Path)
		if err != nil {
			return err
		}
		pal = p
	}

	// Both the height map and the palette must resolve before anything is built.
	field, source, err := loadField(cfg)
	if err != nil {
		return err
	}

	dataDir := cfg.Data.Dir
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}

	var idx *indexdb.SQLiteIndex
	if cfg.Data.IndexDB != "" {
		idx, err = indexdb.OpenSQLite(filepath.Join(dataDir, cfg.Data.IndexDB))
		if err != nil {
			return fmt.Errorf("open index: %w", err)
		}
		defer idx.Close()
		if err := idx.UpsertPalette(ctx, pal); err != nil {
			log.Warn("index palette upsert failed", zap.Error(err))
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	gauges := metrics.NewPrometheus(reg)
	agg := metrics.NewAggregator()
	go agg.Run(ctx, cfg.Metrics.FlushInterval, log.Named("timings"))
	sinks := []metrics.Sink{agg, gauges}
	if cfg.Metrics.JSONLDir != "" {
		jl := metrics.NewJSONL(cfg.Metrics.JSONLDir, log)
		defer jl.Close()
		sinks = append(sinks, jl)
	}
	sink := metrics.Multi(sinks...)

	buildLog := plog.NewBuildLogger(filepath.Join(dataDir, "logs"))
	defer buildLog.Close()

	mirror, err := buildMirror(cfg.Mirror, dataDir, idx, log)
	if err != nil {
		return err
	}
	defer mirror.Close()

	builder, err := worldgen.NewBuilder(worldgen.FromConfig(cfg.World), pal,
		worldgen.WithLogger(log.Named("worldgen")),
		worldgen.WithMetrics(sink),
	)
	if err != nil {
		return err
	}

	w := world.New(builder, pal, world.Options{
		ID:              cfg.World.ID,
		DataDir:         dataDir,
		SnapshotOnBuild: cfg.Data.SnapshotOnBuild,
		KeepSnapshots:   cfg.Data.KeepSnapshots,
		ArchiveEvery:    cfg.Data.ArchiveEvery,
		Source:          source,
		Index:           idx,
		Mirror:          mirror,
		BuildLog:        buildLog,
		Gauges:          gauges,
		Sink:            sink,
		Log:             log.Named("world"),
	})

	restored := false
	if !forceRebuild {
		restored, err = w.Restore(ctx)
		if err != nil {
			log.Warn("snapshot restore failed; rebuilding", zap.Error(err))
		}
	}
	if !restored {
		go buildWorld(ctx, w, field, log)
	}

	srv, err := stream.NewServer(w, stream.Options{
		AllowRemote:  cfg.Server.AllowRemote,
		PingInterval: cfg.Server.StreamInterval,
		Gauges:       gauges,
		Gatherer:     reg,
	}, log)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	srv.Register(mux)
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		if !w.Ready() {
			http.Error(rw, "building", http.StatusServiceUnavailable)
			return
		}
		_, _ = rw.Write([]byte("ok\n"))
	})
	registerAdmin(ctx, mux, cfg, w, log)
	if envBool("BRICKSTREAM_ENABLE_PPROF", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	hs := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctx2, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = hs.Shutdown(ctx2)
	}()

	log.Info("listening", zap.String("addr", cfg.Server.Addr), zap.String("world_id", cfg.World.ID))
	if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func buildWorld(ctx context.Context, w *world.World, field heightfield.Field, log *zap.Logger) {
	res, err := w.Rebuild(ctx, field)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			log.Error("world build failed", zap.Error(err))
		}
		return
	}
	info := w.Info()
	log.Info("world ready",
		zap.Uint64("generation", res.Generation),
		zap.String("bricks", humanize.Comma(int64(info.Bricks))),
		zap.String("brick_buffer", humanize.IBytes(uint64(info.Bricks+1)*brickmap.BrickStride)),
		zap.String("node_buffer", humanize.IBytes(uint64(info.Nodes)*4)),
	)
}

// registerAdmin mounts loopback-only endpoints to rebuild the world from its
// configured source and to force a snapshot.
func registerAdmin(ctx context.Context, mux *http.ServeMux, cfg *config.Config, w *world.World, log *zap.Logger) {
	mux.HandleFunc("/admin/v1/rebuild", func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !stream.IsLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		field, _, err := loadField(cfg)
		if err != nil {
			writeJSON(rw, http.StatusBadRequest, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		res, err := w.Rebuild(ctx, field)
		if err != nil {
			writeJSON(rw, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		writeJSON(rw, http.StatusOK, map[string]any{
			"ok":         true,
			"generation": res.Generation,
			"build_id":   res.BuildID,
			"placed":     res.Stats.Placed,
			"skipped":    res.Stats.Skipped,
			"snapshot":   res.SnapshotPath,
		})
	})
	mux.HandleFunc("/admin/v1/snapshot", func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !stream.IsLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		path, err := w.Save()
		if err != nil {
			log.Warn("admin snapshot failed", zap.Error(err))
			writeJSON(rw, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "path": path, "generation": w.Generation()})
	})
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}
