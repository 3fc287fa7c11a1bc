package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/poolflow/internal/calibration"
	"github.com/banshee-data/poolflow/internal/capture"
	"github.com/banshee-data/poolflow/internal/config"
	"github.com/banshee-data/poolflow/internal/db"
	"github.com/banshee-data/poolflow/internal/fiducial"
	"github.com/banshee-data/poolflow/internal/flowmap"
	"github.com/banshee-data/poolflow/internal/flowserver"
	"github.com/banshee-data/poolflow/internal/monitoring"
	"github.com/banshee-data/poolflow/internal/session"
	"github.com/banshee-data/poolflow/internal/timeutil"
	"github.com/banshee-data/poolflow/internal/tracking"
	"github.com/banshee-data/poolflow/internal/version"
)

var (
	configPath  = flag.String("config", "", "Tuning config JSON file (built-in defaults when empty)")
	listen      = flag.String("listen", "", "TCP listen address for the control client (overrides config)")
	httpAddr    = flag.String("http", "127.0.0.1:8081", "Debug HTTP listen address (empty disables)")
	dbPath      = flag.String("db", "poolflow.db", "Tracking record store path (empty disables recording)")
	cameraIndex = flag.Int("camera", 0, "Camera device index")
	stillPath   = flag.String("still", "", "Read frames from an image file or directory instead of a camera")
	shapeName   = flag.String("shape", "", "Pool shape: circle or rectangle (overrides config)")
	diagLog     = flag.String("diag-log", "", "Write diagnostic logs to this file instead of stdout")
	traceLog    = flag.Bool("trace", false, "Enable per-frame trace logging on the diagnostic stream")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

// logStreams are the three writers shared by every package logger.
type logStreams struct {
	ops, diag, trace io.Writer
}

// openLogStreams routes ops to stderr and diag to stdout or diagPath.
// Trace shares the diag writer when enabled. The returned closer releases
// any opened file.
func openLogStreams(diagPath string, trace bool) (logStreams, func() error, error) {
	s := logStreams{ops: os.Stderr, diag: os.Stdout}
	closer := func() error { return nil }
	if diagPath != "" {
		f, err := os.OpenFile(diagPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return s, closer, fmt.Errorf("open diag log: %w", err)
		}
		s.diag = f
		closer = f.Close
	}
	if trace {
		s.trace = s.diag
	}
	return s, closer, nil
}

func (s logStreams) apply() {
	calibration.SetLogWriters(calibration.LogWriters{Ops: s.ops, Diag: s.diag, Trace: s.trace})
	tracking.SetLogWriters(tracking.LogWriters{Ops: s.ops, Diag: s.diag, Trace: s.trace})
	flowmap.SetLogWriters(flowmap.LogWriters{Ops: s.ops, Diag: s.diag, Trace: s.trace})
	session.SetLogWriters(session.LogWriters{Ops: s.ops, Diag: s.diag, Trace: s.trace})
	flowserver.SetLogWriters(flowserver.LogWriters{Ops: s.ops, Diag: s.diag, Trace: s.trace})
	monitoring.SetLogWriters(monitoring.LogWriters{Ops: s.ops, Trace: s.trace})
}

// loadTuning reads path, or returns the built-in defaults when path is empty.
func loadTuning(path string) (*config.TuningConfig, error) {
	if path == "" {
		return config.DefaultTuningConfig(), nil
	}
	return config.LoadTuningConfig(path)
}

// resolveShape prefers the -shape flag over the configured pool shape.
func resolveShape(flagValue string, cfg *config.TuningConfig) (calibration.Shape, error) {
	if flagValue != "" {
		return calibration.ParseShape(flagValue)
	}
	return calibration.ParseShape(cfg.GetPoolShape())
}

func openSource(stillPath string, camera int) (capture.Source, error) {
	if stillPath != "" {
		seq, err := capture.OpenStill(stillPath)
		if err != nil {
			return nil, err
		}
		return seq, nil
	}
	cam, err := capture.OpenCamera(camera)
	if err != nil {
		return nil, err
	}
	return cam, nil
}

func versionString() string {
	return version.String("poolflow")
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(versionString())
		return
	}

	streams, closeLogs, err := openLogStreams(*diagLog, *traceLog)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer closeLogs()
	streams.apply()

	cfg, err := loadTuning(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	shape, err := resolveShape(*shapeName, cfg)
	if err != nil {
		log.Fatalf("invalid pool shape: %v", err)
	}

	calib, err := calibration.NewCalibrator(shape, calibration.ParamsFromTuning(cfg))
	if err != nil {
		log.Fatalf("failed to create calibrator: %v", err)
	}

	source, err := openSource(*stillPath, *cameraIndex)
	if err != nil {
		log.Fatalf("failed to open frame source: %v", err)
	}
	defer source.Close()
	log.Printf("frame source ready: %v", source.Size())

	detector, err := fiducial.NewArucoDetector()
	if err != nil {
		log.Fatalf("failed to create marker detector: %v", err)
	}
	defer detector.Close()

	orch := session.NewOrchestrator(session.ConfigFromTuning(cfg), calib, session.Options{
		Source:   source,
		Detector: detector,
		Clock:    timeutil.RealClock{},
	})

	var store *db.DB
	if *dbPath != "" {
		store, err = db.OpenDB(*dbPath)
		if err != nil {
			log.Fatalf("Failed to open record store: %v", err)
		}
		defer store.Close()
		orch.SetRecorder(db.NewRecorder(store, timeutil.RealClock{}))
	}

	fsCfg := flowserver.ConfigFromTuning(cfg)
	if *listen != "" {
		fsCfg.Address = *listen
	}
	server := flowserver.New(fsCfg, orch)
	orch.SetEmitter(server)
	if err := server.Listen(); err != nil {
		log.Fatalf("failed to listen on %s: %v", fsCfg.Address, err)
	}
	log.Printf("control server listening on %s (shape=%s)", server.Addr(), shape)

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.Serve(ctx); err != nil && err != context.Canceled {
			log.Printf("control server stopped: %v", err)
		}
		log.Print("control server routine terminated")
	}()

	if *httpAddr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()

			mux := http.NewServeMux()
			debug := tsweb.Debugger(mux)
			debug.KVFunc("Build", func() any { return versionString() })

			// mount the admin debugging routes (loopback or Tailscale only)
			opts := monitoring.Options{JPEGQuality: fsCfg.JPEGQuality}
			if store != nil {
				store.AttachAdminRoutes(mux)
				opts.Store = store.Poses()
			}
			server.AttachAdminRoutes(mux)
			monitoring.NewServer(orch, opts).AttachRoutes(debug)

			httpServer := &http.Server{
				Addr:    *httpAddr,
				Handler: mux,
			}

			go func() {
				if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatalf("failed to start HTTP server: %v", err)
				}
			}()
			log.Printf("debug HTTP server listening on %s", *httpAddr)

			<-ctx.Done()
			log.Println("shutting down HTTP server...")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				log.Printf("HTTP server shutdown error: %v", err)
			}
			log.Printf("HTTP server routine stopped")
		}()
	}

	<-ctx.Done()
	orch.StopTracking()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
