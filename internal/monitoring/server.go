// Package monitoring serves the live tracking state on the tsweb /debug/
// page: status values, the latest flow map and canvas, a velocity chart and
// a plot of recent marker trajectories.
package monitoring

import (
	"context"
	"fmt"
	"image"
	"net/http"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/poolflow/internal/db"
	"github.com/banshee-data/poolflow/internal/httputil"
	"github.com/banshee-data/poolflow/internal/session"
)

// Tracking is the live view of the orchestrator the debug page reads.
type Tracking interface {
	Status() session.Status
	LatestOutput() (session.Output, bool)
	VelocityHistory() []float64
}

// TrajectorySource returns recorded marker paths.
type TrajectorySource interface {
	RecentTrajectories(ctx context.Context, sessionID string, limit int) ([]db.Trajectory, error)
}

// Options configures a Server. Store may be nil, in which case the
// trajectory plot is not mounted.
type Options struct {
	Store           TrajectorySource
	JPEGQuality     int
	TrajectoryLimit int
}

// Server renders the debug views.
type Server struct {
	tracking Tracking
	store    TrajectorySource
	quality  int
	limit    int
}

// NewServer returns a Server reading from tracking.
func NewServer(tracking Tracking, opts Options) *Server {
	if opts.JPEGQuality <= 0 {
		opts.JPEGQuality = 85
	}
	if opts.TrajectoryLimit <= 0 {
		opts.TrajectoryLimit = 2000
	}
	return &Server{
		tracking: tracking,
		store:    opts.Store,
		quality:  opts.JPEGQuality,
		limit:    opts.TrajectoryLimit,
	}
}

// AttachRoutes mounts the debug views on debug.
func (s *Server) AttachRoutes(debug *tsweb.DebugHandler) {
	debug.KVFunc("Tracking session", func() any {
		if id := s.tracking.Status().SessionID; id != "" {
			return id
		}
		return "none"
	})
	debug.KVFunc("Pool shape", func() any { return s.tracking.Status().Shape.String() })
	debug.KVFunc("Calibration", func() any { return s.tracking.Status().State.String() })
	debug.KVFunc("Frame", func() any { return s.tracking.Status().FrameIndex })
	debug.KVFunc("Live tracks", func() any { return s.tracking.Status().Tracks })
	debug.KVFunc("Max velocity (m/s)", func() any {
		return fmt.Sprintf("%.3f", s.tracking.Status().MaxVelocity)
	})

	debug.HandleFunc("status", "Tracking status (JSON)", s.handleStatus)
	debug.HandleFunc("flowmap.jpg", "Accumulated flow map", s.imageHandler(accumulatedImage))
	debug.HandleFunc("canvas.jpg", "Live flow canvas", s.imageHandler(canvasImage))
	debug.HandleFunc("frame.jpg", "Annotated warped frame", s.imageHandler(frameImage))
	debug.HandleFunc("velocity", "Marker speed window and velocity ceiling", s.handleVelocityChart)
	if s.store != nil {
		debug.HandleFunc("trajectories.png", "Recent marker trajectories", s.handleTrajectories)
	}
}

type statusJSON struct {
	Shape       string    `json:"shape"`
	State       string    `json:"state"`
	SessionID   string    `json:"session_id,omitempty"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	FrameIndex  int       `json:"frame_index"`
	Tracks      int       `json:"tracks"`
	MaxVelocity float64   `json:"max_velocity"`
	Jets        int       `json:"jets"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.tracking.Status()
	httputil.WriteJSONOK(w, statusJSON{
		Shape:       st.Shape.String(),
		State:       st.State.String(),
		SessionID:   st.SessionID,
		StartedAt:   st.StartedAt,
		FrameIndex:  st.FrameIndex,
		Tracks:      st.Tracks,
		MaxVelocity: st.MaxVelocity,
		Jets:        st.Jets,
	})
}

func accumulatedImage(o session.Output) image.Image {
	if o.Accumulated == nil {
		return nil
	}
	return o.Accumulated
}

func canvasImage(o session.Output) image.Image {
	if o.Canvas == nil {
		return nil
	}
	return o.Canvas
}

func frameImage(o session.Output) image.Image { return o.Frame }

func (s *Server) imageHandler(pick func(session.Output) image.Image) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, ok := s.tracking.LatestOutput()
		if !ok {
			httputil.NotFound(w, "no frame processed yet")
			return
		}
		img := pick(out)
		if img == nil {
			httputil.NotFound(w, "image not available")
			return
		}
		tracef("frame %d: %s %v", out.FrameIndex, r.URL.Path, img.Bounds().Size())
		httputil.WriteJPEG(w, img, s.quality)
	}
}
