package monitoring

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/poolflow/internal/httputil"
)

// handleVelocityChart renders the rolling speed window against the current
// velocity ceiling with go-echarts.
func (s *Server) handleVelocityChart(w http.ResponseWriter, r *http.Request) {
	history := s.tracking.VelocityHistory()
	st := s.tracking.Status()

	x := make([]int, len(history))
	speed := make([]opts.LineData, len(history))
	ceiling := make([]opts.LineData, len(history))
	for i, v := range history {
		x[i] = i
		speed[i] = opts.LineData{Value: v}
		ceiling[i] = opts.LineData{Value: st.MaxVelocity}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Marker velocity", Theme: "dark", Width: "900px", Height: "500px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Marker speed window",
			Subtitle: fmt.Sprintf("session=%s samples=%d ceiling=%.3f m/s", st.SessionID, len(history), st.MaxVelocity),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "sample", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "speed (m/s)", NameLocation: "middle", NameGap: 40}),
	)
	line.SetXAxis(x).
		AddSeries("speed", speed).
		AddSeries("ceiling", ceiling)

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		opsf("session %s: render velocity chart: %v", st.SessionID, err)
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	tracef("session %s: velocity chart, %d samples", st.SessionID, len(history))
	httputil.WriteBytes(w, "text/html; charset=utf-8", buf.Bytes())
}

// handleTrajectories plots the recorded world-space path of every marker in
// a session. The session defaults to the live one and may be overridden with
// ?session=<id>.
func (s *Server) handleTrajectories(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		sessionID = s.tracking.Status().SessionID
	}
	if sessionID == "" {
		httputil.NotFound(w, "no tracking session")
		return
	}

	trajectories, err := s.store.RecentTrajectories(r.Context(), sessionID, s.limit)
	if err != nil {
		opsf("session %s: load trajectories: %v", sessionID, err)
		httputil.InternalServerError(w, fmt.Sprintf("failed to load trajectories: %v", err))
		return
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Marker trajectories (%s)", sessionID)
	p.X.Label.Text = "x (m)"
	p.Y.Label.Text = "y (m)"
	p.Add(plotter.NewGrid())

	for i, tr := range trajectories {
		if len(tr.Points) == 0 {
			continue
		}
		pts := make(plotter.XYs, len(tr.Points))
		for j, pt := range tr.Points {
			pts[j] = plotter.XY{X: pt.X, Y: pt.Y}
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			opsf("session %s: marker %d line: %v", sessionID, tr.MarkerID, err)
			continue
		}
		line.Color = plotutil.Color(i)
		line.Width = vg.Points(1.5)
		p.Add(line)
		p.Legend.Add(fmt.Sprintf("marker %d", tr.MarkerID), line)
	}

	wt, err := p.WriterTo(6*vg.Inch, 6*vg.Inch, "png")
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render plot: %v", err))
		return
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to encode plot: %v", err))
		return
	}
	tracef("session %s: trajectory plot, %d markers", sessionID, len(trajectories))
	httputil.WriteBytes(w, "image/png", buf.Bytes())
}
