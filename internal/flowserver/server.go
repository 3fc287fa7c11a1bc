// Package flowserver implements the single-client TCP protocol used by the
// remote calibration and display client: it serves raw and warped frames,
// accepts calibration points, jet vectors and edited frames, and streams the
// accumulated flow map on request.
package flowserver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"

	"github.com/banshee-data/poolflow/internal/config"
	"github.com/banshee-data/poolflow/internal/flowmap"
	"github.com/banshee-data/poolflow/internal/geometry"
	"github.com/banshee-data/poolflow/internal/session"
)

// Handler performs the work behind client commands. session.Orchestrator
// implements it.
type Handler interface {
	CaptureFrame(ctx context.Context) (image.Image, error)
	TransformedFrame(ctx context.Context) (image.Image, error)
	SubmitPoints(ctx context.Context, points []geometry.Point) (image.Image, error)
	SubmitJets(ctx context.Context, jets []flowmap.JetVector) (*session.Handle, error)
	SetEditedFrame(img image.Image)
}

// Config contains configuration for the protocol server.
type Config struct {
	Address             string
	JPEGQuality         int
	PreviewMaxDimension int // frames with a longer edge are downscaled before sending; 0 disables
	MaxPayload          int
}

// ConfigFromTuning builds a Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		Address:             cfg.GetListenAddress(),
		JPEGQuality:         cfg.GetJPEGQuality(),
		PreviewMaxDimension: cfg.GetPreviewMaxDimension(),
		MaxPayload:          DefaultMaxPayload,
	}
}

// Stats are cumulative server counters.
type Stats struct {
	Connections   uint64
	Commands      uint64
	FramesSent    uint64
	FlowMapsSent  uint64
	FlowMapsDrops uint64
}

// Server accepts one client at a time; a new connection supersedes the old.
type Server struct {
	cfg     Config
	handler Handler

	listener net.Listener

	mu   sync.Mutex
	peer *peer

	streaming atomic.Bool
	outbox    chan []byte

	connections  atomic.Uint64
	commands     atomic.Uint64
	framesSent   atomic.Uint64
	flowMapsSent atomic.Uint64
	flowMapDrops atomic.Uint64

	running atomic.Bool
	wg      sync.WaitGroup
}

type peer struct {
	conn      net.Conn
	addr      string
	wmu       sync.Mutex
	reachable atomic.Bool
}

// send writes one message. A failure marks the peer unreachable.
func (p *peer) send(typ byte, payload []byte) error {
	if !p.reachable.Load() {
		return errPeerUnreachable
	}
	p.wmu.Lock()
	defer p.wmu.Unlock()
	if err := writeMessage(p.conn, typ, payload); err != nil {
		p.reachable.Store(false)
		return fmt.Errorf("send to %s: %w", p.addr, err)
	}
	tracef("sent type=%d len=%d to %s", typ, len(payload), p.addr)
	return nil
}

var errPeerUnreachable = errors.New("flowserver: peer unreachable")

// New creates a server. Call Listen and Serve, or Start.
func New(cfg Config, handler Handler) *Server {
	if cfg.MaxPayload <= 0 {
		cfg.MaxPayload = DefaultMaxPayload
	}
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = 90
	}
	return &Server{
		cfg:     cfg,
		handler: handler,
		outbox:  make(chan []byte, 1),
	}
}

// Listen binds the configured address.
func (s *Server) Listen() error {
	lis, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Address, err)
	}
	s.listener = lis
	diagf("listening on %s", lis.Addr())
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start binds and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Serve accepts connections until ctx is cancelled. Tracking sessions
// started by clients run under ctx, not under the connection.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		return errors.New("flowserver: Serve called before Listen")
	}
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("flowserver: already serving")
	}
	defer s.running.Store(false)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.sendLoop(ctx)
	}()

	go func() {
		<-ctx.Done()
		s.listener.Close()
		s.closePeer()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.wg.Wait()
				diagf("server stopped")
				return nil
			}
			opsf("accept: %v", err)
			continue
		}
		p := &peer{conn: conn, addr: conn.RemoteAddr().String()}
		p.reachable.Store(true)
		s.supersede(p)
		s.connections.Add(1)
		diagf("client connected: %s", p.addr)

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, p)
		}()
	}
}

// supersede installs p as the current peer, closing any previous one.
// Streaming must be requested again by the new client.
func (s *Server) supersede(p *peer) {
	s.streaming.Store(false)
	s.mu.Lock()
	old := s.peer
	s.peer = p
	s.mu.Unlock()
	if old != nil {
		diagf("client %s superseded by %s", old.addr, p.addr)
		old.conn.Close()
	}
}

func (s *Server) closePeer() {
	s.mu.Lock()
	p := s.peer
	s.peer = nil
	s.mu.Unlock()
	if p != nil {
		p.conn.Close()
	}
}

func (s *Server) current() *peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peer
}

// Connected reports whether a reachable client is attached.
func (s *Server) Connected() bool {
	p := s.current()
	return p != nil && p.reachable.Load()
}

// ClientAddr returns the current client's address, or "".
func (s *Server) ClientAddr() string {
	if p := s.current(); p != nil {
		return p.addr
	}
	return ""
}

// Streaming reports whether the connected client asked for flow maps.
func (s *Server) Streaming() bool {
	return s.streaming.Load() && s.Connected()
}

// SetStreaming toggles flow-map streaming as opcodes 3 and 4 do.
func (s *Server) SetStreaming(on bool) {
	s.streaming.Store(on)
	diagf("flow-map streaming %v", on)
}

// EmitFlowMap queues a flow-map JPEG for the client. It never blocks: a
// queued map that has not been sent yet is replaced.
func (s *Server) EmitFlowMap(jpeg []byte) {
	if !s.Streaming() {
		return
	}
	for {
		select {
		case s.outbox <- jpeg:
			return
		default:
		}
		select {
		case <-s.outbox:
			s.flowMapDrops.Add(1)
		default:
		}
	}
}

func (s *Server) sendLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case jpeg := <-s.outbox:
			p := s.current()
			if p == nil || !s.streaming.Load() {
				continue
			}
			if err := p.send(MsgFlowMap, jpeg); err != nil {
				opsf("flow map not delivered: %v", err)
				continue
			}
			s.flowMapsSent.Add(1)
		}
	}
}

// Stats returns a snapshot of the counters.
func (s *Server) Stats() Stats {
	return Stats{
		Connections:   s.connections.Load(),
		Commands:      s.commands.Load(),
		FramesSent:    s.framesSent.Load(),
		FlowMapsSent:  s.flowMapsSent.Load(),
		FlowMapsDrops: s.flowMapDrops.Load(),
	}
}

// handleConn reads commands until the peer disconnects, is superseded or
// sends a truncated payload. Bad command contents are logged and skipped.
func (s *Server) handleConn(ctx context.Context, p *peer) {
	defer func() {
		p.conn.Close()
		s.mu.Lock()
		if s.peer == p {
			s.peer = nil
		}
		s.mu.Unlock()
		diagf("client disconnected: %s", p.addr)
	}()

	var op [1]byte
	for {
		if _, err := io.ReadFull(p.conn, op[:]); err != nil {
			return
		}
		s.commands.Add(1)
		diagf("command %s from %s", commandName(op[0]), p.addr)
		if err := s.dispatch(ctx, p, op[0]); err != nil {
			opsf("%s from %s: %v; closing connection", commandName(op[0]), p.addr, err)
			return
		}
	}
}

// dispatch runs one command. Only transport errors are returned; they end
// the connection.
func (s *Server) dispatch(ctx context.Context, p *peer, op byte) error {
	switch op {
	case CmdRequestFrame:
		img, err := s.handler.CaptureFrame(ctx)
		if err != nil {
			opsf("capture frame: %v", err)
			return nil
		}
		s.sendImage(p, MsgFrame, img)

	case CmdEditedFrame:
		data, err := readPayload(p.conn, s.cfg.MaxPayload)
		if err != nil {
			return err
		}
		img, err := imaging.Decode(bytes.NewReader(data))
		if err != nil {
			opsf("edited frame (%d bytes) did not decode: %v", len(data), err)
			return nil
		}
		s.handler.SetEditedFrame(img)
		diagf("edited frame received: %d bytes, %v", len(data), img.Bounds().Size())

	case CmdStartStreaming:
		s.SetStreaming(true)

	case CmdStopStreaming:
		s.SetStreaming(false)

	case CmdCalibrationPoints:
		data, err := readPayload(p.conn, s.cfg.MaxPayload)
		if err != nil {
			return err
		}
		pts, err := ParsePoints(string(data))
		if err != nil {
			opsf("calibration points %q: %v", data, err)
			return nil
		}
		warped, err := s.handler.SubmitPoints(ctx, pts)
		if err != nil {
			opsf("calibration points rejected: %v", err)
			return nil
		}
		s.sendImage(p, MsgTransformedFrame, warped)

	case CmdRequestTransformed:
		img, err := s.handler.TransformedFrame(ctx)
		if err != nil {
			opsf("transformed frame: %v", err)
			return nil
		}
		s.sendImage(p, MsgTransformedFrame, img)

	case CmdJetVectors:
		data, err := readPayload(p.conn, s.cfg.MaxPayload)
		if err != nil {
			return err
		}
		jets := ParseJets(string(data))
		if len(jets) == 0 {
			opsf("jet payload %q held no well-formed vectors", truncate(string(data), 80))
			return nil
		}
		h, err := s.handler.SubmitJets(ctx, jets)
		if err != nil {
			opsf("jet vectors rejected: %v", err)
			return nil
		}
		diagf("tracking session %s started from %d jets", h.ID(), len(jets))

	default:
		opsf("unknown command %d from %s", op, p.addr)
	}
	return nil
}

// sendImage encodes img as a JPEG, downscaling previews first, and sends it.
// Send failures only mark the peer unreachable.
func (s *Server) sendImage(p *peer, typ byte, img image.Image) {
	data, err := s.encodeJPEG(img)
	if err != nil {
		opsf("encode frame: %v", err)
		return
	}
	if err := p.send(typ, data); err != nil {
		opsf("%v", err)
		return
	}
	s.framesSent.Add(1)
}

func (s *Server) encodeJPEG(img image.Image) ([]byte, error) {
	img = scalePreview(img, s.cfg.PreviewMaxDimension)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(s.cfg.JPEGQuality)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// scalePreview shrinks img so its longer edge is at most maxDim.
func scalePreview(img image.Image, maxDim int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxDim <= 0 || (w <= maxDim && h <= maxDim) {
		return img
	}
	var dw, dh int
	if w >= h {
		dw, dh = maxDim, max(1, h*maxDim/w)
	} else {
		dw, dh = max(1, w*maxDim/h), maxDim
	}
	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.TrimSpace(s[:n]) + "…"
}
