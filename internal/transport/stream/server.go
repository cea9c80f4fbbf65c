// Package stream serves the live world over HTTP: bootstrap metadata, the
// node and brick buffers, and a WebSocket instance stream.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/zstd"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"brickstream.ai/internal/brickmap"
	"brickstream.ai/internal/extract"
	"brickstream.ai/internal/metrics"
	"brickstream.ai/internal/streamproto"
	"brickstream.ai/internal/world"
)

const (
	maxInstancesCap = 1 << 20
	// GenerationHeader carries the generation a buffer response was read from.
	GenerationHeader = "X-Brickstream-Generation"
)

type Options struct {
	// AllowRemote serves non-loopback clients.
	AllowRemote  bool
	PingInterval time.Duration
	Gauges       *metrics.Prometheus
	// Gatherer backs /metrics; nil leaves the route unregistered.
	Gatherer prometheus.Gatherer
}

type Server struct {
	world *world.World
	log   *zap.Logger
	opts  Options

	upgrader websocket.Upgrader
	zenc     *zstd.Encoder
	nextID   atomic.Uint64
}

func NewServer(w *world.World, opts Options, log *zap.Logger) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	zenc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, err
	}
	return &Server{
		world: w,
		log:   log.Named("stream"),
		opts:  opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		zenc: zenc,
	}, nil
}

// Register mounts every route on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/v1/bootstrap", s.BootstrapHandler())
	mux.HandleFunc("/v1/bricks", s.bufferHandler(s.world.Bricks))
	mux.HandleFunc("/v1/nodes", s.bufferHandler(s.world.Nodes))
	mux.HandleFunc("/v1/stream", s.WSHandler())
	if s.opts.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	}
}

func (s *Server) allowed(rw http.ResponseWriter, r *http.Request) bool {
	if s.opts.AllowRemote || IsLoopbackRemote(r.RemoteAddr) {
		return true
	}
	http.Error(rw, "forbidden", http.StatusForbidden)
	return false
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !s.allowed(rw, r) {
			return
		}
		info := s.world.Info()
		resp := streamproto.BootstrapResponse{
			ProtocolVersion: streamproto.Version,
			WorldID:         info.ID,
			Ready:           info.Ready,
			Generation:      info.Generation,
			Depth:           info.Depth,
			BrickSize:       brickmap.BrickSize,
			InstanceStride:  extract.InstanceStride,
			Nodes:           info.Nodes,
			Bricks:          info.Bricks,
			PaletteDigest:   info.PaletteDigest,
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (s *Server) bufferHandler(read func() ([]byte, uint64, error)) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !s.allowed(rw, r) {
			return
		}
		buf, gen, err := read()
		if errors.Is(err, world.ErrNotReady) {
			http.Error(rw, err.Error(), http.StatusServiceUnavailable)
			return
		}
		if err != nil {
			http.Error(rw, err.Error(), http.StatusInternalServerError)
			return
		}
		h := rw.Header()
		h.Set("Content-Type", "application/octet-stream")
		h.Set(GenerationHeader, strconv.FormatUint(gen, 10))
		h.Set("Vary", "Accept-Encoding")
		if acceptsZstd(r.Header.Get("Accept-Encoding")) {
			buf = s.zenc.EncodeAll(buf, make([]byte, 0, len(buf)/4))
			h.Set("Content-Encoding", "zstd")
		}
		h.Set("Content-Length", strconv.Itoa(len(buf)))
		_, _ = rw.Write(buf)
	}
}

func acceptsZstd(header string) bool {
	for _, part := range strings.Split(header, ",") {
		name, _, _ := strings.Cut(strings.TrimSpace(part), ";")
		if strings.EqualFold(name, "zstd") {
			return true
		}
	}
	return false
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.allowed(rw, r) {
			return
		}
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		sub, err := parseSubscribe(msg)
		if err != nil {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()), time.Now().Add(time.Second))
			return
		}

		sid := fmt.Sprintf("S%d", s.nextID.Add(1))
		log := s.log.With(zap.String("session", sid), zap.String("remote", r.RemoteAddr))
		log.Info("subscriber joined")
		if g := s.opts.Gauges; g != nil {
			g.Subscribers.Inc()
			defer g.Subscribers.Dec()
		}

		gens, unsubscribe := s.world.Subscribe()
		defer unsubscribe()

		updates := make(chan streamproto.SubscribeMsg, 1)
		updates <- sub

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine: the only writer of data messages on conn.
		writeErr := make(chan error, 1)
		go func() {
			writeErr <- s.writeLoop(ctx, conn, updates, gens, log)
		}()

		idle := 2*s.opts.PingInterval + 10*time.Second
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(idle))
		})

		// Reader loop: allow SUBSCRIBE updates.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(idle))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			next, err := parseSubscribe(msg)
			if err != nil {
				log.Debug("ignoring message", zap.Error(err))
				continue
			}
			// latest wins
			select {
			case <-updates:
			default:
			}
			updates <- next
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case err := <-writeErr:
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Debug("writer stopped", zap.Error(err))
			}
		case <-time.After(500 * time.Millisecond):
		}
		log.Info("subscriber left")
	}
}

func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, updates <-chan streamproto.SubscribeMsg, gens <-chan uint64, log *zap.Logger) error {
	ping := time.NewTicker(s.opts.PingInterval)
	defer ping.Stop()

	var (
		cur     streamproto.SubscribeMsg
		haveSub bool
	)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cur = <-updates:
			haveSub = true
		case <-gens:
			if !haveSub {
				continue
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return err
			}
			continue
		}
		if err := s.sendFrame(conn, cur, log); err != nil {
			return err
		}
	}
}

func (s *Server) sendFrame(conn *websocket.Conn, sub streamproto.SubscribeMsg, log *zap.Logger) error {
	opts := extract.Options{
		Sort:         sub.Sort,
		Reverse:      sub.SortReverse,
		StreamingPos: mgl32.Vec3(sub.StreamingPos),
		MaxInstances: sub.MaxInstances,
	}
	instances, gen, err := s.world.Extract(opts)
	if errors.Is(err, world.ErrNotReady) {
		return writeJSON(conn, streamproto.ErrorMsg{
			Type:            streamproto.TypeError,
			ProtocolVersion: streamproto.Version,
			Message:         err.Error(),
		})
	}
	violations := len(multierr.Errors(err))
	if violations > 0 {
		log.Warn("frame extracted with violations", zap.Uint64("generation", gen), zap.Int("violations", violations))
	}

	header := streamproto.FrameMsg{
		Type:            streamproto.TypeFrame,
		ProtocolVersion: streamproto.Version,
		Generation:      gen,
		Count:           len(instances),
		Stride:          extract.InstanceStride,
		Errors:          violations,
	}
	if err := writeJSON(conn, header); err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteMessage(websocket.BinaryMessage, extract.Encode(instances)); err != nil {
		return err
	}
	if g := s.opts.Gauges; g != nil {
		g.FramesSent.Inc()
	}
	return nil
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}

func parseSubscribe(msg []byte) (streamproto.SubscribeMsg, error) {
	var sub streamproto.SubscribeMsg
	if err := json.Unmarshal(msg, &sub); err != nil {
		return sub, fmt.Errorf("bad subscribe: %w", err)
	}
	if sub.Type != streamproto.TypeSubscribe || sub.ProtocolVersion != streamproto.Version {
		return sub, errors.New("expected SUBSCRIBE")
	}
	normalizeSubscribe(&sub)
	return sub, nil
}

func normalizeSubscribe(sub *streamproto.SubscribeMsg) {
	if sub.MaxInstances < 0 {
		sub.MaxInstances = 0
	}
	if sub.MaxInstances > maxInstancesCap {
		sub.MaxInstances = maxInstancesCap
	}
}

// IsLoopbackRemote reports whether an http.Request RemoteAddr is a loopback address.
func IsLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
