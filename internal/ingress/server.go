// Package ingress implements IngressHandler (spec.md §4.1): the
// per-connection decode loop that validates inbound frames, applies the
// two-tier rate limiter and lock check, and forwards admitted edits to the
// Batcher. Wire framing follows the teacher's server.go/handlers_ws.go,
// built on github.com/gobwas/ws.
package ingress

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog"

	"github.com/madkind/pixelboard/internal/auth"
	"github.com/madkind/pixelboard/internal/batch"
	"github.com/madkind/pixelboard/internal/broadcast"
	"github.com/madkind/pixelboard/internal/canvas"
	"github.com/madkind/pixelboard/internal/limits"
	"github.com/madkind/pixelboard/internal/locks"
	"github.com/madkind/pixelboard/internal/metrics"
	"github.com/madkind/pixelboard/internal/wire"
)

// Deps bundles everything one connection's IngressHandler needs. All
// fields are shared across every connection; nothing here is
// connection-specific.
type Deps struct {
	Width, Height int

	Limiter     *limits.Composite
	Locks       *locks.Index
	Batcher     *batch.Batcher
	Broadcaster *broadcast.Broadcaster
	Auth        *auth.Verifier
	ConnLimiter *limits.ConnectionRateLimiter
	Metrics     *metrics.Metrics
	Log         zerolog.Logger
}

// Server accepts WebSocket upgrades and runs one IngressHandler per
// connection.
type Server struct {
	deps Deps
}

// NewServer builds an ingress Server over the given shared dependencies.
func NewServer(deps Deps) *Server {
	return &Server{deps: deps}
}

// HandleWebSocket is the http.HandlerFunc mounted at the WS endpoint. It
// performs per-IP admission control, optional JWT user recovery, the
// gobwas/ws upgrade, subscriber registration, and then blocks in the read
// loop until the connection ends.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)

	if s.deps.ConnLimiter != nil && !s.deps.ConnLimiter.Allow(ip) {
		http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
		return
	}

	userID := ""
	if s.deps.Auth != nil {
		if uid, ok := s.deps.Auth.ExtractUserID(r); ok {
			userID = uid
		}
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.deps.Log.Warn().Err(err).Str("ip", ip).Msg("websocket upgrade failed")
		return
	}

	if s.deps.Metrics != nil {
		s.deps.Metrics.ConnectionsTotal.Inc()
		s.deps.Metrics.ConnectionsActive.Inc()
		defer s.deps.Metrics.ConnectionsActive.Dec()
	}

	sub := s.deps.Broadcaster.Register()
	defer func() {
		s.deps.Broadcaster.Deregister(sub)
		sub.Close()
		conn.Close()
	}()

	go s.writePump(conn, sub)
	s.readPump(conn, sub, userID, ip)
}

// writePump drains the subscriber's outbound queue onto the socket in
// FIFO order, per spec.md §4.7. When the subscriber is closed it writes a
// going-away close frame and returns.
func (s *Server) writePump(conn net.Conn, sub *broadcast.Subscriber) {
	for {
		select {
		case data, ok := <-sub.Outbound():
			if !ok {
				return
			}
			if err := wsutil.WriteServerMessage(conn, ws.OpText, data); err != nil {
				return
			}
		case <-sub.Closed():
			_ = wsutil.WriteServerMessage(conn, ws.OpClose, ws.NewCloseFrameBody(ws.StatusGoingAway, ""))
			return
		}
	}
}

// readPump is the IngressHandler proper: decode, validate, rate-limit,
// lock-check, forward to Batcher. It returns when the socket closes or a
// decode error occurs, per spec.md §4.1/§5.
func (s *Server) readPump(conn net.Conn, sub *broadcast.Subscriber, userID, ip string) {
	ctx := context.Background()
	for {
		data, opCode, err := wsutil.ReadClientData(conn)
		if err != nil {
			return
		}
		if opCode == ws.OpClose {
			return
		}
		if opCode != ws.OpText && opCode != ws.OpBinary {
			continue
		}

		if s.deps.Metrics != nil {
			s.deps.Metrics.MessagesReceived.Inc()
		}

		msg := wire.DecodeInbound(data)
		switch msg.Kind {
		case wire.TypeHeartbeat:
			s.replyHeartbeat(sub)
		case wire.TypePixelUpdate:
			s.handlePixelUpdate(ctx, sub, userID, ip, msg.PixelUpdate)
		default:
			// Unknown type or malformed JSON: drop silently, connection
			// stays open, per spec.md §4.1.
		}
	}
}

func (s *Server) replyHeartbeat(sub *broadcast.Subscriber) {
	ack := wire.NewHeartbeatAck(time.Now())
	data, err := wire.MarshalFrame(ack)
	if err != nil {
		return
	}
	s.deps.Broadcaster.PublishTo(sub.ID, data)
}

func (s *Server) handlePixelUpdate(ctx context.Context, sub *broadcast.Subscriber, userID, ip string, d wire.PixelUpdateData) {
	user := userID
	if user == "" && d.UserID != nil {
		user = *d.UserID
	}

	edit := canvas.PixelEdit{
		X:               d.X,
		Y:               d.Y,
		Color:           d.Color,
		Tool:            canvas.Tool(d.Tool),
		ClientTimestamp: wire.ParseClientTimestamp(d.ClientTimestamp),
		UserID:          user,
		IP:              ip,
		SubscriberID:    sub.ID,
	}

	if err := edit.Validate(s.deps.Width, s.deps.Height); err != nil {
		s.reject(sub, "invalid", &edit)
		s.countReject("invalid")
		return
	}

	if allowed, reason := s.deps.Limiter.Check(ctx, user); !allowed {
		s.reject(sub, reason, &edit)
		s.countReject(reason)
		return
	}

	if locked, err := s.deps.Locks.Check(ctx, edit.X, edit.Y); err != nil {
		s.deps.Log.Error().Err(err).Msg("lock check failed at ingress, admitting")
		if s.deps.Metrics != nil {
			s.deps.Metrics.LockChecks.WithLabelValues("error").Inc()
		}
	} else if locked {
		if s.deps.Metrics != nil {
			s.deps.Metrics.LockChecks.WithLabelValues("locked").Inc()
		}
		s.reject(sub, "Position locked", &edit)
		s.countReject("locked")
		return
	} else if s.deps.Metrics != nil {
		s.deps.Metrics.LockChecks.WithLabelValues("unlocked").Inc()
	}

	s.deps.Batcher.Submit(edit)
	if s.deps.Metrics != nil {
		s.deps.Metrics.EditsAdmitted.Inc()
	}
}

func (s *Server) countReject(reason string) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.EditsRejected.WithLabelValues(reason).Inc()
	}
}

func (s *Server) reject(sub *broadcast.Subscriber, reason string, edit *canvas.PixelEdit) {
	x, y := edit.X, edit.Y
	frame := wire.NewPixelReject(reason, time.Now().UTC(), &x, &y)
	data, err := wire.MarshalFrame(frame)
	if err != nil {
		return
	}
	s.deps.Broadcaster.PublishTo(sub.ID, data)
}

// clientIP extracts the originating address, preferring a proxy-supplied
// X-Forwarded-For header over RemoteAddr, matching the teacher's
// getClientIP.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
