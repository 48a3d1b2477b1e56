// Package relay implements ClusterRelay (SPEC_FULL.md §11.1): an optional
// same-region fan-out of applied batches across sibling server processes
// over NATS, grounded on the teacher's go-server/pkg/nats/client.go. It is
// a no-op when unconfigured, matching a single-process deployment of
// spec.md exactly.
package relay

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/madkind/pixelboard/internal/wire"
)

// Broadcaster is the local fan-out surface a remote batch gets rebroadcast
// onto.
type Broadcaster interface {
	Publish(data []byte)
}

// message is the payload published on the relay subject.
type message struct {
	OriginID string           `json:"origin_id"`
	Hash     string           `json:"hash"`
	Pixels   []wire.BulkPixel `json:"pixels"`
}

// ClusterRelay publishes locally applied batches to a NATS subject and
// rebroadcasts batches published by sibling processes to local
// subscribers, de-duplicating by origin: every process stamps its own
// random originID on outgoing messages and onMessage discards anything
// carrying its own originID back, so a process never re-broadcasts a
// batch it applied itself.
type ClusterRelay struct {
	log      zerolog.Logger
	conn     *nats.Conn
	subject  string
	originID string
	local    Broadcaster
}

// Connect dials the NATS server at url and subscribes to subject. An empty
// url means ClusterRelay is disabled; callers should pass a nil
// *ClusterRelay in that case rather than calling Connect.
func Connect(log zerolog.Logger, url, subject string, local Broadcaster) (*ClusterRelay, error) {
	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.PingInterval(20*time.Second),
		nats.MaxPingsOutstanding(3),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("cluster relay disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("cluster relay reconnected")
		}),
	)
	if err != nil {
		return nil, err
	}

	r := &ClusterRelay{
		log:      log,
		conn:     conn,
		subject:  subject,
		originID: uuid.NewString(),
		local:    local,
	}

	if _, err := conn.Subscribe(subject, r.onMessage); err != nil {
		conn.Close()
		return nil, err
	}

	return r, nil
}

// Close closes the NATS connection without draining pending messages.
func (r *ClusterRelay) Close() {
	if r == nil || r.conn == nil {
		return
	}
	r.conn.Close()
}

// PublishApplied implements apply.Relay: publish a just-applied batch so
// sibling processes' Broadcasters can fan it out to their own
// subscribers too.
func (r *ClusterRelay) PublishApplied(hash string, pixels []wire.BulkPixel) {
	if r == nil {
		return
	}

	msg := message{OriginID: r.originID, Hash: hash, Pixels: pixels}
	data, err := json.Marshal(msg)
	if err != nil {
		r.log.Error().Err(err).Msg("failed to marshal relay message")
		return
	}
	if err := r.conn.Publish(r.subject, data); err != nil {
		r.log.Error().Err(err).Msg("failed to publish to cluster relay")
	}
}

// onMessage rebroadcasts a sibling's applied batch to this process's own
// subscribers, skipping anything this process originated itself.
func (r *ClusterRelay) onMessage(natsMsg *nats.Msg) {
	var msg message
	if err := json.Unmarshal(natsMsg.Data, &msg); err != nil {
		r.log.Warn().Err(err).Msg("cluster relay received malformed message")
		return
	}
	if msg.OriginID == r.originID {
		return
	}

	frame := wire.NewPixelBulkUpdate(msg.Pixels, msg.Hash, time.Now().UTC())
	data, err := wire.MarshalFrame(frame)
	if err != nil {
		return
	}
	r.local.Publish(data)
}
