package emergency

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NATSBroadcaster publishes emergency transitions over a shared NATS
// connection. No component in this repository subscribes; SignalGate reads
// the StateStore on every signal. Grounded on the
// teacher's orchestrator.MessageBus connect options (named connection,
// bounded reconnect wait, infinite reconnects, disconnect/reconnect
// handlers), reduced to the single outbound Publish call Controller needs.
type NATSBroadcaster struct {
	nc *nats.Conn
}

// NewNATSBroadcaster dials url and returns a Broadcaster wrapping the
// connection. The caller owns the connection's lifetime and should Close it
// on shutdown via Conn().
func NewNATSBroadcaster(url string, log zerolog.Logger) (*NATSBroadcaster, error) {
	nc, err := nats.Connect(url,
		nats.Name("gateway-emergency-controller"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("emergency: connect nats: %w", err)
	}
	return &NATSBroadcaster{nc: nc}, nil
}

func (b *NATSBroadcaster) Publish(subject string, data []byte) error {
	return b.nc.Publish(subject, data)
}

// Conn exposes the underlying connection for shutdown/draining.
func (b *NATSBroadcaster) Conn() *nats.Conn { return b.nc }
