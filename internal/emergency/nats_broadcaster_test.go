package emergency

import (
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func startEmbeddedNATS(t *testing.T) *natsserver.Server {
	t.Helper()
	opts := &natsserver.Options{Host: "127.0.0.1", Port: -1, NoLog: true, NoSigs: true}
	ns, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded nats server not ready")
	}
	t.Cleanup(ns.Shutdown)
	return ns
}

func TestNATSBroadcaster_PublishesTransition(t *testing.T) {
	ns := startEmbeddedNATS(t)

	b, err := NewNATSBroadcaster(ns.ClientURL(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(b.Conn().Close)

	sub, err := b.Conn().SubscribeSync(broadcastSubject)
	require.NoError(t, err)

	require.NoError(t, b.Publish(broadcastSubject, []byte(`{"level":"halted"}`)))

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	require.JSONEq(t, `{"level":"halted"}`, string(msg.Data))
}
