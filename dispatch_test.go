package main

import (
	"net"
	"testing"
	"time"

	"github.com/pyke369/golang-support/ulog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testServer(t *testing.T) (*SERVER, *net.UDPAddr, *net.UDPConn) {
	t.Helper()
	relay, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { relay.Close() })
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	server, err := NewServer(conn, ServerOptions{Backend: "cat", Workers: 1}, ulog.New(""))
	require.NoError(t, err)
	t.Cleanup(func() {
		for _, worker := range server.pool.workers {
			if worker != nil {
				worker.stdin.Close()
			}
		}
	})
	return server, relay.LocalAddr().(*net.UDPAddr), relay
}

// A relayed DISCOVER travels to the cat backend, comes back verbatim and is
// unicast to the relay address recorded in the frame.
func TestDispatchRoundTrip(t *testing.T) {
	server, remote, relay := testServer(t)
	spawned, failed := server.pool.respawn()
	require.NoError(t, failed)
	require.Len(t, spawned, 1)

	packet, meta, err := v4encode([]byte(`{"client-hardware-address":"aa:bb:cc:dd:ee:ff","bootp-transaction-id":"11223344","dhcp-message-type":"discover","bootp-relay-address":"127.0.0.1"}`))
	require.NoError(t, err)
	server.request(PACKET{data: packet, remote: remote})
	require.Equal(t, 1, server.requests.size())
	require.NotNil(t, server.requests.lookup(meta.key))

	select {
	case event := <-server.events:
		require.Equal(t, EVENT_LINE, event.kind)
		server.reply(event.worker, event.line)
	case <-time.After(3 * time.Second):
		t.Fatal("no echo from backend")
	}
	assert.Equal(t, 0, server.requests.size())

	relay.SetReadDeadline(time.Now().Add(3 * time.Second))
	received := make([]byte, 4<<10)
	read, err := relay.Read(received)
	require.NoError(t, err)
	frame, rmeta, err := v4decode(received[:read])
	require.NoError(t, err)
	assert.Equal(t, meta.key, rmeta.key)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", frame["client-hardware-address"])
}

func TestDispatchDropsReplies(t *testing.T) {
	server, remote, _ := testServer(t)
	packet, _, err := v4encode([]byte(`{"client-hardware-address":"aa:bb:cc:dd:ee:ff","dhcp-message-type":"offer","bootp-assigned-address":"10.0.0.42"}`))
	require.NoError(t, err)
	server.request(PACKET{data: packet, remote: remote})
	assert.Equal(t, 0, server.requests.size())
}

func TestDispatchNoWorker(t *testing.T) {
	server, remote, _ := testServer(t)
	packet, _, err := v4encode([]byte(`{"client-hardware-address":"aa:bb:cc:dd:ee:ff","dhcp-message-type":"discover"}`))
	require.NoError(t, err)
	server.request(PACKET{data: packet, remote: remote})
	assert.Equal(t, 0, server.requests.size())
}

func TestDispatchInvalidWorkerLine(t *testing.T) {
	server, _, _ := testServer(t)
	worker := &WORKER{pid: 100}
	server.requests.insert(&PENDING{key: [11]byte{1}})
	server.reply(worker, []byte("not json\n"))
	assert.Equal(t, 1, server.requests.size())
	assert.True(t, worker.active.IsZero())
}

func TestDispatchUncorrelatedReply(t *testing.T) {
	server, _, _ := testServer(t)
	worker := &WORKER{pid: 100}
	server.reply(worker, []byte(`{"client-hardware-address":"aa:bb:cc:dd:ee:ff","bootp-transaction-id":"11223344","dhcp-message-type":"offer","bootp-assigned-address":"10.0.0.42"}`))
	assert.Equal(t, 0, server.requests.size())
	assert.False(t, worker.active.IsZero())
}

func TestDispatchTickExpiry(t *testing.T) {
	server, _, _ := testServer(t)
	now := time.Now()
	server.requests.insert(&PENDING{key: [11]byte{1}, expire: now.Add(10 * time.Second)})
	server.tick(now.Add(5 * time.Second))
	assert.Equal(t, 1, server.requests.size())
	server.tick(now.Add(11 * time.Second))
	assert.Equal(t, 0, server.requests.size())
}
