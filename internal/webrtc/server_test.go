package webrtc

import (
	"testing"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleOfferRejectsBadInput(t *testing.T) {
	s := NewServer(Config{MaxClients: 1})

	_, err := s.HandleOffer([]byte("{not json"))
	assert.ErrorContains(t, err, "failed to parse offer")

	_, err = s.HandleOffer([]byte(`{"type":"answer","sdp":"v=0"}`))
	assert.ErrorContains(t, err, "expected an SDP offer")
}

func TestHandleOfferRespectsClientLimit(t *testing.T) {
	s := NewServer(Config{MaxClients: 1})
	s.clients["existing"] = &Client{id: "existing", events: make(chan []byte, 1), closeChan: make(chan struct{})}

	_, err := s.HandleOffer([]byte(`{"type":"offer","sdp":"v=0"}`))
	assert.ErrorContains(t, err, "maximum clients reached")
}

func TestBroadcastDropsForSlowClients(t *testing.T) {
	s := NewServer(Config{})
	fast := &Client{id: "fast", events: make(chan []byte, 2), closeChan: make(chan struct{})}
	slow := &Client{id: "slow", events: make(chan []byte), closeChan: make(chan struct{})}
	s.clients[fast.id] = fast
	s.clients[slow.id] = slow

	sent, dropped := s.Broadcast([]byte("event"))
	assert.Equal(t, 1, sent)
	assert.Equal(t, 1, dropped)

	stats := s.GetClientStats()
	require.Contains(t, stats, "fast")
	assert.Equal(t, uint64(1), stats["fast"]["events_sent"])
	assert.Equal(t, uint64(1), stats["slow"]["events_dropped"])
}

func TestCloseRemovesClients(t *testing.T) {
	s := NewServer(Config{})
	for _, id := range []string{"a", "b"} {
		pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
		require.NoError(t, err)
		s.clients[id] = &Client{id: id, peerConn: pc, events: make(chan []byte, 1), closeChan: make(chan struct{})}
	}

	require.NoError(t, s.Close())
	assert.Zero(t, s.GetClientCount())

	s.RemoveClient("a") // already gone
	require.NoError(t, s.Close())
}

func TestFailedNegotiationLeavesNoClient(t *testing.T) {
	s := NewServer(Config{MaxClients: 1})

	_, err := s.HandleOffer([]byte(`{"type":"offer","sdp":"garbage"}`))
	assert.ErrorContains(t, err, "failed to set remote description")
	assert.Zero(t, s.GetClientCount())

	// The slot is free again.
	_, err = s.HandleOffer([]byte(`{"type":"offer","sdp":"garbage"}`))
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "maximum clients reached")
}

func TestTerminalConnectionStateRemovesClient(t *testing.T) {
	s := NewServer(Config{})
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	client := &Client{id: "c1", peerConn: pc, events: make(chan []byte, 1), closeChan: make(chan struct{})}
	require.NoError(t, s.addClient(client))

	s.handleConnectionState(client.id, webrtc.PeerConnectionStateConnecting)
	assert.Equal(t, 1, s.GetClientCount())

	s.handleConnectionState(client.id, webrtc.PeerConnectionStateFailed)
	assert.Zero(t, s.GetClientCount())

	select {
	case <-client.closeChan:
	default:
		t.Fatal("client was not closed")
	}
}
