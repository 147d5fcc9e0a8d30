package webrtc

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"

	"github.com/giganbyte/overlay-server/internal/logger"
)

const (
	// ChannelLabel is the label of the detection data channel.
	ChannelLabel = "detections"
	// ChannelID is the pre-negotiated stream id clients must use.
	ChannelID uint16 = 0

	clientBuffer = 30
)

var log = logger.For("WebRTC")

// Config configures the data channel server.
type Config struct {
	STUNServers []string
	MaxClients  int
}

// Client represents a connected data channel client
type Client struct {
	id        string
	peerConn  *webrtc.PeerConnection
	channel   *webrtc.DataChannel
	events    chan []byte
	closeChan chan struct{}
	closeOnce sync.Once
	sent      atomic.Uint64
	dropped   atomic.Uint64
}

// Server fans detection events out to WebRTC data channels.
type Server struct {
	clients    map[string]*Client
	clientsMu  sync.RWMutex
	config     webrtc.Configuration
	maxClients int
	api        *webrtc.API
}

// NewServer creates a new WebRTC server
func NewServer(cfg Config) *Server {
	iceServers := make([]webrtc.ICEServer, 0, len(cfg.STUNServers))
	for _, url := range cfg.STUNServers {
		if url == "" {
			continue
		}
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs: []string{url},
		})
	}

	if cfg.MaxClients <= 0 {
		cfg.MaxClients = 10
	}

	settingsEngine := webrtc.SettingEngine{}
	settingsEngine.SetDTLSRetransmissionInterval(time.Second * 2)
	settingsEngine.SetNetworkTypes([]webrtc.NetworkType{
		webrtc.NetworkTypeUDP4,
		webrtc.NetworkTypeUDP6,
	})

	return &Server{
		clients: make(map[string]*Client),
		config: webrtc.Configuration{
			ICEServers: iceServers,
		},
		maxClients: cfg.MaxClients,
		api:        webrtc.NewAPI(webrtc.WithSettingEngine(settingsEngine)),
	}
}

// HandleOffer handles a WebRTC offer and returns an answer. The offer must
// carry an application section; the detection channel is pre-negotiated with
// ChannelLabel/ChannelID on both ends.
func (s *Server) HandleOffer(offerJSON []byte) ([]byte, error) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(offerJSON, &offer); err != nil {
		return nil, fmt.Errorf("failed to parse offer: %w", err)
	}
	if offer.Type != webrtc.SDPTypeOffer || offer.SDP == "" {
		return nil, fmt.Errorf("expected an SDP offer")
	}

	peerConn, err := s.api.NewPeerConnection(s.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	negotiated := true
	id := ChannelID
	ordered := false
	maxRetransmits := uint16(0)
	channel, err := peerConn.CreateDataChannel(ChannelLabel, &webrtc.DataChannelInit{
		Negotiated:     &negotiated,
		ID:             &id,
		Ordered:        &ordered,
		MaxRetransmits: &maxRetransmits,
	})
	if err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to create data channel: %w", err)
	}

	client := &Client{
		id:        uuid.NewString(),
		peerConn:  peerConn,
		channel:   channel,
		events:    make(chan []byte, clientBuffer),
		closeChan: make(chan struct{}),
	}

	// Registered before negotiation so state callbacks always find the client
	if err := s.addClient(client); err != nil {
		peerConn.Close()
		return nil, err
	}

	opened := make(chan struct{})
	channel.OnOpen(func() {
		log.Debugf("Client %s data channel open", client.id)
		close(opened)
	})
	channel.OnClose(func() {
		s.RemoveClient(client.id)
	})
	peerConn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.handleConnectionState(client.id, state)
	})

	go s.sendEvents(client, opened)

	if err := peerConn.SetRemoteDescription(offer); err != nil {
		s.RemoveClient(client.id)
		return nil, fmt.Errorf("failed to set remote description: %w", err)
	}

	answer, err := peerConn.CreateAnswer(nil)
	if err != nil {
		s.RemoveClient(client.id)
		return nil, fmt.Errorf("failed to create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(peerConn)

	if err := peerConn.SetLocalDescription(answer); err != nil {
		s.RemoveClient(client.id)
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}

	<-gatherComplete

	localDesc := peerConn.LocalDescription()
	if localDesc == nil {
		s.RemoveClient(client.id)
		return nil, fmt.Errorf("no local description available")
	}

	answerJSON, err := json.Marshal(localDesc)
	if err != nil {
		s.RemoveClient(client.id)
		return nil, fmt.Errorf("failed to marshal answer: %w", err)
	}

	log.Infof("Client %s connected", client.id)
	return answerJSON, nil
}

// addClient registers client unless the server is full.
func (s *Server) addClient(client *Client) error {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()

	if len(s.clients) >= s.maxClients {
		return fmt.Errorf("maximum clients reached (%d)", s.maxClients)
	}
	s.clients[client.id] = client
	return nil
}

// handleConnectionState drops the client once its connection is gone.
func (s *Server) handleConnectionState(clientID string, state webrtc.PeerConnectionState) {
	log.Debugf("Client %s connection state: %s", clientID, state.String())

	if state == webrtc.PeerConnectionStateDisconnected ||
		state == webrtc.PeerConnectionStateFailed ||
		state == webrtc.PeerConnectionStateClosed {
		log.Infof("Client %s connection lost (%s), removing...", clientID, state.String())
		s.RemoveClient(clientID)
	}
}

// Broadcast queues payload for every client. Slow clients drop the event.
// It returns the number of clients queued and dropped.
func (s *Server) Broadcast(payload []byte) (sent, dropped int) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for _, client := range s.clients {
		select {
		case client.events <- payload:
			client.sent.Add(1)
			sent++
		default:
			client.dropped.Add(1)
			dropped++
		}
	}
	return sent, dropped
}

// sendEvents writes queued events once the channel is open
func (s *Server) sendEvents(client *Client, opened <-chan struct{}) {
	select {
	case <-client.closeChan:
		return
	case <-opened:
	}

	for {
		select {
		case <-client.closeChan:
			return
		case payload := <-client.events:
			if err := client.channel.Send(payload); err != nil {
				log.Warnf("Error sending to client %s: %v", client.id, err)
				s.RemoveClient(client.id)
				return
			}
		}
	}
}

// RemoveClient removes a client by ID
func (s *Server) RemoveClient(clientID string) {
	s.clientsMu.Lock()
	client, exists := s.clients[clientID]
	if exists {
		delete(s.clients, clientID)
	}
	s.clientsMu.Unlock()

	if !exists {
		return
	}

	client.closeOnce.Do(func() {
		close(client.closeChan)
		client.peerConn.Close()
	})

	log.Infof("Client %s disconnected (sent: %d, dropped: %d)",
		clientID, client.sent.Load(), client.dropped.Load())
}

// GetClientCount returns the number of connected clients
func (s *Server) GetClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// GetClientStats returns stats for all clients
func (s *Server) GetClientStats() map[string]map[string]uint64 {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	stats := make(map[string]map[string]uint64)
	for id, client := range s.clients {
		stats[id] = map[string]uint64{
			"events_sent":    client.sent.Load(),
			"events_dropped": client.dropped.Load(),
		}
	}
	return stats
}

// Close closes all client connections
func (s *Server) Close() error {
	s.clientsMu.RLock()
	ids := make([]string, 0, len(s.clients))
	for id := range s.clients {
		ids = append(ids, id)
	}
	s.clientsMu.RUnlock()

	for _, id := range ids {
		s.RemoveClient(id)
	}
	return nil
}
