// Package feed streams committed claims to websocket subscribers.
package feed

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"sale-vesting-engine/internal/domain"
)

// HubConfig configures subscriber connections.
type HubConfig struct {
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is how long a subscriber may stay silent (pongs included).
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing one message.
	WriteTimeout time.Duration
	// BufferSize is the per-subscriber queue; messages past it are dropped.
	BufferSize int
}

// DefaultHubConfig returns default hub configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		PingInterval: 30 * time.Second,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 10 * time.Second,
		BufferSize:   64,
	}
}

// Options for creating Hub.
type Options struct {
	Config *HubConfig

	// OnSubscribers is called with the subscriber count after every change.
	OnSubscribers func(n int)
	// OnDrop is called for every message dropped for a slow subscriber.
	OnDrop func()
}

// ClaimMessage is the wire form of a claim.
type ClaimMessage struct {
	ClaimID      string `json:"claim_id"`
	InvestorID   string `json:"investor_id"`
	Amount       uint64 `json:"amount"`
	ClaimedTotal uint64 `json:"claimed_total"`
	Vested       uint64 `json:"vested"`
	ElapsedSec   int64  `json:"elapsed_sec"`
	ClaimedAt    int64  `json:"claimed_at"`
}

// NewClaimMessage converts a claim event to its wire form.
func NewClaimMessage(e domain.ClaimEvent) ClaimMessage {
	return ClaimMessage{
		ClaimID:      e.ClaimID,
		InvestorID:   e.InvestorID,
		Amount:       e.Amount,
		ClaimedTotal: e.ClaimedTotal,
		Vested:       e.Vested,
		ElapsedSec:   e.ElapsedSec,
		ClaimedAt:    e.ClaimedAt,
	}
}

// Message is one frame sent to subscribers.
type Message struct {
	Type  string        `json:"type"`
	Claim *ClaimMessage `json:"claim,omitempty"`
}

// MessageTypeClaim marks a claim frame.
const MessageTypeClaim = "claim"

type subscriber struct {
	conn     *websocket.Conn
	send     chan []byte
	investor string // empty receives all claims
}

// Hub fans claims out to websocket subscribers. It implements http.Handler;
// a subscriber may pass ?investor=<id> to receive only that investor's claims.
type Hub struct {
	config   HubConfig
	upgrader websocket.Upgrader

	onSubscribers func(int)
	onDrop        func()

	subs   map[*subscriber]struct{}
	subsMu sync.RWMutex

	closed atomic.Bool
	wg     sync.WaitGroup
}

// NewHub creates a new Hub.
func NewHub(opts Options) *Hub {
	cfg := DefaultHubConfig()
	if opts.Config != nil {
		cfg = *opts.Config
	}
	return &Hub{
		config: cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		onSubscribers: opts.OnSubscribers,
		onDrop:        opts.OnDrop,
		subs:          make(map[*subscriber]struct{}),
	}
}

// ServeHTTP upgrades the request and keeps the subscriber until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.closed.Load() {
		http.Error(w, "feed closed", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return // Upgrade already wrote the error response
	}

	s := &subscriber{
		conn:     conn,
		send:     make(chan []byte, h.config.BufferSize),
		investor: r.URL.Query().Get("investor"),
	}
	if !h.add(s) {
		conn.Close()
		return
	}
	go h.writeLoop(s)

	h.readLoop(s)
	h.remove(s)
}

// Publish queues a claim for every matching subscriber without blocking.
func (h *Hub) Publish(e domain.ClaimEvent) {
	if h.closed.Load() {
		return
	}

	claim := NewClaimMessage(e)
	payload, err := json.Marshal(Message{Type: MessageTypeClaim, Claim: &claim})
	if err != nil {
		return
	}

	h.subsMu.RLock()
	defer h.subsMu.RUnlock()

	for s := range h.subs {
		if s.investor != "" && s.investor != e.InvestorID {
			continue
		}
		select {
		case s.send <- payload:
		default:
			if h.onDrop != nil {
				h.onDrop()
			}
		}
	}
}

// Subscribers returns the current subscriber count.
func (h *Hub) Subscribers() int {
	h.subsMu.RLock()
	defer h.subsMu.RUnlock()
	return len(h.subs)
}

// Close disconnects all subscribers and waits for their writers to exit.
func (h *Hub) Close() error {
	if h.closed.Swap(true) {
		return nil // Already closed
	}

	h.subsMu.Lock()
	for s := range h.subs {
		close(s.send)
		delete(h.subs, s)
	}
	h.subsMu.Unlock()

	h.wg.Wait()
	h.notifySubscribers()
	return nil
}

// add registers s and reserves its writer in the wait group.
// Returns false once the hub is closed.
func (h *Hub) add(s *subscriber) bool {
	h.subsMu.Lock()
	if h.closed.Load() {
		h.subsMu.Unlock()
		return false
	}
	h.subs[s] = struct{}{}
	h.wg.Add(1)
	h.subsMu.Unlock()
	h.notifySubscribers()
	return true
}

func (h *Hub) remove(s *subscriber) {
	h.subsMu.Lock()
	if _, ok := h.subs[s]; ok {
		close(s.send)
		delete(h.subs, s)
	}
	h.subsMu.Unlock()
	h.notifySubscribers()
}

func (h *Hub) notifySubscribers() {
	if h.onSubscribers != nil {
		h.onSubscribers(h.Subscribers())
	}
}

// readLoop discards inbound frames; it only detects disconnects and pongs.
func (h *Hub) readLoop(s *subscriber) {
	s.conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writeLoop owns all writes to the connection.
func (h *Hub) writeLoop(s *subscriber) {
	defer h.wg.Done()
	defer s.conn.Close()

	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case payload, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
