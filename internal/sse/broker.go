// Package sse implements a Server-Sent Events broker for transaction and
// local article updates.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/starford/distwiki/internal/models"
)

// Event types.
const (
	EventTxSubmitted   = "tx.submitted"
	EventTxResolved    = "tx.resolved"
	EventLocalChanged  = "local.changed"
	EventLedgerUpdated = "ledger.updated"
)

// Event represents an SSE event to broadcast.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// TxData is the payload of tx.* events.
type TxData struct {
	Hash        string        `json:"hash"`
	Description string        `json:"description"`
	Nonce       uint64        `json:"nonce"`
	Status      models.Status `json:"status"`
}

// LocalData is the payload of local.changed events.
type LocalData struct {
	Title string `json:"title"`
	Op    string `json:"op"`
}

type txEventReq struct {
	typ string
	rec models.TransactionRecord
}

// Broker manages SSE client connections and broadcasts events.
//
// Concurrency model: a single internal event loop (goroutine) owns mutable state
// (clients + ledger throttle timestamp). Public methods communicate with this loop
// through channels, so no mutexes are required.
type Broker struct {
	ledgerMin time.Duration

	subscribeCh   chan chan []byte
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	txEventCh     chan txEventReq
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a new SSE broker. ledgerThrottle is the minimum gap
// between two ledger.updated events.
func NewBroker(ledgerThrottle time.Duration) *Broker {
	if ledgerThrottle <= 0 {
		ledgerThrottle = 2 * time.Second
	}

	b := &Broker{
		ledgerMin:     ledgerThrottle,
		subscribeCh:   make(chan chan []byte),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		txEventCh:     make(chan txEventReq, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]struct{})
	var lastLedger time.Time

	broadcast := func(event Event) {
		payload, err := json.Marshal(event.Data)
		if err != nil {
			return
		}
		msg := fmt.Sprintf("event: %s\ndata: %s\n\n", event.Type, payload)
		raw := []byte(msg)

		for ch := range clients {
			select {
			case ch <- raw:
			default:
				// Client buffer full; skip to avoid blocking broker loop.
			}
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case ch := <-b.subscribeCh:
			clients[ch] = struct{}{}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case event := <-b.publishCh:
			broadcast(event)

		case req := <-b.txEventCh:
			broadcast(Event{Type: req.typ, Data: TxData{
				Hash:        req.rec.Hash,
				Description: req.rec.Description,
				Nonce:       req.rec.Nonce,
				Status:      req.rec.Status,
			}})

			now := time.Now()
			if now.Sub(lastLedger) >= b.ledgerMin {
				lastLedger = now
				broadcast(Event{Type: EventLedgerUpdated, Data: map[string]string{}})
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close gracefully stops broker loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a new client and returns its channel.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- ch:
	case <-b.stopped:
		close(ch)
	}

	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends an event to all connected clients.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// PublishSubmitted announces a newly broadcast transaction.
func (b *Broker) PublishSubmitted(rec models.TransactionRecord) {
	b.publishTx(EventTxSubmitted, rec)
}

// PublishResolved announces a transaction that reached a terminal status.
func (b *Broker) PublishResolved(rec models.TransactionRecord) {
	b.publishTx(EventTxResolved, rec)
}

// publishTx sends a tx event followed by a throttled ledger.updated.
func (b *Broker) publishTx(typ string, rec models.TransactionRecord) {
	if b.closed.Load() {
		return
	}
	select {
	case b.txEventCh <- txEventReq{typ: typ, rec: rec}:
	case <-b.stopped:
	}
}

// PublishLocalEvent announces a change to a local article copy.
// op is one of "created", "updated" or "deleted".
func (b *Broker) PublishLocalEvent(op, title string) {
	b.Publish(Event{Type: EventLocalChanged, Data: LocalData{Title: title, Op: op}})
}

// ServeHTTP is the SSE endpoint handler (GET /api/events).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
