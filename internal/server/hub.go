package server

import (
	"context"
	"encoding/json"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"termchat/internal/chat"
)

// IncomingMessage is a frame a connected user wrote.
type IncomingMessage struct {
	SenderID string
	ChatID   int
	Text     string
}

// delivery travels through the broker: the stored message plus who gets it.
type delivery struct {
	Members []string           `json:"members"`
	Message chat.MessageRecord `json:"message"`
}

// Hub tracks the connections of this instance by user id. Only Run touches
// the client map.
type Hub struct {
	clients    map[string]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	publish    chan *IncomingMessage
	done       chan struct{}

	broker Broker
	store  Store
	log    *zap.Logger

	connections prometheus.Gauge
	delivered   prometheus.Counter
}

func NewHub(store Store, broker Broker, logger *zap.Logger, reg prometheus.Registerer) *Hub {
	h := &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		publish:    make(chan *IncomingMessage, 256),
		done:       make(chan struct{}),
		broker:     broker,
		store:      store,
		log:        logger.Named("hub"),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "termchat_server_connections",
			Help: "Open websocket connections on this instance.",
		}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "termchat_server_frames_delivered_total",
			Help: "Message frames queued to connected clients.",
		}),
	}
	if reg != nil {
		reg.MustRegister(h.connections, h.delivered)
	}
	return h
}

// Run serves the hub until ctx ends, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	deliveries, unsubscribe := h.broker.Subscribe(ctx)
	defer unsubscribe()

	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		h.dispatch(ctx)
	}()

	defer func() {
		close(h.done)
		<-dispatched
		for _, conns := range h.clients {
			for c := range conns {
				close(c.send)
			}
		}
		h.clients = map[string]map[*Client]bool{}
	}()

	for {
		select {
		case c := <-h.register:
			if h.clients[c.user.ID] == nil {
				h.clients[c.user.ID] = make(map[*Client]bool)
			}
			h.clients[c.user.ID][c] = true
			h.connections.Inc()
			h.log.Debug("client registered", zap.String("user_id", c.user.ID))

		case c := <-h.unregister:
			h.remove(c)

		case payload, ok := <-deliveries:
			if !ok {
				return
			}
			h.fanOut(payload)

		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) remove(c *Client) {
	conns := h.clients[c.user.ID]
	if _, ok := conns[c]; !ok {
		return
	}
	delete(conns, c)
	if len(conns) == 0 {
		delete(h.clients, c.user.ID)
	}
	close(c.send)
	h.connections.Dec()
}

// fanOut hands a delivery to every local connection of its members. A
// client whose queue is full is dropped.
func (h *Hub) fanOut(payload []byte) {
	var d delivery
	if err := json.Unmarshal(payload, &d); err != nil {
		h.log.Error("bad delivery", zap.Error(err))
		return
	}

	for _, member := range d.Members {
		conns := h.clients[member]
		if len(conns) == 0 {
			continue
		}
		msg := d.Message
		msg.IsRead = member == msg.SenderID
		frame, err := json.Marshal(msg)
		if err != nil {
			h.log.Error("encode frame", zap.Error(err))
			continue
		}
		for c := range conns {
			select {
			case c.send <- frame:
				h.delivered.Inc()
			default:
				h.log.Warn("client queue full, dropping", zap.String("user_id", member))
				h.remove(c)
			}
		}
	}
}

// dispatch stores what clients write and announces it. It runs apart from
// Run so a slow broker never stalls the fan-out.
func (h *Hub) dispatch(ctx context.Context) {
	for {
		select {
		case in := <-h.publish:
			h.handle(ctx, in)
		case <-ctx.Done():
			return
		case <-h.done:
			return
		}
	}
}

func (h *Hub) handle(ctx context.Context, in *IncomingMessage) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	msg, err := h.store.SaveMessage(ctx, in.ChatID, in.SenderID, in.Text)
	if err != nil {
		h.log.Warn("message rejected",
			zap.String("user_id", in.SenderID),
			zap.Int("chat_id", in.ChatID),
			zap.Error(err))
		return
	}
	members, err := h.store.Members(ctx, in.ChatID)
	if err != nil {
		h.log.Error("load members", zap.Int("chat_id", in.ChatID), zap.Error(err))
		return
	}
	if err := h.Announce(ctx, msg, members); err != nil {
		h.log.Error("publish failed", zap.Int("chat_id", in.ChatID), zap.Error(err))
	}
}

// Announce sends a stored message to every member, the sender included.
func (h *Hub) Announce(ctx context.Context, msg chat.MessageRecord, members []string) error {
	payload, err := json.Marshal(delivery{Members: members, Message: msg})
	if err != nil {
		return err
	}
	return h.broker.Publish(ctx, payload)
}

// Submit queues a frame written by a client. It gives up once the hub stops.
func (h *Hub) Submit(in *IncomingMessage) bool {
	select {
	case h.publish <- in:
		return true
	case <-h.done:
		return false
	}
}
