package broadcast

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/statline-dev/liveline/internal/metrics"
	"github.com/statline-dev/liveline/internal/models"
)

// Config bounds per-client queues and the heartbeat policy
type Config struct {
	HeartbeatInterval time.Duration
	SendQueueSize     int
	RetryQueueSize    int
	RetryInterval     time.Duration
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// In production, implement proper origin checking
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Hub fans probability and state updates out to subscribed websocket
// clients. Publishing to a topic with no subscribers is a no-op, never
// an error: nothing is serialized and no send is counted.
type Hub struct {
	cfg    Config
	logger *logrus.Logger

	mu        sync.RWMutex
	clients   map[string]*Client
	sendCount map[string]uint64 // per-topic publishes that reached a subscriber

	now func() time.Time
}

func NewHub(cfg Config, logger *logrus.Logger) *Hub {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 15 * time.Second
	}
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = 256
	}
	if cfg.RetryQueueSize <= 0 {
		cfg.RetryQueueSize = 64
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 2 * time.Second
	}
	return &Hub{
		cfg:       cfg,
		logger:    logger,
		clients:   make(map[string]*Client),
		sendCount: make(map[string]uint64),
		now:       time.Now,
	}
}

// Run drives the heartbeat monitor until the context ends. Clients
// silent for three heartbeat intervals are disconnected.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.HeartbeatInterval)
	defer ticker.Stop()

	h.logger.WithField("component", "broadcast").Info("Broadcast hub started")
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-ticker.C:
			h.reapStale()
		}
	}
}

// HandleWS upgrades an HTTP request into a managed client connection
func (h *Hub) HandleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade websocket connection")
		return
	}
	h.Attach(uuid.New().String(), conn)
}

// Attach registers a connection and starts its pumps. Exposed with the
// wsConn interface so tests can drive fake connections through the
// full client lifecycle.
func (h *Hub) Attach(id string, conn wsConn) *Client {
	client := newClient(id, conn, h, h.cfg.SendQueueSize, h.cfg.RetryQueueSize)

	h.mu.Lock()
	h.clients[id] = client
	total := len(h.clients)
	h.mu.Unlock()
	metrics.ConnectedClients.Set(float64(total))

	h.logger.WithFields(logrus.Fields{
		"component": "broadcast",
		"client_id": id,
		"clients":   total,
	}).Info("Client connected")

	ack, err := models.NewMessage(models.MessageTypeConnectionAck, gin.H{"client_id": id})
	if err == nil {
		data, _ := json.Marshal(ack)
		client.enqueue("", data)
	}

	go client.writePump(h.cfg.RetryInterval)
	go client.readPump()
	return client
}

// Publish offers the message to every subscriber of the topic and
// returns how many clients it was offered to. With no subscribers it
// returns 0 without serializing anything or counting a send.
func (h *Hub) Publish(topic string, msg *models.Message) int {
	h.mu.RLock()
	subscribers := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		if client.subscribedTo(topic) {
			subscribers = append(subscribers, client)
		}
	}
	h.mu.RUnlock()

	if len(subscribers) == 0 {
		return 0
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.WithError(err).WithField("topic", topic).Error("Failed to marshal broadcast message")
		return 0
	}

	h.mu.Lock()
	h.sendCount[topic]++
	h.mu.Unlock()

	metrics.BroadcastSends.WithLabelValues(string(msg.Type)).Inc()
	for _, client := range subscribers {
		client.enqueue(topic, data)
	}
	return len(subscribers)
}

// SendCount reports how many publishes to a topic reached at least one
// subscriber
func (h *Hub) SendCount(topic string) uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sendCount[topic]
}

// ClientCount reports currently attached connections
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// PublishProbabilities fans a probability snapshot out to the event's
// probability topic
func (h *Hub) PublishProbabilities(snap *models.GameProbabilities) {
	msg, err := models.NewMessage(models.MessageTypeProbabilityUpdate, snap)
	if err != nil {
		h.logger.WithError(err).Warn("Failed to build probability update")
		return
	}
	h.Publish(models.TopicEventProbabilities(snap.EventID), msg)
}

// PublishGameState fans a state change out to the event's state topic
func (h *Hub) PublishGameState(state *models.GameState) {
	msg, err := models.NewMessage(models.MessageTypeGameStateUpdate, state)
	if err != nil {
		h.logger.WithError(err).Warn("Failed to build game state update")
		return
	}
	h.Publish(models.TopicEventState(state.EventID), msg)
}

// PublishPredictionComplete fans a finished simulation out to its
// scenario topic and the event's probability topic
func (h *Hub) PublishPredictionComplete(result *models.SimulationResult) {
	msg, err := models.NewMessage(models.MessageTypePredictionComplete, result)
	if err != nil {
		h.logger.WithError(err).Warn("Failed to build prediction message")
		return
	}
	h.Publish(models.TopicPrediction(result.ScenarioID.String()), msg)
	if result.EventID != "" {
		h.Publish(models.TopicEventProbabilities(result.EventID), msg)
	}
}

// disconnect removes a client and closes its queues
func (h *Hub) disconnect(client *Client, reason string) {
	h.mu.Lock()
	if _, ok := h.clients[client.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client.ID)
	total := len(h.clients)
	h.mu.Unlock()
	metrics.ConnectedClients.Set(float64(total))

	client.close()
	h.logger.WithFields(logrus.Fields{
		"component": "broadcast",
		"client_id": client.ID,
		"reason":    reason,
		"clients":   total,
	}).Info("Client disconnected")
}

// reapStale disconnects clients whose last heartbeat is older than
// three intervals
func (h *Hub) reapStale() {
	limit := 3 * h.cfg.HeartbeatInterval
	now := h.now()

	h.mu.RLock()
	stale := make([]*Client, 0)
	for _, client := range h.clients {
		if client.heartbeatAge(now) > limit {
			stale = append(stale, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range stale {
		client.conn.Close()
		h.disconnect(client, "heartbeat timeout")
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.clients = make(map[string]*Client)
	h.mu.Unlock()
	metrics.ConnectedClients.Set(0)

	for _, client := range clients {
		client.close()
		client.conn.Close()
	}
}
