package broadcast

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/statline-dev/liveline/internal/models"
)

// wsConn is the subset of *websocket.Conn the client uses, extracted so
// tests can run the pumps against a fake connection
type wsConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// outbound is one queued delivery. The topic travels with the data so
// an evicted message can be attributed in its gap notice.
type outbound struct {
	topic string
	data  []byte
}

// Client is one websocket connection with its subscription set and
// bounded delivery queues
type Client struct {
	ID   string
	conn wsConn
	hub  *Hub

	send  chan outbound
	retry chan outbound
	done  chan struct{}

	mu            sync.Mutex
	closed        bool
	subscriptions map[string]bool
	lastHeartbeat time.Time
	dropped       map[string]int // per-topic drops pending a gap notice

	closeOnce sync.Once
}

func newClient(id string, conn wsConn, hub *Hub, sendQueue, retryQueue int) *Client {
	return &Client{
		ID:            id,
		conn:          conn,
		hub:           hub,
		send:          make(chan outbound, sendQueue),
		retry:         make(chan outbound, retryQueue),
		done:          make(chan struct{}),
		subscriptions: make(map[string]bool),
		lastHeartbeat: hub.now(),
		dropped:       make(map[string]int),
	}
}

// Subscriptions returns a copy of the client's active topic set
func (c *Client) Subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	topics := make([]string, 0, len(c.subscriptions))
	for topic := range c.subscriptions {
		topics = append(topics, topic)
	}
	return topics
}

func (c *Client) subscribe(topics []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, topic := range topics {
		c.subscriptions[topic] = true
	}
}

func (c *Client) unsubscribe(topics []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, topic := range topics {
		delete(c.subscriptions, topic)
	}
}

func (c *Client) subscribedTo(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscriptions[topic]
}

func (c *Client) touchHeartbeat() {
	c.mu.Lock()
	c.lastHeartbeat = c.hub.now()
	c.mu.Unlock()
}

func (c *Client) heartbeatAge(now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return now.Sub(c.lastHeartbeat)
}

// enqueue offers a message to the client. A full send queue degrades to
// the retry queue; when both queues are full the oldest retry-queued
// message is evicted to make room and its drop is recorded so the
// client gets a gap notice instead of silently missing messages.
// Enqueues after close are discarded. The send channel is never closed,
// so an enqueue racing a disconnect can not panic.
func (c *Client) enqueue(topic string, data []byte) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	out := outbound{topic: topic, data: data}
	select {
	case c.send <- out:
		return
	default:
	}

	select {
	case c.retry <- out:
		c.hub.logger.WithFields(logrus.Fields{
			"component": "broadcast",
			"client_id": c.ID,
			"topic":     topic,
		}).Debug("Send queue full, message queued for retry")
		return
	default:
	}

	select {
	case evicted := <-c.retry:
		c.mu.Lock()
		c.dropped[evicted.topic]++
		c.mu.Unlock()
	default:
	}

	select {
	case c.retry <- out:
	default:
		// Lost the freed slot to a concurrent enqueue
		c.mu.Lock()
		c.dropped[topic]++
		c.mu.Unlock()
	}
}

// flushGaps emits one gap message per topic with pending drops
func (c *Client) flushGaps() {
	c.mu.Lock()
	pending := c.dropped
	c.dropped = make(map[string]int)
	c.mu.Unlock()

	for topic, count := range pending {
		msg, err := models.NewMessage(models.MessageTypeGap, models.GapPayload{Topic: topic, Dropped: count})
		if err != nil {
			continue
		}
		data, _ := json.Marshal(msg)
		select {
		case c.send <- outbound{topic: topic, data: data}:
		default:
			// Still saturated, re-record so the notice is not lost
			c.mu.Lock()
			c.dropped[topic] += count
			c.mu.Unlock()
		}
	}
}

// drainRetries moves retry-queued messages back onto the send queue
// while capacity allows
func (c *Client) drainRetries() {
	for {
		select {
		case out := <-c.retry:
			select {
			case c.send <- out:
			default:
				// Send queue refilled, put it back or count the drop
				select {
				case c.retry <- out:
				default:
					c.mu.Lock()
					c.dropped[out.topic]++
					c.mu.Unlock()
				}
				return
			}
		default:
			return
		}
	}
}

// readPump parses inbound protocol messages until the connection drops
func (c *Client) readPump() {
	defer c.hub.disconnect(c, "read closed")

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.WithError(err).WithField("client_id", c.ID).Warn("Websocket read error")
			}
			return
		}

		var msg models.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendError("BAD_MESSAGE", "message is not valid JSON")
			continue
		}

		switch msg.Type {
		case models.MessageTypeSubscribe:
			var payload models.SubscribePayload
			if err := json.Unmarshal(msg.Payload, &payload); err != nil || len(payload.Topics) == 0 {
				c.sendError("BAD_SUBSCRIBE", "subscribe requires a topics list")
				continue
			}
			c.subscribe(payload.Topics)
			c.hub.logger.WithFields(logrus.Fields{
				"client_id": c.ID,
				"topics":    payload.Topics,
			}).Info("Client subscribed")

		case models.MessageTypeUnsubscribe:
			var payload models.SubscribePayload
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				c.sendError("BAD_UNSUBSCRIBE", "unsubscribe requires a topics list")
				continue
			}
			c.unsubscribe(payload.Topics)

		case models.MessageTypeHeartbeat:
			c.touchHeartbeat()

		default:
			c.sendError("UNKNOWN_TYPE", string(msg.Type))
		}
	}
}

// writePump owns all writes to the connection
func (c *Client) writePump(retryInterval time.Duration) {
	ticker := time.NewTicker(retryInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case out := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage, out.data); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case <-ticker.C:
			c.drainRetries()
			c.flushGaps()
		}
	}
}

func (c *Client) sendError(code, detail string) {
	msg, err := models.NewMessage(models.MessageTypeError, models.ErrorPayload{Code: code, Message: detail})
	if err != nil {
		return
	}
	data, _ := json.Marshal(msg)
	select {
	case c.send <- outbound{data: data}:
	default:
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
	})
}
