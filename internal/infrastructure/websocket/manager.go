package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"pasargamex-realtime/internal/infrastructure/metrics"
	"pasargamex-realtime/internal/usecase"
	"pasargamex-realtime/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 * 1024
	sendBufferSize = 256
)

// Client is one websocket connection. Its subscriptions live as long as the
// connection does.
type Client struct {
	ID     string
	UserID string
	Conn   *websocket.Conn
	Send   chan []byte

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	mu   sync.Mutex
	subs map[string]struct{}
}

func NewClient(userID string, conn *websocket.Conn) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		ID:     uuid.New().String(),
		UserID: userID,
		Conn:   conn,
		Send:   make(chan []byte, sendBufferSize),
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[string]struct{}),
	}
}

// Close cancels the client's subscriptions and drops the connection. Safe
// to call from any goroutine, including a delivery callback.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		if c.Conn != nil {
			_ = c.Conn.Close()
		}
	})
}

func (c *Client) track(subscriptionID string) {
	c.mu.Lock()
	c.subs[subscriptionID] = struct{}{}
	c.mu.Unlock()
}

func (c *Client) untrack(subscriptionID string) {
	c.mu.Lock()
	delete(c.subs, subscriptionID)
	c.mu.Unlock()
}

func (c *Client) owns(subscriptionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subs[subscriptionID]
	return ok
}

func (c *Client) subscriptionIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.subs))
	for id := range c.subs {
		ids = append(ids, id)
	}
	return ids
}

// Manager tracks live connections and routes client frames to the use cases.
type Manager struct {
	clients    map[*Client]struct{}
	Register   chan *Client
	Unregister chan *Client
	mutex      sync.RWMutex
	done       chan struct{}

	subscriptions *usecase.SubscriptionUseCase
	dispatcher    *usecase.Dispatcher
}

func NewManager(subscriptions *usecase.SubscriptionUseCase, dispatcher *usecase.Dispatcher) *Manager {
	return &Manager{
		clients:       make(map[*Client]struct{}),
		Register:      make(chan *Client),
		Unregister:    make(chan *Client),
		done:          make(chan struct{}),
		subscriptions: subscriptions,
		dispatcher:    dispatcher,
	}
}

// Start runs the registration loop until ctx is done, then closes every
// remaining client.
func (m *Manager) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case client := <-m.Register:
				m.mutex.Lock()
				m.clients[client] = struct{}{}
				m.mutex.Unlock()
				metrics.WebsocketConnections.Inc()
				logger.Info("WebSocket: client %s registered for user %s", client.ID, client.UserID)

			case client := <-m.Unregister:
				m.remove(client)

			case <-ctx.Done():
				close(m.done)
				m.mutex.Lock()
				clients := make([]*Client, 0, len(m.clients))
				for client := range m.clients {
					clients = append(clients, client)
				}
				m.mutex.Unlock()
				for _, client := range clients {
					m.remove(client)
				}
				return
			}
		}
	}()
}

// Add registers a client, or closes it when the manager has stopped.
func (m *Manager) Add(client *Client) bool {
	select {
	case m.Register <- client:
		return true
	case <-m.done:
		client.Close()
		return false
	}
}

func (m *Manager) Remove(client *Client) {
	select {
	case m.Unregister <- client:
	case <-m.done:
		m.remove(client)
	}
}

func (m *Manager) remove(client *Client) {
	m.mutex.Lock()
	_, ok := m.clients[client]
	delete(m.clients, client)
	m.mutex.Unlock()

	client.Close()
	for _, id := range client.subscriptionIDs() {
		_ = m.subscriptions.Unsubscribe(client.UserID, id)
	}
	if ok {
		metrics.WebsocketConnections.Dec()
		logger.Info("WebSocket: client %s unregistered", client.ID)
	}
}

func (m *Manager) Count() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.clients)
}

// ReadPump reads frames until the connection fails, then unregisters.
func (c *Client) ReadPump(m *Manager) {
	defer m.Remove(c)

	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("WebSocket: read error for client %s: %v", c.ID, err)
			}
			return
		}
		m.HandleClientMessage(c, message)
	}
}

// WritePump drains Send and keeps the connection alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.Warn("WebSocket: write error for client %s: %v", c.ID, err)
				return
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
