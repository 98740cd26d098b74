package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/noah-isme/qr-attendance-api/internal/models"
	appErrors "github.com/noah-isme/qr-attendance-api/pkg/errors"
	"github.com/noah-isme/qr-attendance-api/pkg/response"
)

// Events pushed to and received from websocket clients.
const (
	EventCameraStart  = "camera.start"
	EventCameraPause  = "camera.pause"
	EventCameraResume = "camera.resume"
	EventCameraStop   = "camera.stop"
	EventTone         = "feedback.tone"
	EventScanResult   = "scan.result"
	EventScanOutcome  = "scan.outcome"
	EventGuardianLink = "guardian.link"
	EventRecent       = "attendance.recent"
	EventChange       = "change"
	EventError        = "error"

	// EventScanDecoded is sent by a kiosk when its decoder reads a QR payload.
	EventScanDecoded = "scan.decoded"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 32
)

// ErrDeviceNotConnected is returned when pushing to a device without a live socket.
var ErrDeviceNotConnected = errors.New("device not connected")

// TokenValidator authenticates websocket clients.
type TokenValidator interface {
	ValidateToken(token string) (*models.JWTClaims, error)
}

// DecodeHandler receives QR payloads decoded by a kiosk, with the claims of the socket that sent them.
type DecodeHandler func(ctx context.Context, deviceID string, actor *models.JWTClaims, text string) error

// Message is the websocket envelope.
type Message struct {
	Event string    `json:"event"`
	Data  any       `json:"data,omitempty"`
	At    time.Time `json:"at"`
}

type inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type client struct {
	conn     *websocket.Conn
	deviceID string
	claims   *models.JWTClaims
	send     chan Message
	once     sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// Hub tracks kiosk and dashboard connections.
type Hub struct {
	mu        sync.RWMutex
	clients   map[*client]struct{}
	devices   map[string]*client
	validator TokenValidator
	decode    DecodeHandler
	upgrader  websocket.Upgrader
	logger    *zap.Logger
}

// NewHub builds a hub authenticating clients with validator.
func NewHub(validator TokenValidator, allowedOrigins []string, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		clients:   make(map[*client]struct{}),
		devices:   make(map[string]*client),
		validator: validator,
		logger:    logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

// SetDecodeHandler routes inbound scan.decoded messages.
func (h *Hub) SetDecodeHandler(fn DecodeHandler) {
	h.mu.Lock()
	h.decode = fn
	h.mu.Unlock()
}

// Handle upgrades GET /ws?device=<id>&token=<jwt>. Without a device id the client only receives broadcasts.
func (h *Hub) Handle(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "token missing"))
		return
	}
	claims, err := h.validator.ValidateToken(token)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token"))
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	cl := &client{
		conn:     conn,
		deviceID: c.Query("device"),
		claims:   claims,
		send:     make(chan Message, sendBuffer),
	}
	h.register(cl)

	go h.writePump(cl)
	go h.readPump(cl)
}

// Run broadcasts every broker notification to connected clients until ctx is done.
func (h *Hub) Run(ctx context.Context, broker *Broker) {
	changes, cancel := broker.Subscribe(AllTables)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-changes:
			if !ok {
				return
			}
			h.Broadcast(Message{Event: EventChange, Data: n, At: n.At})
		}
	}
}

// Connected reports whether deviceID has a live socket.
func (h *Hub) Connected(deviceID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.devices[deviceID]
	return ok
}

// Connections reports the number of live sockets.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Send queues msg for deviceID.
func (h *Hub) Send(deviceID string, msg Message) error {
	if msg.At.IsZero() {
		msg.At = time.Now().UTC()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	cl, ok := h.devices[deviceID]
	if !ok {
		return ErrDeviceNotConnected
	}
	select {
	case cl.send <- msg:
		return nil
	default:
		return errors.New("device send buffer full")
	}
}

// Emit pushes event with payload to deviceID.
func (h *Hub) Emit(deviceID, event string, payload any) error {
	return h.Send(deviceID, Message{Event: event, Data: payload})
}

// PlayTone asks deviceID to play a feedback tone.
func (h *Hub) PlayTone(deviceID, tone string) error {
	return h.Emit(deviceID, EventTone, map[string]string{"tone": tone})
}

// Broadcast queues msg for every client; slow clients miss it.
func (h *Hub) Broadcast(msg Message) {
	if msg.At.IsZero() {
		msg.At = time.Now().UTC()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for cl := range h.clients {
		select {
		case cl.send <- msg:
		default:
			h.logger.Debug("broadcast dropped", zap.String("device", cl.deviceID))
		}
	}
}

func (h *Hub) register(cl *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[cl] = struct{}{}
	if cl.deviceID != "" {
		if prev, ok := h.devices[cl.deviceID]; ok {
			delete(h.clients, prev)
			prev.close()
		}
		h.devices[cl.deviceID] = cl
	}
	h.logger.Info("websocket client connected", zap.String("device", cl.deviceID), zap.String("user_id", cl.claims.UserID))
}

func (h *Hub) unregister(cl *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[cl]; !ok {
		return
	}
	delete(h.clients, cl)
	if cl.deviceID != "" && h.devices[cl.deviceID] == cl {
		delete(h.devices, cl.deviceID)
	}
	cl.close()
	h.logger.Info("websocket client disconnected", zap.String("device", cl.deviceID))
}

func (h *Hub) readPump(cl *client) {
	defer func() {
		h.unregister(cl)
		_ = cl.conn.Close()
	}()
	cl.conn.SetReadLimit(maxMessageSize)
	_ = cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg inbound
		if err := cl.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}
		h.dispatch(cl, msg)
	}
}

func (h *Hub) dispatch(cl *client, msg inbound) {
	switch msg.Event {
	case EventScanDecoded:
		if cl.deviceID == "" {
			h.reply(cl, EventError, "scan events require a device id")
			return
		}
		var payload struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			h.reply(cl, EventError, "invalid scan payload")
			return
		}
		h.mu.RLock()
		decode := h.decode
		h.mu.RUnlock()
		if decode == nil {
			return
		}
		if err := decode(context.Background(), cl.deviceID, cl.claims, payload.Text); err != nil {
			h.reply(cl, EventError, appErrors.FromError(err).Message)
		}
	default:
		h.reply(cl, EventError, "unknown event type")
	}
}

func (h *Hub) reply(cl *client, event, message string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[cl]; !ok {
		return
	}
	select {
	case cl.send <- Message{Event: event, Data: map[string]string{"message": message}, At: time.Now().UTC()}:
	default:
	}
}

func (h *Hub) writePump(cl *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = cl.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-cl.send:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = cl.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := cl.conn.WriteJSON(msg); err != nil {
				h.logger.Debug("websocket write error", zap.String("device", cl.deviceID), zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		if origin == "*" {
			return func(r *http.Request) bool { return true }
		}
		set[origin] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
