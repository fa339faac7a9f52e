package wsadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/erauner12/bffgateway/internal/gatewayerr"
	"github.com/erauner12/bffgateway/internal/kernel"
	"github.com/erauner12/bffgateway/internal/manifest"
	"github.com/erauner12/bffgateway/internal/pipeline"
	"github.com/erauner12/bffgateway/internal/ratelimit"
)

// maxPayloadBytes caps one inbound message's serialized size.
const maxPayloadBytes = 100 * 1024

// Message is the inbound/outbound wire shape.
type Message struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
	Payload any    `json:"payload,omitempty"`
	ID      string `json:"id,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

// ChannelHandler reacts to subscribes and messages on a registered channel.
type ChannelHandler func(ctx context.Context, conn *Connection, msg Message) (any, error)

var payloadBlocklist = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<\s*script\b`),
	regexp.MustCompile(`__proto__`),
	regexp.MustCompile(`(?i)\b(eval|Function)\s*\(`),
}

// Adapter is the WebSocket protocol surface.
type Adapter struct {
	mount    string
	pipe     *pipeline.Pipeline
	exec     kernel.Executor
	rates    ratelimit.Store
	table    *connTable
	desc     manifest.ProtocolDescriptor
	maxDepth int

	channels    map[string]ChannelHandler
	permissions map[string]string

	stopHeartbeat chan struct{}
}

// New builds the adapter from the manifest's websocket descriptor and
// starts the heartbeat reaper.
func New(m manifest.Manifest, pipe *pipeline.Pipeline, exec kernel.Executor, rates ratelimit.Store) *Adapter {
	a := &Adapter{
		mount:         m.Protocols[manifest.ProtocolWebSocket].Mount,
		pipe:          pipe,
		exec:          exec,
		rates:         rates,
		table:         newConnTable(),
		desc:          m.Protocols[manifest.ProtocolWebSocket],
		maxDepth:      m.PayloadLimits.MaxDepth,
		channels:      make(map[string]ChannelHandler),
		permissions:   make(map[string]string),
		stopHeartbeat: make(chan struct{}),
	}
	go a.heartbeatLoop()
	return a
}

// RegisterChannel makes a channel subscribable, with an optional handler
// invoked on subscribe and message.
func (a *Adapter) RegisterChannel(channel string, handler ChannelHandler) {
	a.channels[channel] = handler
}

// RequirePermission gates subscriptions to a channel behind a permission.
func (a *Adapter) RequirePermission(channel, permission string) {
	a.permissions[channel] = permission
}

// Mount returns the path prefix the gateway mounts this adapter at.
func (a *Adapter) Mount() string { return a.mount }

// Ready reports whether the adapter can accept traffic.
func (a *Adapter) Ready() bool { return a.exec != nil }

// Handler returns the upgrade endpoint.
func (a *Adapter) Handler() http.Handler { return http.HandlerFunc(a.serve) }

// Close stops the heartbeat reaper and closes every live connection.
func (a *Adapter) Close() {
	close(a.stopHeartbeat)
	for _, c := range a.table.snapshot() {
		if c.sock != nil {
			_ = c.sock.Close(websocket.StatusGoingAway, "gateway shutting down")
		}
		a.table.remove(c.ID)
	}
}

func (a *Adapter) serve(w http.ResponseWriter, r *http.Request) {
	c, gwErr := a.pipe.Pre(r, "websocket")
	if gwErr != nil {
		w.Header().Set("X-Error-ID", uuid.NewString())
		http.Error(w, gwErr.MaskedMessage(a.pipe.MaskingEnabled()), gwErr.Status)
		return
	}
	if c.Preflight {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if cap := a.desc.MaxConnectionsPerTenant; cap > 0 && a.table.countTenant(c.Auth.TenantID) >= cap {
		http.Error(w, "tenant connection limit reached", http.StatusTooManyRequests)
		return
	}

	sock, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket accept failed")
		return
	}
	sock.SetReadLimit(maxPayloadBytes)

	conn := &Connection{
		ID:            uuid.NewString(),
		TenantID:      c.Auth.TenantID,
		UserID:        c.Auth.UserID,
		Roles:         c.Auth.Roles,
		Permissions:   c.Auth.Permissions,
		CreatedAt:     time.Now(),
		subscriptions: make(map[string]bool),
		lastPing:      time.Now(),
		sock:          sock,
	}
	a.table.add(conn)
	defer func() {
		a.table.remove(conn.ID)
		_ = sock.Close(websocket.StatusNormalClosure, "")
	}()

	timeout := time.Duration(a.pipe.Manifest.Timeouts.WebSocketMs) * time.Millisecond
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	for {
		var msg Message
		if err := wsjson.Read(ctx, sock, &msg); err != nil {
			return
		}
		reply := a.HandleMessage(ctx, conn, msg)
		if reply != nil {
			if err := wsjson.Write(ctx, sock, reply); err != nil {
				return
			}
		}
	}
}

// HandleMessage processes one inbound message and returns the reply to
// send, or nil for fire-and-forget types.
func (a *Adapter) HandleMessage(ctx context.Context, conn *Connection, msg Message) *Message {
	if allowed := a.allowMessage(ctx, conn); !allowed {
		return &Message{Type: "error", ID: msg.ID, Code: string(gatewayerr.CodeRateLimited), Error: "message rate exceeded"}
	}
	if err := a.validatePayload(msg); err != nil {
		return &Message{Type: "error", ID: msg.ID, Code: string(err.Code), Error: err.Message}
	}

	switch msg.Type {
	case "ping":
		conn.TouchPing()
		return &Message{Type: "pong", ID: msg.ID}
	case "pong":
		conn.TouchPing()
		return nil
	case "error":
		// Client-reported errors are logged, never echoed back.
		log.Debug().Str("connId", conn.ID).Str("clientError", msg.Error).Msg("client reported error")
		return nil
	case "subscribe":
		if err := a.subscribe(ctx, conn, msg); err != nil {
			return &Message{Type: "error", ID: msg.ID, Channel: msg.Channel, Code: string(err.Code), Error: err.Message}
		}
		return &Message{Type: "subscribe", ID: msg.ID, Channel: msg.Channel, Payload: "ok"}
	case "unsubscribe":
		conn.Unsubscribe(msg.Channel)
		return &Message{Type: "unsubscribe", ID: msg.ID, Channel: msg.Channel, Payload: "ok"}
	case "message":
		handler, ok := a.channels[msg.Channel]
		if !ok || !conn.Subscribed(msg.Channel) {
			return &Message{Type: "error", ID: msg.ID, Channel: msg.Channel,
				Code: string(gatewayerr.CodeNotFound), Error: "not subscribed to channel"}
		}
		if handler == nil {
			return nil
		}
		result, err := handler(ctx, conn, msg)
		if err != nil {
			return &Message{Type: "error", ID: msg.ID, Channel: msg.Channel,
				Code: string(gatewayerr.CodeExecutionFailed), Error: err.Error()}
		}
		if result == nil {
			return nil
		}
		return &Message{Type: "message", ID: msg.ID, Channel: msg.Channel, Payload: result}
	default:
		return &Message{Type: "error", ID: msg.ID,
			Code: string(gatewayerr.CodeValidation), Error: "unknown message type " + msg.Type}
	}
}

// allowMessage enforces the per-connection messages-per-second bucket.
func (a *Adapter) allowMessage(ctx context.Context, conn *Connection) bool {
	max := a.desc.MessagesPerSecond
	if max <= 0 {
		return true
	}
	key := ratelimit.Key(conn.TenantID, "websocket", conn.ID)
	bucket, err := a.rates.Increment(ctx, key, time.Second)
	if err != nil {
		log.Error().Err(err).Msg("websocket rate store unavailable")
		return true
	}
	return bucket.Count <= max
}

// validatePayload enforces size, nesting depth, and the pattern blocklist.
func (a *Adapter) validatePayload(msg Message) *gatewayerr.Error {
	if msg.Payload == nil {
		return nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(msg.Payload); err != nil {
		return gatewayerr.New(gatewayerr.CodeValidation, "payload is not serializable")
	}
	raw := bytes.TrimSpace(buf.Bytes())
	if len(raw) > maxPayloadBytes {
		return gatewayerr.New(gatewayerr.CodePayloadTooLarge, "payload exceeds size limit")
	}
	if depth := nestingDepth(raw); depth > a.maxDepth {
		return gatewayerr.New(gatewayerr.CodeValidation, "payload nesting too deep")
	}
	for _, re := range payloadBlocklist {
		if re.Match(raw) {
			return gatewayerr.New(gatewayerr.CodeAIFirewallBlocked, "payload blocked")
		}
	}
	return nil
}

func nestingDepth(raw []byte) int {
	depth, max := 0, 0
	inString := false
	for i := 0; i < len(raw); i++ {
		b := raw[i]
		if inString {
			if b == '\\' {
				i++
			} else if b == '"' {
				inString = false
			}
			continue
		}
		switch b {
		case '"':
			inString = true
		case '{', '[':
			depth++
			if depth > max {
				max = depth
			}
		case '}', ']':
			depth--
		}
	}
	return max
}

// subscribe applies the channel-existence, permission, and tenant-scope
// rules before recording the subscription.
func (a *Adapter) subscribe(ctx context.Context, conn *Connection, msg Message) *gatewayerr.Error {
	channel := msg.Channel
	handler, exists := a.channels[channel]
	if !exists {
		return gatewayerr.New(gatewayerr.CodeNotFound, "unknown channel "+channel)
	}
	if perm := a.permissions[channel]; perm != "" && !conn.HasPermission(perm) {
		return gatewayerr.New(gatewayerr.CodeForbidden, "missing permission for channel "+channel)
	}
	if !channelAccessible(channel, conn.TenantID) {
		return gatewayerr.New(gatewayerr.CodeForbidden, "channel belongs to another tenant")
	}

	conn.Subscribe(channel)

	if handler != nil {
		if _, err := handler(ctx, conn, msg); err != nil {
			conn.Unsubscribe(channel)
			return gatewayerr.New(gatewayerr.CodeExecutionFailed, err.Error())
		}
	}
	return nil
}

// channelAccessible allows public channels to anyone and tenant-scoped
// channels only to connections of that tenant.
func channelAccessible(channel, tenantID string) bool {
	if strings.HasPrefix(channel, "public:") {
		return true
	}
	return strings.Contains(channel, tenantID)
}

// Broadcast sends a message to every connection subscribed to a channel,
// optionally restricted to one tenant. It returns the delivery count.
func (a *Adapter) Broadcast(ctx context.Context, channel string, payload any, tenantFilter string) int {
	msg := Message{Type: "message", Channel: channel, Payload: payload}
	n := 0
	for _, conn := range a.table.snapshot() {
		if tenantFilter != "" && conn.TenantID != tenantFilter {
			continue
		}
		if !conn.Subscribed(channel) {
			continue
		}
		if conn.sock != nil {
			if err := wsjson.Write(ctx, conn.sock, msg); err != nil {
				log.Warn().Err(err).Str("connId", conn.ID).Msg("broadcast write failed")
				continue
			}
		}
		n++
	}
	return n
}

// ConnectionCount reports live connections, optionally for one tenant.
func (a *Adapter) ConnectionCount(tenant string) int {
	if tenant == "" {
		return len(a.table.snapshot())
	}
	return a.table.countTenant(tenant)
}
