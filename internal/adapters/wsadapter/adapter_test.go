package wsadapter

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/erauner12/bffgateway/internal/audit"
	"github.com/erauner12/bffgateway/internal/kernel"
	"github.com/erauner12/bffgateway/internal/manifest"
	"github.com/erauner12/bffgateway/internal/pipeline"
	"github.com/erauner12/bffgateway/internal/ratelimit"
)

type nopKernel struct{}

func (nopKernel) Run(_ context.Context, _ kernel.Invocation) (any, error) { return nil, nil }

func newTestAdapter(t *testing.T, patch string) *Adapter {
	t.Helper()
	var raw []byte
	if patch != "" {
		raw = []byte(patch)
	}
	m, err := manifest.New(raw, "")
	if err != nil {
		t.Fatal(err)
	}
	rates := ratelimit.NewMemoryStore()
	pipe := pipeline.New(m, nil, rates, audit.NewMemoryStore(""), zerolog.Nop())
	a := New(m, pipe, nopKernel{}, rates)
	t.Cleanup(a.Close)
	return a
}

func testConn(tenant string, perms ...string) *Connection {
	return &Connection{
		ID:            "conn-1",
		TenantID:      tenant,
		UserID:        "user-1",
		Permissions:   perms,
		CreatedAt:     time.Now(),
		subscriptions: make(map[string]bool),
		lastPing:      time.Now(),
	}
}

func TestPingPong(t *testing.T) {
	a := newTestAdapter(t, "")
	conn := testConn("tenant-abc")

	reply := a.HandleMessage(context.Background(), conn, Message{Type: "ping", ID: "msg-7"})
	if reply == nil || reply.Type != "pong" || reply.ID != "msg-7" {
		t.Errorf("reply = %+v, want pong echoing id", reply)
	}
}

func TestSubscribeLifecycle(t *testing.T) {
	a := newTestAdapter(t, "")
	a.RegisterChannel("public:events", nil)
	conn := testConn("tenant-abc")

	reply := a.HandleMessage(context.Background(), conn, Message{Type: "subscribe", Channel: "public:events"})
	if reply.Type != "subscribe" {
		t.Fatalf("reply = %+v", reply)
	}
	if !conn.Subscribed("public:events") {
		t.Error("subscription not recorded")
	}

	a.HandleMessage(context.Background(), conn, Message{Type: "unsubscribe", Channel: "public:events"})
	if conn.Subscribed("public:events") {
		t.Error("unsubscribe did not remove the subscription")
	}
}

func TestSubscribeUnknownChannel(t *testing.T) {
	a := newTestAdapter(t, "")
	conn := testConn("tenant-abc")

	reply := a.HandleMessage(context.Background(), conn, Message{Type: "subscribe", Channel: "nope"})
	if reply.Type != "error" || reply.Code != "NOT_FOUND" {
		t.Errorf("reply = %+v", reply)
	}
}

func TestSubscribeCrossTenantDenied(t *testing.T) {
	a := newTestAdapter(t, "")
	a.RegisterChannel("tenant-xyz:updates", nil)
	a.RegisterChannel("public:feed", nil)
	a.RegisterChannel("tenant-abc:updates", nil)
	conn := testConn("tenant-abc")

	reply := a.HandleMessage(context.Background(), conn, Message{Type: "subscribe", Channel: "tenant-xyz:updates"})
	if reply.Type != "error" || reply.Code != "FORBIDDEN" {
		t.Errorf("cross-tenant subscribe reply = %+v", reply)
	}

	if r := a.HandleMessage(context.Background(), conn, Message{Type: "subscribe", Channel: "public:feed"}); r.Type != "subscribe" {
		t.Errorf("public channel refused: %+v", r)
	}
	if r := a.HandleMessage(context.Background(), conn, Message{Type: "subscribe", Channel: "tenant-abc:updates"}); r.Type != "subscribe" {
		t.Errorf("own-tenant channel refused: %+v", r)
	}
}

func TestSubscribePermission(t *testing.T) {
	a := newTestAdapter(t, "")
	a.RegisterChannel("public:admin", nil)
	a.RequirePermission("public:admin", "admin:listen")

	denied := a.HandleMessage(context.Background(), testConn("tenant-abc"), Message{Type: "subscribe", Channel: "public:admin"})
	if denied.Type != "error" || denied.Code != "FORBIDDEN" {
		t.Errorf("reply = %+v", denied)
	}

	granted := a.HandleMessage(context.Background(), testConn("tenant-abc", "admin:listen"),
		Message{Type: "subscribe", Channel: "public:admin"})
	if granted.Type != "subscribe" {
		t.Errorf("reply = %+v", granted)
	}
}

func TestMessageDispatchToChannelHandler(t *testing.T) {
	a := newTestAdapter(t, "")
	a.RegisterChannel("public:echo", func(_ context.Context, _ *Connection, msg Message) (any, error) {
		return msg.Payload, nil
	})
	conn := testConn("tenant-abc")
	a.HandleMessage(context.Background(), conn, Message{Type: "subscribe", Channel: "public:echo"})

	reply := a.HandleMessage(context.Background(), conn,
		Message{Type: "message", Channel: "public:echo", Payload: "hello", ID: "m1"})
	if reply.Type != "message" || reply.Payload != "hello" {
		t.Errorf("reply = %+v", reply)
	}

	a.RegisterChannel("public:broken", func(_ context.Context, _ *Connection, msg Message) (any, error) {
		if msg.Type == "message" {
			return nil, errors.New("handler exploded")
		}
		return nil, nil
	})
	a.HandleMessage(context.Background(), conn, Message{Type: "subscribe", Channel: "public:broken"})
	failed := a.HandleMessage(context.Background(), conn, Message{Type: "message", Channel: "public:broken"})
	if failed.Type != "error" || failed.Code != "EXECUTION_FAILED" {
		t.Errorf("reply = %+v", failed)
	}
}

func TestMessageRateLimit(t *testing.T) {
	a := newTestAdapter(t, `{"protocols":{"websocket":{"enabled":true,"mount":"/ws","messagesPerSecond":3,"heartbeatIntervalMs":30000,"maxConnectionsPerTenant":100}}}`)
	conn := testConn("tenant-abc")

	for i := 0; i < 3; i++ {
		if r := a.HandleMessage(context.Background(), conn, Message{Type: "ping"}); r.Type != "pong" {
			t.Fatalf("message %d rejected: %+v", i+1, r)
		}
	}
	over := a.HandleMessage(context.Background(), conn, Message{Type: "ping"})
	if over.Type != "error" || over.Code != "RATE_LIMITED" {
		t.Errorf("over-limit reply = %+v", over)
	}
}

func TestPayloadValidation(t *testing.T) {
	a := newTestAdapter(t, "")
	conn := testConn("tenant-abc")

	blocked := a.HandleMessage(context.Background(), conn,
		Message{Type: "ping", Payload: "<script>alert(1)</script>"})
	if blocked.Type != "error" || blocked.Code != "AI_FIREWALL_BLOCKED" {
		t.Errorf("reply = %+v", blocked)
	}

	deep := any("leaf")
	for i := 0; i < 20; i++ {
		deep = map[string]any{"x": deep}
	}
	tooDeep := a.HandleMessage(context.Background(), conn, Message{Type: "ping", Payload: deep})
	if tooDeep.Type != "error" || tooDeep.Code != "VALIDATION_ERROR" {
		t.Errorf("reply = %+v", tooDeep)
	}
}

func TestTenantConnectionCap(t *testing.T) {
	a := newTestAdapter(t, "")

	for i := 0; i < 5; i++ {
		c := testConn("tenant-abc")
		c.ID = fmt.Sprintf("conn-%d", i)
		a.table.add(c)
	}
	if got := a.ConnectionCount("tenant-abc"); got != 5 {
		t.Errorf("count = %d", got)
	}
	a.table.remove("conn-3")
	if got := a.ConnectionCount("tenant-abc"); got != 4 {
		t.Errorf("count after disconnect = %d", got)
	}
}
