package stream

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/smartcathome/whisker/pkg/models"
)

func newTestConnection(t *testing.T) (*Connection, *httptest.ResponseRecorder) {
	t.Helper()
	rec := httptest.NewRecorder()
	conn, err := NewConnection(rec, "conn-1", 0)
	if err != nil {
		t.Fatalf("NewConnection() error = %v", err)
	}
	t.Cleanup(conn.Close)
	return conn, rec
}

func TestConnectionHeadersAndHello(t *testing.T) {
	_, rec := newTestConnection(t)

	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("Content-Type = %q", got)
	}
	if got := rec.Header().Get("X-Accel-Buffering"); got != "no" {
		t.Errorf("X-Accel-Buffering = %q", got)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"connected":true`) {
		t.Errorf("body = %q, want connected metadata event", body)
	}
	if !strings.Contains(body, `"type":"metadata"`) {
		t.Errorf("body = %q, want metadata type", body)
	}
}

func TestConnectionSendEvents(t *testing.T) {
	conn, rec := newTestConnection(t)

	if !conn.SendPhase("pro_thinking", "collecting", nil) {
		t.Error("SendPhase() = false")
	}
	if !conn.SendToken("喵", models.TierPro) {
		t.Error("SendToken() = false")
	}
	conn.SendDone(map[string]any{"total_ms": 12})

	body := rec.Body.String()
	for _, want := range []string{`"type":"phase"`, `"pro_thinking"`, `"type":"token"`, `"喵"`, `"type":"done"`, `"timestamp"`} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %s", want)
		}
	}
}

func TestConnectionSendAfterClose(t *testing.T) {
	conn, _ := newTestConnection(t)
	conn.Close()
	if conn.Active() {
		t.Error("Active() = true after Close")
	}
	if conn.SendToken("x", "") {
		t.Error("SendToken() = true after Close")
	}
	conn.Close() // idempotent
}

func TestTokenize(t *testing.T) {
	tokens := Tokenize("貓咪 loves tuna 100%!")
	want := []string{"貓", "咪", " ", "loves", " ", "tuna", " ", "100", "%!"}
	if len(tokens) != len(want) {
		t.Fatalf("Tokenize() = %v, want %v", tokens, want)
	}
	for i := range want {
		if tokens[i] != want[i] {
			t.Errorf("token[%d] = %q, want %q", i, tokens[i], want[i])
		}
	}
}

func TestStreamTextDeliversAllTokens(t *testing.T) {
	conn, rec := newTestConnection(t)
	StreamText(context.Background(), conn, "hi 貓", 0)

	body := rec.Body.String()
	for _, want := range []string{`"hi"`, `"貓"`} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing token %s", want)
		}
	}
}

func TestStreamTextStopsOnClose(t *testing.T) {
	conn, rec := newTestConnection(t)
	conn.Close()
	before := rec.Body.Len()
	StreamText(context.Background(), conn, "should not appear", 0)
	if rec.Body.Len() != before {
		t.Error("StreamText() wrote to a closed connection")
	}
}

func newTestPool(t *testing.T) *Pool {
	t.Helper()
	p := NewPool(2, 0, 0, time.Minute)
	t.Cleanup(p.CloseAll)
	return p
}

func TestPoolReplaceExisting(t *testing.T) {
	p := newTestPool(t)

	first, err := p.Create(httptest.NewRecorder(), "session-a")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	second, err := p.Create(httptest.NewRecorder(), "session-a")
	if err != nil {
		t.Fatalf("Create() replacement error = %v", err)
	}

	if first.Active() {
		t.Error("replaced connection still active")
	}
	if !second.Active() {
		t.Error("replacement connection not active")
	}
	if p.Count() != 1 {
		t.Errorf("Count() = %d, want 1", p.Count())
	}
}

func TestPoolCapacity(t *testing.T) {
	p := newTestPool(t)

	for i, id := range []string{"a", "b"} {
		if _, err := p.Create(httptest.NewRecorder(), id); err != nil {
			t.Fatalf("Create(%d) error = %v", i, err)
		}
	}
	if _, err := p.Create(httptest.NewRecorder(), "c"); err == nil {
		t.Error("Create() error = nil at capacity, want error")
	}
}

func TestPoolCloseAllDrainsImmediately(t *testing.T) {
	p := NewPool(2, 0, 0, time.Minute)
	conn, err := p.Create(httptest.NewRecorder(), "draining")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	done := make(chan struct{})
	go func() {
		p.CloseAll()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("CloseAll() did not return promptly")
	}

	if conn.Active() {
		t.Error("connection still active after CloseAll")
	}
	if p.Count() != 0 {
		t.Errorf("Count() = %d, want 0", p.Count())
	}
}

func TestPoolShutdownWaitsForContext(t *testing.T) {
	p := NewPool(2, 0, 0, time.Minute)
	if _, err := p.Create(httptest.NewRecorder(), "lifetime"); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Shutdown(ctx)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Shutdown() returned before the context ended")
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Shutdown() did not close the pool after context end")
	}
	if p.Count() != 0 {
		t.Errorf("Count() = %d, want 0", p.Count())
	}
}

func TestPoolCleanupInactive(t *testing.T) {
	p := newTestPool(t)

	conn, err := p.Create(httptest.NewRecorder(), "idle")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	conn.Close()
	p.CleanupInactive()

	if p.Count() != 0 {
		t.Errorf("Count() = %d, want 0 after sweep", p.Count())
	}
	if _, ok := p.Get("idle"); ok {
		t.Error("Get() found swept connection")
	}
}
