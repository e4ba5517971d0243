package wsproxy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/liqi-mitm/core/internal/addon"
	"github.com/liqi-mitm/core/internal/codec"
	"github.com/liqi-mitm/core/internal/hook"
	"github.com/liqi-mitm/core/internal/waiter"
)

// echoUpstream is a fake game server that echoes back whatever the client
// sends it, framed identically, so a test can assert a pass-through frame
// reaches the client unmodified.
func echoUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close(websocket.StatusNormalClosure, "")
		for {
			_, data, err := c.Read(r.Context())
			if err != nil {
				return
			}
			if err := c.Write(r.Context(), websocket.MessageBinary, data); err != nil {
				return
			}
		}
	}))
}

func buildPassthroughFlow(peerKey string, injector hook.Injector) *addon.Flow {
	c := codec.New(codec.NewDescriptor())
	w := waiter.New()
	e := hook.New(c, w)
	return &addon.Flow{PeerKey: peerKey, Codec: c, Waiters: w, Engine: e, Injector: injector}
}

func TestHostPassesFrameThroughToUpstreamAndBack(t *testing.T) {
	upstream := echoUpstream(t)
	defer upstream.Close()

	a := addon.New(nil, nil)
	wsURL := "ws" + upstream.URL[len("http"):]
	host := New(a, buildPassthroughFlow, DefaultDial(wsURL), nil)

	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host.HandleClient(w, r)
	}))
	defer proxy.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	clientURL := "ws" + proxy.URL[len("http"):]
	conn, _, err := websocket.Dial(ctx, clientURL, nil)
	if err != nil {
		t.Fatalf("dial proxy: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	sent := []byte{byte(codec.KindNotify)}
	env := codec.NewEnvelope(".lq.Lobby.heartbeat", (&codec.Message{}).Encode())
	sent = append(sent, env.Encode()...)

	if err := conn.Write(ctx, websocket.MessageBinary, sent); err != nil {
		t.Fatalf("write: %v", err)
	}

	_, got, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != string(sent) {
		t.Fatalf("expected echoed frame to pass through unmodified, got %v want %v", got, sent)
	}
}
