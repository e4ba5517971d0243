package control

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/liqi-mitm/core/internal/addon"
	"github.com/liqi-mitm/core/internal/autorun"
	"github.com/liqi-mitm/core/internal/gamestate"
	"github.com/liqi-mitm/core/internal/packetbot"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	a := addon.New(nil, nil)
	state := func() gamestate.Snapshot { return gamestate.Snapshot{} }
	bot := packetbot.New(a, state, nil)
	runner := autorun.New(bot, state, nil, nil, nil)
	return New(runner, bot, state, nil, nil)
}

func TestServeHTTPHandlesRequestUpdate(t *testing.T) {
	s := testServer(t)
	ts := httptest.NewServer(http.HandlerFunc(s.ServeHTTP))
	defer ts.Close()

	wsURL := "ws" + ts.URL[len("http"):]
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(Packet{Type: "request_update"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	gotStatus, gotGameState := false, false
	for i := 0; i < 2; i++ {
		var pkt Packet
		if err := conn.ReadJSON(&pkt); err != nil {
			t.Fatalf("read: %v", err)
		}
		switch pkt.Type {
		case "status_update":
			gotStatus = true
		case "game_state":
			gotGameState = true
		default:
			t.Fatalf("unexpected packet type %q", pkt.Type)
		}
	}
	if !gotStatus || !gotGameState {
		t.Fatalf("expected both status_update and game_state, got status=%v game_state=%v", gotStatus, gotGameState)
	}
}

func TestServeHTTPUnknownAutorunActionReportsError(t *testing.T) {
	s := testServer(t)
	ts := httptest.NewServer(http.HandlerFunc(s.ServeHTTP))
	defer ts.Close()

	wsURL := "ws" + ts.URL[len("http"):]
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	data, _ := json.Marshal(autorunControlData{Action: "not_a_real_action"})
	if err := conn.WriteJSON(Packet{Type: "autorun_control", Data: data}); err != nil {
		t.Fatalf("write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var pkt Packet
	if err := conn.ReadJSON(&pkt); err != nil {
		t.Fatalf("read: %v", err)
	}
	if pkt.Type != "error" {
		t.Fatalf("expected error packet, got %q", pkt.Type)
	}
}

func TestRegisterHTTPDiscardRequiresTileID(t *testing.T) {
	s := testServer(t)
	mux := http.NewServeMux()
	s.RegisterHTTP(mux)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/control/discard", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing tile_id, got %d", resp.StatusCode)
	}
}

func TestRegisterHTTPDiscardRejectsWrongStage(t *testing.T) {
	s := testServer(t)
	mux := http.NewServeMux()
	s.RegisterHTTP(mux)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/control/discard?tile_id=3", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ok, _ := body["ok"].(bool); ok {
		t.Fatalf("expected ok=false with no active flow/wrong stage, got %+v", body)
	}
}

func TestRegisterHTTPSnapshotReturnsState(t *testing.T) {
	s := testServer(t)
	mux := http.NewServeMux()
	s.RegisterHTTP(mux)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/control/snapshot")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestRegisterHTTPSnapshotRejectsPost(t *testing.T) {
	s := testServer(t)
	mux := http.NewServeMux()
	s.RegisterHTTP(mux)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/control/snapshot", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
}
