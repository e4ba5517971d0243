package control

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// RegisterHTTP mounts the single-shot action endpoints and the
// state-snapshot GET onto mux, matching the boundary behavior named
// alongside the control channel: discard, buy, start, fetch_game_data, and
// a read-only snapshot.
func (s *Server) RegisterHTTP(mux *http.ServeMux) {
	mux.HandleFunc("/control/discard", s.handleDiscard)
	mux.HandleFunc("/control/buy", s.handleBuy)
	mux.HandleFunc("/control/start", s.handleStart)
	mux.HandleFunc("/control/fetch_game_data", s.handleFetchGameData)
	mux.HandleFunc("/control/snapshot", s.handleSnapshot)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Logger.Error("control.http.encode_failed", "err", err)
	}
}

func (s *Server) writeMethodNotAllowed(w http.ResponseWriter) {
	s.writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
}

func (s *Server) handleDiscard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeMethodNotAllowed(w)
		return
	}
	tileID, err := strconv.ParseInt(r.URL.Query().Get("tile_id"), 10, 64)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing or invalid tile_id"})
		return
	}
	res := s.Bot.DiscardByTileID(r.Context(), tileID)
	s.writeJSON(w, http.StatusOK, packetbotResult(res))
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeMethodNotAllowed(w)
		return
	}
	goodsID, err := strconv.ParseInt(r.URL.Query().Get("goods_id"), 10, 64)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing or invalid goods_id"})
		return
	}
	res := s.Bot.BuyPack(r.Context(), goodsID)
	s.writeJSON(w, http.StatusOK, packetbotResult(res))
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeMethodNotAllowed(w)
		return
	}
	res := s.Bot.StartGame(r.Context())
	s.writeJSON(w, http.StatusOK, packetbotResult(res))
}

func (s *Server) handleFetchGameData(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeMethodNotAllowed(w)
		return
	}
	res := s.Bot.FetchGameData(r.Context())
	s.writeJSON(w, http.StatusOK, packetbotResult(res))
}

// handleSnapshot serves the current game-state snapshot read-only, for a
// UI that polls instead of (or alongside) the control channel's pushed
// game_state packets.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeMethodNotAllowed(w)
		return
	}
	s.writeJSON(w, http.StatusOK, s.State())
}
