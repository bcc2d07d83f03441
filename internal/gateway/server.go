// Copyright 2026 Robert Macrae. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

package gateway

import (
	"encoding/json"
	"net/http"

	"pkt.systems/pslog"
)

// Server is the HTTP surface of the gateway: the WebSocket endpoint
// plus the small JSON API the remote UI bootstraps from.
type Server struct {
	handler *Handler
	auth    *AuthService
	tabs    TabProvider
	log     pslog.Logger
}

func NewServer(h *Handler, auth *AuthService, tabs TabProvider, logger pslog.Logger) *Server {
	return &Server{handler: h, auth: auth, tabs: tabs, log: logger}
}

// Routes builds the request mux.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /tabs", s.handleTabs)
	mux.HandleFunc("POST /auth/verify", s.handleVerify)
	mux.HandleFunc("GET /ws", s.handler.HandleWS)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":  "ok",
		"clients": s.handler.ClientCount(),
	})
}

func (s *Server) handleTabs(w http.ResponseWriter, r *http.Request) {
	tabs := s.tabs.Tabs()
	if tabs == nil {
		tabs = []TabInfo{}
	}
	writeJSON(w, tabs)
}

// handleVerify checks a token without admitting a connection, so the
// UI can validate user input before opening the WebSocket.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]bool{"valid": s.auth.VerifyToken(req.Token)})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
