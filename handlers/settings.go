package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"novel_ai/session"
	"novel_ai/templates"
)

// Settings stores the API key and the tier and debug flags. An empty key field keeps the
// saved key unless clearKey is set.
func (h *Handler) Settings(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	p := s.Preferences()
	if p == nil {
		http.Error(w, "Settings are not available.", http.StatusNotFound)
		return
	}
	next := session.Settings{
		APIKey:    strings.TrimSpace(r.FormValue("apiKey")),
		PreferKey: r.FormValue("preferKey") == "true",
		Debug:     r.FormValue("debug") == "true",
	}
	if next.APIKey == "" && r.FormValue("clearKey") != "true" {
		next.APIKey = p.APIKey()
	}
	if err := p.Update(r.Context(), next); err != nil {
		log.Printf("[handlers] settings %s: %v", s.ID(), err)
		http.Error(w, "Could not save settings.", http.StatusInternalServerError)
		return
	}
	h.render(w, r, http.StatusOK, templates.Settings(settingsForm(s)))
}

// DebugLog downloads the session's debug log as JSON. It is only served in debug mode.
func (h *Handler) DebugLog(w http.ResponseWriter, r *http.Request) {
	s, ok := h.debugSession(w, r)
	if !ok {
		return
	}
	exp, err := h.Debug.Export(r.Context(), s.ID())
	if err != nil {
		log.Printf("[handlers] debug log %s: %v", s.ID(), err)
		http.Error(w, "Could not read the debug log.", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="debug-log.json"`)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(exp); err != nil {
		log.Printf("[handlers] debug log %s: %v", s.ID(), err)
	}
}

// ClearDebugLog drops the session's recorded calls, prompts and errors. Settings are kept.
func (h *Handler) ClearDebugLog(w http.ResponseWriter, r *http.Request) {
	s, ok := h.debugSession(w, r)
	if !ok {
		return
	}
	if err := h.Debug.Clear(r.Context(), s.ID()); err != nil {
		log.Printf("[handlers] clear debug log %s: %v", s.ID(), err)
		http.Error(w, "Could not clear the debug log.", http.StatusInternalServerError)
		return
	}
	h.render(w, r, http.StatusOK, templates.Settings(settingsForm(s)))
}

// debugSession returns the caller's session when debug mode is on and a store is configured.
func (h *Handler) debugSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	s, ok := h.session(w, r)
	if !ok {
		return nil, false
	}
	p := s.Preferences()
	if h.Debug == nil || p == nil || !p.Settings().Debug {
		http.NotFound(w, r)
		return nil, false
	}
	return s, true
}
