package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/a-h/templ"

	"novel_ai/debuglog"
	"novel_ai/session"
	"novel_ai/templates"
)

// CookieName holds the browser's session id.
const CookieName = "novel_session"

// DebugLog is the part of the debug store the handlers use.
type DebugLog interface {
	Export(ctx context.Context, sessionID string) (debuglog.Export, error)
	Clear(ctx context.Context, sessionID string) error
}

// Handler serves the game to browsers, one session per cookie.
type Handler struct {
	Manager *session.Manager
	Debug   DebugLog
	Title   string
}

// Routes registers every game route on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", h.Index)
	mux.HandleFunc("GET /new", h.New)
	mux.HandleFunc("POST /start", h.Start)
	mux.HandleFunc("POST /turn", h.Turn)
	mux.HandleFunc("POST /branch", h.Branch)
	mux.HandleFunc("GET /scene/{index}", h.Scene)
	mux.HandleFunc("POST /show/{index}", h.Show)
	mux.HandleFunc("GET /image/{key}", h.Image)
	mux.HandleFunc("GET /save", h.Save)
	mux.HandleFunc("POST /load", h.Load)
	mux.HandleFunc("GET /download", h.Download)
	mux.HandleFunc("POST /settings", h.Settings)
	mux.HandleFunc("GET /debug/log", h.DebugLog)
	mux.HandleFunc("POST /debug/clear", h.ClearDebugLog)
}

// session returns the caller's session, creating it and setting the cookie on first visit.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	id := ""
	if c, err := r.Cookie(CookieName); err == nil {
		id = c.Value
	}
	s, created, err := h.Manager.GetOrCreate(id)
	if err != nil {
		log.Printf("[handlers] %v", err)
		http.Error(w, "Could not start a session.", http.StatusInternalServerError)
		return nil, false
	}
	if created {
		http.SetCookie(w, &http.Cookie{
			Name:     CookieName,
			Value:    s.ID(),
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}
	return s, true
}

// render writes c alone for htmx requests and inside the full page otherwise.
func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, c templ.Component) {
	if r.Header.Get("HX-Request") != "true" {
		title := h.Title
		if title == "" {
			title = "Interactive Story"
		}
		c = templates.Page(title, c)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := c.Render(r.Context(), w); err != nil {
		log.Printf("[handlers] render: %v", err)
	}
}

// screen renders the setup form before the first scene and the game afterwards.
func (h *Handler) screen(w http.ResponseWriter, r *http.Request, s *session.Session, status int) {
	v := s.View()
	if len(v.Scenes) == 0 {
		h.render(w, r, status, templates.Setup(templates.SetupForm{Error: v.LastError}))
		return
	}
	h.render(w, r, status, templates.Game(sceneData(s, v, v.Current), settingsForm(s)))
}

func sceneData(s *session.Session, v session.View, index int) templates.SceneData {
	d := templates.SceneData{
		Index:      index,
		Total:      len(v.Scenes),
		Generating: v.Generating,
		LastError:  v.LastError,
	}
	if index >= 0 && index < len(v.Scenes) {
		d.Scene = v.Scenes[index]
		d.ImageKey = s.DisplayKey(d.Scene)
	}
	if !v.Generating {
		d.Notice = s.TakeNotice()
	}
	return d
}

func settingsForm(s *session.Session) templates.SettingsForm {
	p := s.Preferences()
	if p == nil {
		return templates.SettingsForm{}
	}
	set := p.Settings()
	return templates.SettingsForm{HasKey: p.APIKey() != "", PreferKey: set.PreferKey, Debug: set.Debug}
}

// statusFor maps session errors onto HTTP statuses; ok is false for failures that are
// shown in the page instead.
func statusFor(err error) (status int, ok bool) {
	switch {
	case errors.Is(err, session.ErrTurnInFlight):
		return http.StatusConflict, true
	case errors.Is(err, session.ErrEmptyInput), errors.Is(err, session.ErrSceneOutOfRange), errors.Is(err, session.ErrNoCampaign):
		return http.StatusBadRequest, true
	}
	return 0, false
}

func pathIndex(r *http.Request) (int, error) {
	return strconv.Atoi(r.PathValue("index"))
}
