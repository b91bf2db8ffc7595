package handlers

import (
	"log"
	"net/http"
	"strconv"
	"strings"

	"novel_ai/templates"
)

// Index shows the setup form or the current scene.
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	h.screen(w, r, s, http.StatusOK)
}

// New shows the setup form even when a campaign is running.
func (h *Handler) New(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.session(w, r); !ok {
		return
	}
	h.render(w, r, http.StatusOK, templates.Setup(templates.SetupForm{}))
}

// Start builds a new world and renders the opening scene as soon as its narrative is ready.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	genre := strings.TrimSpace(r.FormValue("genre"))
	adventure := r.FormValue("adventure")
	if _, err := s.Start(r.Context(), genre, adventure); err != nil {
		log.Printf("[handlers] start %s: %v", s.ID(), err)
		status, known := statusFor(err)
		if !known {
			status = http.StatusOK
		}
		h.render(w, r, status, templates.Setup(templates.SetupForm{
			Genre:     genre,
			Adventure: adventure,
			Error:     "The story could not begin: " + s.Describe(err),
		}))
		return
	}
	h.screen(w, r, s, http.StatusOK)
}

// Turn continues the story from the last scene.
func (h *Handler) Turn(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if _, err := s.Submit(r.Context(), r.FormValue("input")); err != nil {
		if status, known := statusFor(err); known {
			http.Error(w, err.Error(), status)
			return
		}
		log.Printf("[handlers] turn %s: %v", s.ID(), err)
	}
	h.screen(w, r, s, http.StatusOK)
}

// Branch rewinds to the scene at index and continues from there.
func (h *Handler) Branch(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	index, err := formIndex(r)
	if err != nil {
		http.Error(w, "Invalid scene index.", http.StatusBadRequest)
		return
	}
	if _, err := s.Branch(r.Context(), index, r.FormValue("input")); err != nil {
		if status, known := statusFor(err); known {
			http.Error(w, err.Error(), status)
			return
		}
		log.Printf("[handlers] branch %s: %v", s.ID(), err)
	}
	h.screen(w, r, s, http.StatusOK)
}

// Scene renders one scene as a fragment; incomplete scenes keep polling this route.
func (h *Handler) Scene(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	index, err := pathIndex(r)
	v := s.View()
	if err != nil || index < 0 || index >= len(v.Scenes) {
		http.Error(w, "Scene not found.", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := templates.SceneView(sceneData(s, v, index)).Render(r.Context(), w); err != nil {
		log.Printf("[handlers] render scene: %v", err)
	}
}

// Show moves to another scene of the archive.
func (h *Handler) Show(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	index, err := pathIndex(r)
	if err != nil {
		http.Error(w, "Invalid scene index.", http.StatusBadRequest)
		return
	}
	if err := s.Show(index); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	h.screen(w, r, s, http.StatusOK)
}

func formIndex(r *http.Request) (int, error) {
	return strconv.Atoi(strings.TrimSpace(r.FormValue("index")))
}
