package handlers

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"novel_ai/export"
	"novel_ai/gemini"
	"novel_ai/savefile"
	"novel_ai/session"
	"novel_ai/templates"
)

const maxUpload = 64 << 20

// Image serves a cached image by cache key.
func (h *Handler) Image(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	dataURL, found := s.Image(r.PathValue("key"))
	if !found {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("X-Content-Type-Options", "nosniff")
	mimeType, data, err := gemini.SplitDataURL(dataURL)
	if err != nil || !gemini.AllowedImageMIME(mimeType) {
		http.Error(w, "Stored image is unreadable.", http.StatusInternalServerError)
		return
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		http.Error(w, "Stored image is unreadable.", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Cache-Control", "private, max-age=3600")
	_, _ = w.Write(raw)
}

// Save downloads the campaign as a JSON save file.
func (h *Handler) Save(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	doc, err := s.Export()
	if errors.Is(err, session.ErrNoCampaign) {
		http.Error(w, "There is no story to save yet.", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	var buf bytes.Buffer
	if err := savefile.Write(&buf, doc); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="novel-%s.json"`, time.Now().Format("20060102-150405")))
	_, _ = w.Write(buf.Bytes())
}

// Load replaces the campaign with an uploaded save file.
func (h *Handler) Load(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUpload)
	file, _, err := r.FormFile("file")
	if err != nil {
		h.render(w, r, http.StatusBadRequest, templates.Setup(templates.SetupForm{Error: "Choose a save file to load."}))
		return
	}
	defer file.Close()

	doc, err := savefile.Read(file)
	if err != nil {
		log.Printf("[handlers] load %s: %v", s.ID(), err)
		h.render(w, r, http.StatusBadRequest, templates.Setup(templates.SetupForm{Error: "That file is not a valid save."}))
		return
	}
	if err := s.Restore(doc); err != nil {
		if status, known := statusFor(err); known {
			http.Error(w, err.Error(), status)
			return
		}
		h.render(w, r, http.StatusBadRequest, templates.Setup(templates.SetupForm{Error: err.Error()}))
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// Download renders the whole story as a PDF.
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	v := s.View()
	if len(v.Scenes) == 0 {
		http.Error(w, "There is no story to download yet.", http.StatusNotFound)
		return
	}
	var buf bytes.Buffer
	if err := export.WritePDF(&buf, export.FromView(v, s)); err != nil {
		log.Printf("[handlers] download %s: %v", s.ID(), err)
		http.Error(w, "Could not build the PDF.", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="story.pdf"`)
	_, _ = w.Write(buf.Bytes())
}
