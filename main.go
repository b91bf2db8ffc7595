package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"novel_ai/config"
	"novel_ai/debuglog"
	"novel_ai/gemini"
	"novel_ai/handlers"
	"novel_ai/session"
	"novel_ai/tasks"
	"novel_ai/telemetry"
)

func main() {
	log.SetPrefix("[novel] ")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	shutdown, err := telemetry.Setup(ctx, "novel_ai", cfg.OTelEndpoint)
	if err != nil {
		log.Fatal(err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			log.Printf("telemetry shutdown: %v", err)
		}
	}()

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		log.Fatal(err)
	}
	store, err := debuglog.Open(cfg.DBPath)
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	manager := session.NewManager(func(id string) (*session.Session, error) {
		prefs, err := session.LoadPreferences(ctx, store, id, session.Settings{
			APIKey:    cfg.APIKey,
			PreferKey: cfg.PreferAPIKey,
		})
		if err != nil {
			return nil, err
		}
		sink := store.ForSession(id)
		client := gemini.New(gemini.Config{
			BaseURL:     cfg.BaseURL,
			FreeBaseURL: cfg.FreeBaseURL,
			Models:      cfg.Models(),
			APIKey:      prefs.APIKey,
			Recorder:    sink,
			Backend:     cfg.TextBackend,
		})
		return session.New(session.Options{
			ID:            id,
			Text:          client,
			Executor:      tasks.NewExecutor(client, tasks.NewCache(), sink),
			HistoryWindow: cfg.HistoryWindow,
			Preferences:   prefs,
			Errors:        store,
		}), nil
	}, session.Limits{IdleTimeout: cfg.SessionIdleTimeout, MaxSessions: cfg.MaxSessions})

	if cfg.SessionIdleTimeout > 0 {
		go func() {
			ticker := time.NewTicker(max(cfg.SessionIdleTimeout/4, time.Second))
			defer ticker.Stop()
			for range ticker.C {
				manager.Prune()
			}
		}()
	}

	h := &handlers.Handler{
		Manager: manager,
		Debug:   store,
		Title:   "Interactive Story",
	}

	mux := http.NewServeMux()
	fs := http.FileServer(http.Dir(cfg.StaticDir))
	mux.Handle("GET /static/", http.StripPrefix("/static/", fs))
	h.Routes(mux)

	log.Printf("Listening on http://%s", cfg.Addr)
	if err := http.ListenAndServe(cfg.Addr, mux); err != nil {
		log.Printf("server: %v", err)
	}
}
