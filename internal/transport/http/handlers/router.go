package handlers

import (
	"log/slog"
	"net/http"

	"github.com/848838/ChatApp/internal/transport/http/middleware"
)

type Routes struct {
	Auth     *AuthHandler
	Messages *MessageHandler
	// WS serves the real-time channel; it authenticates from the query string.
	WS http.Handler
	// Files serves locally stored uploads when no object storage is configured.
	Files http.Handler
}

func NewRouter(routes Routes, log *slog.Logger) http.Handler {
	auth := middleware.RequireCredential
	mux := http.NewServeMux()

	// Public
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("POST /api/v1/auth/register", routes.Auth.Register)
	mux.HandleFunc("POST /api/v1/auth/login", routes.Auth.Login)

	// Protected
	mux.Handle("GET /api/v1/me", auth(http.HandlerFunc(routes.Auth.Me)))
	mux.Handle("POST /api/v1/messages", auth(http.HandlerFunc(routes.Messages.Send)))
	mux.Handle("DELETE /api/v1/messages/{id}", auth(http.HandlerFunc(routes.Messages.Delete)))
	mux.Handle("GET /api/v1/conversations", auth(http.HandlerFunc(routes.Messages.ListConversations)))
	mux.Handle("GET /api/v1/conversations/{userID}/messages", auth(http.HandlerFunc(routes.Messages.History)))

	if routes.WS != nil {
		mux.Handle("GET /ws", routes.WS)
	}
	if routes.Files != nil {
		mux.Handle("GET /files/", http.StripPrefix("/files/", routes.Files))
	}

	return middleware.RequestLogger(log)(middleware.CORS(mux))
}

// BlobFiles serves objects from an in-memory blob store.
func BlobFiles(get func(key string) (contentType string, data []byte, ok bool)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType, data, ok := get(r.URL.Path)
		if !ok {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "File not found")
			return
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		_, _ = w.Write(data)
	})
}
