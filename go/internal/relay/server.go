package relay

import (
	"net/http"

	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// NewHandler mounts the hub at /ws next to a /health endpoint.
func NewHandler(hub *Hub) http.Handler {
	mux := http.NewServeMux()

	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	mux.Handle("/ws", hub)
	setupHealthCheck(mux)

	handler := c.Handler(mux)
	return h2c.NewHandler(handler, &http2.Server{})
}

// NewServer returns an HTTP server for hub listening on addr.
func NewServer(addr string, hub *Hub) *http.Server {
	return &http.Server{
		Addr:    addr,
		Handler: NewHandler(hub),
	}
}

func setupHealthCheck(mux *http.ServeMux) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Error().Err(err).Msg("failed to write health check response")
		}
	})
}
