package gateway

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/auditgate/llm-gateway/internal/config"
)

// Routes builds the HTTP handler. Backend-specific endpoints are mounted
// only when the corresponding backend appears in LLM_TYPE, so a
// Bedrock-only deployment never exposes the OpenAI surface.
func (g *Gateway) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(allowAllCORS)

	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		http.Redirect(w, req, "/ping", http.StatusTemporaryRedirect)
	})
	r.Get("/ping", g.handlePing)

	if g.cfg.BackendEnabled(config.BackendOpenAI) {
		r.Post("/chat", g.handleChat)
		r.Post("/checkchat", g.handleCheckChat)
		r.Post("/update_title", g.handleUpdateTitle)
		r.Post("/update_title_openai", g.handleUpdateTitleOpenAI)
		r.Post("/metadata_check", g.handleMetadataCheck)
		r.Get("/history", g.handleHistory)
		r.Get("/history_v2", g.handleHistoryV2)
		r.Post("/remove_convo", g.handleRemoveConvo)
		r.Post("/image_gen", g.handleImageGen)
	}
	if g.cfg.BackendEnabled(config.BackendSageMaker) {
		r.Post("/chat_sg", g.handleChatSageMaker)
	}
	if g.cfg.BackendEnabled(config.BackendBedrock) {
		r.Post("/chat_br", g.handleChatBedrock)
	}

	return r
}

// requestLogger emits one structured line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}

// allowAllCORS mirrors the permissive policy the gateway has always run
// with; callers are internal tools on arbitrary origins.
func allowAllCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
