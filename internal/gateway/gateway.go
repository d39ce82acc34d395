// Package gateway is the orchestration layer: it validates input shape,
// allocates a record id, forwards to the configured backend, persists the
// exchange, fires best-effort telemetry, and returns the upstream response
// augmented with the id.
package gateway

import (
	"net/http"

	"github.com/auditgate/llm-gateway/internal/cache"
	"github.com/auditgate/llm-gateway/internal/config"
	"github.com/auditgate/llm-gateway/internal/store"
	"github.com/auditgate/llm-gateway/internal/telemetry"
	"github.com/auditgate/llm-gateway/internal/upstream"
)

// Identity headers a trusted perimeter may inject. Absent headers fall back
// to the configured defaults (the single-tenant demo behavior).
const (
	HeaderGatewayUser      = "X-Gateway-User"
	HeaderGatewayUserTitle = "X-Gateway-User-Title"
)

// Gateway wires the router's collaborators together.
type Gateway struct {
	cfg       *config.Config
	store     *store.Store
	client    *upstream.Client
	bedrock   upstream.BedrockInvoker
	sagemaker upstream.SageMakerInvoker
	sink      *telemetry.Sink
	cache     *cache.ResponseCache
}

// Options carries optional collaborators. Nil fields disable the matching
// feature.
type Options struct {
	Bedrock   upstream.BedrockInvoker
	SageMaker upstream.SageMakerInvoker
	Cache     *cache.ResponseCache
}

// New builds a Gateway.
func New(cfg *config.Config, st *store.Store, client *upstream.Client, sink *telemetry.Sink, opts Options) *Gateway {
	return &Gateway{
		cfg:       cfg,
		store:     st,
		client:    client,
		bedrock:   opts.Bedrock,
		sagemaker: opts.SageMaker,
		sink:      sink,
		cache:     opts.Cache,
	}
}

// identity resolves the acting user for a request.
func (g *Gateway) identity(r *http.Request) (userName, userTitle string) {
	userName = r.Header.Get(HeaderGatewayUser)
	if userName == "" {
		userName = g.cfg.DefaultUserName
	}
	userTitle = r.Header.Get(HeaderGatewayUserTitle)
	if userTitle == "" {
		userTitle = g.cfg.DefaultUserTitle
	}
	return userName, userTitle
}

// llmHeaders are the headers forwarded to the OpenAI-compatible backend.
func (g *Gateway) llmHeaders() map[string]string {
	return map[string]string{
		"Content-Type":  g.cfg.ContentType,
		"Authorization": g.cfg.Authorization,
	}
}
