// Package config - defaults.go centralizes magic numbers and default values.
//
// DESIGN: All default values that appear in multiple places should be defined
// here. This makes configuration more maintainable and auditable.
package config

import "time"

// =============================================================================
// UPSTREAM FORWARDING
// =============================================================================

// UpstreamTimeout is the fixed per-call timeout for LLM backend requests.
// Not configurable; a call either completes within this bound or fails.
const UpstreamTimeout = 60 * time.Second

// MaxRequestBodySize is the maximum allowed inbound request body (50MB).
const MaxRequestBodySize = 50 * 1024 * 1024

// MaxResponseSize is the maximum allowed upstream response body (50MB).
const MaxResponseSize = 50 * 1024 * 1024

// =============================================================================
// LOG STORE
// =============================================================================

// ExistenceCheckTimeout bounds the identifier allocator's pre-insert lookup.
// Expiry surfaces as HTTP 504, not an unbounded retry.
const ExistenceCheckTimeout = 3 * time.Second

// FreshnessWindow is how far back /checkchat searches for an identical
// previously-logged request.
const FreshnessWindow = 15 * time.Minute

// =============================================================================
// ROUTER
// =============================================================================

// ConvoTitleMaxLen caps the conversation title derived from the first
// message when the caller supplies none.
const ConvoTitleMaxLen = 50

// DefaultServerReadTimeout for the HTTP server.
const DefaultServerReadTimeout = 70 * time.Second

// DefaultServerWriteTimeout for the HTTP server. Slightly above the upstream
// cap so slow backends produce a gateway error body instead of a cut socket.
const DefaultServerWriteTimeout = 70 * time.Second

// =============================================================================
// TELEMETRY
// =============================================================================

// TelemetryTimeout bounds the best-effort submissions POST.
const TelemetryTimeout = 60 * time.Second

// TokenEstimateRatio is the approximate number of characters per token, used
// when a backend reports no usage and the tokenizer is unavailable.
const TokenEstimateRatio = 4
