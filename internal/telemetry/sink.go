// Package telemetry forwards interaction records to an external
// audit/billing collector.
//
// DESIGN: Strictly best-effort. Report runs after the primary log row has
// committed, on its own goroutine with its own deadline; every failure mode
// (serialization, network, remote rejection) is logged locally and
// swallowed. Nothing here may change the outcome of the request that
// produced the record.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/auditgate/llm-gateway/internal/config"
)

// Providers recognized by the submissions API.
const (
	ProviderOpenAI      = "OPEN_AI"
	ProviderGoogle      = "GOOGLE"
	ProviderHuggingFace = "HUGGING_FACE"
	ProviderMeta        = "META"
	ProviderAWS         = "AWS"
)

// Record is one interaction submitted to the collector.
type Record struct {
	RawRequest         json.RawMessage `json:"raw_request"`
	RawResponse        json.RawMessage `json:"raw_response"`
	AssociatedUsers    []string        `json:"associated_users"`
	TimeSubmitted      string          `json:"time_submitted"`
	TimeLogged         string          `json:"time_logged"`
	ResponseTimestamp  string          `json:"response_timestamp,omitempty"`
	LLMModel           string          `json:"llm_model"`
	LLMProvider        string          `json:"llm_provider"`
	EstimatedTokens    int             `json:"estimated_tokens,omitempty"`
	AssociatedDevices  []string        `json:"associated_devices,omitempty"`
	AssociatedSoftware []string        `json:"associated_software,omitempty"`
	APITokenID         string          `json:"api_token_id,omitempty"`
}

// Sink posts records to the submissions API.
type Sink struct {
	enabled bool
	url     string
	http    *http.Client
	now     func() time.Time
}

// NewSink builds a sink. A disabled sink is valid and drops every record.
func NewSink(enabled bool, url string) *Sink {
	return &Sink{
		enabled: enabled,
		url:     url,
		http:    &http.Client{Timeout: config.TelemetryTimeout},
		now:     time.Now,
	}
}

// Enabled reports whether records will actually be sent.
func (s *Sink) Enabled() bool {
	return s.enabled
}

// Report submits one record. Safe to call from any goroutine; never returns
// an error and never panics the caller's request.
func (s *Sink) Report(rec *Record) {
	if !s.enabled || rec == nil {
		return
	}
	rec.TimeLogged = s.now().Format("2006-01-02T15:04:05")

	body, err := json.Marshal(rec)
	if err != nil {
		log.Error().Err(err).Msg("telemetry: failed to serialize record")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.TelemetryTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		log.Error().Err(err).Msg("telemetry: failed to build submission request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		log.Error().Err(err).Str("url", s.url).Msg("telemetry: submission failed")
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		log.Error().Int("status", resp.StatusCode).Str("url", s.url).
			Msg("telemetry: submission rejected")
		return
	}

	log.Debug().Str("model", rec.LLMModel).Str("provider", rec.LLMProvider).
		Msg("telemetry: submission recorded")
}
