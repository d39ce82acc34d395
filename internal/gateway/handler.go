// HTTP request handling for the LLM gateway.
//
// DESIGN: Every proxy endpoint follows the same linear flow:
//   validate shape -> allocate id -> forward to backend -> persist log row ->
//   best-effort telemetry -> return upstream body (plus injected uuid).
//
// Rows are created only here, after a successful upstream call, and the two
// mutation endpoints (title, visibility) are the only writers after that.
package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/auditgate/llm-gateway/internal/config"
	"github.com/auditgate/llm-gateway/internal/store"
	"github.com/auditgate/llm-gateway/internal/telemetry"
	"github.com/auditgate/llm-gateway/internal/upstream"
	"github.com/auditgate/llm-gateway/internal/utils"
)

const timeLayout = "2006-01-02T15:04:05"

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, config.MaxRequestBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, errInvalid("failed to read request body: %v", err)
	}
	if !gjson.ValidBytes(body) {
		return nil, errInvalid("request body is not valid JSON")
	}
	return body, nil
}

// sanitizeChatBody strips the internal-only fields before a payload goes
// upstream and canonicalizes it for storage and exact-match lookup.
func sanitizeChatBody(body []byte) ([]byte, error) {
	sanitized, err := sjson.DeleteBytes(body, "convo_title")
	if err != nil {
		return nil, errInvalid("malformed request body: %v", err)
	}
	sanitized, err = sjson.DeleteBytes(sanitized, "root_id")
	if err != nil {
		return nil, errInvalid("malformed request body: %v", err)
	}
	canonical, err := utils.CanonicalizeJSON(sanitized)
	if err != nil {
		return nil, errInvalid("malformed request body: %v", err)
	}
	return canonical, nil
}

// injectUUID adds the allocated record id to an upstream body. Non-JSON
// upstream bodies pass through untouched.
func injectUUID(body []byte, id string) []byte {
	if !gjson.ValidBytes(body) {
		return body
	}
	out, err := sjson.SetBytes(body, "uuid", id)
	if err != nil {
		return body
	}
	return out
}

// reportSubmission fires the telemetry sink on its own goroutine, after the
// primary response is already decided. Failures stay inside the sink.
func (g *Gateway) reportSubmission(reqBody, respBody []byte, model, provider string, submitted time.Time, userName string, estTokens int) {
	if g.sink == nil || !g.sink.Enabled() {
		return
	}
	rec := &telemetry.Record{
		RawRequest:         json.RawMessage(reqBody),
		RawResponse:        json.RawMessage(respBody),
		AssociatedUsers:    []string{userName},
		TimeSubmitted:      submitted.Format(timeLayout),
		LLMModel:           model,
		LLMProvider:        provider,
		EstimatedTokens:    estTokens,
		AssociatedDevices:  []string{"device1", "device2"},
		AssociatedSoftware: []string{"software1", "software2"},
	}
	if created := gjson.GetBytes(respBody, "created"); created.Exists() {
		rec.ResponseTimestamp = time.Unix(created.Int(), 0).Format(timeLayout)
	}
	go g.sink.Report(rec)
}

// handleChat proxies a chat payload to the OpenAI-compatible backend and
// logs the exchange.
func (g *Gateway) handleChat(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeRequestError(w, err)
		return
	}

	model := gjson.GetBytes(body, "model")
	messages := gjson.GetBytes(body, "messages")
	if !model.Exists() || !messages.IsArray() {
		writeRequestError(w, errInvalid("model and messages are required"))
		return
	}

	userName, userTitle := g.identity(r)

	// Caller-supplied metadata wins; otherwise the first message seeds the
	// conversation title.
	convoTitle := gjson.GetBytes(body, "convo_title").String()
	if convoTitle == "" {
		convoTitle = utils.TruncateRunes(messages.Get("0.content").String(), config.ConvoTitleMaxLen)
	}
	rootID := gjson.GetBytes(body, "root_id").String()

	canonical, err := sanitizeChatBody(body)
	if err != nil {
		writeRequestError(w, err)
		return
	}

	id, err := g.store.AllocateID(r.Context())
	if err != nil {
		writeRequestError(w, err)
		return
	}
	log.Info().Str("uuid", id).Str("convo_title", convoTitle).Msg("chat: allocated record id")

	submitted := time.Now()
	resp, err := g.client.Forward(r.Context(), g.cfg.LLMEndpoint, g.llmHeaders(), canonical)
	if err != nil {
		writeRequestError(w, err)
		return
	}

	// Conversation lineage: caller-supplied root wins, else the upstream
	// completion id starts a new one.
	if rootID == "" {
		rootID = gjson.GetBytes(resp.Body, "id").String()
	}

	entry := &store.ChatLog{
		ID:         id,
		Request:    string(canonical),
		Response:   string(resp.Body),
		UsageInfo:  extractUsage(resp.Body),
		UserName:   userName,
		Title:      userTitle,
		ConvoTitle: convoTitle,
		ConvoShow:  true,
		RootGPTID:  rootID,
	}
	if err := g.store.InsertChat(r.Context(), entry); err != nil {
		writeRequestError(w, err)
		return
	}

	if g.cache != nil {
		g.cache.Set(r.Context(), string(canonical), string(resp.Body))
	}
	g.reportSubmission(canonical, resp.Body, model.String(), telemetry.ProviderOpenAI, submitted, userName, 0)

	writeRawJSON(w, resp.StatusCode, injectUUID(resp.Body, id))
}

// handleCheckChat serves a previously-logged response for an identical
// request made within the freshness window, instead of re-invoking the LLM.
func (g *Gateway) handleCheckChat(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeRequestError(w, err)
		return
	}
	if !gjson.GetBytes(body, "model").Exists() || !gjson.GetBytes(body, "messages").IsArray() {
		writeRequestError(w, errInvalid("model and messages are required"))
		return
	}

	canonical, err := sanitizeChatBody(body)
	if err != nil {
		writeRequestError(w, err)
		return
	}

	if g.cache != nil {
		if cached, ok := g.cache.Get(r.Context(), string(canonical)); ok {
			writeRawJSON(w, http.StatusOK, []byte(cached))
			return
		}
	}

	entry, err := g.store.FindByRequest(r.Context(), string(canonical), config.FreshnessWindow)
	if err != nil {
		writeRequestError(w, err)
		return
	}
	writeRawJSON(w, http.StatusOK, []byte(entry.Response))
}

type titleUpdateRequest struct {
	RootID     string `json:"root_id"`
	ConvoTitle string `json:"convo_title"`
}

type rootIDRequest struct {
	RootID string `json:"root_id"`
}

// handleUpdateTitle bulk-renames a conversation. Zero matched rows still
// reports success; the update is an idempotent no-op in that case.
func (g *Gateway) handleUpdateTitle(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeRequestError(w, err)
		return
	}
	var req titleUpdateRequest
	if err := json.Unmarshal(body, &req); err != nil || req.RootID == "" || req.ConvoTitle == "" {
		writeRequestError(w, errInvalid("root_id and convo_title are required"))
		return
	}

	if _, err := g.store.UpdateTitle(r.Context(), req.RootID, req.ConvoTitle); err != nil {
		writeRequestError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message":   "Successfully updated the titles!",
		"new_title": req.ConvoTitle,
	})
}

// handleUpdateTitleOpenAI renames a conversation with a model-generated
// summary of the caller's prior turns. The summarization call is logged as
// its own hidden chat row.
func (g *Gateway) handleUpdateTitleOpenAI(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeRequestError(w, err)
		return
	}
	var req rootIDRequest
	if err := json.Unmarshal(body, &req); err != nil || req.RootID == "" {
		writeRequestError(w, errInvalid("root_id is required"))
		return
	}

	id, err := g.store.AllocateID(r.Context())
	if err != nil {
		writeRequestError(w, err)
		return
	}

	entry, err := g.store.FindLatestByRoot(r.Context(), req.RootID)
	if err == store.ErrNotFound {
		writeRequestError(w, errNotFound("No records found for this root_gpt_id."))
		return
	}
	if err != nil {
		writeRequestError(w, err)
		return
	}

	var userMessages []string
	gjson.Get(entry.Request, "messages").ForEach(func(_, msg gjson.Result) bool {
		if msg.Get("role").String() == "user" {
			userMessages = append(userMessages, msg.Get("content").String())
		}
		return true
	})

	payload, err := buildSummarizerPrompt(userMessages)
	if err != nil {
		writeRequestError(w, err)
		return
	}

	submitted := time.Now()
	resp, err := g.client.Forward(r.Context(), g.cfg.LLMEndpoint, g.llmHeaders(), payload)
	if err != nil {
		writeRequestError(w, err)
		return
	}

	newTitle := gjson.GetBytes(resp.Body, "choices.0.message.content").String()
	if newTitle == "" {
		writeRequestError(w, errInvalid("summarizer returned no content"))
		return
	}

	summaryLog := &store.ChatLog{
		ID:         id,
		Request:    string(payload),
		Response:   string(resp.Body),
		UsageInfo:  extractUsage(resp.Body),
		UserName:   entry.UserName,
		Title:      entry.Title,
		ConvoTitle: "summarizer",
		ConvoShow:  false,
	}
	if err := g.store.InsertChat(r.Context(), summaryLog); err != nil {
		writeRequestError(w, err)
		return
	}

	if _, err := g.store.UpdateTitle(r.Context(), req.RootID, newTitle); err != nil {
		writeRequestError(w, err)
		return
	}

	g.reportSubmission(payload, resp.Body, derivedCallModel, telemetry.ProviderOpenAI, submitted, entry.UserName, 0)

	writeJSON(w, http.StatusOK, map[string]string{
		"message":   "Successfully updated the titles!",
		"new title": newTitle,
	})
}

// handleMetadataCheck derives machine-readable metadata about a
// conversation's most recent exchange and logs it as a meta-summary row.
func (g *Gateway) handleMetadataCheck(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeRequestError(w, err)
		return
	}
	var req rootIDRequest
	if err := json.Unmarshal(body, &req); err != nil || req.RootID == "" {
		writeRequestError(w, errInvalid("root_id is required"))
		return
	}

	id, err := g.store.AllocateID(r.Context())
	if err != nil {
		writeRequestError(w, err)
		return
	}

	entry, err := g.store.FindLatestByRoot(r.Context(), req.RootID)
	if err == store.ErrNotFound {
		writeRequestError(w, errNotFound("No records found for this root_gpt_id."))
		return
	}
	if err != nil {
		writeRequestError(w, err)
		return
	}

	payload, err := buildMetadataPrompt(entry.Title, entry.Request)
	if err != nil {
		writeRequestError(w, err)
		return
	}

	submitted := time.Now()
	resp, err := g.client.Forward(r.Context(), g.cfg.LLMEndpoint, g.llmHeaders(), payload)
	if err != nil {
		writeRequestError(w, err)
		return
	}

	metadata := gjson.GetBytes(resp.Body, "choices.0.message.content").String()
	if metadata == "" {
		writeRequestError(w, errInvalid("metadata model returned no content"))
		return
	}

	summary := &store.MetaSummaryLog{
		ID:               id,
		Request:          string(payload),
		Response:         string(resp.Body),
		UsageInfo:        extractUsage(resp.Body),
		UserName:         entry.UserName,
		Title:            entry.Title,
		OrigSummarizedID: entry.ID,
	}
	if err := g.store.InsertMetaSummary(r.Context(), summary); err != nil {
		writeRequestError(w, err)
		return
	}

	g.reportSubmission(payload, resp.Body, derivedCallModel, telemetry.ProviderOpenAI, submitted, entry.UserName, 0)

	writeJSON(w, http.StatusOK, map[string]string{
		"message":  "Here is your blob",
		"metadata": metadata,
	})
}

// handleHistory lists all distinct request/timestamp pairs for the acting
// user, newest first.
func (g *Gateway) handleHistory(w http.ResponseWriter, r *http.Request) {
	userName, userTitle := g.identity(r)
	items, err := g.store.ListHistory(r.Context(), userName, userTitle)
	if err != nil {
		writeRequestError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"Historical_list": items})
}

// handleHistoryV2 lists one row per visible conversation, the most recent
// per root id.
func (g *Gateway) handleHistoryV2(w http.ResponseWriter, r *http.Request) {
	userName, _ := g.identity(r)
	convos, err := g.store.ListConversations(r.Context(), userName)
	if err != nil {
		writeRequestError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"Historical_Conversations": convos})
}

// handleRemoveConvo hides a conversation from history views. Rows are
// retained; visibility is the only removal primitive.
func (g *Gateway) handleRemoveConvo(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeRequestError(w, err)
		return
	}
	var req rootIDRequest
	if err := json.Unmarshal(body, &req); err != nil || req.RootID == "" {
		writeRequestError(w, errInvalid("root_id is required"))
		return
	}

	if _, err := g.store.SetVisibility(r.Context(), req.RootID, false); err != nil {
		writeRequestError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Successfully updated the convo visibility!",
	})
}

type imageGenRequest struct {
	Prompt string `json:"prompt"`
	N      int    `json:"n"`
	Size   string `json:"size"`
}

// handleImageGen proxies an image-generation request. The size is priced
// from a fixed table before anything goes upstream.
func (g *Gateway) handleImageGen(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeRequestError(w, err)
		return
	}
	var req imageGenRequest
	if err := json.Unmarshal(body, &req); err != nil || req.Prompt == "" {
		writeRequestError(w, errInvalid("prompt, n and size are required"))
		return
	}

	totalCost, err := ImageCost(req.N, req.Size)
	if err != nil {
		writeRequestError(w, err)
		return
	}

	canonical, err := utils.CanonicalizeJSON(body)
	if err != nil {
		writeRequestError(w, errInvalid("malformed request body: %v", err))
		return
	}

	userName, userTitle := g.identity(r)
	submitted := time.Now()
	resp, err := g.client.Forward(r.Context(), g.cfg.LLMImageEndpoint, g.llmHeaders(), canonical)
	if err != nil {
		writeRequestError(w, err)
		return
	}
	log.Info().Float64("usage_cost", totalCost).Int("n", req.N).Str("size", req.Size).
		Msg("image_gen: computed cost")

	entry := &store.ImageLog{
		ID:        uuid.NewString(),
		Request:   string(canonical),
		Response:  string(resp.Body),
		UsageCost: totalCost,
		UserName:  userName,
		Title:     userTitle,
	}
	if err := g.store.InsertImage(r.Context(), entry); err != nil {
		writeRequestError(w, err)
		return
	}

	g.reportSubmission(canonical, resp.Body, "", telemetry.ProviderOpenAI, submitted, userName, 0)

	writeRawJSON(w, resp.StatusCode, resp.Body)
}

// handleChatSageMaker is the reduced SageMaker variant: no usage
// accounting, constant placeholder lineage metadata.
func (g *Gateway) handleChatSageMaker(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeRequestError(w, err)
		return
	}

	inputs := gjson.GetBytes(body, "inputs")
	if !inputs.Exists() {
		writeRequestError(w, errInvalid("inputs is required"))
		return
	}

	sanitized, err := sanitizeChatBody(body)
	if err != nil {
		writeRequestError(w, err)
		return
	}
	// The hosted llama container expects a batch dimension around the
	// message list.
	wrapped, err := sjson.SetRawBytes(sanitized, "inputs", []byte("["+inputs.Raw+"]"))
	if err != nil {
		writeRequestError(w, errInvalid("malformed request body: %v", err))
		return
	}
	canonical, err := utils.CanonicalizeJSON(wrapped)
	if err != nil {
		writeRequestError(w, errInvalid("malformed request body: %v", err))
		return
	}

	id, err := g.store.AllocateID(r.Context())
	if err != nil {
		writeRequestError(w, err)
		return
	}

	userName, userTitle := g.identity(r)
	submitted := time.Now()

	var respBody []byte
	if g.sagemaker != nil && g.cfg.SageMakerEndpoint != "" {
		respBody, err = g.sagemaker.Invoke(r.Context(), g.cfg.SageMakerEndpoint, canonical)
	} else {
		var resp *upstream.Response
		resp, err = g.client.Forward(r.Context(), g.cfg.LLMEndpoint,
			map[string]string{"Content-Type": g.cfg.ContentType}, canonical)
		if resp != nil {
			respBody = resp.Body
		}
	}
	if err != nil {
		writeRequestError(w, err)
		return
	}

	entry := &store.ChatLog{
		ID:         id,
		Request:    string(canonical),
		Response:   string(respBody),
		UserName:   userName,
		Title:      userTitle,
		ConvoTitle: "no title",
		ConvoShow:  true,
		RootGPTID:  "1",
	}
	if err := g.store.InsertChat(r.Context(), entry); err != nil {
		writeRequestError(w, err)
		return
	}

	g.reportSubmission(canonical, respBody, g.cfg.SageMakerEndpoint, telemetry.ProviderAWS,
		submitted, userName, estimateTokens(string(respBody)))

	writeRawJSON(w, http.StatusOK, respBody)
}

// handleChatBedrock proxies to a Bedrock model. Bedrock responses carry no
// completion id, so a caller-less conversation roots at the allocated
// record id.
func (g *Gateway) handleChatBedrock(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeRequestError(w, err)
		return
	}

	// Caller may pick a model per request; the configured MODEL_ID is the
	// deployment default.
	modelID := gjson.GetBytes(body, "modelId").String()
	if modelID == "" {
		modelID = g.cfg.BedrockModelID
	}
	if modelID == "" {
		writeRequestError(w, errInvalid("modelId is required"))
		return
	}
	if g.bedrock == nil {
		writeRequestError(w, &RequestError{
			Status: http.StatusInternalServerError,
			Msg:    "Bedrock backend is not configured",
		})
		return
	}

	convoTitle := gjson.GetBytes(body, "convo_title").String()
	if convoTitle == "" {
		convoTitle = utils.TruncateRunes(gjson.GetBytes(body, "prompt").String(), config.ConvoTitleMaxLen)
	}
	rootID := gjson.GetBytes(body, "root_id").String()

	sanitized, err := sanitizeChatBody(body)
	if err != nil {
		writeRequestError(w, err)
		return
	}
	// modelId routes the call; the invocation body is everything else.
	invokeBody, err := sjson.DeleteBytes(sanitized, "modelId")
	if err != nil {
		writeRequestError(w, errInvalid("malformed request body: %v", err))
		return
	}

	id, err := g.store.AllocateID(r.Context())
	if err != nil {
		writeRequestError(w, err)
		return
	}
	if rootID == "" {
		rootID = id
	}

	userName, userTitle := g.identity(r)
	submitted := time.Now()
	respBody, err := g.bedrock.Invoke(r.Context(), modelID, invokeBody)
	if err != nil {
		writeRequestError(w, err)
		return
	}

	entry := &store.ChatLog{
		ID:         id,
		Request:    string(sanitized),
		Response:   string(respBody),
		UserName:   userName,
		Title:      userTitle,
		ConvoTitle: convoTitle,
		ConvoShow:  true,
		RootGPTID:  rootID,
	}
	if err := g.store.InsertChat(r.Context(), entry); err != nil {
		writeRequestError(w, err)
		return
	}

	g.reportSubmission(sanitized, respBody, modelID, telemetry.ProviderAWS,
		submitted, userName, estimateTokens(string(respBody)))

	writeRawJSON(w, http.StatusOK, injectUUID(respBody, id))
}

// handlePing confirms the API is in a working state.
func (g *Gateway) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, http.StatusOK)
}
