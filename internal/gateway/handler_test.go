package gateway

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/auditgate/llm-gateway/internal/config"
	"github.com/auditgate/llm-gateway/internal/store"
	"github.com/auditgate/llm-gateway/internal/telemetry"
	"github.com/auditgate/llm-gateway/internal/upstream"
)

const chatUpstreamBody = `{"id":"chatcmpl-123","created":1700000000,"choices":[{"message":{"role":"assistant","content":"Use goroutines."}}],"usage":{"prompt_tokens":5,"completion_tokens":7,"total_tokens":12}}`

// recordingUpstream is a fake OpenAI-compatible backend that remembers what
// it was sent.
type recordingUpstream struct {
	mu       sync.Mutex
	calls    int
	lastBody string
	lastAuth string
	status   int
	respBody string
}

func (u *recordingUpstream) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		u.mu.Lock()
		u.calls++
		u.lastBody = string(body)
		u.lastAuth = r.Header.Get("Authorization")
		u.mu.Unlock()
		w.WriteHeader(u.status)
		_, _ = w.Write([]byte(u.respBody))
	}
}

type fakeBedrock struct {
	gotModelID string
	gotBody    string
	resp       string
	err        error
}

func (f *fakeBedrock) Invoke(_ context.Context, modelID string, body []byte) ([]byte, error) {
	f.gotModelID = modelID
	f.gotBody = string(body)
	if f.err != nil {
		return nil, f.err
	}
	return []byte(f.resp), nil
}

type fakeSageMaker struct {
	gotEndpoint string
	gotBody     string
	resp        string
}

func (f *fakeSageMaker) Invoke(_ context.Context, endpointName string, body []byte) ([]byte, error) {
	f.gotEndpoint = endpointName
	f.gotBody = string(body)
	return []byte(f.resp), nil
}

func newTestGateway(t *testing.T, llmURL, imgURL string, opts Options) (*Gateway, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	cfg := &config.Config{
		Backends:          []string{config.BackendOpenAI, config.BackendBedrock, config.BackendSageMaker},
		LLMEndpoint:       llmURL,
		LLMImageEndpoint:  imgURL,
		ContentType:       "application/json",
		Authorization:     "Bearer sk-test",
		SageMakerEndpoint: "llama-endpoint",
		DefaultUserName:   "user",
		DefaultUserTitle:  "title",
	}
	return New(cfg, st, upstream.NewClient(), telemetry.NewSink(false, ""), opts), st
}

func doJSON(h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestChatProxiesAndLogs(t *testing.T) {
	up := &recordingUpstream{status: http.StatusOK, respBody: chatUpstreamBody}
	srv := httptest.NewServer(up.handler())
	defer srv.Close()

	g, st := newTestGateway(t, srv.URL, srv.URL, Options{})
	h := g.Routes()

	w := doJSON(h, http.MethodPost, "/chat",
		`{"model":"gpt-4","messages":[{"role":"user","content":"how do I run things concurrently in Go"}]}`, nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := gjson.Parse(w.Body.String())
	id := body.Get("uuid").String()
	assert.Len(t, id, 36)
	assert.Equal(t, "chatcmpl-123", body.Get("id").String())

	// The upstream saw the caller's auth config, not internal fields.
	assert.Equal(t, "Bearer sk-test", up.lastAuth)

	// No caller root id, so the conversation roots at the completion id.
	entry, err := st.FindLatestByRoot(context.Background(), "chatcmpl-123")
	require.NoError(t, err)
	assert.Equal(t, id, entry.ID)
	assert.Equal(t, "how do I run things concurrently in Go", entry.ConvoTitle)
	assert.True(t, entry.ConvoShow)
	assert.Contains(t, entry.UsageInfo, `"total_tokens":12`)
	assert.Equal(t, chatUpstreamBody, entry.Response)
}

func TestChatStripsInternalFields(t *testing.T) {
	up := &recordingUpstream{status: http.StatusOK, respBody: chatUpstreamBody}
	srv := httptest.NewServer(up.handler())
	defer srv.Close()

	g, st := newTestGateway(t, srv.URL, srv.URL, Options{})
	h := g.Routes()

	w := doJSON(h, http.MethodPost, "/chat",
		`{"model":"gpt-4","messages":[{"role":"user","content":"hi"}],"convo_title":"My Chat","root_id":"root-7"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)

	sent := gjson.Parse(up.lastBody)
	assert.False(t, sent.Get("convo_title").Exists())
	assert.False(t, sent.Get("root_id").Exists())
	assert.Equal(t, "gpt-4", sent.Get("model").String())

	entry, err := st.FindLatestByRoot(context.Background(), "root-7")
	require.NoError(t, err)
	assert.Equal(t, "My Chat", entry.ConvoTitle)
}

func TestChatRejectsMissingModel(t *testing.T) {
	up := &recordingUpstream{status: http.StatusOK, respBody: chatUpstreamBody}
	srv := httptest.NewServer(up.handler())
	defer srv.Close()

	g, _ := newTestGateway(t, srv.URL, srv.URL, Options{})
	h := g.Routes()

	w := doJSON(h, http.MethodPost, "/chat", `{"messages":[{"role":"user","content":"hi"}]}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, gjson.Get(w.Body.String(), "message").String(), "Oops! ")
	assert.Zero(t, up.calls)
}

func TestChatUpstreamErrorPassesThrough(t *testing.T) {
	up := &recordingUpstream{status: http.StatusTooManyRequests, respBody: `{"error":{"message":"rate limited"}}`}
	srv := httptest.NewServer(up.handler())
	defer srv.Close()

	g, _ := newTestGateway(t, srv.URL, srv.URL, Options{})
	h := g.Routes()

	w := doJSON(h, http.MethodPost, "/chat",
		`{"model":"gpt-4","messages":[{"role":"user","content":"hi"}]}`, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "rate limited", gjson.Get(w.Body.String(), "error.message").String())
}

func TestChatUnreachableUpstream(t *testing.T) {
	g, _ := newTestGateway(t, "http://127.0.0.1:1", "http://127.0.0.1:1", Options{})
	h := g.Routes()

	w := doJSON(h, http.MethodPost, "/chat",
		`{"model":"gpt-4","messages":[{"role":"user","content":"hi"}]}`, nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, gjson.Get(w.Body.String(), "message").String(), "Could not connect to the LLM API")
}

func TestCheckChatHit(t *testing.T) {
	up := &recordingUpstream{status: http.StatusOK, respBody: chatUpstreamBody}
	srv := httptest.NewServer(up.handler())
	defer srv.Close()

	g, _ := newTestGateway(t, srv.URL, srv.URL, Options{})
	h := g.Routes()

	w := doJSON(h, http.MethodPost, "/chat",
		`{"model":"gpt-4","messages":[{"role":"user","content":"hi"}]}`, nil)
	require.Equal(t, http.StatusOK, w.Code)

	// Same payload with different key order still matches the logged row.
	w = doJSON(h, http.MethodPost, "/checkchat",
		`{"messages":[{"role":"user","content":"hi"}],"model":"gpt-4"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, chatUpstreamBody, w.Body.String())
	assert.Equal(t, 1, up.calls)
}

func TestCheckChatMiss(t *testing.T) {
	g, _ := newTestGateway(t, "http://127.0.0.1:1", "http://127.0.0.1:1", Options{})
	h := g.Routes()

	w := doJSON(h, http.MethodPost, "/checkchat",
		`{"model":"gpt-4","messages":[{"role":"user","content":"never asked"}]}`, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, gjson.Get(w.Body.String(), "message").String(), "Oops! ")
}

func TestUpdateTitle(t *testing.T) {
	up := &recordingUpstream{status: http.StatusOK, respBody: chatUpstreamBody}
	srv := httptest.NewServer(up.handler())
	defer srv.Close()

	g, st := newTestGateway(t, srv.URL, srv.URL, Options{})
	h := g.Routes()

	w := doJSON(h, http.MethodPost, "/chat",
		`{"model":"gpt-4","messages":[{"role":"user","content":"hi"}],"root_id":"root-1"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(h, http.MethodPost, "/update_title",
		`{"root_id":"root-1","convo_title":"Renamed"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Renamed", gjson.Get(w.Body.String(), "new_title").String())

	entry, err := st.FindLatestByRoot(context.Background(), "root-1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", entry.ConvoTitle)
}

func TestUpdateTitleZeroRowsSucceeds(t *testing.T) {
	g, _ := newTestGateway(t, "http://127.0.0.1:1", "http://127.0.0.1:1", Options{})
	h := g.Routes()

	w := doJSON(h, http.MethodPost, "/update_title",
		`{"root_id":"no-such-root","convo_title":"whatever"}`, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Successfully updated the titles!")
}

func TestUpdateTitleOpenAI(t *testing.T) {
	up := &recordingUpstream{status: http.StatusOK, respBody: chatUpstreamBody}
	srv := httptest.NewServer(up.handler())
	defer srv.Close()

	g, st := newTestGateway(t, srv.URL, srv.URL, Options{})
	h := g.Routes()

	w := doJSON(h, http.MethodPost, "/chat",
		`{"model":"gpt-4","messages":[{"role":"user","content":"teach me channels"}],"root_id":"root-1"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(h, http.MethodPost, "/update_title_openai", `{"root_id":"root-1"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Use goroutines.", gjson.Get(w.Body.String(), "new title").String())

	// The summarizer payload went out with the system prompt.
	sent := gjson.Parse(up.lastBody)
	assert.Equal(t, summarizerSystemPrompt, sent.Get("messages.0.content").String())
	assert.Contains(t, sent.Get("messages.1.content").String(), "teach me channels")

	entry, err := st.FindLatestByRoot(context.Background(), "root-1")
	require.NoError(t, err)
	assert.Equal(t, "Use goroutines.", entry.ConvoTitle)

	// The summarizer call is logged hidden, so it never shows in history.
	convos, err := st.ListConversations(context.Background(), "user")
	require.NoError(t, err)
	require.Len(t, convos, 1)
	assert.Equal(t, "root-1", convos[0].RootGPTID)
}

func TestUpdateTitleOpenAIUnknownRoot(t *testing.T) {
	g, _ := newTestGateway(t, "http://127.0.0.1:1", "http://127.0.0.1:1", Options{})
	h := g.Routes()

	w := doJSON(h, http.MethodPost, "/update_title_openai", `{"root_id":"nope"}`, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, gjson.Get(w.Body.String(), "message").String(), "No records found")
}

func TestMetadataCheck(t *testing.T) {
	metaResp := `{"id":"chatcmpl-9","choices":[{"message":{"role":"assistant","content":"{\"chat_summary\":\"Go questions\"}"}}],"usage":{"total_tokens":40}}`
	up := &recordingUpstream{status: http.StatusOK, respBody: chatUpstreamBody}
	srv := httptest.NewServer(up.handler())
	defer srv.Close()

	g, _ := newTestGateway(t, srv.URL, srv.URL, Options{})
	h := g.Routes()

	w := doJSON(h, http.MethodPost, "/chat",
		`{"model":"gpt-4","messages":[{"role":"user","content":"hi"}],"root_id":"root-1"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)

	up.respBody = metaResp
	w = doJSON(h, http.MethodPost, "/metadata_check", `{"root_id":"root-1"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := gjson.Parse(w.Body.String())
	assert.Equal(t, "Here is your blob", body.Get("message").String())
	assert.Contains(t, body.Get("metadata").String(), "Go questions")

	sent := gjson.Parse(up.lastBody)
	assert.Equal(t, metadataSystemPrompt, sent.Get("messages.0.content").String())
}

func TestHistoryAndRemoveConvo(t *testing.T) {
	up := &recordingUpstream{status: http.StatusOK, respBody: chatUpstreamBody}
	srv := httptest.NewServer(up.handler())
	defer srv.Close()

	g, _ := newTestGateway(t, srv.URL, srv.URL, Options{})
	h := g.Routes()

	w := doJSON(h, http.MethodPost, "/chat",
		`{"model":"gpt-4","messages":[{"role":"user","content":"hi"}],"root_id":"root-9"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(h, http.MethodGet, "/history", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	items := gjson.Get(w.Body.String(), "Historical_list")
	require.True(t, items.IsArray())
	assert.Len(t, items.Array(), 1)

	w = doJSON(h, http.MethodGet, "/history_v2", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	convos := gjson.Get(w.Body.String(), "Historical_Conversations")
	assert.Len(t, convos.Array(), 1)

	w = doJSON(h, http.MethodPost, "/remove_convo", `{"root_id":"root-9"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Successfully updated the convo visibility!")

	w = doJSON(h, http.MethodGet, "/history_v2", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	convos = gjson.Get(w.Body.String(), "Historical_Conversations")
	assert.Empty(t, convos.Array())
}

func TestHistoryScopedByIdentityHeader(t *testing.T) {
	up := &recordingUpstream{status: http.StatusOK, respBody: chatUpstreamBody}
	srv := httptest.NewServer(up.handler())
	defer srv.Close()

	g, _ := newTestGateway(t, srv.URL, srv.URL, Options{})
	h := g.Routes()

	w := doJSON(h, http.MethodPost, "/chat",
		`{"model":"gpt-4","messages":[{"role":"user","content":"hi"}]}`,
		map[string]string{HeaderGatewayUser: "alice"})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(h, http.MethodGet, "/history", "", map[string]string{HeaderGatewayUser: "alice"})
	assert.Len(t, gjson.Get(w.Body.String(), "Historical_list").Array(), 1)

	// The default identity sees nothing.
	w = doJSON(h, http.MethodGet, "/history", "", nil)
	assert.Empty(t, gjson.Get(w.Body.String(), "Historical_list").Array())
}

func TestImageGen(t *testing.T) {
	imgResp := `{"created":1700000000,"data":[{"url":"https://images.example/1.png"}]}`
	up := &recordingUpstream{status: http.StatusOK, respBody: imgResp}
	srv := httptest.NewServer(up.handler())
	defer srv.Close()

	g, _ := newTestGateway(t, srv.URL, srv.URL, Options{})
	h := g.Routes()

	w := doJSON(h, http.MethodPost, "/image_gen",
		`{"prompt":"a gopher","n":2,"size":"512x512"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, imgResp, w.Body.String())
	assert.Equal(t, 1, up.calls)
}

func TestImageGenBadSizeNeverCallsUpstream(t *testing.T) {
	up := &recordingUpstream{status: http.StatusOK, respBody: `{}`}
	srv := httptest.NewServer(up.handler())
	defer srv.Close()

	g, _ := newTestGateway(t, srv.URL, srv.URL, Options{})
	h := g.Routes()

	w := doJSON(h, http.MethodPost, "/image_gen",
		`{"prompt":"a gopher","n":1,"size":"800x600"}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, gjson.Get(w.Body.String(), "message").String(), "Image size is incorrect")
	assert.Zero(t, up.calls)
}

func TestChatSageMakerWrapsInputs(t *testing.T) {
	sm := &fakeSageMaker{resp: `[{"generation":{"role":"assistant","content":"hello"}}]`}
	g, st := newTestGateway(t, "http://127.0.0.1:1", "http://127.0.0.1:1", Options{SageMaker: sm})
	h := g.Routes()

	w := doJSON(h, http.MethodPost, "/chat_sg",
		`{"inputs":[{"role":"user","content":"hi"}],"parameters":{"max_new_tokens":64}}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, sm.resp, w.Body.String())
	assert.Equal(t, "llama-endpoint", sm.gotEndpoint)

	// The message list gains a batch dimension before invocation.
	sent := gjson.Parse(sm.gotBody)
	assert.Equal(t, "hi", sent.Get("inputs.0.0.content").String())
	assert.Equal(t, int64(64), sent.Get("parameters.max_new_tokens").Int())

	entry, err := st.FindLatestByRoot(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, "no title", entry.ConvoTitle)
	assert.Equal(t, sm.resp, entry.Response)
}

func TestChatSageMakerRequiresInputs(t *testing.T) {
	sm := &fakeSageMaker{resp: `[]`}
	g, _ := newTestGateway(t, "http://127.0.0.1:1", "http://127.0.0.1:1", Options{SageMaker: sm})
	h := g.Routes()

	w := doJSON(h, http.MethodPost, "/chat_sg", `{"parameters":{}}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChatBedrock(t *testing.T) {
	br := &fakeBedrock{resp: `{"completion":"Here is a poem."}`}
	g, st := newTestGateway(t, "http://127.0.0.1:1", "http://127.0.0.1:1", Options{Bedrock: br})
	h := g.Routes()

	w := doJSON(h, http.MethodPost, "/chat_br",
		`{"modelId":"anthropic.claude-v2","prompt":"write a poem","max_tokens_to_sample":200}`, nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := gjson.Parse(w.Body.String())
	id := body.Get("uuid").String()
	assert.Len(t, id, 36)
	assert.Equal(t, "Here is a poem.", body.Get("completion").String())

	assert.Equal(t, "anthropic.claude-v2", br.gotModelID)
	sent := gjson.Parse(br.gotBody)
	assert.False(t, sent.Get("modelId").Exists())
	assert.Equal(t, "write a poem", sent.Get("prompt").String())

	// No caller root id, so the conversation roots at the allocated id.
	entry, err := st.FindLatestByRoot(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, entry.ID)
	assert.Equal(t, "write a poem", entry.ConvoTitle)
}

func TestChatBedrockUsesConfiguredModelDefault(t *testing.T) {
	br := &fakeBedrock{resp: `{"completion":"ok"}`}
	g, _ := newTestGateway(t, "http://127.0.0.1:1", "http://127.0.0.1:1", Options{Bedrock: br})
	g.cfg.BedrockModelID = "anthropic.claude-v2"
	h := g.Routes()

	w := doJSON(h, http.MethodPost, "/chat_br", `{"prompt":"hi"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "anthropic.claude-v2", br.gotModelID)
}

func TestChatBedrockRequiresModelID(t *testing.T) {
	br := &fakeBedrock{resp: `{}`}
	g, _ := newTestGateway(t, "http://127.0.0.1:1", "http://127.0.0.1:1", Options{Bedrock: br})
	h := g.Routes()

	w := doJSON(h, http.MethodPost, "/chat_br", `{"prompt":"hi"}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, br.gotModelID)
}

func TestPing(t *testing.T) {
	g, _ := newTestGateway(t, "http://127.0.0.1:1", "http://127.0.0.1:1", Options{})
	h := g.Routes()

	w := doJSON(h, http.MethodGet, "/ping", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "200", strings.TrimSpace(w.Body.String()))
}

func TestRootRedirectsToPing(t *testing.T) {
	g, _ := newTestGateway(t, "http://127.0.0.1:1", "http://127.0.0.1:1", Options{})
	h := g.Routes()

	w := doJSON(h, http.MethodGet, "/", "", nil)
	assert.Equal(t, http.StatusTemporaryRedirect, w.Code)
	assert.Equal(t, "/ping", w.Header().Get("Location"))
}
