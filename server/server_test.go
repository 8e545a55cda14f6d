package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richinex/relay/model"
	"github.com/richinex/relay/orchestration"
)

type fakeService struct {
	err      error
	lines    []string
	gotReq   model.Request
	gotRunID string
	gotMsg   *model.ChatMessage
}

func (s *fakeService) Generate(ctx context.Context, req model.Request) (*orchestration.Result, error) {
	s.gotReq = req
	if s.err != nil {
		return nil, s.err
	}
	return &orchestration.Result{RunID: "run-1", Model: "m", Payload: json.RawMessage(`{"generatedText":"hi"}`)}, nil
}

func (s *fakeService) stream() io.ReadCloser {
	return io.NopCloser(strings.NewReader(strings.Join(s.lines, "")))
}

func (s *fakeService) StartSession(ctx context.Context, req model.Request) (io.ReadCloser, error) {
	s.gotReq = req
	if s.err != nil {
		return nil, s.err
	}
	return s.stream(), nil
}

func (s *fakeService) ResumeSession(ctx context.Context, runID string, msg *model.ChatMessage) (io.ReadCloser, error) {
	s.gotRunID, s.gotMsg = runID, msg
	if s.err != nil {
		return nil, s.err
	}
	return s.stream(), nil
}

func newTestServer(t *testing.T, svc Service, opts ...Option) *httptest.Server {
	t.Helper()
	opts = append([]Option{WithGatherer(prometheus.NewRegistry())}, opts...)
	srv := httptest.NewServer(NewHandler(svc, opts...).Routes())
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(t.Context(), http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeError(t *testing.T, resp *http.Response) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

const helloBody = `{"userId":"u1","messages":[{"role":"user","content":"hi"}]}`

func TestGenerate_OK(t *testing.T) {
	svc := &fakeService{}
	srv := newTestServer(t, svc)

	resp := post(t, srv.URL+"/v1/generate", helloBody)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var res orchestration.Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Equal(t, "run-1", res.RunID)
	assert.JSONEq(t, `{"generatedText":"hi"}`, string(res.Payload))
	assert.Equal(t, "u1", svc.gotReq.UserID)
	require.Len(t, svc.gotReq.Messages, 1)
}

func TestGenerate_ErrorMapping(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		status    int
		kind      string
		message   string
		wantField string
	}{
		{"invalid", model.InvalidRequest("userId", "is required"), http.StatusBadRequest, "InvalidRequest", "InvalidRequest [userId]: is required", "userId"},
		{"forbidden", &model.Error{Kind: model.KindForbiddenContent, Field: "messages[0].content", Detail: "sql"}, http.StatusBadRequest, "ForbiddenContent", "content rejected", ""},
		{"too many", model.TooManyMessages(101, 100), http.StatusRequestEntityTooLarge, "TooManyMessages", "TooManyMessages [messages]: 101 messages exceeds limit of 100", "messages"},
		{"unavailable", model.ErrModelUnavailable, http.StatusServiceUnavailable, "ModelUnavailable", "ModelUnavailable", ""},
		{"engine", model.EngineFailure(errors.New("secret upstream detail")), http.StatusBadGateway, "EngineFailure", "engine failure", ""},
		{"other", errors.New("disk on fire"), http.StatusInternalServerError, "Unknown", "internal error", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, &fakeService{err: tt.err})
			resp := post(t, srv.URL+"/v1/generate", helloBody)
			assert.Equal(t, tt.status, resp.StatusCode)

			body := decodeError(t, resp)
			assert.Equal(t, tt.kind, body.Kind)
			assert.Equal(t, tt.message, body.Error)
			assert.Equal(t, tt.wantField, body.Field)
		})
	}
}

func TestGenerate_BadBody(t *testing.T) {
	srv := newTestServer(t, &fakeService{})
	resp := post(t, srv.URL+"/v1/generate", `{"userId":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid request body", decodeError(t, resp).Error)
}

func TestGenerate_BodyTooLarge(t *testing.T) {
	srv := newTestServer(t, &fakeService{}, WithMaxBodySize(16))
	resp := post(t, srv.URL+"/v1/generate", helloBody)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestStartSession_StreamsLines(t *testing.T) {
	svc := &fakeService{lines: []string{
		`{"event":"updates","node":"restore"}` + "\n",
		`{"event":"messages","node":"generate","data":{"content":"hi"}}` + "\n",
	}}
	srv := newTestServer(t, svc)

	resp := post(t, srv.URL+"/v1/sessions", helloBody)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))

	var events []string
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		var ev struct {
			Event string `json:"event"`
		}
		require.NoError(t, json.Unmarshal(sc.Bytes(), &ev))
		events = append(events, ev.Event)
	}
	require.NoError(t, sc.Err())
	assert.Equal(t, []string{"updates", "messages"}, events)
}

func TestStartSession_RejectedBeforeStream(t *testing.T) {
	srv := newTestServer(t, &fakeService{err: model.TooManyMessages(101, 100)})
	resp := post(t, srv.URL+"/v1/sessions", helloBody)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}

func TestResumeSession(t *testing.T) {
	svc := &fakeService{lines: []string{`{"event":"updates"}` + "\n"}}
	srv := newTestServer(t, svc)

	resp := post(t, srv.URL+"/v1/sessions/run-42/resume", `{"newMessage":{"role":"user","content":"more"}}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "run-42", svc.gotRunID)
	require.NotNil(t, svc.gotMsg)
	assert.Equal(t, "more", svc.gotMsg.Content)
}

func TestResumeSession_EmptyBody(t *testing.T) {
	svc := &fakeService{}
	srv := newTestServer(t, svc)

	resp := post(t, srv.URL+"/v1/sessions/run-42/resume", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "run-42", svc.gotRunID)
	assert.Nil(t, svc.gotMsg)
}

func TestHealthAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "relay_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	srv := newTestServer(t, &fakeService{}, WithGatherer(reg))

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(data), "relay_test_total 1")
}

func TestListenAndServe_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() {
		done <- ListenAndServe(ctx, "127.0.0.1:0", http.NotFoundHandler(), time.Second, nil)
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
