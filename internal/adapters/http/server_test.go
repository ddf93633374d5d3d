package http

import (
	"bufio"
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/aretw0/pitch"
	"github.com/aretw0/pitch/internal/metrics"
	"github.com/aretw0/pitch/internal/sms"
	"github.com/aretw0/pitch/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const doorScript = `
locations:
  room:
    enter: You see a door.
    actions:
      open:
        - say: It creaks open.
        - goto: room
`

func newEngine(t *testing.T) *pitch.Engine {
	t.Helper()
	eng, err := pitch.NewFromScript([]byte(doorScript))
	require.NoError(t, err)
	return eng
}

func postForm(h http.Handler, path string, form url.Values, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for k, v := range header {
		req.Header[k] = v
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func TestTwilio_Conversation(t *testing.T) {
	h := NewHandler(newEngine(t))

	rr := postForm(h, "/twilio", url.Values{"From": {"+17035550100"}, "Body": {""}}, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/xml", rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Body.String(), "You see a door.")

	rr = postForm(h, "/twilio", url.Values{"From": {"(703) 555-0100"}, "Body": {"OPEN"}}, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "It creaks open.")

	// Both spellings of the number are the same user.
	rr = get(h, "/admin/users")
	require.Equal(t, http.StatusOK, rr.Code)
	var users []domain.User
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &users))
	require.Len(t, users, 1)
	assert.Equal(t, "7035550100", users[0].Identity)
}

func TestTwilio_BadRequests(t *testing.T) {
	h := NewHandler(newEngine(t))

	rr := postForm(h, "/twilio", url.Values{"From": {"nope"}, "Body": {"hi"}}, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = postForm(h, "/twilio", url.Values{"From": {"+17035550100"}, "Body": {strings.Repeat("a", sms.DefaultMaxInputSize+1)}}, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func sign(token, fullURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(form.Get(k))
	}
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestTwilio_Signature(t *testing.T) {
	const token = "secret-token"
	h := NewHandler(newEngine(t),
		WithSignatureValidation(sms.NewValidator(token), "https://pitch.example.com/"),
	)
	form := url.Values{"From": {"+17035550100"}, "Body": {"look"}}

	rr := postForm(h, "/twilio", form, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	header := http.Header{"X-Twilio-Signature": {sign(token, "https://pitch.example.com/twilio", form)}}
	rr = postForm(h, "/twilio", form, header)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestMessage_JSONAndForm(t *testing.T) {
	h := NewHandler(newEngine(t))

	req := httptest.NewRequest(http.MethodPost, "/message", strings.NewReader(`{"phone_number":"alice","content":""}`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var s domain.Session
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &s))
	assert.Equal(t, []string{"You see a door."}, s.Texts())
	assert.Equal(t, "room_choice", s.NextNode)

	rr = postForm(h, "/message", url.Values{"phone_number": {"alice"}, "content": {"dance"}}, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &s))
	require.Len(t, s.Messages, 2)
	assert.Equal(t, domain.NotUnderstoodText, s.Messages[0].Body)

	rr = postForm(h, "/message", url.Values{"content": {"open"}}, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestMessage_InboundTextNotLoggedAtInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	h := NewHandler(newEngine(t), WithLogger(logger))

	rr := postForm(h, "/message", url.Values{"phone_number": {"alice"}, "content": {"call 555-1234"}}, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	assert.Contains(t, buf.String(), "Dispatching")
	assert.Contains(t, buf.String(), "text_len=13")
	assert.NotContains(t, buf.String(), "555-1234")
}

func TestReset(t *testing.T) {
	h := NewHandler(newEngine(t))
	postForm(h, "/message", url.Values{"phone_number": {"alice"}}, nil)

	rr := get(h, "/admin/users/alice/history")
	require.Equal(t, http.StatusOK, rr.Code)
	var hist domain.History
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &hist))
	assert.NotEmpty(t, hist.Visits)
	assert.NotEmpty(t, hist.Messages)

	rr = postForm(h, "/reset", url.Values{"phone_number": {"alice"}}, nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = get(h, "/admin/users/alice/history")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = postForm(h, "/reset", url.Values{"phone_number": {"alice"}}, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestValidateAndGraph(t *testing.T) {
	h := NewHandler(newEngine(t))

	rr := get(h, "/validate")
	require.Equal(t, http.StatusOK, rr.Code)
	var view struct {
		Start string `json:"start"`
		Nodes []struct {
			Name string `json:"name"`
			Kind string `json:"kind"`
		} `json:"nodes"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &view))
	assert.Equal(t, "room_enter_1", view.Start)
	assert.NotEmpty(t, view.Nodes)

	rr = get(h, "/graph")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.HasPrefix(rr.Body.String(), "graph TD"))
	assert.NotContains(t, rr.Body.String(), "classDef")

	postForm(h, "/message", url.Values{"phone_number": {"alice"}}, nil)
	rr = get(h, "/graph?identity=alice")
	assert.Contains(t, rr.Body.String(), "class room_choice current;")
	assert.Contains(t, rr.Body.String(), "class room_enter_1 visited;")
}

func TestHealthInfoMetrics(t *testing.T) {
	m := metrics.New()
	h := NewHandler(newEngine(t), WithMetrics(m))

	rr := get(h, "/health")
	require.Equal(t, http.StatusOK, rr.Code)
	var health map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &health))
	assert.Equal(t, "ok", health["status"])

	rr = get(h, "/info")
	var info map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &info))
	assert.Equal(t, "pitch-http", info["app"])
	assert.Equal(t, strings.TrimSpace(pitch.Version), info["version"])

	postForm(h, "/message", url.Values{"phone_number": {"alice"}}, nil)
	rr = get(h, "/metrics")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `pitch_run_duration_seconds_count{source="message"} 1`)

	// Without metrics the route does not exist.
	rr = get(NewHandler(newEngine(t)), "/metrics")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestEmptyTwiML(t *testing.T) {
	rr := get(NewHandler(newEngine(t)), "/")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "<Response")
	assert.NotContains(t, rr.Body.String(), "<Message")
}

func TestSubscribeEvents(t *testing.T) {
	srv := NewServer(newEngine(t))
	h := srv.Routes()
	ts := httptest.NewServer(h)
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events?identity=alice", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := bufio.NewReader(resp.Body)
	line, err := lines.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: ping\n", line)
	require.Equal(t, 1, srv.Streams.Subscribers("alice"))

	postForm(h, "/message", url.Values{"phone_number": {"bob"}}, nil)
	postForm(h, "/message", url.Values{"phone_number": {"alice"}}, nil)

	var data string
	for !strings.HasPrefix(data, "data: {") {
		data, err = lines.ReadString('\n')
		require.NoError(t, err)
	}
	assert.Contains(t, data, `"identity":"alice"`)
	assert.Contains(t, data, "You see a door.")

	cancel()
	require.Eventually(t, func() bool { return srv.Streams.Subscribers("alice") == 0 },
		time.Second, 5*time.Millisecond)

	rr := get(h, "/events")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestStreamManager_DropsForSlowClients(t *testing.T) {
	sm := NewStreamManager()
	ch, cancel := sm.Subscribe("a")
	for i := 0; i < 20; i++ {
		sm.Broadcast("a", "x")
	}
	assert.Len(t, ch, 10)
	cancel()
	cancel()
	assert.Zero(t, sm.Subscribers("a"))
}
