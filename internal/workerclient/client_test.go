package workerclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	Method      string
	Path        string
	ContentType string
	Body        string
}

// fakeWorker is an httptest worker that records every request it sees.
type fakeWorker struct {
	mu       sync.Mutex
	requests []recordedRequest
	handler  http.HandlerFunc
	server   *httptest.Server
}

func newFakeWorker(t *testing.T, handler http.HandlerFunc) *fakeWorker {
	t.Helper()
	fw := &fakeWorker{handler: handler}
	fw.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		fw.mu.Lock()
		fw.requests = append(fw.requests, recordedRequest{
			Method:      r.Method,
			Path:        r.URL.Path,
			ContentType: r.Header.Get("Content-Type"),
			Body:        string(body),
		})
		fw.mu.Unlock()
		fw.handler(w, r)
	}))
	t.Cleanup(fw.server.Close)
	return fw
}

func (fw *fakeWorker) Requests() []recordedRequest {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	out := make([]recordedRequest, len(fw.requests))
	copy(out, fw.requests)
	return out
}

func respondJSON(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

func newTestClient(t *testing.T, baseURL string, timeout time.Duration) *Client {
	t.Helper()
	client, err := New(Config{BaseURL: baseURL, Timeout: timeout})
	require.NoError(t, err)
	return client
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	client, err := New(Config{BaseURL: "https://worker.example/"})
	require.NoError(t, err)
	assert.Equal(t, "https://worker.example", client.BaseURL())
	assert.Equal(t, DefaultTimeout, client.Timeout())
	assert.Equal(t, DefaultProfile, client.Profile())
}

func TestNew_StripsExactlyOneTrailingSlash(t *testing.T) {
	t.Parallel()

	client, err := New(Config{BaseURL: "https://worker.example/api//"})
	require.NoError(t, err)
	assert.Equal(t, "https://worker.example/api/", client.BaseURL())
}

func TestNew_RejectsBadConfig(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		cfg  Config
	}{
		{"empty base", Config{}},
		{"relative base", Config{BaseURL: "worker.example"}},
		{"negative timeout", Config{BaseURL: "https://worker.example", Timeout: -time.Second}},
		{"bad profile", Config{BaseURL: "https://worker.example", Profile: "../admin"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(tc.cfg)
			require.Error(t, err)
		})
	}
}

func TestNewFromURL(t *testing.T) {
	t.Parallel()

	client, err := NewFromURL("https://worker.example")
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeout, client.Timeout())
}

func TestDiscover_TargetsStrippedBaseURL(t *testing.T) {
	t.Parallel()

	fw := newFakeWorker(t, respondJSON(http.StatusOK, `{"source":"html","links":["https://example.com/a"],"count":1}`))
	client := newTestClient(t, fw.server.URL+"/", time.Second)

	resp, err := client.Discover(context.Background(), "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, "html", resp.Source)
	assert.Equal(t, []string{"https://example.com/a"}, resp.Links)

	reqs := fw.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodPost, reqs[0].Method)
	assert.Equal(t, "/discover", reqs[0].Path)
	assert.Equal(t, "application/json", reqs[0].ContentType)
	assert.JSONEq(t, `{"url":"https://example.com"}`, reqs[0].Body)
}

func TestDiscover_InvalidURLSkipsNetwork(t *testing.T) {
	t.Parallel()

	fw := newFakeWorker(t, respondJSON(http.StatusOK, `{"source":"html","count":0}`))
	client := newTestClient(t, fw.server.URL, time.Second)

	for _, raw := range []string{"", "not a url", "example.com/path", "/relative", "://missing-scheme", "http://", "https://", "http:"} {
		_, err := client.Discover(context.Background(), raw)
		require.Error(t, err, raw)
		assert.True(t, IsKind(err, KindValidation), "url %q: %v", raw, err)

		var ve *ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, StageRequest, ve.Stage)
	}
	assert.Empty(t, fw.Requests())
}

func TestDiscover_MissingRequiredFields(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name  string
		body  string
		field string
	}{
		{"missing source", `{"count":2,"links":["a","b"]}`, "source"},
		{"missing count", `{"source":"html"}`, "count"},
		{"count not integer", `{"source":"html","count":"2"}`, "count"},
		{"links wrong type", `{"source":"html","count":1,"links":[1]}`, "links.0"},
		{"not json", `<html>oops</html>`, "(root)"},
		{"array body", `[]`, "(root)"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			fw := newFakeWorker(t, respondJSON(http.StatusOK, tc.body))
			client := newTestClient(t, fw.server.URL, time.Second)

			_, err := client.Discover(context.Background(), "https://example.com")
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, StageResponse, ve.Stage)
			fields := make([]string, 0, len(ve.Fields))
			for _, f := range ve.Fields {
				fields = append(fields, f.Field)
			}
			assert.Contains(t, fields, tc.field)
		})
	}
}

func TestDiscover_Timeout(t *testing.T) {
	t.Parallel()

	var canceled atomic.Int32
	release := make(chan struct{})
	fw := newFakeWorker(t, func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
			canceled.Add(1)
		case <-release:
		}
	})
	t.Cleanup(func() { close(release) })
	client := newTestClient(t, fw.server.URL, 50*time.Millisecond)

	start := time.Now()
	_, err := client.Discover(context.Background(), "https://example.com")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "Worker request timed out", err.Error())
	assert.Equal(t, 50*time.Millisecond, te.Timeout)
	assert.Zero(t, StatusCode(err))
	assert.True(t, Retryable(err))

	require.Eventually(t, func() bool { return canceled.Load() == 1 }, time.Second, 10*time.Millisecond)
	assert.Len(t, fw.Requests(), 1)
}

func TestDiscover_UpstreamError(t *testing.T) {
	t.Parallel()

	fw := newFakeWorker(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, "internal error")
	})
	client := newTestClient(t, fw.server.URL, time.Second)

	_, err := client.Discover(context.Background(), "https://example.com")
	var ue *UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, http.StatusInternalServerError, ue.StatusCode)
	assert.Equal(t, "internal error", ue.Body)
	assert.Equal(t, "Worker request failed: 500 Internal Server Error", err.Error())
	assert.Equal(t, KindUpstream, KindOf(err))
	assert.True(t, Retryable(err))
}

func TestDiscover_UpstreamClientErrorNotRetryable(t *testing.T) {
	t.Parallel()

	fw := newFakeWorker(t, respondJSON(http.StatusBadRequest, `{"error":"bad url"}`))
	client := newTestClient(t, fw.server.URL, time.Second)

	_, err := client.Discover(context.Background(), "https://example.com")
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, StatusCode(err))
	assert.False(t, Retryable(err))
}

func TestDiscover_NetworkFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	baseURL := srv.URL
	srv.Close()

	client := newTestClient(t, baseURL, time.Second)
	_, err := client.Discover(context.Background(), "https://example.com")

	var ne *NetworkError
	require.ErrorAs(t, err, &ne)
	assert.Contains(t, err.Error(), "Worker request failed: ")
	assert.Zero(t, StatusCode(err))
	assert.True(t, Retryable(err))
}

func TestDiscover_CallerCancellation(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	fw := newFakeWorker(t, func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	})
	t.Cleanup(func() { close(release) })
	client := newTestClient(t, fw.server.URL, 5*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := client.Discover(ctx, "https://example.com")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindNetwork))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestDiscover_Idempotent(t *testing.T) {
	t.Parallel()

	fw := newFakeWorker(t, respondJSON(http.StatusOK,
		`{"source":"rss","feeds":["https://example.com/feed"],"count":4,"diagnostics":{"pages":2,"mode":"rss"}}`))
	client := newTestClient(t, fw.server.URL, time.Second)

	first, err := client.Discover(context.Background(), "https://example.com")
	require.NoError(t, err)
	second, err := client.Discover(context.Background(), "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, fw.Requests(), 2)
}

func TestDiscover_IgnoresUnknownFields(t *testing.T) {
	t.Parallel()

	fw := newFakeWorker(t, respondJSON(http.StatusOK, `{"source":"html","count":3.0,"extra":{"nested":true}}`))
	client := newTestClient(t, fw.server.URL, time.Second)

	resp, err := client.Discover(context.Background(), "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, 3, resp.Count)
}

func TestFetchProfile_OmitsMonthsBack(t *testing.T) {
	t.Parallel()

	fw := newFakeWorker(t, respondJSON(http.StatusOK, `{ "source": "rcmp_fsj", "count": 3, "links": ["a","b","c"] }`))
	client := newTestClient(t, fw.server.URL, time.Second)

	resp, err := client.FetchProfile(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "rcmp_fsj", resp.Source)
	assert.Nil(t, resp.Feeds)
	assert.Len(t, resp.Links, 3)

	reqs := fw.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/profiles/rcmp-fsj", reqs[0].Path)
	assert.Equal(t, "{}", reqs[0].Body)
}

func TestFetchProfile_ForwardsMonthsBack(t *testing.T) {
	t.Parallel()

	fw := newFakeWorker(t, respondJSON(http.StatusOK, `{"source":"rcmp_fsj","count":0}`))
	client := newTestClient(t, fw.server.URL, time.Second)

	for _, months := range []int{0, 6, -1} {
		m := months
		_, err := client.FetchProfile(context.Background(), &m)
		require.NoError(t, err)
	}

	reqs := fw.Requests()
	require.Len(t, reqs, 3)
	var bodies []map[string]any
	for _, r := range reqs {
		var decoded map[string]any
		require.NoError(t, json.Unmarshal([]byte(r.Body), &decoded))
		bodies = append(bodies, decoded)
	}
	assert.EqualValues(t, 0, bodies[0]["monthsBack"])
	assert.EqualValues(t, 6, bodies[1]["monthsBack"])
	assert.EqualValues(t, -1, bodies[2]["monthsBack"])
}

func TestFetchNamedProfile(t *testing.T) {
	t.Parallel()

	fw := newFakeWorker(t, respondJSON(http.StatusOK, `{"source":"city_news","count":1,"links":["x"]}`))
	client := newTestClient(t, fw.server.URL, time.Second)

	_, err := client.FetchNamedProfile(context.Background(), "city-news", nil)
	require.NoError(t, err)

	_, err = client.FetchNamedProfile(context.Background(), "../../admin", nil)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "profile", ve.Fields[0].Field)

	reqs := fw.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/profiles/city-news", reqs[0].Path)
}

func TestClient_ConcurrentCalls(t *testing.T) {
	t.Parallel()

	fw := newFakeWorker(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/discover" {
			respondJSON(http.StatusOK, `{"source":"html","count":1,"links":["a"]}`)(w, r)
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	})
	client := newTestClient(t, fw.server.URL, time.Second)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := client.Discover(context.Background(), "https://example.com")
			errs <- err
		}()
		go func() {
			defer wg.Done()
			_, err := client.FetchProfile(context.Background(), nil)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var ok, upstream int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case IsKind(err, KindUpstream):
			upstream++
		}
	}
	assert.Equal(t, 10, ok)
	assert.Equal(t, 10, upstream)
}
