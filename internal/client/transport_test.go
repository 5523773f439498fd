package client

import (
	"bufio"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/iotest"

	"chat-relay/internal/metrics"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openConnections(t *testing.T) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, metrics.OpenConnections.Write(&m))
	return m.GetGauge().GetValue()
}

func TestTrackingRoundTripper_ClosesOnce(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "ok")
	}))
	defer ts.Close()

	before := openConnections(t)
	hc := &http.Client{Transport: &TrackingRoundTripper{}}

	resp, err := hc.Get(ts.URL)
	require.NoError(t, err)
	assert.Equal(t, before+1, openConnections(t))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))

	resp.Body.Close()
	resp.Body.Close()
	assert.Equal(t, before, openConnections(t))
}

func TestTrackingRoundTripper_TransportError(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	before := openConnections(t)
	hc := &http.Client{Transport: &TrackingRoundTripper{}}
	_, err := hc.Get(url)
	require.Error(t, err)
	assert.Equal(t, before, openConnections(t))
}

func TestNewHTTPClient_KeepsBaseSettings(t *testing.T) {
	base := &http.Client{Transport: http.DefaultTransport, CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}

	hc := newHTTPClient(base)
	require.NotSame(t, base, hc)
	assert.NotNil(t, hc.CheckRedirect)
	assert.Zero(t, hc.Timeout)

	rt, ok := hc.Transport.(*TrackingRoundTripper)
	require.True(t, ok)
	assert.Equal(t, http.DefaultTransport, rt.Base)
	assert.Equal(t, http.DefaultTransport, base.Transport)

	_, ok = newHTTPClient(nil).Transport.(*TrackingRoundTripper)
	assert.True(t, ok)
}

func TestNewHTTPClient_AlreadyTracked(t *testing.T) {
	tracked := &TrackingRoundTripper{Base: http.DefaultTransport}
	hc := newHTTPClient(&http.Client{Transport: tracked})
	assert.Same(t, tracked, hc.Transport)
}

// scanGuarded reads an event stream one byte at a time, the way a slow
// connection delivers it, and returns the lines the parser would see.
func scanGuarded(raw string) ([]string, error) {
	s := &guardedStream{ReadCloser: io.NopCloser(iotest.OneByteReader(strings.NewReader(raw)))}
	scanner := bufio.NewScanner(s)
	var lines []string
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}

func TestGuardedStream(t *testing.T) {
	errorEvent := `{"error":{"message":"server overloaded","type":"server_error"}}`

	tests := []struct {
		name    string
		raw     string
		lines   int
		wantErr string
	}{
		{"Complete", "data: " + chunk("He", "") + "\n\ndata: " + chunk("llo", "stop") + "\n\ndata: [DONE]\n\n", 3, ""},
		{"FinishWithoutDone", "data: " + chunk("He", "stop") + "\n\n", 1, ""},
		{"DoneWithoutNewline", "data: " + chunk("He", "") + "\n\ndata: [DONE]", 2, ""},
		{"ErrorEvent", "data: " + chunk("He", "") + "\n\ndata: " + errorEvent + "\n\n", 2, streamErrorPrefix + `{"message":"server overloaded","type":"server_error"}`},
		{"Truncated", "data: " + chunk("He", "") + "\n\n", 1, io.ErrUnexpectedEOF.Error()},
		{"CommentsIgnored", ": keep-alive\n\ndata: " + chunk("He", "stop") + "\n\n", 2, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lines, err := scanGuarded(tt.raw)
			assert.Len(t, lines, tt.lines)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantErr, err.Error())
		})
	}
}

func TestGuardedStream_ErrorInSameRead(t *testing.T) {
	raw := "data: " + chunk("He", "") + "\n\ndata: {\"error\":{\"message\":\"boom\"}}\n\n"
	s := &guardedStream{ReadCloser: io.NopCloser(strings.NewReader(raw))}

	buf := make([]byte, len(raw))
	n, err := s.Read(buf)
	require.Error(t, err)
	assert.Equal(t, "data: "+chunk("He", "")+"\n\n", string(buf[:n]))

	n, err = s.Read(buf)
	assert.Zero(t, n)
	assert.Equal(t, streamErrorPrefix+`{"message":"boom"}`, err.Error())
}

func TestStreamGuardRoundTripper_OnlyEventStreams(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"choices":[]}`)
	}))
	defer ts.Close()

	hc := &http.Client{Transport: &StreamGuardRoundTripper{}}
	resp, err := hc.Get(ts.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, `{"choices":[]}`, string(body))
}
