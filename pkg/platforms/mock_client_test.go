package platforms

import (
	"context"
	"errors"
	"testing"

	"github.com/samvad-hq/samvad-notifier/pkg/httpclient"
)

type mockResponse struct {
	body       []byte
	statusCode int
}

func (r mockResponse) Body() []byte    { return r.body }
func (r mockResponse) StatusCode() int { return r.statusCode }

// mockHTTPClient returns canned responses per URL to avoid network calls.
type mockHTTPClient struct {
	t         *testing.T
	expect    map[string]string
	responses map[string]mockResponse
	calls     []string
}

func (m *mockHTTPClient) Get(_ context.Context, url string, headers map[string]string) (httpclient.Response, error) {
	m.calls = append(m.calls, url)
	for key, want := range m.expect {
		if got := headers[key]; got != want {
			m.t.Fatalf("expected header %s=%q, got %q", key, want, got)
		}
	}
	resp, ok := m.responses[url]
	if !ok {
		return nil, errors.New("not found")
	}
	if resp.statusCode == 0 {
		resp.statusCode = 200
	}
	return resp, nil
}

func (m *mockHTTPClient) PostJSON(context.Context, string, map[string]string, any) (httpclient.Response, error) {
	return nil, errors.New("unexpected POST")
}
