package httpx

import (
	"net/http"
	"net/http/httptest"
)

// TestServer serves a handler on a loopback port so tests need not import
// net/http/httptest.
type TestServer struct{ *httptest.Server }

func NewTestServer(handler http.Handler) *TestServer {
	return &TestServer{httptest.NewServer(handler)}
}

// NewServerTestServer serves s with its full middleware stack.
func NewServerTestServer(s *Server) *TestServer {
	if s == nil {
		return nil
	}
	return NewTestServer(s.Handler())
}

func (ts *TestServer) BaseURL() string {
	if ts == nil || ts.Server == nil {
		return ""
	}
	return ts.URL
}

// Client returns a Client rooted at the server's URL plus prefix.
func (ts *TestServer) Client(prefix string, opts ...ClientOption) *Client {
	return NewClient(append([]ClientOption{WithBaseURL(ts.BaseURL() + prefix)}, opts...)...)
}
