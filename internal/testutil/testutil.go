// Package testutil provides an HTTP client and assertion helpers for testing
// the tryouts API end to end.
package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
)

// Client is an HTTP client for the tryouts API in tests.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	token      string
	t          *testing.T
}

// NewClient creates a client pointed at a test server.
func NewClient(t *testing.T, server *httptest.Server) *Client {
	return &Client{
		BaseURL:    server.URL,
		HTTPClient: server.Client(),
		t:          t,
	}
}

// WithToken returns a copy of the client that sends token as a bearer token.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

// Response wraps an HTTP response with helper methods.
type Response struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
	Cookies    []*http.Cookie
	t          *testing.T
}

// JSON unmarshals the response body into v.
func (r *Response) JSON(v any) {
	r.t.Helper()
	if err := json.Unmarshal(r.Body, v); err != nil {
		r.t.Fatalf("failed to unmarshal response: %v\nbody: %s", err, string(r.Body))
	}
}

// JSONMap returns the response body as a map.
func (r *Response) JSONMap() map[string]any {
	r.t.Helper()
	var m map[string]any
	r.JSON(&m)
	return m
}

// AssertStatus asserts the response has the expected status code.
func (r *Response) AssertStatus(expected int) *Response {
	r.t.Helper()
	if r.StatusCode != expected {
		r.t.Errorf("expected status %d, got %d\nbody: %s", expected, r.StatusCode, string(r.Body))
	}
	return r
}

// AssertBodyContains asserts the response body contains the given substring.
func (r *Response) AssertBodyContains(substr string) *Response {
	r.t.Helper()
	if !strings.Contains(string(r.Body), substr) {
		r.t.Errorf("expected body to contain %q, got: %s", substr, string(r.Body))
	}
	return r
}

// AssertErrorCode asserts a structured error body with the given code.
func (r *Response) AssertErrorCode(code string) *Response {
	r.t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(r.Body, &body); err != nil {
		r.t.Errorf("expected error body, got: %s", string(r.Body))
		return r
	}
	if body.Error.Code != code {
		r.t.Errorf("expected error code %q, got %q\nbody: %s", code, body.Error.Code, string(r.Body))
	}
	return r
}

// Cookie returns the named response cookie, or nil.
func (r *Response) Cookie(name string) *http.Cookie {
	for _, c := range r.Cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Get performs a GET request.
func (c *Client) Get(path string) *Response {
	c.t.Helper()
	return c.do(http.MethodGet, path, nil, nil)
}

// Post performs a POST request with a JSON body.
func (c *Client) Post(path string, body any) *Response {
	c.t.Helper()
	return c.do(http.MethodPost, path, body, nil)
}

// Delete performs a DELETE request.
func (c *Client) Delete(path string) *Response {
	c.t.Helper()
	return c.do(http.MethodDelete, path, nil, nil)
}

// DoWithHeaders performs a request with custom headers.
func (c *Client) DoWithHeaders(method, path string, body any, headers map[string]string) *Response {
	c.t.Helper()
	return c.do(method, path, body, headers)
}

// PostRaw performs a POST with a body sent as-is, for signed payloads.
func (c *Client) PostRaw(path string, body []byte, headers map[string]string) *Response {
	c.t.Helper()
	req, err := http.NewRequest(http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		c.t.Fatalf("failed to create request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.doReq(req)
}

func (c *Client) do(method, path string, body any, headers map[string]string) *Response {
	c.t.Helper()

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			c.t.Fatalf("failed to marshal body: %v", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.BaseURL+path, bodyReader)
	if err != nil {
		c.t.Fatalf("failed to create request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.doReq(req)
}

func (c *Client) doReq(req *http.Request) *Response {
	c.t.Helper()
	if c.token != "" && req.Header.Get("Authorization") == "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		c.t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.t.Fatalf("failed to read response: %v", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       respBody,
		Headers:    resp.Header,
		Cookies:    resp.Cookies(),
		t:          c.t,
	}
}

// AdminClient provides convenience methods for the /admin/* routes.
type AdminClient struct {
	*Client
}

// NewAdminClient logs in with password and returns a client carrying the
// admin token.
func NewAdminClient(c *Client, password string) *AdminClient {
	c.t.Helper()
	resp := c.Post("/admin/login", map[string]string{"password": password}).AssertStatus(http.StatusOK)
	var body struct {
		Token string `json:"token"`
	}
	resp.JSON(&body)
	if body.Token == "" {
		c.t.Fatalf("admin login returned no token: %s", string(resp.Body))
	}
	return &AdminClient{c.WithToken(body.Token)}
}

// Registrations calls GET /admin/registrations.
func (ac *AdminClient) Registrations() *Response {
	ac.t.Helper()
	return ac.Get("/admin/registrations")
}

// Sweep calls POST /admin/sweep?hours=N.
func (ac *AdminClient) Sweep(hours int) *Response {
	ac.t.Helper()
	return ac.Post("/admin/sweep?hours="+strconv.Itoa(hours), nil)
}

// ResendConfirmation calls POST /admin/registrations/{id}/resend-confirmation.
func (ac *AdminClient) ResendConfirmation(id string) *Response {
	ac.t.Helper()
	return ac.Post("/admin/registrations/"+id+"/resend-confirmation", nil)
}

// GetRequests calls GET /admin/requests.
func (ac *AdminClient) GetRequests() *Response {
	ac.t.Helper()
	return ac.Get("/admin/requests")
}

// Health calls GET /admin/health.
func (ac *AdminClient) Health() *Response {
	ac.t.Helper()
	return ac.Get("/admin/health")
}
