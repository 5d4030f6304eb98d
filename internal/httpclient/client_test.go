package httpclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func localClient() *Client {
	allow := false
	return NewWithOptions(5*time.Second, Options{BlockPrivateIP: &allow})
}

func TestValidateURL(t *testing.T) {
	client := New(30 * time.Second)

	tests := []struct {
		name        string
		url         string
		errContains string
	}{
		{name: "https ok", url: "https://example.com/in.php"},
		{name: "http ok", url: "http://2captcha.com/res.php"},
		{name: "file scheme", url: "file:///etc/passwd", errContains: "scheme"},
		{name: "userinfo", url: "http://user@example.com/", errContains: "userinfo"},
		{name: "localhost", url: "http://localhost:8080/", errContains: "localhost"},
		{name: "loopback ip", url: "http://127.0.0.1/", errContains: "private"},
		{name: "rfc1918", url: "http://10.1.2.3/", errContains: "private"},
		{name: "no host", url: "http:///path", errContains: "hostname"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.ValidateURL(tt.url)
			if tt.errContains == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}
}

func TestBlockPrivateIPDisabled(t *testing.T) {
	_, err := localClient().ValidateURL("http://127.0.0.1:9000/solve")
	assert.NoError(t, err)
}

func TestGetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "get", r.URL.Query().Get("action"))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"status": 1, "request": "TOKEN"})
	}))
	defer srv.Close()

	var out struct {
		Status  int    `json:"status"`
		Request string `json:"request"`
	}
	err := localClient().GetJSON(context.Background(), srv.URL, url.Values{"action": {"get"}}, &out)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Status)
	assert.Equal(t, "TOKEN", out.Request)
}

func TestPostFormJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "site-key", r.PostForm.Get("googlekey"))
		_, _ = w.Write([]byte(`{"status":1,"request":"42"}`))
	}))
	defer srv.Close()

	var out map[string]interface{}
	err := localClient().PostFormJSON(context.Background(), srv.URL, url.Values{"googlekey": {"site-key"}}, &out)
	require.NoError(t, err)
	assert.Equal(t, "42", out["request"])
}

func TestNon2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	var out map[string]interface{}
	err := localClient().GetJSON(context.Background(), srv.URL, nil, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 502")
}

func TestBlockedClientRefusesLocalServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request should never reach the server")
	}))
	defer srv.Close()

	var out map[string]interface{}
	err := New(time.Second).GetJSON(context.Background(), srv.URL, nil, &out)
	require.Error(t, err)
}
