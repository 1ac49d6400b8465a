package panel

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

const testStream = `{"network":"tcp","security":"reality","realitySettings":{"serverNames":["www.example.com"],"shortIds":["ab12"],"settings":{"publicKey":"PUBKEY","fingerprint":"chrome","spiderX":"/"}}}`

// fakePanel минимальная реализация API 3x-ui поверх httptest.
type fakePanel struct {
	mu          sync.Mutex
	clients     []map[string]any
	logins      int
	sessionOK   bool
	deleteMsg   string
	addMsg      string
	lastUpdate  []map[string]any
	lastUpdated string
}

func newFakePanel() *fakePanel {
	return &fakePanel{
		clients: []map[string]any{
			{"id": "other-1", "email": "other", "expiryTime": 1700000000000, "enable": true, "tgId": 99, "comment": "keep"},
			{"id": "target", "email": "u1", "expiryTime": 1700000000000, "enable": false, "totalGB": 0},
		},
	}
}

func (f *fakePanel) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		f.mu.Lock()
		defer f.mu.Unlock()
		f.logins++
		if r.Form.Get("username") != "admin" || r.Form.Get("password") != "secret" {
			writeJSON(w, false, "Invalid username or password", nil)
			return
		}
		f.sessionOK = true
		http.SetCookie(w, &http.Cookie{Name: "3x-ui", Value: "sess", Path: "/"})
		writeJSON(w, true, "", nil)
	})
	mux.HandleFunc("/panel/api/inbounds/", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if c, err := r.Cookie("3x-ui"); err != nil || c.Value != "sess" || !f.sessionOK {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte("404 page not found"))
			return
		}
		path := strings.TrimPrefix(r.URL.Path, "/panel/api/inbounds/")
		switch {
		case strings.HasPrefix(path, "get/"):
			settings, _ := json.Marshal(map[string]any{"clients": f.clients, "decryption": "none"})
			obj := map[string]any{
				"id":             1,
				"protocol":       "vless",
				"port":           8443,
				"settings":       string(settings),
				"streamSettings": testStream,
			}
			writeJSON(w, true, "", obj)
		case path == "addClient":
			if f.addMsg != "" {
				writeJSON(w, false, f.addMsg, nil)
				return
			}
			clients := decodeBodyClients(t, r)
			f.clients = append(f.clients, clients...)
			writeJSON(w, true, "", nil)
		case strings.HasPrefix(path, "updateClient/"):
			f.lastUpdated = strings.TrimPrefix(path, "updateClient/")
			f.lastUpdate = decodeBodyClients(t, r)
			f.clients = f.lastUpdate
			writeJSON(w, true, "", nil)
		case strings.Contains(path, "/delClient/"):
			if f.deleteMsg != "" {
				writeJSON(w, false, f.deleteMsg, nil)
				return
			}
			id := path[strings.LastIndex(path, "/")+1:]
			for i, c := range f.clients {
				if c["id"] == id {
					f.clients = append(f.clients[:i], f.clients[i+1:]...)
					writeJSON(w, true, "", nil)
					return
				}
			}
			writeJSON(w, false, "Client Not Found", nil)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	return mux
}

func decodeBodyClients(t *testing.T, r *http.Request) []map[string]any {
	var body struct {
		ID       int    `json:"id"`
		Settings string `json:"settings"`
	}
	require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	var s struct {
		Clients []map[string]any `json:"clients"`
	}
	require.NoError(t, json.Unmarshal([]byte(body.Settings), &s))
	return s.Clients
}

func writeJSON(w http.ResponseWriter, ok bool, msg string, obj any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"success": ok, "msg": msg, "obj": obj})
}

// flakyTransport возвращает сетевую ошибку первые failures раз.
type flakyTransport struct {
	failures int32
	calls    atomic.Int32
}

func (f *flakyTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if f.calls.Add(1) <= f.failures {
		return nil, errors.New("connection reset by peer")
	}
	return http.DefaultTransport.RoundTrip(r)
}

func newTestClient(t *testing.T, srvURL, password string, tr http.RoundTripper) *Client {
	c, err := New(srvURL, "admin", password, Options{
		Timeout:       2 * time.Second,
		RetryAttempts: 3,
		RetryDelay:    time.Millisecond,
		Transport:     tr,
	}, newNoopLogger())
	require.NoError(t, err)
	return c
}

func TestClient_GetProfile(t *testing.T) {
	fp := newFakePanel()
	srv := httptest.NewServer(fp.handler(t))
	defer srv.Close()

	c := newTestClient(t, srv.URL, "secret", nil)
	p, err := c.GetProfile(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, 8443, p.Port)
	assert.Equal(t, "tcp", p.Network)
	assert.Equal(t, "reality", p.Security)
	require.NotNil(t, p.Reality)
	assert.Equal(t, "PUBKEY", p.Reality.PublicKey)
	assert.Equal(t, "www.example.com", p.Reality.ServerName)
	assert.Equal(t, "ab12", p.Reality.ShortID)
	assert.Len(t, p.Clients, 2)
	assert.Equal(t, 1, fp.logins)
}

func TestClient_ReusesSessionAndReauthenticatesOnce(t *testing.T) {
	fp := newFakePanel()
	srv := httptest.NewServer(fp.handler(t))
	defer srv.Close()

	c := newTestClient(t, srv.URL, "secret", nil)
	_, err := c.GetProfile(context.Background(), 1)
	require.NoError(t, err)
	_, err = c.GetProfile(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, fp.logins, "cached session must be reused")

	fp.mu.Lock()
	fp.sessionOK = false
	fp.mu.Unlock()

	_, err = c.GetProfile(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 2, fp.logins)
}

func TestClient_AuthFailure(t *testing.T) {
	fp := newFakePanel()
	srv := httptest.NewServer(fp.handler(t))
	defer srv.Close()

	c := newTestClient(t, srv.URL, "wrong", nil)
	_, err := c.GetProfile(context.Background(), 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuth)
	assert.Equal(t, 1, fp.logins, "application-level errors are not retried")
}

func TestClient_AddCredential(t *testing.T) {
	fp := newFakePanel()
	srv := httptest.NewServer(fp.handler(t))
	defer srv.Close()

	c := newTestClient(t, srv.URL, "secret", nil)
	expiry := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	err := c.AddCredential(context.Background(), 1, "new-id", "42-new-id", expiry, GBToBytes(10))
	require.NoError(t, err)

	require.Len(t, fp.clients, 3)
	added := fp.clients[2]
	assert.Equal(t, "new-id", added["id"])
	assert.Equal(t, "42-new-id", added["email"])
	assert.EqualValues(t, expiry.UnixMilli(), added["expiryTime"])
	assert.EqualValues(t, 10*bytesInGB, added["totalGB"])
}

func TestClient_AddCredential_ProtocolError(t *testing.T) {
	fp := newFakePanel()
	fp.addMsg = "Duplicate email: u1"
	srv := httptest.NewServer(fp.handler(t))
	defer srv.Close()

	c := newTestClient(t, srv.URL, "secret", nil)
	err := c.AddCredential(context.Background(), 1, "x", "u1", time.Now(), 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProtocol)

	var pe *Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "Duplicate email: u1", pe.Msg)
}

func TestClient_ExtendCredential_ResendsWholeList(t *testing.T) {
	fp := newFakePanel()
	srv := httptest.NewServer(fp.handler(t))
	defer srv.Close()

	c := newTestClient(t, srv.URL, "secret", nil)
	newExpiry := time.Date(2031, 6, 1, 0, 0, 0, 0, time.UTC)
	err := c.ExtendCredential(context.Background(), 1, "target", newExpiry, nil)
	require.NoError(t, err)

	assert.Equal(t, "target", fp.lastUpdated)
	require.Len(t, fp.lastUpdate, 2)

	other := fp.lastUpdate[0]
	assert.Equal(t, "other-1", other["id"])
	assert.EqualValues(t, 1700000000000, other["expiryTime"])
	assert.Equal(t, "keep", other["comment"], "unknown fields of other clients survive")
	assert.EqualValues(t, 99, other["tgId"])

	target := fp.lastUpdate[1]
	assert.EqualValues(t, newExpiry.UnixMilli(), target["expiryTime"])
	assert.Equal(t, true, target["enable"])
}

func TestClient_ExtendCredential_NotFound(t *testing.T) {
	fp := newFakePanel()
	srv := httptest.NewServer(fp.handler(t))
	defer srv.Close()

	c := newTestClient(t, srv.URL, "secret", nil)
	err := c.ExtendCredential(context.Background(), 1, "missing", time.Now(), nil)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, IsNotFound(err))
}

func TestClient_DeleteCredential(t *testing.T) {
	tests := []struct {
		name      string
		id        string
		deleteMsg string
		wantErr   error
	}{
		{name: "deleted", id: "target"},
		{name: "already gone", id: "missing", wantErr: ErrNotFound},
		{name: "panel failure", id: "target", deleteMsg: "database is locked", wantErr: ErrProtocol},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fp := newFakePanel()
			fp.deleteMsg = tt.deleteMsg
			srv := httptest.NewServer(fp.handler(t))
			defer srv.Close()

			c := newTestClient(t, srv.URL, "secret", nil)
			err := c.DeleteCredential(context.Background(), 1, tt.id)
			if tt.wantErr == nil {
				require.NoError(t, err)
				assert.Len(t, fp.clients, 1)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestClient_RetriesNetworkFailures(t *testing.T) {
	fp := newFakePanel()
	srv := httptest.NewServer(fp.handler(t))
	defer srv.Close()

	tr := &flakyTransport{failures: 2}
	c := newTestClient(t, srv.URL, "secret", tr)
	_, err := c.GetProfile(context.Background(), 1)
	require.NoError(t, err)
	// 2 неудачных логина + логин + get
	assert.Equal(t, int32(4), tr.calls.Load())
}

func TestClient_GivesUpAfterThreeAttempts(t *testing.T) {
	fp := newFakePanel()
	srv := httptest.NewServer(fp.handler(t))
	defer srv.Close()

	tr := &flakyTransport{failures: 100}
	c := newTestClient(t, srv.URL, "secret", tr)
	err := c.Authenticate(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransient)
	assert.Equal(t, int32(3), tr.calls.Load())
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "object", in: `{"a":1}`, want: `{"a":1}`},
		{name: "string encoded", in: `"{\"a\":1}"`, want: `{"a":1}`},
		{name: "double encoded", in: `"\"{\\\"a\\\":1}\""`, want: `{"a":1}`},
		{name: "empty string", in: `""`, want: `{}`},
		{name: "null", in: `null`, want: `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := normalize(json.RawMessage(tt.in))
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

func TestBuildURI(t *testing.T) {
	p := &Profile{
		Protocol: "vless",
		Port:     8443,
		Network:  "tcp",
		Security: "reality",
		Reality: &RealityParams{
			PublicKey:   "PUB",
			Fingerprint: "chrome",
			ServerName:  "www.example.com",
			ShortID:     "ab12",
		},
	}
	uri := BuildURI(p, "vpn.example.org", 443, "0f8fad5b-d9cb-469f-a165-70867728950e", Label("Нидерланды", "0f8fad5b-d9cb"))

	assert.True(t, strings.HasPrefix(uri, "vless://0f8fad5b-d9cb-469f-a165-70867728950e@vpn.example.org:8443?"))
	assert.Contains(t, uri, "pbk=PUB")
	assert.Contains(t, uri, "sni=www.example.com")
	assert.Contains(t, uri, "sid=ab12")
	assert.Contains(t, uri, "spx=%2F")
	assert.Contains(t, uri, "security=reality")
	assert.Contains(t, uri, "#")
}

func TestBuildURI_PlainFallsBackToPanelPort(t *testing.T) {
	p := &Profile{Protocol: "vless", Network: "ws", Security: "none"}
	uri := BuildURI(p, "h", 2053, "id", "x")
	assert.Equal(t, "vless://id@h:2053?encryption=none&security=none&type=ws#x", uri)
}

func TestHost(t *testing.T) {
	host, port, err := Host("https://panel.example.org:2053/secret-path")
	require.NoError(t, err)
	assert.Equal(t, "panel.example.org", host)
	assert.Equal(t, 2053, port)

	_, port, err = Host("https://panel.example.org")
	require.NoError(t, err)
	assert.Equal(t, 443, port)
}

func TestGBToBytes(t *testing.T) {
	tests := []struct {
		gb   int64
		want int64
	}{
		{gb: 0, want: 0},
		{gb: -3, want: 0},
		{gb: 10, want: 10 << 30},
		{gb: math.MaxInt64 >> 30, want: (math.MaxInt64 >> 30) << 30},
		{gb: math.MaxInt64>>30 + 1, want: math.MaxInt64},
		{gb: math.MaxInt64, want: math.MaxInt64},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, GBToBytes(tt.gb), "gb=%d", tt.gb)
	}
}
