package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/quailyquaily/peergate/bridge"
	"github.com/quailyquaily/peergate/conversation"
	"github.com/quailyquaily/peergate/instance"
	"github.com/quailyquaily/peergate/netclient"
	"github.com/quailyquaily/peergate/wfengine"
)

const (
	testAdminKey = "admin-secret"
	testAPIKey   = "api-secret"
)

type apiConn struct {
	handlers netclient.Handlers
}

func (c *apiConn) Connect(ctx context.Context) error { return nil }

func (c *apiConn) Send(ctx context.Context, to, text string) (string, error) {
	return "msg-42", nil
}

func (c *apiConn) SendComposing(ctx context.Context, to string) error { return nil }
func (c *apiConn) SelfID() string                                     { return "5550000000@c.us" }
func (c *apiConn) State() netclient.ConnState                         { return netclient.ConnStateConnected }
func (c *apiConn) Close(ctx context.Context) error                    { return nil }

type apiDialer struct {
	mu    sync.Mutex
	conns []*apiConn
}

func (d *apiDialer) Dial(ctx context.Context, opts netclient.DialOptions) (netclient.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	conn := &apiConn{handlers: opts.Handlers}
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *apiDialer) last() *apiConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

type apiFixture struct {
	api     *httptest.Server
	dialer  *apiDialer
	manager *instance.Manager
	baseURL string
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	engine := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(engine.Close)

	dialer := &apiDialer{}
	manager := instance.NewManager(instance.ManagerOptions{
		Store:       instance.NewStore(t.TempDir(), nil),
		Dialer:      dialer,
		SessionsDir: t.TempDir(),
	})
	t.Cleanup(func() { manager.Shutdown(context.Background()) })

	router := bridge.NewRouter(nil, manager, conversation.NewStore(t.TempDir(), nil), wfengine.NewPipeline(wfengine.NewClient(), nil, ""), nil)
	server := New(Options{
		Manager:   manager,
		Router:    router,
		AdminKey:  testAdminKey,
		APIKey:    testAPIKey,
		PublicURL: "https://bridge.example.com",
		Version:   "test",
	})
	api := httptest.NewServer(server.Handler())
	t.Cleanup(api.Close)
	return &apiFixture{api: api, dialer: dialer, manager: manager, baseURL: engine.URL}
}

func (f *apiFixture) do(t *testing.T, method, path, key string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, f.api.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key != "" {
		header := "X-Admin-Api-Key"
		if strings.HasPrefix(path, "/api/instances") || strings.HasPrefix(path, "/api/webhook") {
			header = "X-Api-Key"
		}
		req.Header.Set(header, key)
	}
	resp, err := f.api.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var decoded map[string]any
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			t.Fatalf("decode response %q: %v", raw, err)
		}
	}
	return resp, decoded
}

func (f *apiFixture) createPayload(id string) map[string]any {
	return map[string]any{
		"instanceId": id,
		"remoteWorkflowConfig": map[string]any{
			"baseUrl":     f.baseURL,
			"webhookPath": "/webhook/test",
		},
		"allowedUsers": []string{"*"},
	}
}

func TestHealthAndVersionOpen(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	resp, body := f.do(t, http.MethodGet, "/health", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /health = %d", resp.StatusCode)
	}
	if body["ok"] != true {
		t.Fatalf("health body = %v", body)
	}

	resp, body = f.do(t, http.MethodGet, "/version", "", nil)
	if resp.StatusCode != http.StatusOK || body["version"] != "test" {
		t.Fatalf("GET /version = %d %v", resp.StatusCode, body)
	}
}

func TestAdminRequiresKey(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	for _, key := range []string{"", "wrong-key"} {
		resp, _ := f.do(t, http.MethodGet, "/api/admin/instances/", key, nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("key %q: status = %d, want 401", key, resp.StatusCode)
		}
	}
}

func TestWebhookRequiresKey(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	resp, _ := f.do(t, http.MethodGet, "/api/instances/bot1/qr", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	// The admin credential does not open the webhook surface.
	resp, _ = f.do(t, http.MethodGet, "/api/instances/bot1/qr", testAdminKey, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("admin key on webhook surface: status = %d, want 401", resp.StatusCode)
	}
}

func TestCreateInstance(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	resp, body := f.do(t, http.MethodPost, "/api/admin/instances/", testAdminKey, f.createPayload("bot1"))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, body = %v", resp.StatusCode, body)
	}
	if body["instanceId"] != "bot1" || body["status"] != string(instance.StateCreated) {
		t.Fatalf("create body = %v", body)
	}
	if body["webhookUrl"] != "https://bridge.example.com/api/webhook/bot1" {
		t.Fatalf("webhookUrl = %v", body["webhookUrl"])
	}

	resp, body = f.do(t, http.MethodPost, "/api/admin/instances/", testAdminKey, f.createPayload("bot1"))
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate create status = %d, body = %v", resp.StatusCode, body)
	}
}

func TestCreateInstanceInvalidConfig(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	payload := f.createPayload("bot1")
	delete(payload, "remoteWorkflowConfig")
	resp, _ := f.do(t, http.MethodPost, "/api/admin/instances/", testAdminKey, payload)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid config status = %d", resp.StatusCode)
	}
}

func TestGetInstance(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	f.do(t, http.MethodPost, "/api/admin/instances/", testAdminKey, f.createPayload("bot1"))

	resp, body := f.do(t, http.MethodGet, "/api/admin/instances/bot1", testAdminKey, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}
	if body["state"] != string(instance.StateInitializing) {
		t.Fatalf("state = %v", body["state"])
	}

	resp, _ = f.do(t, http.MethodGet, "/api/admin/instances/ghost", testAdminKey, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown get status = %d", resp.StatusCode)
	}
}

func TestListInstances(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	f.do(t, http.MethodPost, "/api/admin/instances/", testAdminKey, f.createPayload("beta"))
	f.do(t, http.MethodPost, "/api/admin/instances/", testAdminKey, f.createPayload("alpha"))

	resp, body := f.do(t, http.MethodGet, "/api/admin/instances/", testAdminKey, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	instances, ok := body["instances"].([]any)
	if !ok || len(instances) != 2 {
		t.Fatalf("instances = %v", body["instances"])
	}
	first, _ := instances[0].(map[string]any)
	if first["instanceId"] != "alpha" {
		t.Fatalf("first listed = %v", first)
	}
}

func TestDeleteInstance(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	f.do(t, http.MethodPost, "/api/admin/instances/", testAdminKey, f.createPayload("bot1"))

	resp, body := f.do(t, http.MethodDelete, "/api/admin/instances/bot1", testAdminKey, nil)
	if resp.StatusCode != http.StatusOK || body["deleted"] != true {
		t.Fatalf("delete = %d %v", resp.StatusCode, body)
	}
	resp, _ = f.do(t, http.MethodGet, "/api/admin/instances/bot1", testAdminKey, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get after delete status = %d", resp.StatusCode)
	}
}

func TestRestartInstance(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	f.do(t, http.MethodPost, "/api/admin/instances/", testAdminKey, f.createPayload("bot1"))

	resp, body := f.do(t, http.MethodPost, "/api/admin/instances/bot1/restart", testAdminKey, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("restart status = %d", resp.StatusCode)
	}
	if body["state"] != string(instance.StateInitializing) {
		t.Fatalf("restart state = %v", body["state"])
	}
	resp, _ = f.do(t, http.MethodPost, "/api/admin/instances/ghost/restart", testAdminKey, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown restart status = %d", resp.StatusCode)
	}
}

func TestQREndpoint(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	f.do(t, http.MethodPost, "/api/admin/instances/", testAdminKey, f.createPayload("bot1"))

	resp, body := f.do(t, http.MethodGet, "/api/instances/bot1/qr", testAPIKey, nil)
	if resp.StatusCode != http.StatusOK || body["status"] != "initializing" {
		t.Fatalf("qr before pairing = %d %v", resp.StatusCode, body)
	}

	f.dialer.last().handlers.OnQR("qr-pairing-data")
	resp, body = f.do(t, http.MethodGet, "/api/instances/bot1/qr", testAPIKey, nil)
	if resp.StatusCode != http.StatusOK || body["status"] != "pending" {
		t.Fatalf("qr while pending = %d %v", resp.StatusCode, body)
	}
	if body["qrCode"] != "qr-pairing-data" {
		t.Fatalf("qrCode = %v", body["qrCode"])
	}

	f.dialer.last().handlers.OnReady()
	resp, body = f.do(t, http.MethodGet, "/api/instances/bot1/qr", testAPIKey, nil)
	if resp.StatusCode != http.StatusOK || body["status"] != "connected" {
		t.Fatalf("qr when connected = %d %v", resp.StatusCode, body)
	}

	resp, _ = f.do(t, http.MethodGet, "/api/instances/ghost/qr", testAPIKey, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown qr status = %d", resp.StatusCode)
	}
}

func TestWebhookSend(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	f.do(t, http.MethodPost, "/api/admin/instances/", testAdminKey, f.createPayload("bot1"))

	resp, body := f.do(t, http.MethodPost, "/api/webhook/bot1", testAPIKey, map[string]string{
		"to":      "5551234567",
		"message": "hello",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("send status = %d, body = %v", resp.StatusCode, body)
	}
	if body["messageId"] != "msg-42" {
		t.Fatalf("messageId = %v", body["messageId"])
	}
}

func TestWebhookSendErrors(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	f.do(t, http.MethodPost, "/api/admin/instances/", testAdminKey, f.createPayload("bot1"))

	cases := []struct {
		name       string
		path       string
		payload    map[string]string
		wantStatus int
		wantError  string
	}{
		{
			name:       "invalid phone",
			path:       "/api/webhook/bot1",
			payload:    map[string]string{"to": "12345", "message": "hello"},
			wantStatus: http.StatusBadRequest,
			wantError:  "Invalid phone number format",
		},
		{
			name:       "missing message",
			path:       "/api/webhook/bot1",
			payload:    map[string]string{"to": "5551234567"},
			wantStatus: http.StatusBadRequest,
			wantError:  "to and message are required",
		},
		{
			name:       "unknown instance",
			path:       "/api/webhook/ghost",
			payload:    map[string]string{"to": "5551234567", "message": "hello"},
			wantStatus: http.StatusNotFound,
			wantError:  "instance not found",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := f.do(t, http.MethodPost, tc.path, testAPIKey, tc.payload)
			if resp.StatusCode != tc.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tc.wantStatus)
			}
			if body["error"] != tc.wantError {
				t.Fatalf("error = %v, want %q", body["error"], tc.wantError)
			}
		})
	}
}

func TestWebhookSendNotInitialized(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	f.do(t, http.MethodPost, "/api/admin/instances/", testAdminKey, f.createPayload("bot1"))
	if err := f.manager.Destroy(context.Background(), "bot1"); err != nil {
		t.Fatalf("Destroy() error = %v", err)
	}

	resp, body := f.do(t, http.MethodPost, "/api/webhook/bot1", testAPIKey, map[string]string{
		"to":      "5551234567",
		"message": "hello",
	})
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, body = %v", resp.StatusCode, body)
	}
}
