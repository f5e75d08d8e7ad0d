package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"github.com/davteix/sirenwatch/internal/infrastructure/config"
	"github.com/davteix/sirenwatch/internal/infrastructure/logging"
	"github.com/davteix/sirenwatch/internal/siren"
)

const testJWTSecret = "0123456789abcdef0123456789abcdef"

// fakeDispatcher records dispatched commands and can fail on demand.
type fakeDispatcher struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeDispatcher) Send(_ context.Context, deviceID string, action siren.SwitchState, cause siren.Cause) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, deviceID+" "+string(action)+" "+string(cause))
	return nil
}

func testAPIConfig() config.APIConfig {
	return config.APIConfig{
		Host:      "127.0.0.1",
		Port:      0,
		JWTSecret: testJWTSecret,
		Timeouts:  config.APITimeoutConfig{Read: 5, Write: 5, Idle: 30},
		WebSocket: config.WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 4096,
			PingInterval:   30,
			PongTimeout:    60,
		},
	}
}

// newTestServer builds a server over httptest, with the hub running the
// way Start() would run it.
func newTestServer(t *testing.T, dispatcher CommandSender) (*httptest.Server, *siren.Store) {
	t.Helper()

	store := siren.NewStore()
	lat := -2.19
	store.Seed([]siren.Meta{
		{DeviceID: "SRN-001", IP: "10.0.0.7", Lat: &lat},
		{DeviceID: "SRN-002"},
	})

	s, err := New(Deps{
		Config:     testAPIConfig(),
		Logger:     logging.Discard(),
		Store:      store,
		Dispatcher: dispatcher,
		Version:    "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	s.hub = NewHub(s.wsCfg, s.logger)
	go s.hub.Run(ctx)
	store.SetOnChange(func(rec siren.Record) {
		s.hub.Broadcast(ChannelStateChanged, rec)
	})

	srv := httptest.NewServer(s.buildRouter())
	t.Cleanup(srv.Close)
	return srv, store
}

func testToken(t *testing.T) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "tester",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("signing test token: %v", err)
	}
	return signed
}

func authedRequest(t *testing.T, method, url string, body string) *http.Request {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+testToken(t))
	return req
}

func doRequest(t *testing.T, req *http.Request) *http.Response {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealthNoAuth(t *testing.T) {
	srv, _ := newTestServer(t, &fakeDispatcher{})

	resp, err := http.Get(srv.URL + "/api/v1/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" || body["devices"] != float64(2) {
		t.Errorf("body = %v", body)
	}
}

func TestListDevicesRequiresAuth(t *testing.T) {
	srv, _ := newTestServer(t, &fakeDispatcher{})

	resp, err := http.Get(srv.URL + "/api/v1/devices")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestListDevicesRejectsBadToken(t *testing.T) {
	srv, _ := newTestServer(t, &fakeDispatcher{})

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/devices", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	resp := doRequest(t, req)

	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestListDevices(t *testing.T) {
	srv, _ := newTestServer(t, &fakeDispatcher{})

	resp := doRequest(t, authedRequest(t, http.MethodGet, srv.URL+"/api/v1/devices", ""))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		Devices []siren.Record `json:"devices"`
		Count   int            `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Count != 2 || len(body.Devices) != 2 {
		t.Fatalf("count = %d, devices = %d, want 2/2", body.Count, len(body.Devices))
	}
	if body.Devices[0].DeviceID != "SRN-001" {
		t.Errorf("first device = %s, want SRN-001 (sorted)", body.Devices[0].DeviceID)
	}
}

func TestGetDevice(t *testing.T) {
	srv, store := newTestServer(t, &fakeDispatcher{})
	store.Mutate("SRN-001", func(rec *siren.Record) {
		rec.Online = true
		rec.Siren = siren.SwitchOn
	})

	resp := doRequest(t, authedRequest(t, http.MethodGet, srv.URL+"/api/v1/devices/SRN-001", ""))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var rec siren.Record
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		t.Fatal(err)
	}
	if rec.DeviceID != "SRN-001" || !rec.Online || rec.Siren != siren.SwitchOn {
		t.Errorf("record = %+v", rec)
	}
}

func TestGetDeviceNotFound(t *testing.T) {
	srv, _ := newTestServer(t, &fakeDispatcher{})

	resp := doRequest(t, authedRequest(t, http.MethodGet, srv.URL+"/api/v1/devices/SRN-404", ""))
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestDeviceCommand(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	srv, _ := newTestServer(t, dispatcher)

	req := authedRequest(t, http.MethodPost, srv.URL+"/api/v1/devices/SRN-001/cmd", `{"action":"ON"}`)
	req.Header.Set("Content-Type", "application/json")
	resp := doRequest(t, req)

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	dispatcher.mu.Lock()
	defer dispatcher.mu.Unlock()
	if len(dispatcher.calls) != 1 || dispatcher.calls[0] != "SRN-001 ON api" {
		t.Errorf("dispatched = %v, want one SRN-001 ON api", dispatcher.calls)
	}
}

func TestDeviceCommandInvalidAction(t *testing.T) {
	srv, _ := newTestServer(t, &fakeDispatcher{err: siren.ErrInvalidAction})

	req := authedRequest(t, http.MethodPost, srv.URL+"/api/v1/devices/SRN-001/cmd", `{"action":"BLARE"}`)
	resp := doRequest(t, req)

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestDeviceCommandUnknownDevice(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	srv, _ := newTestServer(t, dispatcher)

	req := authedRequest(t, http.MethodPost, srv.URL+"/api/v1/devices/SRN-404/cmd", `{"action":"ON"}`)
	resp := doRequest(t, req)

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
	dispatcher.mu.Lock()
	defer dispatcher.mu.Unlock()
	if len(dispatcher.calls) != 0 {
		t.Error("command for an unknown device was dispatched")
	}
}

func TestDeviceCommandUpstreamFailure(t *testing.T) {
	srv, _ := newTestServer(t, &fakeDispatcher{err: siren.ErrCommandFailed})

	req := authedRequest(t, http.MethodPost, srv.URL+"/api/v1/devices/SRN-001/cmd", `{"action":"ON"}`)
	resp := doRequest(t, req)

	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", resp.StatusCode)
	}
}

func TestWebSocketBroadcastOnStateChange(t *testing.T) {
	srv, store := newTestServer(t, &fakeDispatcher{})

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws?token=" + testToken(t)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial: %v", err)
	}
	defer conn.Close()

	sub := WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "1",
		Payload: WSSubscribePayload{Channels: []string{ChannelStateChanged}},
	}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatal(err)
	}

	// First frame is the subscribe response.
	var ack WSMessage
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatal(err)
	}
	if ack.Type != WSTypeResponse {
		t.Fatalf("first frame type = %s, want response", ack.Type)
	}

	store.Mutate("SRN-001", func(rec *siren.Record) {
		rec.Online = true
	})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck
	var event WSMessage
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("reading broadcast: %v", err)
	}
	if event.Type != WSTypeEvent || event.EventType != ChannelStateChanged {
		t.Fatalf("event = %+v", event)
	}

	payload, _ := json.Marshal(event.Payload) //nolint:errcheck
	var rec siren.Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		t.Fatal(err)
	}
	if rec.DeviceID != "SRN-001" || !rec.Online {
		t.Errorf("broadcast record = %+v", rec)
	}
}

func TestWebSocketRequiresToken(t *testing.T) {
	srv, _ := newTestServer(t, &fakeDispatcher{})

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("dial succeeded without a token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("handshake response = %v, want 401", resp)
	}
}
