package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/davteix/sirenwatch/internal/infrastructure/config"
	"github.com/davteix/sirenwatch/internal/infrastructure/logging"
	"github.com/davteix/sirenwatch/internal/siren"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.BackendConfig{
		BaseURL:        srv.URL,
		AccessToken:    "test-token",
		TimeoutSeconds: 2,
	}, logging.Discard())
}

func TestClient_ListSirens(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sirens" {
			t.Errorf("path = %s, want /sirens", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Authorization = %q, want bearer token", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"deviceId":"SRN-001","ip":"10.0.0.7"},{"deviceId":"SRN-002"}]`))
	}))

	metas, err := client.ListSirens(context.Background())
	if err != nil {
		t.Fatalf("ListSirens() error: %v", err)
	}
	if len(metas) != 2 || metas[0].DeviceID != "SRN-001" || metas[0].IP != "10.0.0.7" {
		t.Errorf("metas = %+v", metas)
	}
}

func TestClient_ListSirensUnauthorized(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, err := client.ListSirens(context.Background())
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("error = %v, want ErrUnauthorized", err)
	}
}

func TestClient_LastStatesMissingEndpointIsEmpty(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	states, err := client.LastStates(context.Background())
	if err != nil {
		t.Fatalf("LastStates() error = %v, want nil for a 404", err)
	}
	if len(states) != 0 {
		t.Errorf("states = %+v, want empty", states)
	}
}

func TestClient_LastStates(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/mqtt/state" {
			t.Errorf("path = %s, want /mqtt/state", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"deviceId":"SRN-001","online":true,"relay":"ON","siren":"ON"}]`))
	}))

	states, err := client.LastStates(context.Background())
	if err != nil {
		t.Fatalf("LastStates() error: %v", err)
	}
	if len(states) != 1 || !states[0].Online || states[0].Siren != siren.SwitchOn {
		t.Errorf("states = %+v", states)
	}
}

func TestClient_LastStateByDevice(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/mqtt/state/SRN-001" {
			t.Errorf("path = %s, want /mqtt/state/SRN-001", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"deviceId":"SRN-001","online":true,"relay":"OFF","siren":"OFF"}`))
	}))

	state, err := client.LastState(context.Background(), "SRN-001")
	if err != nil {
		t.Fatalf("LastState() error: %v", err)
	}
	if state.DeviceID != "SRN-001" || !state.Online {
		t.Errorf("state = %+v", state)
	}
}

func TestClient_LastStateNotFound(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := client.LastState(context.Background(), "SRN-404")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestClient_SendCommand(t *testing.T) {
	var got commandBody
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/devices/SRN-001/cmd" {
			t.Errorf("path = %s, want /devices/SRN-001/cmd", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding body: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))

	cmd := siren.Command{
		DeviceID: "SRN-001",
		Action:   siren.SwitchOn,
		TTL:      300 * time.Second,
		Cause:    siren.CauseManual,
		CmdID:    "c-1",
	}
	if err := client.SendCommand(context.Background(), cmd); err != nil {
		t.Fatalf("SendCommand() error: %v", err)
	}
	if got.Action != "ON" || got.TTLMs != 300000 || got.Cause != "manual" || got.CmdID != "c-1" {
		t.Errorf("body = %+v", got)
	}
}

func TestClient_SendCommandDoesNotRetry(t *testing.T) {
	var calls int32
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	client.http.SetRetryCount(3)

	err := client.SendCommand(context.Background(), siren.Command{
		DeviceID: "SRN-001",
		Action:   siren.SwitchOn,
	})
	if !errors.Is(err, ErrBadStatus) {
		t.Fatalf("error = %v, want ErrBadStatus", err)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("backend saw %d posts, want exactly 1", n)
	}
}

func TestClient_GetRetriesOnServerError(t *testing.T) {
	var calls int32
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	}))
	client.http.SetRetryCount(3).SetRetryWaitTime(time.Millisecond).SetRetryMaxWaitTime(5 * time.Millisecond)

	if _, err := client.ListSirens(context.Background()); err != nil {
		t.Fatalf("ListSirens() error after retries: %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Errorf("backend saw %d requests, want 3", n)
	}
}
