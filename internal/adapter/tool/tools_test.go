package tool

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func serviceStub(t *testing.T, wantPath string, status int, response string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != wantPath {
			t.Errorf("path = %s, want %s", r.URL.Path, wantPath)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %s", ct)
		}
		w.WriteHeader(status)
		w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestVehicleToolExecute(t *testing.T) {
	srv := serviceStub(t, "/vehicles/lookup", http.StatusOK, `{"make":"Honda","model":"Accord","year":2019}`)
	vt := NewVehicleTool(srv.URL, NewHTTPClient(time.Second), discardLogger())

	result, err := vt.Execute(context.Background(), json.RawMessage(`{"vin":"1HGCM82633A004352"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.IsError {
		t.Fatalf("result = %+v", result)
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(result.Content), &payload); err != nil || payload["make"] != "Honda" {
		t.Errorf("content = %q", result.Content)
	}
}

func TestToolServiceFailureIsStructured(t *testing.T) {
	srv := serviceStub(t, "/claimants/history", http.StatusServiceUnavailable, "down")
	ht := NewHistoryTool(srv.URL, NewHTTPClient(time.Second), discardLogger())

	result, err := ht.Execute(context.Background(), json.RawMessage(`{"claimant_id":"CUST-7"}`))
	if err != nil {
		t.Fatalf("a service failure must come back as a structured result: %v", err)
	}
	if !result.IsError {
		t.Errorf("result = %+v, want IsError", result)
	}
}

func TestPolicySearchToolExecute(t *testing.T) {
	srv := serviceStub(t, "/policies/search", http.StatusOK, `{"matches":["collision coverage up to 10000"]}`)
	pt := NewPolicySearchTool(srv.URL, NewHTTPClient(time.Second), discardLogger())

	result, err := pt.Execute(context.Background(), json.RawMessage(`{"query":"collision deductible"}`))
	if err != nil || result.IsError {
		t.Fatalf("Execute = %+v, %v", result, err)
	}
}

func TestImageToolExecute(t *testing.T) {
	srv := serviceStub(t, "/images/analyze", http.StatusOK, `{"damage":"rear bumper","severity":"moderate"}`)
	it := NewImageTool(srv.URL, NewHTTPClient(time.Second), discardLogger())

	result, err := it.Execute(context.Background(), json.RawMessage(`{"image_ref":"img-9"}`))
	if err != nil || result.IsError {
		t.Fatalf("Execute = %+v, %v", result, err)
	}
}

func TestToolTimeoutIsStructured(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	t.Cleanup(srv.Close)

	vt := NewVehicleTool(srv.URL, NewHTTPClient(20*time.Millisecond), discardLogger())
	result, err := vt.Execute(context.Background(), json.RawMessage(`{"vin":"1HGCM82633A004352"}`))
	if err != nil {
		t.Fatalf("timeout must come back as a structured result: %v", err)
	}
	if !result.IsError {
		t.Errorf("result = %+v, want IsError", result)
	}
}
