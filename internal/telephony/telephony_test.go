package telephony

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTransferPostsToControlSurface(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
	}))
	t.Cleanup(srv.Close)

	c, err := NewHTTPController(HTTPControllerConfig{BaseURL: srv.URL, APIKey: "secret"})
	if err != nil {
		t.Fatalf("NewHTTPController: %v", err)
	}
	if err := c.Transfer(context.Background(), "call-42", "+15551234567"); err != nil {
		t.Fatalf("Transfer: %v", err)
	}

	if gotPath != "/calls/call-42/transfer" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if gotBody["number"] != "+15551234567" {
		t.Errorf("body = %v", gotBody)
	}
}

func TestEndCallPostsHangup(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
	}))
	t.Cleanup(srv.Close)

	c, err := NewHTTPController(HTTPControllerConfig{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewHTTPController: %v", err)
	}
	if err := c.EndCall(context.Background(), "call-42"); err != nil {
		t.Fatalf("EndCall: %v", err)
	}
	if gotPath != "/calls/call-42/hangup" {
		t.Errorf("path = %q", gotPath)
	}
}

func TestNon2xxIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	c, err := NewHTTPController(HTTPControllerConfig{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewHTTPController: %v", err)
	}
	if err := c.EndCall(context.Background(), "call-42"); err == nil {
		t.Error("EndCall accepted a 502 response")
	}
}

func TestNewHTTPControllerRequiresBaseURL(t *testing.T) {
	if _, err := NewHTTPController(HTTPControllerConfig{}); err == nil {
		t.Error("NewHTTPController accepted an empty base URL")
	}
}
