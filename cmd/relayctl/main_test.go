package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/leafline-pos/ocs-relay/internal/convert"
)

func Test_newAPIClient_TrimsTrailingSlash(t *testing.T) {
	c := newAPIClient("http://relay:8080/", time.Second)
	if c.base != "http://relay:8080" {
		t.Fatalf("base = %q", c.base)
	}
}

func Test_checkStatus_UsesErrorBody(t *testing.T) {
	rec := httptest.NewRecorder()
	rec.WriteHeader(http.StatusConflict)
	_ = json.NewEncoder(rec.Body).Encode(map[string]string{"error": "attempt in flight: already claimed"})

	err := checkStatus(rec.Result())
	if err == nil || !strings.Contains(err.Error(), "already claimed") {
		t.Fatalf("err = %v", err)
	}

	rec = httptest.NewRecorder()
	rec.WriteHeader(http.StatusOK)
	if err := checkStatus(rec.Result()); err != nil {
		t.Fatalf("2xx must pass: %v", err)
	}
}

func Test_apiClient_GetDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/status" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(convert.StatusJSON{
			Service: "ocs-relay",
			Counts:  map[string]int64{"pending": 3},
		})
	}))
	defer srv.Close()

	cli := newAPIClient(srv.URL, time.Second)
	var out convert.StatusJSON
	if err := cli.get(context.Background(), "/api/v1/status", &out); err != nil {
		t.Fatalf("get: %v", err)
	}
	if out.Service != "ocs-relay" || out.Counts["pending"] != 3 {
		t.Fatalf("out = %+v", out)
	}
}

func Test_apiClient_PostSendsBodyAndActor(t *testing.T) {
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("method/content-type = %s/%s", r.Method, r.Header.Get("Content-Type"))
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "pending"})
	}))
	defer srv.Close()

	cli := newAPIClient(srv.URL, time.Second)
	var out map[string]string
	err := cli.do(context.Background(), http.MethodPost, "/api/v1/submissions/x/requeue",
		map[string]string{"actor": "jmoretti"}, &out)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if gotBody["actor"] != "jmoretti" {
		t.Fatalf("sent body = %+v", gotBody)
	}
	if out["status"] != "pending" {
		t.Fatalf("out = %+v", out)
	}
}

func Test_apiClient_NoContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	cli := newAPIClient(srv.URL, time.Second)
	if err := cli.do(context.Background(), http.MethodPut, "/api/v1/stores/x/credential",
		map[string]string{"client_id": "c"}, nil); err != nil {
		t.Fatalf("do: %v", err)
	}
}

func Test_readSecret_Passthrough(t *testing.T) {
	got, err := readSecret("s3cret")
	if err != nil || got != "s3cret" {
		t.Fatalf("got %q, %v", got, err)
	}
}
