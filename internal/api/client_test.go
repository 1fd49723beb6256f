package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestClient_GetAndPost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method + " " + r.URL.Path {
		case "GET /thing":
			json.NewEncoder(w).Encode(map[string]string{"id": "abc"})
		case "POST /thing":
			if ct := r.Header.Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q, want application/json", ct)
			}
			w.WriteHeader(http.StatusAccepted)
			io.Copy(w, r.Body)
		default:
			w.WriteHeader(http.StatusConflict)
			json.NewEncoder(w).Encode(ErrorResponse{Error: "document is COMPLETED"})
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL + "/")
	ctx := context.Background()

	var got map[string]string
	if err := c.Get(ctx, "/thing", &got); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got["id"] != "abc" {
		t.Errorf("id = %q, want abc", got["id"])
	}

	got = nil
	if err := c.Post(ctx, "/thing", map[string]string{"id": "xyz"}, &got); err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	if got["id"] != "xyz" {
		t.Errorf("id = %q, want xyz", got["id"])
	}

	err := c.Post(ctx, "/other", nil, nil)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("Post() error = %v, want *StatusError", err)
	}
	if se.StatusCode != http.StatusConflict || se.Message != "document is COMPLETED" {
		t.Errorf("StatusError = %+v", se)
	}
}

func TestClient_Upload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, h, err := r.FormFile("file")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		json.NewEncoder(w).Encode(map[string]any{"filename": h.Filename, "size": len(data)})
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "plans.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.7 test"), 0o644); err != nil {
		t.Fatal(err)
	}

	var got struct {
		Filename string `json:"filename"`
		Size     int    `json:"size"`
	}
	if err := NewClient(srv.URL).Upload(context.Background(), "/upload", "file", path, &got); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if got.Filename != "plans.pdf" || got.Size != 13 {
		t.Errorf("got %+v, want plans.pdf with 13 bytes", got)
	}

	if err := NewClient(srv.URL).Upload(context.Background(), "/upload", "file", filepath.Join(t.TempDir(), "missing.pdf"), nil); err == nil {
		t.Error("Upload() of a missing file should fail")
	}
}

func TestEncode(t *testing.T) {
	data := struct {
		DocumentID string `json:"document_id"`
	}{"d1"}

	var buf bytes.Buffer
	if err := Encode(&buf, OutputFormatYAML, data); err != nil {
		t.Fatalf("Encode(yaml) error = %v", err)
	}
	if got := strings.TrimSpace(buf.String()); got != "document_id: d1" {
		t.Errorf("yaml = %q, want %q", got, "document_id: d1")
	}

	buf.Reset()
	if err := Encode(&buf, OutputFormatJSON, data); err != nil {
		t.Fatalf("Encode(json) error = %v", err)
	}
	if !strings.Contains(buf.String(), `"document_id": "d1"`) {
		t.Errorf("json = %q", buf.String())
	}

	if err := Encode(&buf, "xml", data); err == nil {
		t.Error("Encode(xml) should fail")
	}
}

func TestOutputToFile(t *testing.T) {
	dir := t.TempDir()
	data := map[string]int{"pages": 4}

	jsonPath := filepath.Join(dir, "result.json")
	if err := OutputToFile(data, jsonPath); err != nil {
		t.Fatalf("OutputToFile() error = %v", err)
	}
	raw, _ := os.ReadFile(jsonPath)
	var back map[string]int
	if err := json.Unmarshal(raw, &back); err != nil || back["pages"] != 4 {
		t.Errorf("json file = %q, err %v", raw, err)
	}

	yamlPath := filepath.Join(dir, "result.yaml")
	if err := OutputToFile(data, yamlPath); err != nil {
		t.Fatalf("OutputToFile() error = %v", err)
	}
	raw, _ = os.ReadFile(yamlPath)
	if strings.TrimSpace(string(raw)) != "pages: 4" {
		t.Errorf("yaml file = %q", raw)
	}
}
