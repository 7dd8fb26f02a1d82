package inference

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/welldanyogia/steel-scrap-yard/internal/repository"
)

var plateModel = ModelRef{Project: "license-plate-recognition-rxg4e", Version: "11"}

func TestInfer_SendsMultipartAndNormalizes(t *testing.T) {
	var gotPath, gotKey, gotFile string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.URL.Query().Get("api_key")
		f, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile(file) error = %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		b, _ := io.ReadAll(f)
		gotFile = string(b)
		_, _ = io.WriteString(w, `{"predictions":[
			{"class":"plate","confidence":0.4,"x":10,"y":10,"width":4,"height":2},
			{"class":"plate","confidence":0.9,"x1":0,"y1":0,"x2":20,"y2":10}
		]}`)
	}))
	defer srv.Close()

	g := NewGateway(Config{BaseURL: srv.URL + "/", APIKey: "k3y", Timeout: time.Second}, srv.Client(), nil)
	res := g.Infer(context.Background(), []byte("jpeg-bytes"), "plate.jpg", plateModel)

	if !res.OK() {
		t.Fatalf("Infer() = %+v, want ok", res)
	}
	if gotPath != "/license-plate-recognition-rxg4e/11" || gotKey != "k3y" || gotFile != "jpeg-bytes" {
		t.Errorf("request path=%q key=%q file=%q", gotPath, gotKey, gotFile)
	}
	want := repository.Prediction{Class: "plate", Confidence: 0.9, X: 10, Y: 5, Width: 20, Height: 10}
	if len(res.Predictions) != 2 || res.Predictions[0] != want {
		t.Errorf("predictions = %+v, want first %+v", res.Predictions, want)
	}
}

func TestInfer_DegradedModes(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer failing.Close()

	garbage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "<html>")
	}))
	defer garbage.Close()

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()

	closed := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	closedURL := closed.URL
	closed.Close()

	tests := []struct {
		name string
		cfg  Config
	}{
		{"non-2xx", Config{BaseURL: failing.URL, APIKey: "k"}},
		{"undecodable", Config{BaseURL: garbage.URL, APIKey: "k"}},
		{"timeout", Config{BaseURL: slow.URL, APIKey: "k", Timeout: 50 * time.Millisecond}},
		{"unreachable", Config{BaseURL: closedURL, APIKey: "secret-key"}},
		{"no api key", Config{BaseURL: "http://127.0.0.1:1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := NewGateway(tt.cfg, nil, nil).Infer(context.Background(), []byte("img"), "a.jpg", plateModel)
			if res.Status != StatusDegraded {
				t.Fatalf("Status = %q, want degraded (%s)", res.Status, res.Reason)
			}
			if res.Predictions == nil || len(res.Predictions) != 0 {
				t.Errorf("Predictions = %#v, want empty non-nil", res.Predictions)
			}
			if res.Reason == "" {
				t.Error("Reason is empty")
			}
			if strings.Contains(res.Reason, "secret-key") {
				t.Errorf("Reason leaks the API key: %s", res.Reason)
			}
		})
	}
}

func TestInfer_EmptyImageFails(t *testing.T) {
	res := NewGateway(Config{BaseURL: "http://127.0.0.1:1", APIKey: "k"}, nil, nil).
		Infer(context.Background(), nil, "a.jpg", plateModel)
	if res.Status != StatusFailed {
		t.Errorf("Status = %q, want failed", res.Status)
	}
}

func TestNormalize_Shapes(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantClass string
		wantLen   int
	}{
		{"classification array", `{"predictions":[{"class":"HMS","confidence":0.2},{"class":"Shredded","confidence":0.7}]}`, "Shredded", 2},
		{"multi-label map", `{"predictions":{"HMS 1":{"confidence":0.3,"class_id":0},"Rebar":{"confidence":0.8,"class_id":1}}}`, "Rebar", 2},
		{"single label top", `{"predictions":null,"top":"Cast Iron","confidence":0.66}`, "Cast Iron", 1},
		{"empty detection", `{"predictions":[]}`, "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize([]byte(tt.body))
			if err != nil {
				t.Fatalf("Normalize() error = %v", err)
			}
			if len(got) != tt.wantLen {
				t.Fatalf("len = %d, want %d", len(got), tt.wantLen)
			}
			if tt.wantLen > 0 && got[0].Class != tt.wantClass {
				t.Errorf("top class = %q, want %q", got[0].Class, tt.wantClass)
			}
		})
	}

	for _, body := range []string{`{}`, `{"predictions":"x"}`, `not json`} {
		if _, err := Normalize([]byte(body)); err == nil {
			t.Errorf("Normalize(%s) should fail", body)
		}
	}
}

func TestNormalize_SortedAndTopMatches(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		confs := rapid.SliceOfN(rapid.Float64Range(0, 1), 1, 10).Draw(t, "confidences")
		items := make([]map[string]any, len(confs))
		for i, c := range confs {
			items[i] = map[string]any{"class": "c", "x": 1, "y": 1, "width": 2, "height": 2, "confidence": c}
		}
		body, _ := json.Marshal(map[string]any{"predictions": items})

		got, err := Normalize(body)
		if err != nil {
			t.Fatalf("Normalize() error = %v", err)
		}
		for i := 1; i < len(got); i++ {
			if got[i].Confidence > got[i-1].Confidence {
				t.Fatalf("not sorted at %d: %v", i, got)
			}
		}
		top, _ := got.Top()
		if got[0].Confidence != top.Confidence {
			t.Fatalf("first %v differs from Top %v", got[0], top)
		}
	})
}

func TestParseModelRef(t *testing.T) {
	m, err := ParseModelRef("my-first-project-iyasr/4")
	if err != nil || m.Project != "my-first-project-iyasr" || m.Version != "4" {
		t.Errorf("ParseModelRef() = %+v, %v", m, err)
	}
	for _, bad := range []string{"", "project", "/4", "a/b/c"} {
		if _, err := ParseModelRef(bad); err == nil {
			t.Errorf("ParseModelRef(%q) should fail", bad)
		}
	}
}
