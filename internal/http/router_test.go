package http

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	appconfig "github.com/saker-ai/avatar-stream/internal/config"
	"github.com/saker-ai/avatar-stream/internal/stream"
	"github.com/saker-ai/avatar-stream/pkg/audio"
)

func newTestRouter(t *testing.T) (*gin.Engine, *stream.Hub) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	root := t.TempDir()
	cfg := appconfig.Config{
		RootDir:   root,
		ModelsDir: filepath.Join(root, "models"),
		AudioDir:  filepath.Join(root, "audio"),
	}
	if err := os.MkdirAll(filepath.Join(cfg.ModelsDir, "mao"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	model := `{"FileReferences":{"Motions":{"Idle":[{}],"TapBody":[{},{}]},"Expressions":[{"Name":"smile"}]}}`
	if err := os.WriteFile(filepath.Join(cfg.ModelsDir, "mao", "mao.model3.json"), []byte(model), 0o644); err != nil {
		t.Fatalf("write model: %v", err)
	}
	if err := os.MkdirAll(cfg.AudioDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	samples := make([]int16, 16000/5)
	for i := range samples {
		samples[i] = int16(6000 * math.Sin(float64(i)/8))
	}
	wav := audio.EncodeWAV(audio.PCM{Samples: samples, SampleRate: 16000, Channels: 1})
	if err := os.WriteFile(filepath.Join(cfg.AudioDir, "line.wav"), wav, 0o644); err != nil {
		t.Fatalf("write wav: %v", err)
	}

	hub := stream.NewHub(nil, stream.Options{ResolveAudio: cfg.ResolveAudioPath, PlaybackSpeed: 20})
	t.Cleanup(hub.Close)
	return NewRouter(cfg, hub, nil), hub
}

func do(t *testing.T, router *gin.Engine, method, target, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("%s %s: decode %q: %v", method, target, rec.Body.String(), err)
	}
	return rec.Code, out
}

func TestHealth(t *testing.T) {
	router, _ := newTestRouter(t)
	code, body := do(t, router, http.MethodGet, "/health", "")
	if code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("health=%d %v, want 200 ok", code, body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)
	do(t, router, http.MethodGet, "/health", "")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status=%d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "avatar_stream_http_requests_total") {
		t.Fatal("metrics output missing http request counter")
	}
}

func TestListModels(t *testing.T) {
	router, _ := newTestRouter(t)
	code, body := do(t, router, http.MethodGet, "/api/live2d/models", "")
	if code != http.StatusOK {
		t.Fatalf("status=%d, want 200", code)
	}
	models, _ := body["models"].([]any)
	if len(models) != 1 {
		t.Fatalf("models=%v, want one", body["models"])
	}
	model := models[0].(map[string]any)
	if model["name"] != "mao" || model["path"] != "mao/mao.model3.json" {
		t.Fatalf("model=%v, want mao at mao/mao.model3.json", model)
	}
}

func TestEmotionEndpoint(t *testing.T) {
	router, hub := newTestRouter(t)
	code, body := do(t, router, http.MethodPost, "/api/live2d/emotion?text=%5Bsad%5D%20%E3%81%86%E3%81%86", "")
	if code != http.StatusOK {
		t.Fatalf("status=%d, want 200", code)
	}
	if body["expression"] != "sad" || body["intensity"] != 1.0 || body["raw_text"] != "うう" {
		t.Fatalf("body=%v, want sad at 1 with raw text", body)
	}
	params := body["parameters"].(map[string]any)
	if params["ParamBrowLY"] != -0.3 {
		t.Fatalf("brow=%v, want -0.3", params["ParamBrowLY"])
	}
	if got := hub.Status().Expression; got != "neutral" {
		t.Fatalf("hub expression=%q after preview, want neutral", got)
	}
}

func TestSpeakEndpoint(t *testing.T) {
	router, hub := newTestRouter(t)
	code, body := do(t, router, http.MethodPost, "/api/live2d/speak", `{"text":"[excited] いくぞ！","audio_path":"line.wav"}`)
	if code != http.StatusOK {
		t.Fatalf("status=%d body=%v, want 200", code, body)
	}
	if body["status"] != "streaming" || body["expression"] != "excited" {
		t.Fatalf("body=%v, want streaming excited", body)
	}
	if body["frame_count"] != 6.0 || body["duration_ms"] != 200.0 {
		t.Fatalf("frames=%v duration=%v, want 6 and 200", body["frame_count"], body["duration_ms"])
	}
	hub.Stop()

	code, body = do(t, router, http.MethodPost, "/api/live2d/speak", `{"text":"hi","audio_path":"nope.wav"}`)
	if code != http.StatusNotFound {
		t.Fatalf("missing file status=%d body=%v, want 404", code, body)
	}
	code, _ = do(t, router, http.MethodPost, "/api/live2d/speak", `{"text":"hi","audio_path":"../etc/passwd"}`)
	if code != http.StatusBadRequest {
		t.Fatalf("escaping path status=%d, want 400", code)
	}
}

func TestAnalyzeEndpointFallsBackToNeutral(t *testing.T) {
	router, hub := newTestRouter(t)
	code, body := do(t, router, http.MethodPost, "/api/live2d/analyze?audio_path=line.wav&expression=bogus", "")
	if code != http.StatusOK || body["expression"] != "neutral" {
		t.Fatalf("analyze=%d %v, want 200 neutral", code, body)
	}
	hub.Stop()
	code, body = do(t, router, http.MethodPost, "/api/live2d/stop", "")
	if code != http.StatusOK || body["status"] != "stopped" {
		t.Fatalf("stop=%d %v, want 200 stopped", code, body)
	}
}

func TestExpressionParamAndConfigEndpoints(t *testing.T) {
	router, hub := newTestRouter(t)
	if code, _ := do(t, router, http.MethodPost, "/api/live2d/expression", `{"expression":"sleepy"}`); code != http.StatusBadRequest {
		t.Fatalf("unknown expression status=%d, want 400", code)
	}
	if code, body := do(t, router, http.MethodPost, "/api/live2d/param", `{"name":"ParamAngleX","value":90}`); code != http.StatusOK || body["value"] != 30.0 {
		t.Fatalf("param=%d %v, want clamped 30", code, body)
	}
	if got := hub.Parameters()["ParamAngleX"]; got != 30 {
		t.Fatalf("snapshot angle=%v, want 30", got)
	}
	code, body := do(t, router, http.MethodPatch, "/api/live2d/config", `{"fps":24,"expressions":{"nope":{}}}`)
	if code != http.StatusOK || body["fps"] != 24.0 {
		t.Fatalf("config=%d %v, want fps 24", code, body)
	}
	if skipped := body["skipped"].([]any); len(skipped) != 1 || skipped[0] != "nope" {
		t.Fatalf("skipped=%v, want [nope]", skipped)
	}
}
