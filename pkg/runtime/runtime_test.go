package runtime

import (
	"context"
	"crypto/x509"
	"os"
	"path/filepath"
	"testing"

	appconfig "github.com/saker-ai/avatar-stream/internal/config"
	"github.com/saker-ai/avatar-stream/internal/frame"
)

func TestNewHubAppliesExpressionOverrides(t *testing.T) {
	dir := t.TempDir()
	overrides := filepath.Join(dir, "expressions.yaml")
	data := "expressions:\n  happy:\n    ParamMouthForm: 0.9\n  unknown:\n    ParamMouthForm: 1\n"
	if err := os.WriteFile(overrides, []byte(data), 0o644); err != nil {
		t.Fatalf("write overrides: %v", err)
	}

	cfg := appconfig.Config{
		RootDir: dir,
		Stream:  appconfig.StreamConfig{FPS: 30, SampleIntervalMS: 20},
		Expression: appconfig.ExpressionConfig{
			MouthGain:     1,
			OverridesFile: overrides,
		},
	}
	hub, err := NewHub(cfg, nil)
	if err != nil {
		t.Fatalf("NewHub error: %v", err)
	}
	defer hub.Close()

	if _, err := hub.SetExpression("happy"); err != nil {
		t.Fatalf("SetExpression error: %v", err)
	}
	if got := hub.Parameters()[frame.ParamMouthForm]; got != 0.9 {
		t.Fatalf("form=%v, want 0.9 from overrides", got)
	}
}

func TestNewHubMissingOverrides(t *testing.T) {
	cfg := appconfig.Config{Expression: appconfig.ExpressionConfig{OverridesFile: filepath.Join(t.TempDir(), "missing.yaml")}}
	if _, err := NewHub(cfg, nil); err == nil {
		t.Fatal("NewHub error=nil, want missing file error")
	}
}

func TestSelfSignedCertCoversHost(t *testing.T) {
	cert, err := generateSelfSignedCert("avatar.local")
	if err != nil {
		t.Fatalf("generateSelfSignedCert error: %v", err)
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		t.Fatalf("parse cert: %v", err)
	}
	if err := leaf.VerifyHostname("avatar.local"); err != nil {
		t.Fatalf("VerifyHostname(avatar.local): %v", err)
	}
	if err := leaf.VerifyHostname("127.0.0.1"); err != nil {
		t.Fatalf("VerifyHostname(127.0.0.1): %v", err)
	}
}

func TestShutdownNilServer(t *testing.T) {
	var s *Server
	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown error: %v", err)
	}
	if s.Addr() != "" {
		t.Fatalf("Addr=%q, want empty", s.Addr())
	}
}
