package cmd

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loqui-im/loqui/edge/internal/config"
	"github.com/loqui-im/loqui/pkg/cli"
)

func TestRunInit_WritesLoadableConfig(t *testing.T) {
	// Answers: name, addr, link targets, api url, service token, auth mode
	// choice, log level.
	input := strings.Join([]string{
		"edge-test",
		"",
		"ws://logic-a:8080/ws/link,ws://logic-b:8080/ws/link",
		"http://logic-a:8080",
		"svc-token",
		"3",
		"",
	}, "\n") + "\n"

	p := &cli.Prompter{In: strings.NewReader(input), Out: &bytes.Buffer{}}
	path := filepath.Join(t.TempDir(), "edge-config.json")

	if err := runInit(p, path); err != nil {
		t.Fatalf("runInit: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("generated config does not load: %v", err)
	}
	if cfg.Edge.Name != "edge-test" {
		t.Errorf("wrong name: %s", cfg.Edge.Name)
	}
	if cfg.Edge.Addr != ":7070" {
		t.Errorf("expected default addr applied on load, got %s", cfg.Edge.Addr)
	}
	if cfg.Auth.Mode != "none" {
		t.Errorf("wrong auth mode: %s", cfg.Auth.Mode)
	}
}
