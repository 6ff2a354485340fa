package cmd

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loqui-im/loqui/logic/internal/config"
	"github.com/loqui-im/loqui/pkg/cli"
)

func TestRunInit_WritesLoadableConfig(t *testing.T) {
	// Answers: addr, driver choice, dsn, auth mode choice, secret, log level.
	input := strings.Join([]string{
		":9090",
		"1",
		"",
		"1",
		"test-secret-key-needs-32-characters!",
		"debug",
	}, "\n") + "\n"

	p := &cli.Prompter{In: strings.NewReader(input), Out: &bytes.Buffer{}}
	path := filepath.Join(t.TempDir(), "logic-config.json")

	if err := runInit(p, path); err != nil {
		t.Fatalf("runInit: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("generated config does not load: %v", err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Errorf("wrong addr: %s", cfg.Server.Addr)
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Errorf("wrong driver: %s", cfg.Storage.Driver)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("wrong log level: %s", cfg.Logging.Level)
	}
}
