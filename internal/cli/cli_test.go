package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"skyalign/internal/config"
	"skyalign/internal/logging"
)

func testRootCmd(cfg *config.Config) (*cobra.Command, *bytes.Buffer) {
	if cfg == nil {
		cfg = config.Default()
	}
	cmd := NewRootCmd(cfg, logging.New("error", "text"), nil)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	return cmd, &out
}

func TestGoRequiresOutputFlag(t *testing.T) {
	cmd, _ := testRootCmd(nil)
	cmd.SetArgs([]string{"go", "field.png", "field.fits"})
	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "output") {
		t.Fatalf("expected missing-output error, got %v", err)
	}
}

func TestGoRequiresFITSArgs(t *testing.T) {
	cmd, _ := testRootCmd(nil)
	cmd.SetArgs([]string{"go", "field.png", "-o", "out.png"})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected arg-count error with no FITS references")
	}
}

func TestConfigValidateDefaults(t *testing.T) {
	cmd, _ := testRootCmd(nil)
	cmd.SetArgs([]string{"config", "validate"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestConfigValidateRejectsBadExtraction(t *testing.T) {
	cfg := config.Default()
	cfg.Extraction.MinSources = 2
	cmd, _ := testRootCmd(cfg)
	cmd.SetArgs([]string{"config", "validate"})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected rejection of min sources below quad size")
	}
}

func TestVersion(t *testing.T) {
	cmd, out := testRootCmd(nil)
	cmd.SetArgs([]string{"version"})
	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "skyalign") {
		t.Fatalf("version output: %q", out.String())
	}
}
