package cli

import (
	"io"
	"testing"

	"github.com/spf13/pflag"
)

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func TestOverridesOnlyIncludeChangedFlags(t *testing.T) {
	fs := newFlagSet()
	flags := AddSettingsFlags(fs)

	if err := fs.Parse([]string{"--debounce", "250ms", "-s", "Greet", "-s", "Settings", "--build-arg", "-race", "--no-block"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	overrides := flags.Overrides()
	if len(overrides) != 4 {
		t.Fatalf("expected 4 overrides, got %v", overrides)
	}
	if overrides["watch.debounce-ms"] != int64(250) {
		t.Fatalf("unexpected debounce override %v", overrides["watch.debounce-ms"])
	}
	symbols, ok := overrides["load.symbols"].([]string)
	if !ok || len(symbols) != 2 || symbols[1] != "Settings" {
		t.Fatalf("unexpected symbols override %v", overrides["load.symbols"])
	}
	if overrides["load.block-until-first-build"] != false {
		t.Fatalf("expected block override false")
	}
	if _, ok := overrides["status.addr"]; ok {
		t.Fatalf("expected unset status addr to be omitted")
	}
}

func TestConfigPathFlag(t *testing.T) {
	fs := newFlagSet()
	flags := AddSettingsFlags(fs)

	if err := fs.Parse([]string{"-c", "hotlib.yaml"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if flags.ConfigPath != "hotlib.yaml" {
		t.Fatalf("expected config path, got %q", flags.ConfigPath)
	}
	if len(flags.Overrides()) != 0 {
		t.Fatalf("expected no overrides")
	}
}
