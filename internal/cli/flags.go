package cli

import (
	"time"

	"github.com/spf13/pflag"
)

// SettingsFlags mirrors the config keys a command line may override.
type SettingsFlags struct {
	fs *pflag.FlagSet

	ConfigPath     string
	Debounce       time.Duration
	Include        []string
	IgnoreTests    bool
	GoBinary       string
	BuildArgs      []string
	BuildEnv       []string
	OutputDir      string
	BuildTimeout   time.Duration
	KillSuperseded bool
	Symbols        []string
	NoBlock        bool
	LogLevel       string
	LogFormat      string
	StatusAddr     string
}

func AddSettingsFlags(fs *pflag.FlagSet) *SettingsFlags {
	flags := &SettingsFlags{fs: fs}
	if fs == nil {
		return flags
	}
	fs.StringVarP(&flags.ConfigPath, "config", "c", "", "Config file (.toml, .yaml, .json)")
	fs.DurationVar(&flags.Debounce, "debounce", 0, "Quiet period before a change triggers a build")
	fs.StringSliceVar(&flags.Include, "include", nil, "File patterns that trigger rebuilds")
	fs.BoolVar(&flags.IgnoreTests, "ignore-tests", true, "Ignore _test.go changes")
	fs.StringVar(&flags.GoBinary, "go", "", "Go binary used for builds")
	fs.StringArrayVar(&flags.BuildArgs, "build-arg", nil, "Extra go build argument (repeatable)")
	fs.StringArrayVar(&flags.BuildEnv, "build-env", nil, "Extra build environment KEY=VALUE (repeatable)")
	fs.StringVar(&flags.OutputDir, "output-dir", "", "Directory for built artifacts")
	fs.DurationVar(&flags.BuildTimeout, "build-timeout", 0, "Abort builds running longer than this")
	fs.BoolVar(&flags.KillSuperseded, "kill-superseded", false, "Kill builds whose sources changed again")
	fs.StringSliceVarP(&flags.Symbols, "symbol", "s", nil, "Exported symbol each generation must provide")
	fs.BoolVar(&flags.NoBlock, "no-block", false, "Do not wait for the first build before serving")
	fs.StringVar(&flags.LogLevel, "log-level", "", "Log level: debug|info|warning|error")
	fs.StringVar(&flags.LogFormat, "log-format", "", "Log format: console|json")
	fs.StringVar(&flags.StatusAddr, "status-addr", "", "Serve status, metrics and events on this address")
	return flags
}

// Overrides returns config overrides for the flags set on the command line.
func (f *SettingsFlags) Overrides() map[string]any {
	out := map[string]any{}
	if f == nil || f.fs == nil {
		return out
	}
	changed := func(name string) bool {
		return f.fs.Changed(name)
	}
	if changed("debounce") {
		out["watch.debounce-ms"] = f.Debounce.Milliseconds()
	}
	if changed("include") {
		out["watch.include"] = append([]string(nil), f.Include...)
	}
	if changed("ignore-tests") {
		out["watch.ignore-tests"] = f.IgnoreTests
	}
	if changed("go") {
		out["build.go-binary"] = f.GoBinary
	}
	if changed("build-arg") {
		out["build.args"] = append([]string(nil), f.BuildArgs...)
	}
	if changed("build-env") {
		out["build.env"] = append([]string(nil), f.BuildEnv...)
	}
	if changed("output-dir") {
		out["build.output-dir"] = f.OutputDir
	}
	if changed("build-timeout") {
		out["build.timeout-seconds"] = int64(f.BuildTimeout / time.Second)
	}
	if changed("kill-superseded") {
		out["build.kill-superseded"] = f.KillSuperseded
	}
	if changed("symbol") {
		out["load.symbols"] = append([]string(nil), f.Symbols...)
	}
	if changed("no-block") {
		out["load.block-until-first-build"] = !f.NoBlock
	}
	if changed("log-level") {
		out["log.level"] = f.LogLevel
	}
	if changed("log-format") {
		out["log.format"] = f.LogFormat
	}
	if changed("status-addr") {
		out["status.addr"] = f.StatusAddr
	}
	return out
}
