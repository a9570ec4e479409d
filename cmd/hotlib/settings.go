package main

import (
	"io"

	"hotlib"
	"hotlib/internal/config"
	"hotlib/internal/logging"
)

func newLogger(settings config.Settings, output io.Writer) *logging.Logger {
	return logging.NewLoggerWithFormat(nil, settings.Log.Level, output, settings.Log.Format)
}

func packageConfig(settings config.Settings, logger *logging.Logger) hotlib.Config {
	expected := make([]hotlib.Expect, 0, len(settings.Load.Symbols))
	for _, name := range settings.Load.Symbols {
		expected = append(expected, hotlib.ExpectAny(name))
	}
	return hotlib.Config{
		DebouncePeriod:       settings.Watch.Debounce(),
		ExpectedSymbols:      expected,
		BlockUntilFirstBuild: settings.Load.BlockUntilFirstBuild,
		GoBinary:             settings.Build.GoBinary,
		BuildArgs:            settings.Build.Args,
		BuildEnv:             settings.Build.Env,
		BuildTimeout:         settings.Build.Timeout(),
		OutputDir:            settings.Build.OutputDir,
		KillSuperseded:       settings.Build.KillSuperseded,
		Include:              settings.Watch.Include,
		IgnoreTests:          settings.Watch.IgnoreTests,
		Logger:               logger,
	}
}

func engineOptions(base hotlib.EngineOptions, settings config.Settings, logger *logging.Logger) hotlib.EngineOptions {
	options := base
	if options.Logger == nil {
		options.Logger = logger
	}
	if options.MaxWatches == 0 {
		options.MaxWatches = int(settings.Watch.MaxWatches)
	}
	return options
}
