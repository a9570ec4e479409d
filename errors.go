package hotlib

import (
	"errors"

	"hotlib/internal/build"
	"hotlib/internal/generation"
	"hotlib/internal/loader"
	"hotlib/internal/reload"
)

var (
	ErrClosed            = reload.ErrClosed
	ErrNoGeneration      = errors.New("no generation loaded")
	ErrReleased          = errors.New("reference released")
	ErrSymbolNotFound    = loader.ErrSymbolNotFound
	ErrSymbolType        = generation.ErrSymbolType
	ErrResourceExhausted = reload.ErrResourceExhausted
	ErrInvalidPackage    = reload.ErrInvalidPackage
	ErrAlreadyWatched    = errors.New("package already watched")
	ErrEpochExpired      = reload.ErrEpochExpired
)

type (
	BuildError = build.BuildError
	LoadError  = generation.LoadError
	WatchError = reload.WatchError
)
