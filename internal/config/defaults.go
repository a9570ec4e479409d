package config

import _ "embed"

//go:embed defaults.toml
var defaultsPayload []byte

// Defaults returns the embedded defaults.toml payload.
func Defaults() []byte {
	return append([]byte(nil), defaultsPayload...)
}
