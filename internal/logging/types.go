package logging

import "time"

type Level string

const (
	LevelDebug   Level = "debug"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Format selects how entries are rendered to the output writer.
type Format string

const (
	FormatJSON    Format = "json"
	FormatConsole Format = "console"
)

type LogEntry struct {
	Timestamp time.Time         `json:"timestamp"`
	Level     Level             `json:"level"`
	Message   string            `json:"message"`
	Context   map[string]string `json:"context,omitempty"`
}

// Field keys shared by every hotlib component.
const (
	FieldComponent  = "hotlib.component"
	FieldPackage    = "hotlib.package"
	FieldEpoch      = "hotlib.epoch"
	FieldGeneration = "hotlib.generation"
	FieldSession    = "hotlib.session"
)
