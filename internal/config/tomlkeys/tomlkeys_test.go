package tomlkeys

import "testing"

func TestTableAndDottedKeysAreEquivalent(t *testing.T) {
	cases := []string{
		`[watch]
debounce-ms = 250
`,
		`watch.debounce-ms = 250
`,
	}
	for _, input := range cases {
		store, err := Decode([]byte(input))
		if err != nil {
			t.Fatalf("decode toml: %v", err)
		}
		value, ok := store.GetInt("watch.debounce-ms")
		if !ok {
			t.Fatalf("expected watch.debounce-ms value")
		}
		if value != 250 {
			t.Fatalf("expected 250, got %d", value)
		}
	}
}

func TestNormalizationHandlesUnderscoresAndCase(t *testing.T) {
	input := `[Build]
TIMEOUT_SECONDS = 30
`
	store, err := Decode([]byte(input))
	if err != nil {
		t.Fatalf("decode toml: %v", err)
	}
	value, ok := store.GetInt("build.timeout-seconds")
	if !ok {
		t.Fatalf("expected normalized key to resolve")
	}
	if value != 30 {
		t.Fatalf("expected 30, got %d", value)
	}
}

func TestTypePreservation(t *testing.T) {
	input := `flag = true
count = 7
name = "hello"
`
	store, err := Decode([]byte(input))
	if err != nil {
		t.Fatalf("decode toml: %v", err)
	}
	flag, ok := store.GetBool("flag")
	if !ok || !flag {
		t.Fatalf("expected flag true")
	}
	count, ok := store.GetInt("count")
	if !ok || count != 7 {
		t.Fatalf("expected count 7, got %d", count)
	}
	name, ok := store.GetString("name")
	if !ok || name != "hello" {
		t.Fatalf("expected name hello, got %q", name)
	}
	if _, ok := store.GetString("count"); ok {
		t.Fatalf("expected count to not be a string")
	}
}

func TestArraysResolveAsStrings(t *testing.T) {
	input := `[load]
symbols = ["Greet", "Settings"]
`
	store, err := Decode([]byte(input))
	if err != nil {
		t.Fatalf("decode toml: %v", err)
	}
	value, ok := store.flat["load.symbols"]
	if !ok {
		t.Fatalf("expected load.symbols key")
	}
	if _, ok := value.([]any); !ok {
		t.Fatalf("expected load.symbols to be []any, got %T", value)
	}
	symbols, ok := store.GetStrings("load.symbols")
	if !ok || len(symbols) != 2 || symbols[0] != "Greet" || symbols[1] != "Settings" {
		t.Fatalf("unexpected symbols %v", symbols)
	}
}

func TestAsStringsSplitsCommaList(t *testing.T) {
	values, ok := AsStrings(" -race, -trimpath ,,")
	if !ok {
		t.Fatalf("expected string list")
	}
	if len(values) != 2 || values[0] != "-race" || values[1] != "-trimpath" {
		t.Fatalf("unexpected values %v", values)
	}
	if _, ok := AsStrings([]any{"a", 1}); ok {
		t.Fatalf("expected mixed array to be rejected")
	}
}

func TestFromRawFlattensNestedAnyMaps(t *testing.T) {
	store := FromRaw(map[string]any{
		"status": map[any]any{"addr": ":7070"},
	})
	addr, ok := store.GetString("status.addr")
	if !ok || addr != ":7070" {
		t.Fatalf("expected status.addr, got %q", addr)
	}
}
