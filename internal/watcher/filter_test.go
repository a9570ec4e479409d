package watcher

import "testing"

func TestFilterMatch(t *testing.T) {
	cases := []struct {
		name   string
		filter Filter
		path   string
		want   bool
	}{
		{name: "go source", path: "/src/pkg/main.go", want: true},
		{name: "go.mod", path: "/src/pkg/go.mod", want: true},
		{name: "go.sum", path: "/src/pkg/go.sum", want: true},
		{name: "text", path: "/src/pkg/README.md", want: false},
		{name: "hidden", path: "/src/pkg/.main.go", want: false},
		{name: "vim swap", path: "/src/pkg/main.go.swp", want: false},
		{name: "backup", path: "/src/pkg/main.go~", want: false},
		{name: "emacs lock", path: "/src/pkg/#main.go#", want: false},
		{name: "vim probe", path: "/src/pkg/4913", want: false},
		{name: "test kept", path: "/src/pkg/main_test.go", want: true},
		{name: "test ignored", filter: Filter{IgnoreTests: true}, path: "/src/pkg/main_test.go", want: false},
		{name: "custom include", filter: Filter{Include: []string{"*.tmpl"}}, path: "/src/pkg/page.tmpl", want: true},
		{name: "custom include excludes go", filter: Filter{Include: []string{"*.tmpl"}}, path: "/src/pkg/main.go", want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.filter.Match(tc.path); got != tc.want {
				t.Fatalf("Match(%q) = %v, want %v", tc.path, got, tc.want)
			}
		})
	}
}

func TestSkipDir(t *testing.T) {
	for _, name := range []string{".git", "testdata", "vendor", "_build", "node_modules"} {
		if !skipDir(name) {
			t.Fatalf("expected %q to be skipped", name)
		}
	}
	for _, name := range []string{"internal", "cmd", "pkg"} {
		if skipDir(name) {
			t.Fatalf("expected %q to be walked", name)
		}
	}
}
