package scope

import (
	"reflect"
	"testing"
)

func TestMatcherAllows(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		blocked []string
		path    string
		want    bool
	}{
		{"empty lists allow everything", nil, nil, "any/file.go", true},
		{"allowed match", []string{"src/**"}, nil, "src/api/handler.go", true},
		{"allowed miss", []string{"src/**"}, nil, "docs/readme.md", false},
		{"doublestar matches nested", []string{"internal/**/*.go"}, nil, "internal/a/b/c.go", true},
		{"single star stays shallow", []string{"src/*.go"}, nil, "src/a/b.go", false},
		{"blocked wins over allowed", []string{"**"}, []string{"secrets/**"}, "secrets/key.pem", false},
		{"blocked only", nil, []string{"*.env"}, "prod.env", false},
		{"blocked miss falls through", nil, []string{"*.env"}, "main.go", true},
		{"exact file pattern", []string{"go.mod"}, nil, "go.mod", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(tt.allowed, tt.blocked)
			if got := m.Allows(tt.path); got != tt.want {
				t.Errorf("Allows(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestMatcherViolations(t *testing.T) {
	m := New([]string{"src/**"}, []string{"src/vendor/**"})
	paths := []string{
		"src/main.go",
		"src/vendor/lib.go",
		"README.md",
		"src/api/routes.go",
	}
	got := m.Violations(paths)
	want := []string{"src/vendor/lib.go", "README.md"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Violations() = %v, want %v", got, want)
	}

	if v := m.Violations([]string{"src/ok.go"}); v != nil {
		t.Errorf("expected no violations, got %v", v)
	}
}
