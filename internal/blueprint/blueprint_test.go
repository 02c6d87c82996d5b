package blueprint

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/foremanlabs/foreman/internal/dag"
)

const releaseWorkflow = `
name: release
project: web
nodes:
  - id: build
    title: Build the service
    briefing: Compile and package.
  - id: test
    after: [build]
  - id: review
    type: gate
    gate: any_pass
    after: [test]
  - id: deploy
    role: deployer
    after: [review]
edges:
  - from: build
    to: deploy
`

func TestLoadCompilesWorkflow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "release.yaml")
	if err := os.WriteFile(path, []byte(releaseWorkflow), 0o644); err != nil {
		t.Fatalf("write workflow: %v", err)
	}

	bp, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if bp.Name != "release" || bp.Project != "web" {
		t.Errorf("got name %q project %q", bp.Name, bp.Project)
	}
	if bp.Mode != dag.ApprovalManual {
		t.Errorf("mode = %s, want manual by default", bp.Mode)
	}
	if len(bp.Nodes) != 4 {
		t.Fatalf("nodes = %d, want 4", len(bp.Nodes))
	}

	build := bp.Nodes[0]
	if build.Type != dag.NodeTask || build.Title != "Build the service" || build.Briefing != "Compile and package." {
		t.Errorf("build node = %+v", build)
	}
	if test := bp.Nodes[1]; test.Title != "test" {
		t.Errorf("title should default to the id, got %q", test.Title)
	}
	if review := bp.Nodes[2]; review.Type != dag.NodeGate || review.Gate != dag.GateAnyPass {
		t.Errorf("review node = %+v", review)
	}
	if deploy := bp.Nodes[3]; deploy.Role != "deployer" {
		t.Errorf("deploy role = %q", deploy.Role)
	}

	wantEdges := []dag.Edge{
		{From: "build", To: "test"},
		{From: "test", To: "review"},
		{From: "review", To: "deploy"},
		{From: "build", To: "deploy"},
	}
	if len(bp.Edges) != len(wantEdges) {
		t.Fatalf("edges = %v, want %v", bp.Edges, wantEdges)
	}
	for i, want := range wantEdges {
		if bp.Edges[i] != want {
			t.Errorf("edge[%d] = %v, want %v", i, bp.Edges[i], want)
		}
	}
}

func TestParseRejectsCycle(t *testing.T) {
	_, err := Parse([]byte(`
name: looped
nodes:
  - id: a
    after: [b]
  - id: b
    after: [a]
`))
	if !errors.Is(err, dag.ErrCycle) {
		t.Errorf("Parse error = %v, want ErrCycle", err)
	}
}

func TestBuildRejectsBadDefinitions(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing name",
			yaml:    "nodes:\n  - id: a\n",
			wantErr: "no name",
		},
		{
			name:    "no nodes",
			yaml:    "name: empty\n",
			wantErr: "no nodes",
		},
		{
			name:    "duplicate id",
			yaml:    "name: dup\nnodes:\n  - id: a\n  - id: a\n",
			wantErr: "duplicate node id",
		},
		{
			name:    "unknown type",
			yaml:    "name: t\nnodes:\n  - id: a\n    type: cron\n",
			wantErr: "unknown type",
		},
		{
			name:    "gate condition on task",
			yaml:    "name: t\nnodes:\n  - id: a\n    gate: all_pass\n",
			wantErr: "gate condition",
		},
		{
			name:    "unknown gate condition",
			yaml:    "name: t\nnodes:\n  - id: a\n    type: gate\n    gate: sometimes\n",
			wantErr: "unknown condition",
		},
		{
			name:    "unknown after reference",
			yaml:    "name: t\nnodes:\n  - id: a\n    after: [ghost]\n",
			wantErr: "unknown node",
		},
		{
			name:    "unknown approval mode",
			yaml:    "name: t\napproval_mode: loose\nnodes:\n  - id: a\n",
			wantErr: "approval mode",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected an error for a missing file")
	}
}
