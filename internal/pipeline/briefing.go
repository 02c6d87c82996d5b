package pipeline

import (
	"fmt"
	"strings"
)

// BriefingInput carries the raw pieces a briefing is assembled from. Empty
// fields drop their section entirely.
type BriefingInput struct {
	SystemPrompt string // role prompt, optionally followed by the project document
	Branch       string
	Manifest     string
	AllowedFiles []string
	BlockedFiles []string
	Title        string
	Briefing     string
}

// Builder assembles the full instruction text an agent receives for one
// task.
type Builder interface {
	Build(in BriefingInput) string
}

// briefingFooter closes every briefing with the same operating rules so
// agents cannot miss them regardless of what the task text says.
const briefingFooter = `## Working rules

- Commit all work to the assigned branch.
- Touch only files inside the allowed scope.
- Finish with a short report of what you changed and why.`

// SectionBuilder writes briefings as markdown sections in a fixed order:
// system prompt, branch, project manifest, allowed files, blocked files,
// the task itself, and the footer.
type SectionBuilder struct{}

func (SectionBuilder) Build(in BriefingInput) string {
	var b strings.Builder

	if in.SystemPrompt != "" {
		b.WriteString(strings.TrimSpace(in.SystemPrompt))
		b.WriteString("\n\n")
	}
	if in.Branch != "" {
		fmt.Fprintf(&b, "## Branch\n\nWork on branch `%s`.\n\n", in.Branch)
	}
	if in.Manifest != "" {
		b.WriteString("## Project manifest\n\n")
		b.WriteString(strings.TrimSpace(in.Manifest))
		b.WriteString("\n\n")
	}
	writeFileList(&b, "## Allowed files", in.AllowedFiles)
	writeFileList(&b, "## Blocked files", in.BlockedFiles)
	if in.Title != "" {
		fmt.Fprintf(&b, "## Task: %s\n\n", in.Title)
	}
	if in.Briefing != "" {
		b.WriteString(strings.TrimSpace(in.Briefing))
		b.WriteString("\n\n")
	}
	b.WriteString(briefingFooter)
	b.WriteString("\n")

	return b.String()
}

func writeFileList(b *strings.Builder, heading string, files []string) {
	if len(files) == 0 {
		return
	}
	b.WriteString(heading)
	b.WriteString("\n\n")
	for _, f := range files {
		fmt.Fprintf(b, "- %s\n", f)
	}
	b.WriteString("\n")
}
