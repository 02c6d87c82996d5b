package vcs

// MergeStrategy selects how a task branch is merged into the base branch.
type MergeStrategy int

const (
	// MergeOrt uses git's default ort strategy.
	MergeOrt MergeStrategy = iota
	// MergeOurs resolves every conflict in favor of the base branch.
	MergeOurs
	// MergeTheirs resolves every conflict in favor of the task branch.
	MergeTheirs
)

// String returns the git-facing strategy name.
func (s MergeStrategy) String() string {
	switch s {
	case MergeOurs:
		return "ours"
	case MergeTheirs:
		return "theirs"
	default:
		return "ort"
	}
}

// MergeReport is the outcome of one merge attempt. A detected conflict is
// reported here, not as a call error.
type MergeReport struct {
	Merged        bool
	ConflictFiles []string
	Error         error
}

// BranchManagerConfig configures a BranchManager.
type BranchManagerConfig struct {
	RepoPath        string // absolute path to the git repository
	BaseBranch      string // branch merged into, e.g. "main"
	DefaultStrategy MergeStrategy
}
