// Package vcs runs the git operations behind task branches: creating them
// from the base branch, diffing completed work, and merging approved work
// back.
package vcs

import (
	"bufio"
	"fmt"
	"os/exec"
	"strings"
)

// BranchManager runs git against a single repository. Every operation takes
// the keyed lock of the refs it touches; merges lock both refs in sorted
// order because they also move the base working tree.
type BranchManager struct {
	config BranchManagerConfig
	locks  *LockManager
}

// NewBranchManager creates a branch manager. BaseBranch defaults to "main".
func NewBranchManager(cfg BranchManagerConfig) *BranchManager {
	if cfg.BaseBranch == "" {
		cfg.BaseBranch = "main"
	}
	return &BranchManager{
		config: cfg,
		locks:  NewLockManager(),
	}
}

// BaseBranch returns the branch merges target.
func (m *BranchManager) BaseBranch() string {
	return m.config.BaseBranch
}

// git runs one git command in the repository root. The raw output is
// returned even on failure so callers can parse it.
func (m *BranchManager) git(args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = m.config.RepoPath
	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("git %s failed: %w (output: %s)", args[0], err, string(output))
	}
	return string(output), nil
}

// EnsureBranch creates the branch from the base branch if it does not
// already exist.
func (m *BranchManager) EnsureBranch(branch string) error {
	m.locks.Lock(branch)
	defer m.locks.Unlock(branch)

	if m.branchExists(branch) {
		return nil
	}
	if _, err := m.git("branch", branch, m.config.BaseBranch); err != nil {
		return fmt.Errorf("failed to create branch %s: %w", branch, err)
	}
	return nil
}

func (m *BranchManager) branchExists(branch string) bool {
	cmd := exec.Command("git", "rev-parse", "--verify", "--quiet", "refs/heads/"+branch)
	cmd.Dir = m.config.RepoPath
	return cmd.Run() == nil
}

// DiffFiles returns the paths changed on the branch relative to the base
// branch. The three-dot form diffs against the merge base, so commits that
// landed on the base branch in the meantime do not count.
func (m *BranchManager) DiffFiles(branch string) ([]string, error) {
	m.locks.Lock(branch)
	defer m.locks.Unlock(branch)

	output, err := m.git("diff", "--name-only", m.config.BaseBranch+"..."+branch)
	if err != nil {
		return nil, fmt.Errorf("failed to diff branch %s: %w", branch, err)
	}

	var files []string
	for _, line := range strings.Split(output, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

// Merge merges the branch into the base branch. Conflicts are detected with
// a merge-tree dry run before the working tree is touched; a conflicted
// merge is reported in the result, not as a call error.
func (m *BranchManager) Merge(branch string, strategy MergeStrategy) (*MergeReport, error) {
	refs := []string{m.config.BaseBranch, branch}
	m.locks.LockAll(refs)
	defer m.locks.UnlockAll(refs)

	detectOutput, err := m.git("merge-tree", "--write-tree", m.config.BaseBranch, branch)
	if err != nil || strings.Contains(detectOutput, "CONFLICT") {
		return &MergeReport{
			Merged:        false,
			ConflictFiles: parseConflictFiles(detectOutput),
			Error:         fmt.Errorf("merge conflict between %s and %s", m.config.BaseBranch, branch),
		}, nil
	}

	if _, err := m.git("checkout", m.config.BaseBranch); err != nil {
		return &MergeReport{Merged: false, Error: err}, nil
	}

	args := []string{"merge", "--no-ff"}
	switch strategy {
	case MergeOurs:
		args = append(args, "-s", "ours")
	case MergeTheirs:
		args = append(args, "-X", "theirs")
	}
	args = append(args, branch)

	if output, err := m.git(args...); err != nil {
		// Leave the tree clean for the next merge.
		_, _ = m.git("merge", "--abort")
		return &MergeReport{
			Merged:        false,
			ConflictFiles: parseConflictFiles(output),
			Error:         err,
		}, nil
	}

	return &MergeReport{Merged: true}, nil
}

// MergeDefault merges with the configured default strategy.
func (m *BranchManager) MergeDefault(branch string) (*MergeReport, error) {
	return m.Merge(branch, m.config.DefaultStrategy)
}

// DeleteBranch removes a fully merged branch, falling back to a forced
// delete for abandoned work.
func (m *BranchManager) DeleteBranch(branch string) error {
	m.locks.Lock(branch)
	defer m.locks.Unlock(branch)

	if _, err := m.git("branch", "-d", branch); err != nil {
		if _, forceErr := m.git("branch", "-D", branch); forceErr != nil {
			return fmt.Errorf("failed to delete branch %s: %w", branch, forceErr)
		}
	}
	return nil
}

// parseConflictFiles extracts conflicting file paths from merge output.
// merge-tree and merge both print lines like
// "CONFLICT (content): Merge conflict in <file>".
func parseConflictFiles(output string) []string {
	var conflicts []string
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, "CONFLICT") && strings.Contains(line, "in ") {
			parts := strings.Split(line, "in ")
			if len(parts) > 1 {
				conflicts = append(conflicts, strings.TrimSpace(parts[len(parts)-1]))
			}
		}
	}
	return conflicts
}
