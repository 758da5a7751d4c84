package worker

import (
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// effectiveWorkDir maps the task's working directory into its worktree. An
// absolute directory is re-rooted by its position relative to the repository
// root; a relative one joins the worktree directly; no directory means the
// worktree root. Paths that escape the repository fall back to the worktree
// root.
func effectiveWorkDir(worktreePath, workingDir, repoRoot string, log zerolog.Logger) string {
	if workingDir == "" {
		return worktreePath
	}

	if !filepath.IsAbs(workingDir) {
		return filepath.Join(worktreePath, workingDir)
	}

	rel, err := filepath.Rel(repoRoot, workingDir)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		log.Warn().Str("working_directory", workingDir).Str("repo_root", repoRoot).
			Msg("working directory is outside the repository, using worktree root")
		return worktreePath
	}
	if rel == "." {
		return worktreePath
	}
	return filepath.Join(worktreePath, rel)
}
