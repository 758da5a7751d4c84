package git

import "strings"

const maxBranchLength = 100

// SanitizeBranchName makes a user-supplied branch name safe for git refs:
// any character outside [A-Za-z0-9_/-] becomes '-', leading and trailing '-'
// are trimmed, and the result is truncated to 100 characters.
func SanitizeBranchName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z',
			r >= 'A' && r <= 'Z',
			r >= '0' && r <= '9',
			r == '_', r == '/', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}

	sanitized := strings.Trim(b.String(), "-")
	if len(sanitized) > maxBranchLength {
		sanitized = strings.Trim(sanitized[:maxBranchLength], "-")
	}
	return sanitized
}

// BranchForTask derives the worktree branch name for a task, honoring an
// explicit branch when the request carries one.
func BranchForTask(taskID, explicit string) string {
	if explicit != "" {
		return SanitizeBranchName(explicit)
	}
	return SanitizeBranchName("taskd/" + taskID)
}
