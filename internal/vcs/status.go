package vcs

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/dshills/dirtyscope/internal/dirty"
	"github.com/dshills/dirtyscope/internal/logging"
)

// StatusCode represents the status of a file in the working tree.
type StatusCode int

const (
	// StatusUnmodified indicates the file is unchanged.
	StatusUnmodified StatusCode = iota
	// StatusModified indicates the file has been modified.
	StatusModified
	// StatusAdded indicates the file is newly added.
	StatusAdded
	// StatusDeleted indicates the file has been deleted.
	StatusDeleted
	// StatusRenamed indicates the file has been renamed.
	StatusRenamed
	// StatusCopied indicates the file has been copied.
	StatusCopied
	// StatusUntracked indicates the file is not tracked.
	StatusUntracked
	// StatusConflict indicates a merge conflict.
	StatusConflict
)

// String returns the string representation of a StatusCode.
func (s StatusCode) String() string {
	switch s {
	case StatusUnmodified:
		return "unmodified"
	case StatusModified:
		return "modified"
	case StatusAdded:
		return "added"
	case StatusDeleted:
		return "deleted"
	case StatusRenamed:
		return "renamed"
	case StatusCopied:
		return "copied"
	case StatusUntracked:
		return "untracked"
	case StatusConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// FileStatus is the recomputed status of one path.
type FileStatus struct {
	// Path is relative to the repository root, slash-separated.
	Path string

	// OldPath is the original path for renames and copies.
	OldPath string

	Status StatusCode

	// Staged is true when the change is in the index.
	Staged bool
}

// Status runs git status for root, restricted to paths. An empty paths
// slice means the whole working tree.
func Status(ctx context.Context, root dirty.Path, paths []dirty.Path) ([]FileStatus, error) {
	args := []string{"status", "--porcelain=v2", "--untracked-files=all"}
	if len(paths) > 0 {
		args = append(args, "--")
		for _, p := range paths {
			rel, ok := root.Rel(p)
			if !ok {
				continue
			}
			args = append(args, rel)
		}
	}

	out, err := runGit(ctx, root, args...)
	if err != nil {
		return nil, err
	}
	return parsePorcelainV2(out)
}

// runGit executes git in dir and returns its standard output.
func runGit(ctx context.Context, dir dirty.Path, args ...string) (string, error) {
	// Read-only queries must not take index.lock: the session watches .git
	// and would see every refresh as a new change.
	cmd := exec.CommandContext(ctx, "git", append([]string{"--no-optional-locks"}, args...)...)
	cmd.Dir = dir.OS()
	cmd.Env = append(os.Environ(), "GIT_OPTIONAL_LOCKS=0")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", &CommandError{
			Root:   dir.String(),
			Args:   args,
			Stderr: strings.TrimSpace(stderr.String()),
			Err:    err,
		}
	}
	return stdout.String(), nil
}

// parsePorcelainV2 parses `git status --porcelain=v2` output.
func parsePorcelainV2(output string) ([]FileStatus, error) {
	var result []FileStatus

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		switch line[0] {
		case '1':
			if fs, ok := parseOrdinaryEntry(line); ok {
				result = append(result, fs)
			}
		case '2':
			if fs, ok := parseRenamedEntry(line); ok {
				result = append(result, fs)
			}
		case 'u':
			if path, ok := fieldTail(line, 10); ok {
				result = append(result, FileStatus{Path: path, Status: StatusConflict})
			}
		case '?':
			if len(line) > 2 {
				result = append(result, FileStatus{Path: line[2:], Status: StatusUntracked})
			}
		}
	}
	return result, scanner.Err()
}

// fieldTail returns everything after the first n space-separated fields,
// keeping spaces inside the remainder.
func fieldTail(line string, n int) (string, bool) {
	rest := line
	for i := 0; i < n; i++ {
		idx := strings.IndexByte(rest, ' ')
		if idx < 0 {
			return "", false
		}
		rest = rest[idx+1:]
	}
	if rest == "" {
		return "", false
	}
	return rest, true
}

// parseOrdinaryEntry parses a porcelain v2 ordinary entry.
// Format: 1 <XY> <sub> <mH> <mI> <mW> <hH> <hI> <path>
func parseOrdinaryEntry(line string) (FileStatus, bool) {
	fields := strings.Fields(line)
	if len(fields) < 9 {
		return FileStatus{}, false
	}
	path, ok := fieldTail(line, 8)
	if !ok {
		return FileStatus{}, false
	}

	xy := fields[1]
	if xy[0] != '.' {
		return FileStatus{Path: path, Status: charToStatus(xy[0]), Staged: true}, true
	}
	return FileStatus{Path: path, Status: charToStatus(xy[1])}, true
}

// parseRenamedEntry parses a porcelain v2 renamed/copied entry.
// Format: 2 <XY> <sub> <mH> <mI> <mW> <hH> <hI> <X><score> <path><tab><origPath>
func parseRenamedEntry(line string) (FileStatus, bool) {
	tabIdx := strings.LastIndex(line, "\t")
	if tabIdx == -1 {
		return FileStatus{}, false
	}

	head := line[:tabIdx]
	fields := strings.Fields(head)
	if len(fields) < 10 {
		return FileStatus{}, false
	}
	newPath, ok := fieldTail(head, 9)
	if !ok {
		return FileStatus{}, false
	}

	status := StatusRenamed
	if fields[8][0] == 'C' {
		status = StatusCopied
	}

	xy := fields[1]
	return FileStatus{
		Path:    newPath,
		OldPath: line[tabIdx+1:],
		Status:  status,
		Staged:  xy[0] != '.' || xy[1] == '.',
	}, true
}

// charToStatus converts a porcelain status character to StatusCode.
func charToStatus(c byte) StatusCode {
	switch c {
	case 'M', 'T':
		return StatusModified
	case 'A':
		return StatusAdded
	case 'D':
		return StatusDeleted
	case 'R':
		return StatusRenamed
	case 'C':
		return StatusCopied
	case 'U':
		return StatusConflict
	default:
		return StatusUnmodified
	}
}

// StatusHandler recomputes git status for each dirty scope it is handed.
// Scopes of other kinds are skipped.
type StatusHandler struct {
	logger *slog.Logger

	// OnStatus, if set, receives the recomputed status of every scope.
	OnStatus func(scope dirty.Scope, files []FileStatus)
}

// NewStatusHandler creates a StatusHandler. A nil logger discards output.
func NewStatusHandler(logger *slog.Logger) *StatusHandler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &StatusHandler{logger: logger}
}

// HandleScope runs git status for the paths of scope.
func (h *StatusHandler) HandleScope(ctx context.Context, scope dirty.Scope) error {
	if scope.Owner.Kind != KindGit {
		h.logger.Debug("skipping non-git scope", slog.String("owner", scope.Owner.String()))
		return nil
	}

	var paths []dirty.Path
	if !scope.Everything {
		paths = scope.Paths()
	}

	files, err := Status(ctx, scope.Owner.Root, paths)
	if err != nil {
		return fmt.Errorf("status %s: %w", scope.Owner.Root, err)
	}

	h.logger.Info("scope refreshed",
		slog.String("owner", scope.Owner.String()),
		slog.Bool("everything", scope.Everything),
		slog.Int("paths", len(paths)),
		slog.Int("changed", len(files)))

	if h.OnStatus != nil {
		h.OnStatus(scope, files)
	}
	return nil
}
