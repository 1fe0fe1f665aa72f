package sink

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/nemanja-m/logmr/pkg/core"
)

const (
	TemporaryDir  = "_temporary"
	SuccessMarker = "_SUCCESS"
	PartPrefix    = "part-r-"

	committedDir = "committed"
)

// ErrAttemptCleanup is returned by CommitTask when the part was committed but
// the attempt's staging directory could not be removed.
var ErrAttemptCleanup = errors.New("attempt cleanup failed")

var removeAll = os.RemoveAll

// PartName returns the output file name of a reduce group.
func PartName(group int) string {
	return fmt.Sprintf("%s%05d", PartPrefix, group)
}

// Committer publishes reduce output in two phases. Attempts write under
// <out>/_temporary, committed tasks are moved to <out>/_temporary/committed,
// and the job commit moves every committed part into <out> and writes the
// _SUCCESS marker. Readers of <out> never see output of uncommitted attempts.
type Committer struct {
	output string
}

func NewCommitter(output string) *Committer {
	return &Committer{output: output}
}

func (c *Committer) Output() string {
	return c.output
}

func (c *Committer) temporary() string {
	return filepath.Join(c.output, TemporaryDir)
}

func (c *Committer) committed() string {
	return filepath.Join(c.temporary(), committedDir)
}

// SetupJob creates the output and staging directories.
func (c *Committer) SetupJob() error {
	if err := os.MkdirAll(c.committed(), 0o755); err != nil {
		return fmt.Errorf("%w: setup %s: %w", core.ErrSinkCommit, c.output, err)
	}
	return nil
}

// AttemptPath is where a reduce attempt writes the part file of its group.
func (c *Committer) AttemptPath(group, attempt int) string {
	return filepath.Join(
		c.temporary(),
		fmt.Sprintf("%05d", group),
		fmt.Sprintf("attempt-%d", attempt),
		PartName(group),
	)
}

// CommitTask promotes the part file of a finished attempt. Only one attempt
// per group may be committed.
func (c *Committer) CommitTask(group, attempt int) error {
	src := c.AttemptPath(group, attempt)
	dst := filepath.Join(c.committed(), PartName(group))

	if _, err := os.Stat(dst); err == nil {
		return fmt.Errorf("%w: group %d is already committed", core.ErrSinkCommit, group)
	}
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("%w: commit group %d attempt %d: %w", core.ErrSinkCommit, group, attempt, err)
	}
	if err := removeAll(filepath.Dir(filepath.Dir(src))); err != nil {
		return fmt.Errorf("%w: group %d: %w", ErrAttemptCleanup, group, err)
	}
	return nil
}

// AbortTask removes whatever a failed attempt left behind.
func (c *Committer) AbortTask(group, attempt int) error {
	return os.RemoveAll(filepath.Dir(c.AttemptPath(group, attempt)))
}

// CommitJob moves committed parts into the output directory, removes the
// staging area and writes the success marker.
func (c *Committer) CommitJob() error {
	entries, err := os.ReadDir(c.committed())
	if err != nil {
		return fmt.Errorf("%w: list committed parts: %w", core.ErrSinkCommit, err)
	}
	for _, entry := range entries {
		src := filepath.Join(c.committed(), entry.Name())
		dst := filepath.Join(c.output, entry.Name())
		if err := os.Rename(src, dst); err != nil {
			return fmt.Errorf("%w: move %s: %w", core.ErrSinkCommit, entry.Name(), err)
		}
	}
	if err := os.RemoveAll(c.temporary()); err != nil {
		return fmt.Errorf("%w: remove %s: %w", core.ErrSinkCommit, TemporaryDir, err)
	}

	marker, err := os.Create(filepath.Join(c.output, SuccessMarker))
	if err != nil {
		return fmt.Errorf("%w: write %s: %w", core.ErrSinkCommit, SuccessMarker, err)
	}
	return marker.Close()
}

// AbortJob removes the staging area. Parts already moved by a partially
// failed CommitJob are left in place, but no _SUCCESS marker is written.
func (c *Committer) AbortJob() error {
	err := os.RemoveAll(c.temporary())
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
