package copier

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/marmos91/dittomover/internal/logger"
	"github.com/marmos91/dittomover/pkg/process"
)

var versionPattern = regexp.MustCompile(`rsync\s+version\s+v?(\d+)\.(\d+)(?:\.(\d+))?(\S*)`)

// Version is an rsync version.
type Version struct {
	Major, Minor, Patch int
	// PreRelease holds a suffix such as "pre1"
	PreRelease string
}

var (
	minimumVersion = Version{Major: 2, Minor: 6, Patch: 0}
	appendVersion  = Version{Major: 2, Minor: 6, Patch: 7}
)

// ParseVersion extracts the version from the first line of "rsync --version".
func ParseVersion(line string) (Version, error) {
	m := versionPattern.FindStringSubmatch(line)
	if m == nil {
		return Version{}, fmt.Errorf("no rsync version in '%s'", line)
	}
	v := Version{PreRelease: m[4]}
	v.Major, _ = strconv.Atoi(m[1])
	v.Minor, _ = strconv.Atoi(m[2])
	if m[3] != "" {
		v.Patch, _ = strconv.Atoi(m[3])
	}
	return v, nil
}

// AtLeast reports whether v is o or newer.
func (v Version) AtLeast(o Version) bool {
	if v.Major != o.Major {
		return v.Major > o.Major
	}
	if v.Minor != o.Minor {
		return v.Minor > o.Minor
	}
	return v.Patch >= o.Patch
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d%s", v.Major, v.Minor, v.Patch, v.PreRelease)
}

// exitOutcome classifies an rsync exit value.
type exitOutcome int

const (
	exitOK exitOutcome = iota
	exitRetriable
	exitFatal
)

var exitMessages = map[int]string{
	0:  "Success",
	1:  "Syntax or usage error",
	2:  "Protocol incompatibility",
	3:  "Errors selecting input/output files, dirs",
	4:  "Requested action not supported",
	5:  "Error starting client-server protocol",
	6:  "Daemon unable to append to log-file",
	10: "Error in socket I/O",
	11: "Error in file I/O",
	12: "Error in rsync protocol data stream",
	13: "Errors with program diagnostics",
	14: "Error in IPC code",
	20: "Received SIGUSR1 or SIGINT",
	21: "Some error returned by waitpid()",
	22: "Error allocating core memory buffers",
	23: "Partial transfer due to error",
	24: "Partial transfer due to vanished source files",
	25: "The --max-delete limit stopped deletions",
	30: "Timeout in data send/receive",
	35: "Timeout waiting for daemon connection",
}

func classifyExit(code int) exitOutcome {
	switch code {
	case 0, 24:
		return exitOK
	case 5, 10, 12, 23, 30, 35:
		return exitRetriable
	default:
		return exitFatal
	}
}

// ExitMessage describes an rsync exit value.
func ExitMessage(code int) string {
	if msg, ok := exitMessages[code]; ok {
		return msg
	}
	return fmt.Sprintf("Unknown exit value %d", code)
}

// RsyncConfig configures an RsyncCopier.
type RsyncConfig struct {
	// Executable is the rsync binary (default "rsync")
	Executable string

	// SSHExecutable is passed through --rsh for remote "host:path" destinations
	SSHExecutable string

	// Overwrite transfers whole files instead of appending to partial ones
	Overwrite bool

	// ExtraArgs are appended before source and destination
	ExtraArgs []string

	// Timeout bounds one rsync run (0 for none)
	Timeout time.Duration
}

// RsyncCopier copies with rsync. Destinations of the form "host:path" are
// reached through ssh.
type RsyncCopier struct {
	config RsyncConfig
	runner process.Runner

	mu      sync.Mutex
	version *Version
}

// NewRsyncCopier creates an rsync copier. A nil runner uses
// process.DefaultRunner.
func NewRsyncCopier(config RsyncConfig, runner process.Runner) *RsyncCopier {
	if config.Executable == "" {
		config.Executable = "rsync"
	}
	if runner == nil {
		runner = process.DefaultRunner
	}
	return &RsyncCopier{config: config, runner: runner}
}

// Version runs "rsync --version" once and caches the result.
func (c *RsyncCopier) Version(ctx context.Context) (Version, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.version != nil {
		return *c.version, nil
	}

	res, err := c.runner.Run(ctx, []string{c.config.Executable, "--version"}, process.Options{Timeout: 10 * time.Second})
	if err != nil {
		return Version{}, fmt.Errorf("failed to run %s: %w", c.config.Executable, err)
	}
	if !res.OK() || len(res.Output) == 0 {
		return Version{}, fmt.Errorf("failed to query rsync version: %w", res)
	}
	v, err := ParseVersion(res.Output[0])
	if err != nil {
		return Version{}, err
	}
	c.version = &v
	return v, nil
}

// Check verifies that rsync runs and is at least version 2.6.0.
func (c *RsyncCopier) Check(ctx context.Context) error {
	v, err := c.Version(ctx)
	if err != nil {
		return err
	}
	if !v.AtLeast(minimumVersion) {
		return fmt.Errorf("rsync executable '%s' has version %s, at least %s is required", c.config.Executable, v, minimumVersion)
	}
	if v.PreRelease != "" {
		logger.Warn("rsync executable '%s' is a pre-release version (%s)", c.config.Executable, v)
	}
	mode := "append"
	if c.overwriteMode(v) {
		mode = "overwrite"
	}
	logger.Info("Using rsync executable '%s', version %s, mode: %s", c.config.Executable, v, mode)
	return nil
}

func (c *RsyncCopier) overwriteMode(v Version) bool {
	return c.config.Overwrite || !v.AtLeast(appendVersion)
}

func (c *RsyncCopier) Copy(ctx context.Context, src, dstDir string) error {
	return c.run(ctx, "rsync", src, c.command(ctx, src, dstDir, false))
}

func (c *RsyncCopier) CopyContent(ctx context.Context, srcDir, dstDir string) error {
	return c.run(ctx, "rsync", srcDir, c.command(ctx, srcDir, dstDir, true))
}

// CopyImmutably hard-links the tree through --link-dest.
func (c *RsyncCopier) CopyImmutably(ctx context.Context, src, dstDir, newName string) error {
	if newName == "" {
		newName = filepath.Base(src)
	}
	abs := filepath.ToSlash(src)
	command := []string{
		c.config.Executable,
		"--archive",
		"--link-dest=" + abs,
		abs + "/",
		filepath.ToSlash(filepath.Join(dstDir, newName)),
	}
	return c.run(ctx, "immutable copy", src, command)
}

// command builds the transfer command line. With content, the trailing
// slash makes rsync copy the entries of src rather than src itself.
func (c *RsyncCopier) command(ctx context.Context, src, dstDir string, content bool) []string {
	overwrite := c.config.Overwrite
	if v, err := c.Version(ctx); err == nil {
		overwrite = c.overwriteMode(v)
	}

	command := []string{c.config.Executable, "--archive", "--delete", "--inplace"}
	if overwrite {
		command = append(command, "--whole-file")
	} else {
		command = append(command, "--append")
	}
	if c.config.SSHExecutable != "" && (isRemote(src) || isRemote(dstDir)) {
		command = append(command, "--rsh", c.config.SSHExecutable)
	}
	command = append(command, c.config.ExtraArgs...)

	source := filepath.ToSlash(src)
	if content && !strings.HasSuffix(source, "/") {
		source += "/"
	}
	dest := filepath.ToSlash(dstDir)
	if !strings.HasSuffix(dest, "/") {
		dest += "/"
	}
	return append(command, source, dest)
}

func (c *RsyncCopier) run(ctx context.Context, op, src string, command []string) error {
	res, err := c.runner.Run(ctx, command, process.Options{Timeout: c.config.Timeout, MergeStderr: true})
	if err != nil {
		return wrapStatus(op, src, false, err)
	}

	switch res.Status {
	case process.StatusInterrupted:
		return ctx.Err()
	case process.StatusTimedOut:
		return NewStatus(op, src, true, "rsync timed out after %s", res.Duration)
	case process.StatusException:
		return wrapStatus(op, src, false, res)
	}

	switch classifyExit(res.ExitValue) {
	case exitOK:
		if res.ExitValue != 0 {
			logger.Warn("[P%d] rsync of '%s': %s", res.Number, src, ExitMessage(res.ExitValue))
		}
		return nil
	case exitRetriable:
		return NewStatus(op, src, true, "%s", ExitMessage(res.ExitValue))
	default:
		for _, line := range res.Output {
			logger.Warn("[P%d] rsync: %s", res.Number, line)
		}
		return NewStatus(op, src, false, "%s", ExitMessage(res.ExitValue))
	}
}

// isRemote reports "host:path" notation. A drive letter is not a host.
func isRemote(path string) bool {
	i := strings.Index(path, ":")
	return i > 1 && !strings.Contains(path[:i], "/")
}
