//go:build !windows

package process

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
}

func sh(script string) []string {
	return []string{"/bin/sh", "-c", script}
}

func TestRun_CapturesOutput(t *testing.T) {
	requireShell(t)

	res, err := Run(context.Background(), sh("echo one; echo two; echo oops >&2; exit 3"), Options{})
	require.NoError(t, err)

	assert.Equal(t, StatusComplete, res.Status)
	assert.Equal(t, 3, res.ExitValue)
	assert.False(t, res.OK())
	assert.Equal(t, []string{"one", "two"}, res.Output)
	assert.Equal(t, []string{"oops"}, res.ErrorOutput)
	assert.Contains(t, res.Error(), "exited with 3")
}

func TestRun_MergeStderr(t *testing.T) {
	requireShell(t)

	res, err := Run(context.Background(), sh("echo out; echo err >&2"), Options{MergeStderr: true})
	require.NoError(t, err)

	assert.True(t, res.OK())
	assert.ElementsMatch(t, []string{"out", "err"}, res.Output)
	assert.Empty(t, res.ErrorOutput)
}

func TestRun_Discard(t *testing.T) {
	requireShell(t)

	res, err := Run(context.Background(), sh("echo out; echo err >&2"), Options{DiscardStdout: true, DiscardStderr: true})
	require.NoError(t, err)
	assert.Empty(t, res.Output)
	assert.Empty(t, res.ErrorOutput)
}

func TestRun_BinaryOutput(t *testing.T) {
	requireShell(t)

	res, err := Run(context.Background(), sh("printf 'a\\000b'"), Options{BinaryOutput: true})
	require.NoError(t, err)
	assert.Equal(t, []byte{'a', 0, 'b'}, res.Binary)
	assert.Nil(t, res.Output)
}

func TestRun_Environment(t *testing.T) {
	requireShell(t)

	t.Setenv("DITTOMOVER_INHERITED", "yes")

	res, err := Run(context.Background(), sh("echo $DITTOMOVER_EXTRA-$DITTOMOVER_INHERITED"),
		Options{Env: map[string]string{"DITTOMOVER_EXTRA": "x"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"x-yes"}, res.Output)

	res, err = Run(context.Background(), sh("echo $DITTOMOVER_EXTRA-$DITTOMOVER_INHERITED"),
		Options{Env: map[string]string{"DITTOMOVER_EXTRA": "x"}, ReplaceEnvironment: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"x-"}, res.Output)
}

func TestRun_Stdin(t *testing.T) {
	requireShell(t)

	res, err := Run(context.Background(), []string{"/bin/cat"}, Options{Stdin: []byte("piped\n")})
	require.NoError(t, err)
	assert.Equal(t, []string{"piped"}, res.Output)
}

func TestRun_Timeout(t *testing.T) {
	requireShell(t)

	start := time.Now()
	res, err := Run(context.Background(), sh("sleep 10"), Options{Timeout: 200 * time.Millisecond})
	require.NoError(t, err)

	assert.Equal(t, StatusTimedOut, res.Status)
	assert.True(t, res.TimedOut())
	assert.Equal(t, NoExitValue, res.ExitValue)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRun_ContextCancel(t *testing.T) {
	requireShell(t)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	res, err := Run(ctx, sh("sleep 10"), Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusInterrupted, res.Status)
	assert.Error(t, res.AsError())
}

func TestRun_StartFailure(t *testing.T) {
	res, err := Run(context.Background(), []string{"/nonexistent/dittomover-binary"}, Options{})
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, StatusException, res.Status)
	assert.Equal(t, NoExitValue, res.ExitValue)
}

func TestRun_EmptyCommand(t *testing.T) {
	_, err := Run(context.Background(), nil, Options{})
	assert.True(t, errors.Is(err, ErrEmptyCommand))
}

func TestStart_Terminate(t *testing.T) {
	requireShell(t)

	h, err := Start(context.Background(), sh("sleep 10"), Options{})
	require.NoError(t, err)

	h.Terminate()
	h.Terminate()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := h.Result(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusInterrupted, res.Status)
	assert.Equal(t, h.Number(), res.Number)
}

func TestStart_IOHandler(t *testing.T) {
	requireShell(t)

	var got []string
	opts := Options{
		IOHandler: func(stdin io.WriteCloser, stdout, stderr io.Reader) error {
			if _, err := io.WriteString(stdin, "hello\n"); err != nil {
				return err
			}
			if err := stdin.Close(); err != nil {
				return err
			}
			sc := bufio.NewScanner(stdout)
			for sc.Scan() {
				got = append(got, strings.ToUpper(sc.Text()))
			}
			_, _ = io.Copy(io.Discard, stderr)
			return sc.Err()
		},
	}

	res, err := Run(context.Background(), []string{"/bin/cat"}, opts)
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, []string{"HELLO"}, got)
}

func TestProcessNumbersIncrease(t *testing.T) {
	requireShell(t)

	a, err := Run(context.Background(), sh("true"), Options{})
	require.NoError(t, err)
	b, err := Run(context.Background(), sh("true"), Options{})
	require.NoError(t, err)
	assert.Greater(t, b.Number, a.Number)
}

func TestOutputGrace(t *testing.T) {
	assert.Equal(t, minOutputGrace, Options{}.outputGrace())
	assert.Equal(t, minOutputGrace, Options{Timeout: time.Second}.outputGrace())
	assert.Equal(t, 6*time.Second, Options{Timeout: time.Minute}.outputGrace())
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "COMPLETE", StatusComplete.String())
	assert.Equal(t, "TIMED_OUT", StatusTimedOut.String())
	assert.Equal(t, "INTERRUPTED", StatusInterrupted.String())
	assert.Equal(t, "EXCEPTION", StatusException.String())
}
