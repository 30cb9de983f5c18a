package mover

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittomover/pkg/copier"
	"github.com/marmos91/dittomover/pkg/process"
	"github.com/marmos91/dittomover/pkg/queue"
	fstarget "github.com/marmos91/dittomover/pkg/target/fs"
)

type mockRunner struct {
	mock.Mock
}

func (m *mockRunner) Run(ctx context.Context, command []string, opts process.Options) (*process.Result, error) {
	args := m.Called(command)
	res, _ := args.Get(0).(*process.Result)
	return res, args.Error(1)
}

// env is a mover over a temp directory with incoming, buffer, manual,
// extra and outgoing subdirectories.
type env struct {
	fs     afero.Fs
	config Config
	target *fstarget.Target
}

func newEnv(t *testing.T) *env {
	t.Helper()
	fs := afero.NewBasePathFs(afero.NewOsFs(), t.TempDir())
	for _, dir := range []string{"/incoming", "/buffer", "/manual", "/outgoing"} {
		require.NoError(t, fs.MkdirAll(dir, 0755))
	}
	tgt, err := fstarget.NewTarget(fs, "/outgoing", copier.NewNativeCopier(fs, copier.NativeConfig{}))
	require.NoError(t, err)

	return &env{
		fs:     fs,
		target: tgt,
		config: Config{
			Incoming:              Dir{Path: "/incoming"},
			Buffer:                Dir{Path: "/buffer"},
			ManualInterventionDir: "/manual",
			CheckInterval:         10 * time.Millisecond,
			CheckIntervalInternal: 10 * time.Millisecond,
			FailureInterval:       time.Millisecond,
			MaxRetries:            3,
		},
	}
}

func (e *env) mover(t *testing.T, deps Dependencies) *Mover {
	t.Helper()
	if deps.Fs == nil {
		deps.Fs = e.fs
	}
	if deps.Copier == nil {
		deps.Copier = copier.NewNativeCopier(e.fs, copier.NativeConfig{})
	}
	if deps.Target == nil {
		deps.Target = e.target
	}
	m, err := New(e.config, deps)
	require.NoError(t, err)
	return m
}

func (e *env) item(t *testing.T, name string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join("/incoming", name, rel)
		require.NoError(t, e.fs.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, afero.WriteFile(e.fs, p, []byte(content), 0644))
	}
}

func (e *env) exists(path string) bool {
	_, err := e.fs.Stat(path)
	return err == nil
}

func stop(t *testing.T, m *Mover) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Stop(ctx))
}

func TestMover_EndToEnd(t *testing.T) {
	e := newEnv(t)
	e.item(t, "sample-1", map[string]string{"data.txt": "payload", "sub/more.txt": "more"})

	m := e.mover(t, Dependencies{})
	require.NoError(t, m.Start(context.Background()))
	defer stop(t, m)

	require.Eventually(t, func() bool {
		return e.exists("/outgoing/.MARKER_is_finished_sample-1")
	}, 5*time.Second, 10*time.Millisecond)

	data, err := afero.ReadFile(e.fs, "/outgoing/sample-1/sub/more.txt")
	require.NoError(t, err)
	assert.Equal(t, "more", string(data))

	assert.False(t, e.exists("/incoming/sample-1"))
	assert.False(t, e.exists("/buffer/copy-complete/sample-1"))
	require.Eventually(t, func() bool {
		return !e.exists("/buffer/ready-to-move/sample-1")
	}, 5*time.Second, 10*time.Millisecond)

	st := m.Status()
	assert.True(t, st.Running)
	assert.Equal(t, 0, st.IncomingFaulty)
}

func TestMover_QuietPeriod(t *testing.T) {
	e := newEnv(t)
	e.config.QuietPeriod = time.Hour
	e.item(t, "fresh", map[string]string{"f": "x"})
	e.item(t, "old", map[string]string{"f": "y"})
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, e.fs.Chtimes("/incoming/old/f", old, old))
	require.NoError(t, e.fs.Chtimes("/incoming/old", old, old))

	m := e.mover(t, Dependencies{})
	n, err := m.incoming.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, n)
	assert.True(t, e.exists("/incoming/fresh"))
	assert.True(t, e.exists("/buffer/copy-complete/old/f"))
}

func TestMover_PrefixForIncoming(t *testing.T) {
	e := newEnv(t)
	e.config.PrefixForIncoming = "${timestamp}_"
	e.item(t, "s", map[string]string{"f": "x"})

	m := e.mover(t, Dependencies{})
	m.now = func() time.Time { return time.Date(2024, 5, 6, 7, 8, 9, 0, time.Local) }

	_, err := m.incoming.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, e.exists("/buffer/copy-complete/20240506070809_s/f"))
}

func TestNew_RejectsUnknownPrefixVariable(t *testing.T) {
	e := newEnv(t)
	e.config.PrefixForIncoming = "${user}_"
	_, err := New(e.config, Dependencies{Fs: e.fs, Copier: copier.NewNativeCopier(e.fs, copier.NativeConfig{}), Target: e.target})
	assert.ErrorContains(t, err, "unknown variable 'user'")
}

func TestMover_DataCompletedScript(t *testing.T) {
	e := newEnv(t)
	e.config.DataCompletedScript = "/opt/notify --quiet"
	e.item(t, "good", map[string]string{"f": "x"})
	e.item(t, "bad", map[string]string{"f": "x"})

	runner := new(mockRunner)
	runner.On("Run", []string{"/opt/notify", "--quiet", "/buffer/copy-complete/good"}).
		Return(&process.Result{Status: process.StatusComplete, ExitValue: 0}, nil)
	runner.On("Run", []string{"/opt/notify", "--quiet", "/buffer/copy-complete/bad"}).
		Return(&process.Result{Status: process.StatusComplete, ExitValue: 2}, nil)

	m := e.mover(t, Dependencies{Runner: runner})
	_, err := m.incoming.RunOnce(context.Background())
	require.NoError(t, err)

	runner.AssertExpectations(t)
	assert.True(t, e.exists("/buffer/copy-complete/good"))
	assert.False(t, e.exists("/buffer/copy-complete/bad"))
	assert.True(t, e.exists("/manual/bad/f"))
}

func TestMover_CleansingAndManualIntervention(t *testing.T) {
	e := newEnv(t)
	e.config.CleansingRegex = `^(\.DS_Store|Thumbs\.db)$`
	e.config.ManualInterventionRegex = `^broken-`
	require.NoError(t, e.fs.MkdirAll("/buffer/copy-complete/keep/sub", 0755))
	require.NoError(t, afero.WriteFile(e.fs, "/buffer/copy-complete/keep/data", []byte("d"), 0644))
	require.NoError(t, afero.WriteFile(e.fs, "/buffer/copy-complete/keep/sub/Thumbs.db", []byte("t"), 0644))
	require.NoError(t, afero.WriteFile(e.fs, "/buffer/copy-complete/Thumbs.db", []byte("t"), 0644))
	require.NoError(t, afero.WriteFile(e.fs, "/buffer/copy-complete/broken-1", []byte("b"), 0644))

	m := e.mover(t, Dependencies{})
	_, err := m.buffer.RunOnce(context.Background())
	require.NoError(t, err)

	assert.False(t, e.exists("/buffer/copy-complete/Thumbs.db"))
	assert.True(t, e.exists("/manual/broken-1"))
	assert.True(t, e.exists("/buffer/ready-to-move/keep/data"))
	assert.False(t, e.exists("/buffer/ready-to-move/keep/sub/Thumbs.db"))
	assert.Equal(t, []string{"keep"}, m.outgoing.Items())
}

func TestMover_ExtraCopy(t *testing.T) {
	e := newEnv(t)
	e.config.ExtraCopyDir = "/extra"
	require.NoError(t, e.fs.MkdirAll("/buffer/copy-complete/s", 0755))
	require.NoError(t, afero.WriteFile(e.fs, "/buffer/copy-complete/s/f", []byte("x"), 0644))

	m := e.mover(t, Dependencies{})
	_, err := m.buffer.RunOnce(context.Background())
	require.NoError(t, err)

	assert.True(t, e.exists("/extra/s/f"))
	assert.True(t, e.exists("/buffer/ready-to-move/s/f"))
}

// flakyTarget fails Put with errs in order, then delegates.
type flakyTarget struct {
	*fstarget.Target
	mu   sync.Mutex
	errs []error
	puts int
}

func (f *flakyTarget) Put(ctx context.Context, localPath, itemName string) error {
	f.mu.Lock()
	f.puts++
	var err error
	if len(f.errs) > 0 {
		err, f.errs = f.errs[0], f.errs[1:]
	}
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Target.Put(ctx, localPath, itemName)
}

func TestMover_OutgoingRetries(t *testing.T) {
	e := newEnv(t)
	tgt := &flakyTarget{Target: e.target, errs: []error{
		copier.NewStatus("copy", "x", true, "network down"),
		errors.New("503 slow down"),
	}}
	require.NoError(t, e.fs.MkdirAll("/buffer/ready-to-move/s", 0755))
	require.NoError(t, afero.WriteFile(e.fs, "/buffer/ready-to-move/s/f", []byte("x"), 0644))

	m := e.mover(t, Dependencies{Target: tgt})
	require.NoError(t, m.transfer(context.Background(), "s"))

	assert.Equal(t, 3, tgt.puts)
	assert.True(t, e.exists("/outgoing/s/f"))
	assert.True(t, e.exists("/outgoing/.MARKER_is_finished_s"))
	assert.False(t, e.exists("/buffer/ready-to-move/s"))
}

func TestMover_OutgoingFailureGoesToManualIntervention(t *testing.T) {
	e := newEnv(t)
	tgt := &flakyTarget{Target: e.target, errs: []error{copier.NewStatus("copy", "x", false, "permission denied")}}
	require.NoError(t, afero.WriteFile(e.fs, "/buffer/ready-to-move/s", []byte("x"), 0644))

	m := e.mover(t, Dependencies{Target: tgt})
	err := m.transfer(context.Background(), "s")
	require.Error(t, err)

	assert.Equal(t, 1, tgt.puts)
	assert.True(t, e.exists("/manual/s"))
	assert.False(t, e.exists("/outgoing/.MARKER_is_finished_s"))
}

func TestMover_ResumesInterruptedWork(t *testing.T) {
	e := newEnv(t)
	// copy finished before the crash, original already gone
	require.NoError(t, e.fs.MkdirAll("/buffer/copy-in-progress/done", 0755))
	require.NoError(t, afero.WriteFile(e.fs, "/buffer/copy-in-progress/done/f", []byte("x"), 0644))
	// copy interrupted, original still incoming
	e.item(t, "partial", map[string]string{"f": "full"})
	require.NoError(t, e.fs.MkdirAll("/buffer/copy-in-progress/partial", 0755))
	// queued but not persisted
	require.NoError(t, afero.WriteFile(e.fs, "/buffer/ready-to-move/orphan", []byte("o"), 0644))

	m := e.mover(t, Dependencies{Persister: queue.NewMemoryPersister[string]()})
	require.NoError(t, m.Start(context.Background()))
	defer stop(t, m)

	for _, name := range []string{"done", "partial", "orphan"} {
		require.Eventually(t, func() bool {
			return e.exists("/outgoing/.MARKER_is_finished_" + name)
		}, 5*time.Second, 10*time.Millisecond, name)
	}
	data, err := afero.ReadFile(e.fs, "/outgoing/partial/f")
	require.NoError(t, err)
	assert.Equal(t, "full", string(data))
}

func TestMover_FailedIncomingCopyIsFaulty(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permissions are not enforced for root")
	}
	e := newEnv(t)
	e.config.MaxRetries = 0
	e.item(t, "s", map[string]string{"f": "x"})
	require.NoError(t, e.fs.MkdirAll("/buffer/copy-in-progress/s", 0755))

	m := e.mover(t, Dependencies{})
	require.NoError(t, e.fs.Chmod("/buffer/copy-in-progress", 0555))
	t.Cleanup(func() { _ = e.fs.Chmod("/buffer/copy-in-progress", 0755) })

	_, err := m.incoming.RunOnce(context.Background())
	require.NoError(t, err)

	assert.True(t, e.exists("/incoming/s"))
	assert.True(t, m.incoming.Faulty().Contains("s"))
}

func TestMover_StopIsIdempotent(t *testing.T) {
	e := newEnv(t)
	m := e.mover(t, Dependencies{})
	require.NoError(t, m.Start(context.Background()))
	stop(t, m)
	stop(t, m)
	assert.Error(t, m.Start(context.Background()))
	assert.False(t, m.Status().Running)
}

// blockingTarget holds Put until release is closed, ignoring ctx.
type blockingTarget struct {
	*fstarget.Target
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingTarget) Put(ctx context.Context, localPath, itemName string) error {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return b.Target.Put(ctx, localPath, itemName)
}

func TestMover_StatusDuringStop(t *testing.T) {
	e := newEnv(t)
	tgt := &blockingTarget{Target: e.target, entered: make(chan struct{}), release: make(chan struct{})}
	e.item(t, "s", map[string]string{"f": "x"})

	m := e.mover(t, Dependencies{Target: tgt})
	require.NoError(t, m.Start(context.Background()))

	select {
	case <-tgt.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("item never reached the target")
	}

	stopped := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		stopped <- m.Stop(ctx)
	}()

	status := make(chan Status, 1)
	go func() {
		time.Sleep(20 * time.Millisecond)
		status <- m.Status()
	}()
	select {
	case st := <-status:
		assert.False(t, st.Running)
	case <-time.After(2 * time.Second):
		t.Fatal("Status blocked while the mover was stopping")
	}

	close(tgt.release)
	select {
	case err := <-stopped:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestMover_Serve(t *testing.T) {
	e := newEnv(t)
	m := e.mover(t, Dependencies{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Serve(ctx, 5*time.Second) }()

	require.Eventually(t, func() bool { return m.Status().Running }, 5*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return")
	}
}

func TestWithRetries(t *testing.T) {
	calls := 0
	err := withRetries(context.Background(), 5, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	fatal := copier.NewStatus("copy", "p", false, "no space")
	err = withRetries(context.Background(), 5, time.Millisecond, func() error {
		calls++
		return fatal
	}, nil)
	assert.Same(t, fatal, err)
	assert.Equal(t, 1, calls)

	calls = 0
	retries := 0
	err = withRetries(context.Background(), 2, time.Millisecond, func() error {
		calls++
		return errors.New("still down")
	}, func(int, error) { retries++ })
	assert.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, retries)
}

func TestWithRetries_CancelEndsWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	start := time.Now()
	err := withRetries(ctx, 3, time.Hour, func() error { return errors.New("down") }, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRetriable(t *testing.T) {
	assert.True(t, retriable(errors.New("timeout")))
	assert.True(t, retriable(copier.NewStatus("copy", "p", true, "io")))
	assert.False(t, retriable(copier.NewStatus("copy", "p", false, "missing")))
	assert.False(t, retriable(context.Canceled))
}
