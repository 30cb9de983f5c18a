package copier

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittomover/pkg/process"
)

type mockRunner struct {
	mock.Mock
}

func (m *mockRunner) Run(ctx context.Context, command []string, opts process.Options) (*process.Result, error) {
	args := m.Called(command)
	res, _ := args.Get(0).(*process.Result)
	return res, args.Error(1)
}

func versionResult(line string) *process.Result {
	return &process.Result{Status: process.StatusComplete, Output: []string{line, "Copyright (C) 1996-2022"}}
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		line    string
		want    Version
		wantErr bool
	}{
		{line: "rsync  version 3.2.7  protocol version 31", want: Version{3, 2, 7, ""}},
		{line: "rsync  version v3.3.0  protocol version 31", want: Version{3, 3, 0, ""}},
		{line: "rsync version 2.6.9pre2 protocol version 29", want: Version{2, 6, 9, "pre2"}},
		{line: "rsync version 3.1 protocol version 31", want: Version{3, 1, 0, ""}},
		{line: "openrsync: protocol version 29", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := ParseVersion(tt.line)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestVersion_AtLeast(t *testing.T) {
	assert.True(t, Version{2, 6, 7, ""}.AtLeast(appendVersion))
	assert.True(t, Version{3, 0, 0, ""}.AtLeast(appendVersion))
	assert.False(t, Version{2, 6, 6, ""}.AtLeast(appendVersion))
	assert.False(t, Version{1, 9, 9, ""}.AtLeast(minimumVersion))
}

func TestClassifyExit(t *testing.T) {
	for _, code := range []int{0, 24} {
		assert.Equal(t, exitOK, classifyExit(code), "exit %d", code)
	}
	for _, code := range []int{5, 10, 12, 23, 30, 35} {
		assert.Equal(t, exitRetriable, classifyExit(code), "exit %d", code)
	}
	for _, code := range []int{1, 2, 3, 11, 20, 99} {
		assert.Equal(t, exitFatal, classifyExit(code), "exit %d", code)
	}
	assert.Equal(t, "Unknown exit value 99", ExitMessage(99))
}

func TestRsyncCopier_Copy(t *testing.T) {
	tests := []struct {
		name      string
		version   string
		overwrite bool
		mode      string
	}{
		{"append when supported", "rsync  version 3.2.7  protocol version 31", false, "--append"},
		{"whole file when overwriting", "rsync  version 3.2.7  protocol version 31", true, "--whole-file"},
		{"whole file on old rsync", "rsync version 2.6.6 protocol version 29", false, "--whole-file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &mockRunner{}
			runner.On("Run", []string{"rsync", "--version"}).Return(versionResult(tt.version), nil).Once()
			runner.On("Run", []string{"rsync", "--archive", "--delete", "--inplace", tt.mode, "/buffer/item", "/out/"}).
				Return(&process.Result{Status: process.StatusComplete}, nil).Once()

			c := NewRsyncCopier(RsyncConfig{Overwrite: tt.overwrite}, runner)
			require.NoError(t, c.Check(context.Background()))
			require.NoError(t, c.Copy(context.Background(), "/buffer/item", "/out"))
			runner.AssertExpectations(t)
		})
	}
}

func TestRsyncCopier_RemoteAndContent(t *testing.T) {
	runner := &mockRunner{}
	runner.On("Run", []string{"rsync", "--version"}).Return(versionResult("rsync  version 3.2.7"), nil).Once()
	runner.On("Run", []string{"rsync", "--archive", "--delete", "--inplace", "--append", "--rsh", "ssh", "/buffer/dir/", "host:/data/"}).
		Return(&process.Result{Status: process.StatusComplete}, nil).Once()

	c := NewRsyncCopier(RsyncConfig{SSHExecutable: "ssh"}, runner)
	require.NoError(t, c.CopyContent(context.Background(), "/buffer/dir", "host:/data"))
	runner.AssertExpectations(t)
}

func TestRsyncCopier_ExitValues(t *testing.T) {
	tests := []struct {
		name      string
		result    *process.Result
		wantErr   bool
		retriable bool
	}{
		{"vanished files count as success", &process.Result{Status: process.StatusComplete, ExitValue: 24}, false, false},
		{"socket error is retriable", &process.Result{Status: process.StatusComplete, ExitValue: 10}, true, true},
		{"usage error is fatal", &process.Result{Status: process.StatusComplete, ExitValue: 1}, true, false},
		{"timeout is retriable", &process.Result{Status: process.StatusTimedOut, ExitValue: process.NoExitValue}, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &mockRunner{}
			runner.On("Run", []string{"rsync", "--version"}).Return(versionResult("rsync  version 3.2.7"), nil)
			runner.On("Run", mock.Anything).Return(tt.result, nil)

			err := NewRsyncCopier(RsyncConfig{}, runner).Copy(context.Background(), "/a", "/b")
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.retriable, IsRetriable(err))
		})
	}
}

func TestRsyncCopier_CopyImmutably(t *testing.T) {
	runner := &mockRunner{}
	runner.On("Run", []string{"rsync", "--archive", "--link-dest=/buffer/item", "/buffer/item/", "/extra/item-copy"}).
		Return(&process.Result{Status: process.StatusComplete}, nil).Once()

	c := NewRsyncCopier(RsyncConfig{}, runner)
	require.NoError(t, c.CopyImmutably(context.Background(), "/buffer/item", "/extra", "item-copy"))
	runner.AssertExpectations(t)
}

func TestRsyncCopier_CheckRejectsOldVersion(t *testing.T) {
	runner := &mockRunner{}
	runner.On("Run", []string{"rsync", "--version"}).Return(versionResult("rsync version 2.5.7 protocol version 26"), nil)

	err := NewRsyncCopier(RsyncConfig{}, runner).Check(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 2.6.0")
}

func TestIsRemote(t *testing.T) {
	assert.True(t, isRemote("host:/data"))
	assert.False(t, isRemote("/data"))
	assert.False(t, isRemote("C:/data"))
	assert.False(t, isRemote("/dir/with:colon"))
}
