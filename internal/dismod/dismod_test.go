package dismod

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alec-deason/cascade/internal/constants"
	"github.com/alec-deason/cascade/internal/errs"
	"github.com/alec-deason/cascade/internal/store"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		tokens  []string
		want    string
		wantErr bool
	}{
		{[]string{"init"}, "init", false},
		{[]string{"fit", "both"}, "fit both", false},
		{[]string{"fit", "sideways"}, "", true},
		{[]string{"predict", "truth_var"}, "predict truth_var", false},
		{[]string{"simulate", "10"}, "simulate 10", false},
		{[]string{"simulate", "0"}, "", true},
		{[]string{"simulate", "ten"}, "", true},
		{[]string{"sample", "simulate", "3"}, "sample simulate 3", false},
		{[]string{"depend"}, "", true},
		{nil, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got, err := ParseCommand(tt.tokens)
			if tt.wantErr {
				assert.ErrorIs(t, err, errs.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestCommandOutputs(t *testing.T) {
	fit, err := Fit(constants.FitFixed)
	require.NoError(t, err)
	assert.Equal(t, "fit", fit.Name())
	assert.Equal(t, []string{store.TableLog, store.TableFitVar, store.TableFitDataSubset}, fit.Outputs())

	sample, err := SampleSimulate(4)
	require.NoError(t, err)
	assert.Contains(t, sample.Outputs(), store.TableSample)
}

func TestClassify(t *testing.T) {
	fit, err := Fit(constants.FitBoth)
	require.NoError(t, err)

	tests := []struct {
		name    string
		lastLog string
		res     Result
		want    Outcome
		wantErr error
	}{
		{"end message completes", "end fit", Result{}, Completed, nil},
		{"end message wins over markers", "end fit", Result{Stdout: constants.OutOfMemorySentinel}, Completed, nil},
		{"out of memory on stdout", "begin fit", Result{Stdout: "terminate: std:bad_alloc", ExitCode: 0}, 0, errs.ErrOutOfMemory},
		{"out of memory on stderr", "", Result{Stderr: "std:bad_alloc", ExitCode: 134}, 0, errs.ErrOutOfMemory},
		{"iteration limit warns", "begin fit",
			Result{Stdout: "EXIT: Maximum Number of Iterations Exceeded."}, IterationLimit, nil},
		{"other failure", "begin fit", Result{Stdout: "segfault"}, 0, errs.ErrExecution},
		{"end of another command", "end init", Result{}, 0, errs.ErrExecution},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Classify(fit, tt.lastLog, tt.res)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassify_OutOfMemoryIsExecutionError(t *testing.T) {
	_, err := Classify(Init(), "", Result{Stdout: constants.OutOfMemorySentinel, ExitCode: 0})
	var execErr *errs.ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.True(t, execErr.OutOfMemory)
	assert.ErrorIs(t, err, errs.ErrExecution)
}

func TestCheckExit(t *testing.T) {
	assert.NoError(t, CheckExit(Init(), Result{}))
	err := CheckExit(Init(), Result{ExitCode: 2})
	var execErr *errs.ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, 2, execErr.ExitCode)
}

func TestObserve(t *testing.T) {
	cmd, err := Simulate(5)
	require.NoError(t, err)
	before := testutil.ToFloat64(commandsTotal.WithLabelValues("simulate", LabelCompleted))
	Observe(cmd, LabelCompleted, time.Second)
	after := testutil.ToFloat64(commandsTotal.WithLabelValues("simulate", LabelCompleted))
	assert.Equal(t, before+1, after)
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts")
	}
	path := filepath.Join(t.TempDir(), "engine.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o700))
	return path
}

func TestExecRunner_CapturesOutputAndExitCode(t *testing.T) {
	script := writeScript(t, `echo "file=$1 cmd=$2 $3"; echo oops >&2; exit 3`)
	fit, err := Fit(constants.FitFixed)
	require.NoError(t, err)

	res, err := NewExecRunner(script).Run(context.Background(), "/tmp/x.db", fit)
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "file=/tmp/x.db cmd=fit fixed\n", res.Stdout)
	assert.Equal(t, "oops\n", res.Stderr)
}

func TestExecRunner_MissingExecutable(t *testing.T) {
	r := NewExecRunner(filepath.Join(t.TempDir(), "no-such-engine"))
	_, err := r.Run(context.Background(), "x.db", Init())
	assert.Error(t, err)
}

func TestNewExecRunner_Default(t *testing.T) {
	assert.Equal(t, constants.DefaultExecutable, NewExecRunner("").Executable)
}
