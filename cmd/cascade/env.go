package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/alec-deason/cascade/internal/config"
	"github.com/alec-deason/cascade/internal/data"
	"github.com/alec-deason/cascade/internal/dismod"
	"github.com/alec-deason/cascade/internal/logging"
	"github.com/alec-deason/cascade/internal/model"
	"github.com/alec-deason/cascade/internal/pathutil"
	"github.com/alec-deason/cascade/internal/session"
)

// newRunner builds the engine runner for the configured executable.
var newRunner = func(executable string) dismod.Runner {
	return dismod.NewExecRunner(executable)
}

// runEnv is what every engine-running command needs: configuration, both
// log sinks and a runner.
type runEnv struct {
	cfg      *config.CascadeConfig
	logger   *slog.Logger
	modelLog *logging.ModelLog
	runner   dismod.Runner
}

func newRunEnv(cmd *cobra.Command) (*runEnv, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	level := cfg.Logging.Level
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		level = v
	}
	logger := logging.NewLogger(level, cmd.ErrOrStderr())

	dir := cfg.Logging.ModelLogDir
	if dir == "" {
		if dir, err = pathutil.DefaultModelLogDir(); err != nil {
			return nil, err
		}
	}
	modelLog := logging.NewModelLog(dir)
	if modelLog == nil {
		logger.Warn("model log disabled", "dir", pathutil.RedactPath(dir))
	}

	return &runEnv{
		cfg:      cfg,
		logger:   logger,
		modelLog: modelLog,
		runner:   newRunner(cfg.Engine.Executable),
	}, nil
}

func (e *runEnv) sinks() logging.Sinks {
	return logging.Sinks{Code: e.logger, Model: e.modelLog}
}

// context is cancelled by an interrupt and, when configured, by the engine
// timeout.
func (e *runEnv) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(cmd.Context(), stopSignals...)
	if e.cfg.Engine.Timeout <= 0 {
		return ctx, stop
	}
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Engine.Timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

// close flushes the model log and writes metrics if asked to.
func (e *runEnv) close(cmd *cobra.Command) error {
	e.modelLog.Close()
	path, _ := cmd.Flags().GetString("metrics-file")
	if path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("writing metrics: %w", err)
	}
	return nil
}

// openSession creates a session for the model file's hierarchy with options
// from the config, overridden by the model file.
func (e *runEnv) openSession(ctx context.Context, mf *modelFile, path string, resume bool) (*session.Session, error) {
	s, err := session.New(mf.locations(), mf.ParentLocation, path, e.runner, e.sinks())
	if err != nil {
		return nil, err
	}
	if resume {
		if _, err := s.Resume(ctx); err != nil {
			s.Close()
			return nil, err
		}
	}
	if err := s.SetOption(ctx, e.cfg.Solver.Merge(mf.Options)); err != nil {
		s.Close()
		return nil, err
	}
	cvs, err := mf.minimumMeasCV()
	if err == nil {
		err = s.SetMinimumMeasCV(ctx, cvs)
	}
	if err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func readFrame(path string) (*data.Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return data.ReadCSV(f)
}

// writeFrame writes f as CSV to path, or to stdout when path is "-".
func writeFrame(cmd *cobra.Command, path string, f *data.Frame) error {
	if path == "-" {
		return data.WriteCSV(cmd.OutOrStdout(), f)
	}
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := data.WriteCSV(out, f); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// samplesFrame stacks samples with a sample_index column.
func samplesFrame(samples []model.VarSet) *data.Frame {
	var frames []*data.Frame
	n := 0
	for _, vs := range samples {
		f := varsFrame(vs)
		frames = append(frames, f)
		n += f.Len()
	}
	out := data.NewFrame(n)
	index := make([]float64, 0, n)
	cols := map[string][]float64{}
	text := map[string][]string{}
	for i, f := range frames {
		for range f.Len() {
			index = append(index, float64(i))
		}
		for _, c := range f.Columns() {
			if f.IsNumeric(c) {
				v, _ := f.Float(c)
				cols[c] = append(cols[c], v...)
			} else {
				v, _, _ := f.Text(c)
				text[c] = append(text[c], v...)
			}
		}
	}
	_ = out.SetFloat("sample_index", index)
	for _, c := range varsFrame(nil).Columns() {
		if v, ok := text[c]; ok {
			_ = out.SetText(c, v, nil)
		} else {
			_ = out.SetFloat(c, cols[c])
		}
	}
	return out
}
