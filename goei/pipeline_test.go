package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/itohio/goei/pkg/config"
	"github.com/itohio/goei/pkg/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(mode string) *config.Config {
	cfg := config.Default()
	cfg.Mode = mode
	cfg.Scheduler.AnnounceDelay = 0
	cfg.Scheduler.Cycles = 2
	cfg.Sampler.SampleDelay = 0
	return cfg
}

func TestPipeline_SamplingDumpAndReplay(t *testing.T) {
	cfg := testConfig(config.ModeSampling)
	require.NoError(t, cfg.Validate())
	dump := filepath.Join(t.TempDir(), "frame.bin")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	p, err := build(ctx, cfg, dump)
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.scheduler.Run(ctx))
	assert.Equal(t, scheduler.StateStopped, p.scheduler.State())

	st, err := os.Stat(dump)
	require.NoError(t, err)
	assert.Equal(t, int64(4*cfg.Frame.Length), st.Size())

	require.NoError(t, replay(ctx, cfg, dump))
}

func TestPipeline_Capture(t *testing.T) {
	cfg := testConfig(config.ModeCapture)
	cfg.Capture.Handoff = "swap"
	require.NoError(t, cfg.Validate())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	p, err := build(ctx, cfg, "")
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.scheduler.Run(ctx))
}

func TestPipeline_CaptureOverADC(t *testing.T) {
	cfg := testConfig(config.ModeCapture)
	cfg.Capture.Driver = "adc"
	cfg.Scheduler.Cycles = 1
	cfg.Device.Mock.Raw[cfg.Capture.Channel] = []uint16{1551}
	require.NoError(t, cfg.Validate())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	p, err := build(ctx, cfg, "")
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.scheduler.Run(ctx))
	assert.Equal(t, scheduler.StateStopped, p.scheduler.State())
}

func TestReplay_RejectsPartialFrames(t *testing.T) {
	name := filepath.Join(t.TempDir(), "bad.bin")
	require.NoError(t, os.WriteFile(name, []byte{1, 2, 3}, 0644))
	assert.Error(t, replay(context.Background(), config.Default(), name))
}
