// ABOUTME: Tests for the colorized slog handler used in text log format.
// ABOUTME: Checks level gating, attr rendering, and group flattening.

package main

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

func TestColorHandler(t *testing.T) {
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })

	t.Run("renders message and attrs on one line", func(t *testing.T) {
		var out bytes.Buffer
		logger := slog.New(&colorHandler{w: &out, level: slog.LevelInfo})

		logger.Info("agent registered", "addr", "127.0.0.1:9999")

		line := out.String()
		assert.Contains(t, line, "INF agent registered")
		assert.Contains(t, line, " addr=127.0.0.1:9999")
	})

	t.Run("drops records below the configured level", func(t *testing.T) {
		var out bytes.Buffer
		logger := slog.New(&colorHandler{w: &out, level: slog.LevelWarn})

		logger.Info("chatter")
		assert.Empty(t, out.String())

		logger.Warn("trouble")
		assert.Contains(t, out.String(), "WRN trouble")
	})

	t.Run("flattens groups into key prefixes", func(t *testing.T) {
		var out bytes.Buffer
		logger := slog.New(&colorHandler{w: &out, level: slog.LevelInfo})

		logger.With("component", "controller").WithGroup("agent").Info("dispatched", "id", "7")

		line := out.String()
		assert.Contains(t, line, " component=controller")
		assert.Contains(t, line, " agent.id=7")
	})
}
