package server

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDBLogHandler(t *testing.T) {
	store := newMemStore()
	jobID := uuid.New()
	var console bytes.Buffer

	logger := slog.New(NewDBLogHandler(store, jobID, slog.NewTextHandler(&console, &slog.HandlerOptions{Level: slog.LevelDebug})))
	logger = logger.With("job", jobID.String())

	logger.Debug("Noise")
	logger.Warn("Rate limit hit, retrying", "attempt", 1, "delay", 5*time.Second, "error", errors.New("429"))

	logs := store.logs[jobID]
	require.Len(t, logs, 1, "debug records stay on the console")
	assert.Equal(t, "WARN", logs[0].level)
	assert.Equal(t, "Rate limit hit, retrying", logs[0].message)
	assert.JSONEq(t, `{"job":"`+jobID.String()+`","attempt":1,"delay":"5s","error":"429"}`, logs[0].meta)

	assert.Contains(t, console.String(), "Noise")
	assert.Contains(t, console.String(), "Rate limit hit")
}
