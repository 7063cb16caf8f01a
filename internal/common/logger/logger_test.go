package logger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestActionAndFieldsAreStructured(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := FromZap("claims", zap.New(core))

	l.Info("claim_created", map[string]any{"claim_id": "c1", "priority": 1530})
	l.Error("claim_approve_failed", errors.New("boom"), map[string]any{"claim_id": "c1"})
	l.Named("matcher").Debug("commute_skipped", nil)

	entries := logs.All()
	require.Len(t, entries, 3)

	first := entries[0].ContextMap()
	assert.Equal(t, "claim_created", entries[0].Message)
	assert.Equal(t, "claims", first["service"])
	assert.Equal(t, "claim_created", first["action"])
	assert.Equal(t, "c1", first["claim_id"])
	assert.EqualValues(t, 1530, first["priority"])

	assert.Equal(t, "boom", entries[1].ContextMap()["error"])
	assert.Equal(t, "matcher", entries[2].ContextMap()["component"])
}

func TestNewWithOptionsRejectsUnknownLevel(t *testing.T) {
	_, err := NewWithOptions("svc", "loud", false)
	assert.Error(t, err)

	l, err := NewWithOptions("svc", "DEBUG", true)
	require.NoError(t, err)
	l.Debug("ok", nil)
}

func TestNopDoesNotPanic(t *testing.T) {
	l := Nop()
	l.Info("x", map[string]any{"a": 1})
	l.Warn("x", nil)
	l.Error("x", errors.New("e"), nil)
	l.Sync()
}
