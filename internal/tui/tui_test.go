package tui

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(values map[string]string) func(string) string {
	return func(k string) string { return values[k] }
}

func TestDetectMode(t *testing.T) {
	terminal := func() bool { return true }
	pipe := func() bool { return false }

	assert.Equal(t, ModeInteractive, detectMode(env(nil), terminal))
	assert.Equal(t, ModeNonInteractive, detectMode(env(nil), pipe))
	assert.Equal(t, ModeNonInteractive, detectMode(env(map[string]string{"PGTENANT_NON_INTERACTIVE": "1"}), terminal))
	assert.Equal(t, ModeNonInteractive, detectMode(env(map[string]string{"CI": "true"}), terminal))
	assert.Equal(t, ModeNonInteractive, detectMode(env(map[string]string{"NO_COLOR": "1"}), terminal))
}

func TestIsInteractive_FalseUnderGoTest(t *testing.T) {
	assert.False(t, IsInteractive())
}

func TestCredentialBox_ContainsAllFields(t *testing.T) {
	box := CredentialBox("Bootstrap admin created", []Field{
		{Label: "Email", Value: "admin@localhost"},
		{Label: "Password", Value: "pa55word"},
	}, "Shown once. Store it now.")

	for _, want := range []string{"Bootstrap admin created", "Email:", "admin@localhost", "Password:", "pa55word", "Shown once"} {
		assert.Contains(t, box, want)
	}
}

func TestRunWithSpinner_NonInteractive(t *testing.T) {
	t.Setenv("CI", "true")
	var out bytes.Buffer
	called := false

	err := RunWithSpinner(context.Background(), &out, "Provisioning acme", func(context.Context) error {
		called = true
		return nil
	})

	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, "Provisioning acme...\n", out.String())
}

func TestRunWithSpinner_PropagatesError(t *testing.T) {
	t.Setenv("CI", "true")
	boom := errors.New("boom")

	err := RunWithSpinner(context.Background(), &bytes.Buffer{}, "x", func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestSpinnerModel_View(t *testing.T) {
	m := newSpinnerModel("Provisioning acme")
	assert.Contains(t, m.View(), "Provisioning acme")

	updated, _ := m.Update(spinnerDoneMsg{})
	assert.True(t, strings.Contains(updated.View(), SymbolCheck))

	failed, _ := m.Update(spinnerDoneMsg{err: errors.New("x")})
	assert.True(t, strings.Contains(failed.View(), SymbolCross))
}
