package main

import (
	"bytes"
	"testing"

	"github.com/aretw0/pitch/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const porch = `
locations:
  porch:
    enter: You sit on the porch.
    actions:
      wait:
        - say: OK, waiting...
          delay: 2h
        - say: The mail arrives.
`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func writeScript(t *testing.T) string {
	return testutils.WriteScript(t, "porch.yaml", porch)
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "pitch version ")
}

func TestValidateCommand(t *testing.T) {
	out, err := execute(t, "validate", writeScript(t))
	require.NoError(t, err)
	assert.Contains(t, out, "Script is valid!")
	assert.Contains(t, out, "start at porch_enter_1")

	bad := testutils.WriteScript(t, "bad.yaml", "locations:\n  porch:\n    enter: Hi.\n    actions:\n      leave:\n        - goto: nowhere\n")
	_, err = execute(t, "validate", bad)
	assert.Error(t, err)
}

func TestGraphCommand(t *testing.T) {
	out, err := execute(t, "graph", "--store", "memory", writeScript(t))
	require.NoError(t, err)
	assert.Contains(t, out, "graph TD")
	assert.Contains(t, out, "porch_choice")
}
