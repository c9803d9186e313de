package pyenv

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePrefersExplicitInterpreter(t *testing.T) {
	env := Env{Interpreter: "/usr/bin/python3.11", VenvPath: "/should/be/ignored"}
	got, err := env.Resolve()
	require.NoError(t, err)
	assert.Equal(t, "/usr/bin/python3.11", got)
}

func TestResolveFromVenvPath(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("venv layout test targets the POSIX bin/python layout")
	}
	venv := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(venv, "bin"), 0o755))
	interp := filepath.Join(venv, "bin", "python")
	require.NoError(t, os.WriteFile(interp, []byte("#!/bin/sh\n"), 0o755))

	env := Env{VenvPath: venv}
	got, err := env.Resolve()
	require.NoError(t, err)
	assert.Equal(t, interp, got)
}

func TestResolveVenvMissingInterpreterErrors(t *testing.T) {
	env := Env{VenvPath: t.TempDir()}
	_, err := env.Resolve()
	assert.Error(t, err)
}

func TestResolveDefaultsToPython3OnPath(t *testing.T) {
	env := Env{}
	got, err := env.Resolve()
	require.NoError(t, err)
	assert.Equal(t, "python3", got)
}

func TestScriptArgv(t *testing.T) {
	env := Env{Interpreter: "/usr/bin/python3"}
	argv, err := env.ScriptArgv("/tmp/leash-abc/script.py")
	require.NoError(t, err)
	assert.Equal(t, []string{"/usr/bin/python3", "/tmp/leash-abc/script.py"}, argv)
}
