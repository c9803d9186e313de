// Package pyenv describes the Python virtual environment a sandbox's
// run_python convenience API executes scripts inside. leash does not manage
// venv creation itself; it only locates an interpreter and shapes the argv
// the sandbox launches, following the same "describe, don't own" contract
// internal/sandbox already applies to the Linux bridge processes it spawns.
package pyenv

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// Env describes an interpreter to run scripts with.
type Env struct {
	// VenvPath, if set, is the root of a virtualenv (containing bin/python
	// on POSIX or Scripts\python.exe on Windows).
	VenvPath string
	// Interpreter overrides the resolved interpreter path entirely.
	Interpreter string
}

// Resolve returns the interpreter path to exec, preferring an explicit
// Interpreter, then a VenvPath, then "python3" on PATH.
func (e Env) Resolve() (string, error) {
	if e.Interpreter != "" {
		return e.Interpreter, nil
	}
	if e.VenvPath != "" {
		bin := "bin/python"
		if runtime.GOOS == "windows" {
			bin = "Scripts/python.exe"
		}
		candidate := filepath.Join(e.VenvPath, bin)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
		return "", fmt.Errorf("pyenv: no interpreter found under venv %s", e.VenvPath)
	}
	return "python3", nil
}

// ScriptArgv builds the argv to execute source as a Python script. The
// script is written to scriptPath by the caller (inside the sandbox's
// workdir) before this argv is launched.
func (e Env) ScriptArgv(scriptPath string) ([]string, error) {
	interpreter, err := e.Resolve()
	if err != nil {
		return nil, err
	}
	return []string{interpreter, scriptPath}, nil
}
