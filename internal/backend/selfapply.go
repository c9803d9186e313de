package backend

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/leash-sh/leash/internal/sandbox"
)

// selfApplyMarker is argv[1] of the re-exec leash performs as the first
// process inside a Linux bwrap namespace. Any binary that imports this
// package recognizes it, which is what lets Landlock and the in-namespace
// proxy bridge apply to every pkg/leash caller and every test binary, not
// just a process named "leash" — the self re-exec is glue code owned by
// this package, not a CLI-only flag.
const selfApplyMarker = "__leash_apply__"

// selfApplyPayload is the pre-resolved, already-expanded state runSelfApply
// needs to finish setting up a Linux sandbox namespace before exec'ing the
// real command. Everything here is plain data: no *policy.Config, no path
// globs left to expand — all of that happened in the parent process before
// the bwrap argv was built.
type selfApplyPayload struct {
	Writable    []string `json:"writable,omitempty"`
	ReadOnly    []string `json:"readOnly,omitempty"`
	UseLandlock bool     `json:"useLandlock,omitempty"`

	HTTPSocket  string `json:"httpSocket,omitempty"`
	SOCKSSocket string `json:"socksSocket,omitempty"`

	ReversePorts   []int    `json:"reversePorts,omitempty"`
	ReverseSockets []string `json:"reverseSockets,omitempty"`

	Debug bool `json:"debug,omitempty"`
}

func encodeSelfApplyPayload(p selfApplyPayload) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(data), nil
}

func decodeSelfApplyPayload(encoded string) (selfApplyPayload, error) {
	var p selfApplyPayload
	data, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return p, err
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, err
	}
	return p, nil
}

// init intercepts the self-apply marker before main() runs. It is a no-op
// for every process that doesn't start with the marker, which is every
// process except the bwrap-launched re-exec this package itself constructs.
func init() {
	if len(os.Args) < 3 || os.Args[1] != selfApplyMarker {
		return
	}
	runSelfApply(os.Args[2:])
}

// runSelfApply never returns on success: it ends in syscall.Exec. On
// failure it prints to stderr and exits non-zero rather than falling
// through to an unsandboxed exec of the real command.
func runSelfApply(args []string) {
	if len(args) < 2 || args[1] != "--" {
		fmt.Fprintln(os.Stderr, "leash: malformed self-apply invocation")
		os.Exit(1)
	}
	payload, err := decodeSelfApplyPayload(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "leash: self-apply: decoding payload: %v\n", err)
		os.Exit(1)
	}
	argv := args[2:]
	if len(argv) == 0 {
		fmt.Fprintln(os.Stderr, "leash: self-apply: empty command")
		os.Exit(1)
	}

	bridges := startInNamespaceBridges(payload)
	defer func() {
		for _, b := range bridges {
			_ = b.Process.Kill()
		}
	}()

	if payload.UseLandlock {
		if err := sandbox.ApplyLandlock(payload.Writable, payload.ReadOnly, payload.Debug); err != nil {
			fmt.Fprintf(os.Stderr, "leash: self-apply: landlock: %v\n", err)
			os.Exit(1)
		}
	}

	execPath, err := exec.LookPath(argv[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "leash: self-apply: %v\n", err)
		os.Exit(127)
	}
	env := sandbox.FilterDangerousEnv(os.Environ())
	if err := syscall.Exec(execPath, argv, env); err != nil {
		fmt.Fprintf(os.Stderr, "leash: self-apply: exec: %v\n", err)
		os.Exit(1)
	}
}

// startInNamespaceBridges starts the socat processes that splice the
// sandboxed network namespace's well-known loopback ports to the bridge
// sockets bound outside the namespace. These replace the teacher's inline
// shell-script `socat ... &` lines with plain os/exec calls.
func startInNamespaceBridges(p selfApplyPayload) []*exec.Cmd {
	var cmds []*exec.Cmd

	start := func(listenSpec, connectSpec string) {
		cmd := exec.Command("socat", listenSpec, connectSpec)
		if p.Debug {
			cmd.Stdout = os.Stderr
			cmd.Stderr = os.Stderr
		} else {
			cmd.Stdout = io.Discard
			cmd.Stderr = io.Discard
		}
		if err := cmd.Start(); err == nil {
			cmds = append(cmds, cmd)
		} else if p.Debug {
			fmt.Fprintf(os.Stderr, "leash: self-apply: socat: %v\n", err)
		}
	}

	if p.HTTPSocket != "" {
		start(fmt.Sprintf("TCP-LISTEN:%d,fork,reuseaddr,bind=127.0.0.1", sandbox.InNamespaceHTTPPort), "UNIX-CONNECT:"+p.HTTPSocket)
	}
	if p.SOCKSSocket != "" {
		start(fmt.Sprintf("TCP-LISTEN:%d,fork,reuseaddr,bind=127.0.0.1", sandbox.InNamespaceSOCKSPort), "UNIX-CONNECT:"+p.SOCKSSocket)
	}
	for i, port := range p.ReversePorts {
		if i >= len(p.ReverseSockets) {
			break
		}
		start(fmt.Sprintf("TCP-LISTEN:%d,fork,reuseaddr", port), "UNIX-CONNECT:"+p.ReverseSockets[i])
	}

	if len(cmds) > 0 {
		time.Sleep(100 * time.Millisecond)
		if p.HTTPSocket != "" {
			os.Setenv("HTTP_PROXY", fmt.Sprintf("http://127.0.0.1:%d", sandbox.InNamespaceHTTPPort))
			os.Setenv("HTTPS_PROXY", fmt.Sprintf("http://127.0.0.1:%d", sandbox.InNamespaceHTTPPort))
			os.Setenv("http_proxy", fmt.Sprintf("http://127.0.0.1:%d", sandbox.InNamespaceHTTPPort))
			os.Setenv("https_proxy", fmt.Sprintf("http://127.0.0.1:%d", sandbox.InNamespaceHTTPPort))
		}
		if p.SOCKSSocket != "" {
			os.Setenv("ALL_PROXY", fmt.Sprintf("socks5h://127.0.0.1:%d", sandbox.InNamespaceSOCKSPort))
			os.Setenv("all_proxy", fmt.Sprintf("socks5h://127.0.0.1:%d", sandbox.InNamespaceSOCKSPort))
		}
	}

	return cmds
}
