// Command leash-ipc-helper is the external collaborator binary for a
// sandbox's IPC surface: it reads LEASH_IPC_SOCKET, sends one framed
// request, and prints the response payload to stdout.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/leash-sh/leash/internal/ipc"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: leash-ipc-helper <command> [json-payload]")
		os.Exit(2)
	}

	socketPath := os.Getenv("LEASH_IPC_SOCKET")
	if socketPath == "" {
		fmt.Fprintln(os.Stderr, "leash-ipc-helper: LEASH_IPC_SOCKET is not set")
		os.Exit(1)
	}

	req := ipc.Request{Name: os.Args[1]}
	if len(os.Args) > 2 {
		var payload any
		if err := json.Unmarshal([]byte(os.Args[2]), &payload); err != nil {
			fmt.Fprintf(os.Stderr, "leash-ipc-helper: invalid JSON payload: %v\n", err)
			os.Exit(2)
		}
		req.Payload = payload
	}

	resp, err := ipc.DialAndCall(socketPath, req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "leash-ipc-helper: %v\n", err)
		os.Exit(1)
	}

	if !resp.OK {
		fmt.Fprintln(os.Stderr, resp.Error)
		os.Exit(1)
	}

	out, err := json.Marshal(resp.Payload)
	if err != nil {
		fmt.Fprintf(os.Stderr, "leash-ipc-helper: encoding response: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
}
