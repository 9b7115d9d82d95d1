package mcp

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"
)

// commandStopTimeout is how long a spawned server gets to exit after
// its stdin closes before it is killed.
const commandStopTimeout = 5 * time.Second

// commandCloser shuts a spawned server down: closing stdin signals a
// well-behaved server to exit on EOF; the kill is the backstop.
type commandCloser struct {
	cmd   *exec.Cmd
	stdin io.Closer
}

func (c *commandCloser) Close() error {
	c.stdin.Close()

	done := make(chan error, 1)
	go func() { done <- c.cmd.Wait() }()

	select {
	case err := <-done:
		return err
	case <-time.After(commandStopTimeout):
		c.cmd.Process.Kill()
		return <-done
	}
}

// SpawnCommand starts a protocol server as a child process and speaks
// newline-delimited JSON over its stdin/stdout. The child's stderr
// passes through to ours so its logs stay visible. Closing the
// transport closes the child's stdin and reaps the process.
func SpawnCommand(name string, args ...string) (*StdioTransport, error) {
	cmd := exec.Command(name, args...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("open stdin pipe for %s: %w", name, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("open stdout pipe for %s: %w", name, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", name, err)
	}

	return NewStdioTransport(stdout, stdin, &commandCloser{cmd: cmd, stdin: stdin}), nil
}
