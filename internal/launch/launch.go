// Package launch spawns interactive agent CLIs under a pseudo-terminal
// and bridges their byte streams into the prompt/output channels the
// terminal adapter consumes.
package launch

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
)

// outBuffer sizes the output channel. The orchestrator drains it every
// tick, so it only needs to absorb one tick's worth of chunks.
const outBuffer = 256

// Process is one agent CLI running under a pty. In carries prompt lines
// to the CLI; Out carries raw terminal chunks back. Out is closed after
// the process exits and the exit sentinel has been delivered, which the
// terminal adapter turns into a Disconnected event.
type Process struct {
	Name string
	PID  int
	In   chan string
	Out  chan string

	tty *os.File
	cmd *exec.Cmd

	stopOnce sync.Once
}

// Start spawns the command under a pseudo-terminal and starts the bridge
// loops. Extra env entries are appended to the parent environment, which
// is how decrypted vault secrets reach the CLI.
func Start(command string, args, extraEnv []string) (*Process, error) {
	cmd := exec.Command(command, args...)
	cmd.Env = append(os.Environ(), extraEnv...)

	tty, err := pty.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("spawn %s: %w", command, err)
	}

	p := &Process{
		Name: command,
		PID:  cmd.Process.Pid,
		In:   make(chan string, 16),
		Out:  make(chan string, outBuffer),
		tty:  tty,
		cmd:  cmd,
	}
	go p.readLoop()
	go p.writeLoop()
	return p, nil
}

// readLoop copies terminal output into Out. When the pty read fails the
// process is gone; the loop reaps it, appends the exit sentinel so the
// adapter sees a disconnect even if a consumer misses the channel close,
// then closes Out.
func (p *Process) readLoop() {
	defer close(p.Out)

	buf := make([]byte, 4096)
	for {
		n, err := p.tty.Read(buf)
		if n > 0 {
			p.Out <- string(buf[:n])
		}
		if err != nil {
			break
		}
	}

	code := 0
	if err := p.cmd.Wait(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		}
	}
	p.Out <- fmt.Sprintf("%s CLI exited with status %d", p.Name, code)
}

func (p *Process) writeLoop() {
	for line := range p.In {
		if _, err := io.WriteString(p.tty, line); err != nil {
			return
		}
	}
}

// Stop kills the CLI process and releases the bridge loops. The read
// loop still delivers the exit sentinel before Out closes, so a stop
// surfaces to the orchestrator as a normal disconnect.
func (p *Process) Stop() {
	p.stopOnce.Do(func() {
		close(p.In)
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
		}
		p.tty.Close()
	})
}
