package term

import (
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

// Signal types for PTY control
type Signal int

const (
	SIGINT  Signal = Signal(syscall.SIGINT)
	SIGTERM Signal = Signal(syscall.SIGTERM)
	SIGKILL Signal = Signal(syscall.SIGKILL)
)

// PTY represents a pseudo-terminal attached to a shell process.
// The child is started as a session leader (creack/pty sets Setsid),
// so its process group id equals its pid and the whole tree can be
// killed with one negative-pid signal.
type PTY struct {
	ID   string
	file *os.File
	cmd  *exec.Cmd

	mu     sync.Mutex
	closed bool
}

// NewPTY starts command on a fresh pseudo-terminal of the given size.
// If command is blank the default shell is used. dir is the working
// directory; env entries are appended to the inherited environment.
func NewPTY(id, command, dir string, cols, rows uint16, env map[string]string) (*PTY, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		// Empty or whitespace-only command means the default shell.
		fields = []string{DefaultShell()}
	}
	cmd := exec.Command(fields[0], fields[1:]...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Cols: cols,
		Rows: rows,
	})
	if err != nil {
		return nil, err
	}

	return &PTY{
		ID:   id,
		file: ptmx,
		cmd:  cmd,
	}, nil
}

// Read reads from the PTY
func (p *PTY) Read(buf []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, os.ErrClosed
	}
	file := p.file
	p.mu.Unlock()

	return file.Read(buf)
}

// Write writes to the PTY
func (p *PTY) Write(data []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, os.ErrClosed
	}
	file := p.file
	p.mu.Unlock()

	return file.Write(data)
}

// WriteSilent writes to the PTY with terminal echo suppressed, so the
// written bytes do not appear in the output stream. Used for injecting
// environment bootstrap commands. Best effort: if termios manipulation
// fails the write happens with echo.
func (p *PTY) WriteSilent(data []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, os.ErrClosed
	}
	file := p.file
	p.mu.Unlock()

	return writeSilentPlatform(file, data)
}

// Resize changes the PTY window size
func (p *PTY) Resize(cols, rows uint16) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return os.ErrClosed
	}

	return pty.Setsize(p.file, &pty.Winsize{
		Cols: cols,
		Rows: rows,
	})
}

// Signal sends a signal to the PTY process
func (p *PTY) Signal(sig Signal) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return os.ErrClosed
	}

	if p.cmd.Process == nil {
		return os.ErrProcessDone
	}

	return p.cmd.Process.Signal(syscall.Signal(sig))
}

// Close terminates the PTY and the whole process tree.
// The process group is signalled before the direct process handle so
// descendants cannot be orphaned. Idempotent.
func (p *PTY) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	if p.cmd.Process != nil {
		// Kill the group first (child is its own session leader),
		// then the process itself in case it escaped the group.
		_ = unix.Kill(-p.cmd.Process.Pid, unix.SIGKILL)
		_ = p.cmd.Process.Kill()
	}

	return p.file.Close()
}

// Done returns a channel that closes when the PTY process exits
func (p *PTY) Done() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		if p.cmd != nil {
			p.cmd.Wait()
		}
		close(done)
	}()
	return done
}
