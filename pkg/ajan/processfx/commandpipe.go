package processfx

import (
	"fmt"
	"os"
	"strconv"
)

// CommandPipeEnvVar names the environment variable a Supervisor sets on its
// spawned Server child to announce the inherited CommandPipe read end's file
// descriptor number (always 3, the first of exec.Cmd's ExtraFiles, but
// looked up dynamically rather than hard-coded at the call site).
const CommandPipeEnvVar = "DAEMONKIT_COMMAND_FD"

// CommandPipe is the supervisor-to-server command channel: the Supervisor
// writes one byte per forwarded Event, and the Server, running as the
// Supervisor's child, reads and decodes it into its own SignalQueue. This
// is how TERM/QUIT/USR1/HUP/USR2/INT received by the Supervisor's OS
// signal handler reach the Server without relying on the Server also being
// a direct signal target.
type CommandPipe struct {
	readEnd  *os.File
	writeEnd *os.File
}

func NewCommandPipe() (*CommandPipe, error) {
	readEnd, writeEnd, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create command pipe: %w", err)
	}

	return &CommandPipe{readEnd: readEnd, writeEnd: writeEnd}, nil
}

// ReadEnd is handed to the spawned server child as an inherited extra file
// descriptor (ExtraFiles in os/exec), mirroring HeartbeatPipe.WriteEnd.
func (p *CommandPipe) ReadEnd() *os.File { return p.readEnd }

// Send forwards event to the server child. Safe for a single writer (the
// Supervisor loop); CommandPipe has exactly one writer by construction.
func (p *CommandPipe) Send(event Event) error {
	if _, err := p.writeEnd.Write([]byte{byte(event)}); err != nil {
		return fmt.Errorf("failed to send command over pipe: %w", err)
	}

	return nil
}

// CloseReadEnd closes the parent's copy of the read end after the child has
// inherited it, mirroring HeartbeatPipe.CloseWriteEnd.
func (p *CommandPipe) CloseReadEnd() error {
	return p.readEnd.Close() //nolint:wrapcheck
}

func (p *CommandPipe) Close() error {
	_ = p.readEnd.Close()

	return p.writeEnd.Close() //nolint:wrapcheck
}

// OpenInheritedCommandPipe reports whether this process was spawned by a
// Supervisor with an inherited CommandPipe read end (CommandPipeEnvVar set),
// and returns it wrapped as an *os.File if so.
func OpenInheritedCommandPipe() (*os.File, bool) {
	val := os.Getenv(CommandPipeEnvVar)
	if val == "" {
		return nil, false
	}

	fd, err := strconv.Atoi(val)
	if err != nil {
		return nil, false
	}

	return os.NewFile(uintptr(fd), "commandpipe"), true
}

// WatchCommandFD runs in the Server process: it reads single-byte Event
// frames from fd (the inherited CommandPipe read end) and enqueues each into
// q, until fd hits EOF (the Supervisor exited or closed its write end) or
// stop is called.
func WatchCommandFD(fd *os.File, q *SignalQueue) (stop func()) {
	done := make(chan struct{})

	go func() {
		buf := make([]byte, 1)

		for {
			n, err := fd.Read(buf)
			if n > 0 {
				q.Enqueue(Event(buf[0]))
			}

			if err != nil {
				return
			}

			select {
			case <-done:
				return
			default:
			}
		}
	}()

	return func() {
		close(done)
		_ = fd.Close()
	}
}
