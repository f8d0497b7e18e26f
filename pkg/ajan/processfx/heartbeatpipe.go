package processfx

import (
	"fmt"
	"os"
	"strconv"
	"syscall"
	"time"
)

// HeartbeatPipeEnvVar announces the inherited heartbeat pipe write end's file
// descriptor number to a spawned worker process, mirroring CommandPipeEnvVar.
const HeartbeatPipeEnvVar = "DAEMONKIT_HEARTBEAT_FD"

// anyTimeInPast/noDeadline are used by NewHeartbeatPipe to probe the read
// end for deadline support and clear the deadline again. DrainNonBlocking
// does not use deadlines: a deadline already in the past makes Read fail
// with os.ErrDeadlineExceeded before any buffered byte is read.
var (
	anyTimeInPast = time.Unix(0, 0)
	noDeadline    = time.Time{}
)

// HeartbeatPipe is the process-backend liveness channel: a unidirectional
// byte pipe established by the Server before spawning a worker process. The
// worker end is inherited as an extra file descriptor (os.Pipe's write end);
// the worker writes one byte per beat. The monitor end drains all
// available bytes non-blockingly on each loop tick.
type HeartbeatPipe struct {
	readEnd  *os.File
	writeEnd *os.File
	buf      []byte
}

func NewHeartbeatPipe() (*HeartbeatPipe, error) {
	readEnd, writeEnd, err := os.Pipe()
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	if err := readEnd.SetReadDeadline(anyTimeInPast); err == nil {
		// Best effort: some platforms support deadlines on pipes and some do
		// not; unsupported errors are ignored and no deadline is left set.
		_ = readEnd.SetReadDeadline(noDeadline)
	}

	return &HeartbeatPipe{
		readEnd:  readEnd,
		writeEnd: writeEnd,
		buf:      make([]byte, 4096), //nolint:mnd
	}, nil
}

// WriteEnd is handed to the spawned child as an inherited extra file
// descriptor (ExtraFiles in os/exec).
func (p *HeartbeatPipe) WriteEnd() *os.File {
	return p.writeEnd
}

// DrainNonBlocking reads all bytes currently available without blocking and
// reports whether at least one was consumed (i.e. the worker beat since the
// last drain).
func (p *HeartbeatPipe) DrainNonBlocking() bool {
	rawConn, err := p.readEnd.SyscallConn()
	if err != nil {
		return false
	}

	consumed := false

	// os.Pipe's read end is O_NONBLOCK, so an empty pipe yields EAGAIN;
	// returning true keeps RawConn.Read from waiting for more data.
	_ = rawConn.Read(func(fd uintptr) bool {
		for {
			n, readErr := syscall.Read(int(fd), p.buf)
			if n > 0 {
				consumed = true
			}

			if readErr != nil || n <= 0 {
				return true
			}
		}
	})

	return consumed
}

// CloseWriteEnd closes the parent's copy of the write end after the child
// has inherited it, so EOF on the read end is observable once the child
// exits without closing it explicitly.
func (p *HeartbeatPipe) CloseWriteEnd() error {
	return p.writeEnd.Close() //nolint:wrapcheck
}

func (p *HeartbeatPipe) Close() error {
	_ = p.writeEnd.Close()

	return p.readEnd.Close() //nolint:wrapcheck
}

// ChildHeartbeat is the worker-process side of the pipe: one Beat call per
// heartbeat, writing a single byte to the inherited pipe.
type ChildHeartbeat struct {
	file *os.File
}

// Beat sends one heartbeat byte. Safe to call repeatedly from the worker's
// own loop.
func (c *ChildHeartbeat) Beat() error {
	if _, err := c.file.Write([]byte{1}); err != nil {
		return fmt.Errorf("failed to write heartbeat: %w", err)
	}

	return nil
}

func (c *ChildHeartbeat) Close() error {
	return c.file.Close() //nolint:wrapcheck
}

// OpenInheritedHeartbeatPipe reports whether this process was spawned as a
// process-backend worker with an inherited HeartbeatPipe write end
// (HeartbeatPipeEnvVar set), and returns a ChildHeartbeat wrapping it if so.
func OpenInheritedHeartbeatPipe() (*ChildHeartbeat, bool) {
	val := os.Getenv(HeartbeatPipeEnvVar)
	if val == "" {
		return nil, false
	}

	fd, err := strconv.Atoi(val)
	if err != nil {
		return nil, false
	}

	return &ChildHeartbeat{file: os.NewFile(uintptr(fd), "heartbeatpipe")}, true
}
