package source

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"bluescan/internal/lineparse"
	"bluescan/internal/observation"
)

// quitGrace is how long Stop waits for bluetoothctl to exit after "quit"
// before killing it.
const quitGrace = 2 * time.Second

// CtlSource drives a bluetoothctl process over its line protocol: commands
// are written to stdin, free-text lines (with prompt and color noise) are
// read back from a combined stdout/stderr stream.
type CtlSource struct {
	binary string
	log    zerolog.Logger

	cmd     *exec.Cmd
	stdin   io.WriteCloser
	outPipe *os.File
	out     chan observation.Partial
	stopped chan struct{}
}

// NewCtlSource creates a source that spawns the given bluetoothctl binary.
func NewCtlSource(binary string, log zerolog.Logger) *CtlSource {
	return &CtlSource{
		binary: binary,
		log:    log.With().Str("source", "bluetoothctl").Logger(),
	}
}

// Name returns the channel identifier.
func (s *CtlSource) Name() string { return "bluetoothctl" }

// Start spawns bluetoothctl and issues "scan on". A missing binary or a
// failed spawn is fatal for the session; an unpowered controller is only a
// warning, since scanning will simply find nothing.
func (s *CtlSource) Start(ctx context.Context) (<-chan observation.Partial, error) {
	if _, err := exec.LookPath(s.binary); err != nil {
		return nil, fmt.Errorf("bluetoothctl not available: %w", err)
	}

	if powered, err := s.controllerPowered(ctx); err != nil {
		s.log.Warn().Err(err).Msg("controller status check failed")
	} else if !powered {
		s.log.Warn().Msg("controller is not powered on; try `bluetoothctl power on`")
	}

	// stdout and stderr share one pipe, mirroring how the tool behaves in
	// a terminal.
	readEnd, writeEnd, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create pipe: %w", err)
	}

	cmd := exec.Command(s.binary)
	cmd.Stdout = writeEnd
	cmd.Stderr = writeEnd

	stdin, err := cmd.StdinPipe()
	if err != nil {
		readEnd.Close()
		writeEnd.Close()
		return nil, fmt.Errorf("open stdin: %w", err)
	}

	if err := cmd.Start(); err != nil {
		readEnd.Close()
		writeEnd.Close()
		return nil, fmt.Errorf("spawn %s: %w", s.binary, err)
	}
	// The child holds its own copy of the write end; dropping ours makes
	// the read end report EOF when the process exits.
	writeEnd.Close()

	s.cmd = cmd
	s.stdin = stdin
	s.outPipe = readEnd
	s.out = make(chan observation.Partial, signalBuffer)
	s.stopped = make(chan struct{})

	if err := s.send("scan on"); err != nil {
		s.log.Warn().Err(err).Msg("scan on failed")
	}

	go s.read(ctx)

	return s.out, nil
}

// Stop turns scanning off and asks the process to quit, killing it if it
// does not exit within the grace period.
func (s *CtlSource) Stop(ctx context.Context) error {
	// Unblock the reader if the session already stopped draining.
	close(s.stopped)

	// Broken pipes here just mean the process already died; the wait
	// below sorts that out.
	_ = s.send("scan off")
	_ = s.send("quit")
	s.stdin.Close()

	done := make(chan error, 1)
	go func() { done <- s.cmd.Wait() }()

	var err error
	select {
	case err = <-done:
	case <-time.After(quitGrace):
		s.log.Debug().Msg("bluetoothctl did not quit, killing")
		s.cmd.Process.Kill()
		err = <-done
	case <-ctx.Done():
		s.cmd.Process.Kill()
		err = <-done
	}

	s.outPipe.Close()

	if err != nil && !isExpectedExit(err) {
		return fmt.Errorf("bluetoothctl exit: %w", err)
	}
	return nil
}

// read scans the combined output stream, forwarding device announcements
// until the process closes its side of the pipe.
func (s *CtlSource) read(ctx context.Context) {
	defer close(s.out)

	scanner := bufio.NewScanner(s.outPipe)
	for scanner.Scan() {
		line := scanner.Text()
		s.log.Debug().Str("raw", line).Msg("line")

		obs, ok := lineparse.Parse(line)
		if !ok {
			continue
		}
		select {
		case s.out <- obs:
		case <-ctx.Done():
		case <-s.stopped:
		}
	}
}

// send writes one command line to the process.
func (s *CtlSource) send(command string) error {
	_, err := io.WriteString(s.stdin, command+"\n")
	return err
}

// controllerPowered runs a short `show` command sequence in a separate
// bluetoothctl invocation and reports whether the controller is powered.
func (s *CtlSource) controllerPowered(ctx context.Context) (bool, error) {
	statusCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(statusCtx, s.binary)
	cmd.Stdin = strings.NewReader("show\nquit\n")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return false, fmt.Errorf("status query: %w", err)
	}

	for _, line := range strings.Split(string(output), "\n") {
		if strings.Contains(lineparse.Clean(line), "Powered: yes") {
			return true, nil
		}
	}
	return false, nil
}

// isExpectedExit reports whether the error is just a non-zero or killed
// exit status, which is normal when we tear the process down ourselves.
func isExpectedExit(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr)
}
