/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package engine

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_tv/internal/logbuffer"
)

// Process is a supervised encoder or relay subprocess.
type Process interface {
	Alive() bool
	Stop() error
	PID() int
}

// Spawner launches ffmpeg subprocesses.
type Spawner interface {
	Spawn(component string, args []string) (Process, error)
}

// ExecSpawner runs the real ffmpeg binary. Stderr is drained line by line
// into the log buffer so encoder output shows up next to engine logs.
type ExecSpawner struct {
	Bin    string
	Logger zerolog.Logger
	LogBuf *logbuffer.Buffer
}

// OSProcess wraps a running exec.Cmd. The done channel is closed by the
// single Wait goroutine, so Alive is a non-blocking poll.
type OSProcess struct {
	mu   sync.Mutex
	cmd  *exec.Cmd
	done chan struct{}
}

// Spawn starts the binary with the given arguments.
func (s *ExecSpawner) Spawn(component string, args []string) (Process, error) {
	cmd := exec.Command(s.Bin, args...)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", component, err)
	}

	p := &OSProcess{
		cmd:  cmd,
		done: make(chan struct{}),
	}

	logger := s.Logger.With().Str("component", component).Int("pid", cmd.Process.Pid).Logger()

	// Drain stderr until the process exits; the scanner terminates when the
	// pipe closes, so no reader is orphaned.
	go func() {
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
		for scanner.Scan() {
			line := scanner.Text()
			logger.Debug().Msg(line)
			if s.LogBuf != nil {
				s.LogBuf.Add(logbuffer.LogEntry{
					Timestamp: time.Now(),
					Level:     "debug",
					Component: component,
					Message:   line,
				})
			}
		}
	}()

	go func(done chan struct{}, c *exec.Cmd) {
		err := c.Wait()
		close(done)
		if err != nil {
			logger.Debug().Err(err).Msg("process exited")
		} else {
			logger.Info().Msg("process stopped")
		}
	}(p.done, cmd)

	logger.Info().Msg("process started")
	return p, nil
}

// Alive reports whether the process is still running.
func (p *OSProcess) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// PID returns the OS process id.
func (p *OSProcess) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Stop interrupts the process, escalating to a kill after a timeout.
func (p *OSProcess) Stop() error {
	p.mu.Lock()
	cmd := p.cmd
	done := p.done
	p.mu.Unlock()

	select {
	case <-done:
		return nil
	default:
	}

	if cmd.Process != nil {
		_ = cmd.Process.Signal(os.Interrupt)
	}

	select {
	case <-time.After(5 * time.Second):
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		<-done
	case <-done:
	}

	return nil
}
