package supervisor

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"mediapub/internal/workerproto"
)

type process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	writer *workerproto.Writer
	exited chan struct{}

	// stopping is guarded by the supervisor mutex.
	stopping bool

	errMu sync.Mutex
	err   error
}

func (p *process) pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *process) exitErr() error {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	return p.err
}

// terminate signals the process group with SIGTERM, then SIGKILL after
// grace, and waits for the exit.
func (p *process) terminate(grace time.Duration) error {
	if err := signalGroup(p.pid(), syscall.SIGTERM); err != nil {
		return fmt.Errorf("terminate worker: %w", err)
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-p.exited:
		return nil
	case <-timer.C:
	}
	if err := signalGroup(p.pid(), syscall.SIGKILL); err != nil {
		return fmt.Errorf("kill worker: %w", err)
	}
	<-p.exited
	return nil
}

// spawn must be called with s.mu held.
func (s *Supervisor) spawn() (*process, error) {
	exe, err := s.executable()
	if err != nil {
		return nil, err
	}
	cmd := exec.Command(exe, s.workerArgs()...) //nolint:gosec
	cmd.Env = append(os.Environ(), s.opts.Env...)
	setProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker: %w", err)
	}

	p := &process{
		cmd:    cmd,
		stdin:  stdin,
		writer: workerproto.NewWriter(stdin),
		exited: make(chan struct{}),
	}
	s.proc = p
	s.logger.Info("worker started", zap.Int("pid", p.pid()), zap.String("executable", exe))

	logsDone := make(chan struct{})
	go func() {
		defer close(logsDone)
		s.forwardLogs(stderr)
	}()
	go func() {
		s.readMessages(p, stdout)
		<-logsDone
		err := cmd.Wait()
		p.errMu.Lock()
		p.err = err
		p.errMu.Unlock()
		s.handleExit(p)
		close(p.exited)
	}()
	return p, nil
}

func (s *Supervisor) readMessages(p *process, stdout io.Reader) {
	reader := workerproto.NewReader(stdout)
	for {
		msg, err := reader.Read()
		if errors.Is(err, workerproto.ErrMalformed) {
			s.logger.Warn("unreadable worker message", zap.Error(err))
			continue
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Warn("read worker messages", zap.Error(err))
				_, _ = io.Copy(io.Discard, stdout)
			}
			return
		}
		s.handleMessage(p, msg)
	}
}

// forwardLogs re-emits the worker's JSON log lines through the supervisor
// logger, keeping their level and fields.
func (s *Supervisor) forwardLogs(stderr io.Reader) {
	logger := s.logger.With(zap.String("source", "worker"))
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal(line, &entry); err != nil {
			logger.Info(string(line))
			continue
		}
		level := zapcore.InfoLevel
		if raw, ok := entry["level"].(string); ok {
			if parsed, err := zapcore.ParseLevel(raw); err == nil {
				level = min(parsed, zapcore.ErrorLevel)
			}
		}
		msg, _ := entry["msg"].(string)
		fields := make([]zap.Field, 0, len(entry))
		for key, value := range entry {
			switch key {
			case "level", "msg", "ts", "caller", "logger", "stacktrace":
				continue
			}
			fields = append(fields, zap.Any(key, value))
		}
		if ce := logger.Check(level, msg); ce != nil {
			ce.Write(fields...)
		}
	}
	_, _ = io.Copy(io.Discard, stderr)
}
