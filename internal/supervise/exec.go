package supervise

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
)

// scanBufferSize accommodates single stream-json lines carrying large tool
// results.
const scanBufferSize = 1 << 20

type execLauncher struct{}

func (execLauncher) Launch(ctx context.Context, spec Spec) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := exec.LookPath(spec.Executable)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrExecutableNotFound, spec.Executable)
	}

	cmd := exec.Command(path, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("open stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("open stderr pipe: %w", err)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("open stdin pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %q: %w", spec.Executable, err)
	}

	// Deliver the prompt and close stdin so line-mode CLIs see EOF.
	go func() {
		if spec.Stdin != "" {
			_, _ = io.WriteString(stdin, spec.Stdin)
		}
		_ = stdin.Close()
	}()

	proc := &execProcess{
		cmd:   cmd,
		lines: make(chan string, 64),
	}

	var readers sync.WaitGroup
	readers.Add(2)
	go proc.scan(stdout, &readers)
	go proc.scan(stderr, &readers)
	go func() {
		readers.Wait()
		close(proc.lines)
	}()

	return proc, nil
}

type execProcess struct {
	cmd   *exec.Cmd
	lines chan string

	waitOnce sync.Once
	exitCode int
	waitErr  error
}

func (p *execProcess) Lines() <-chan string {
	return p.lines
}

func (p *execProcess) scan(r io.Reader, readers *sync.WaitGroup) {
	defer readers.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), scanBufferSize)
	for scanner.Scan() {
		p.lines <- scanner.Text()
	}
}

func (p *execProcess) Wait() (int, error) {
	p.waitOnce.Do(func() {
		err := p.cmd.Wait()
		if p.cmd.ProcessState != nil {
			p.exitCode = p.cmd.ProcessState.ExitCode()
		} else {
			p.exitCode = -1
		}
		if _, isExit := err.(*exec.ExitError); err != nil && !isExit {
			p.waitErr = err
		}
	})
	return p.exitCode, p.waitErr
}

func (p *execProcess) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}

var _ Launcher = execLauncher{}
var _ Process = (*execProcess)(nil)
