package capture

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
)

// CommandDevice runs an external recorder (arecord, sox, ffmpeg) that writes
// raw mono s16le to stdout. Each Open starts a new process and Close kills
// it, so nothing captured while the device was closed is ever read.
type CommandDevice struct {
	name string
	args []string

	mu     sync.Mutex
	cmd    *exec.Cmd
	stream *StreamDevice
	stdout io.ReadCloser
}

func NewCommandDevice(name string, args ...string) *CommandDevice {
	return &CommandDevice{name: name, args: args}
}

func (d *CommandDevice) Open(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cmd != nil {
		return nil
	}

	cmd := exec.CommandContext(ctx, d.name, d.args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("capture: %s stdout: %w", d.name, err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("capture: start %s: %w", d.name, err)
	}

	d.cmd = cmd
	d.stdout = stdout
	d.stream = NewStreamDevice(stdout, 1)
	return d.stream.Open(ctx)
}

func (d *CommandDevice) Read(buf []int16) error {
	d.mu.Lock()
	stream := d.stream
	d.mu.Unlock()
	if stream == nil {
		return ErrDeviceClosed
	}
	if err := stream.Read(buf); err != nil {
		if err == ErrEndOfInput {
			// A live recorder never ends on its own.
			return fmt.Errorf("capture: %s exited", d.name)
		}
		return err
	}
	return nil
}

func (d *CommandDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cmd == nil {
		return nil
	}
	d.stream.Close()
	if d.cmd.Process != nil {
		d.cmd.Process.Kill()
	}
	d.stdout.Close()
	d.cmd.Wait()
	d.cmd, d.stream, d.stdout = nil, nil, nil
	return nil
}
