package pslq

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
)

// request is the JSON document written to the kernel's stdin, one per call.
type request struct {
	Constants []Input `json:"constants"`
	Degree    int     `json:"degree"`
	Order     int     `json:"order"`
	Precision int     `json:"precision"`
	ROI       float64 `json:"roi"`
}

// response is the JSON document expected on the kernel's stdout.
type response struct {
	Relations []Found `json:"relations"`
	Error     string  `json:"error,omitempty"`
}

// Exec drives an external kernel binary. Each Test call spawns one process,
// writes a request to stdin, and reads the response from stdout. The process
// is killed when ctx is cancelled.
type Exec struct {
	Command string
	Args    []string
}

// NewExec returns an Exec adapter for the given command line.
func NewExec(command string, args ...string) *Exec {
	return &Exec{Command: command, Args: args}
}

// Test implements Tester.
func (e *Exec) Test(ctx context.Context, consts []Input, degree, order, precision int, roi float64) ([]Found, error) {
	if strings.TrimSpace(e.Command) == "" {
		return nil, fmt.Errorf("pslq kernel command not configured")
	}
	payload, err := json.Marshal(request{
		Constants: consts,
		Degree:    degree,
		Order:     order,
		Precision: precision,
		ROI:       roi,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal kernel request: %w", err)
	}

	cmd := exec.CommandContext(ctx, e.Command, e.Args...)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("kernel %s: %w (stderr: %s)", e.Command, err, strings.TrimSpace(stderr.String()))
	}

	var resp response
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("decode kernel response: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("kernel reported: %s", resp.Error)
	}
	return resp.Relations, nil
}

var _ Tester = (*Exec)(nil)
