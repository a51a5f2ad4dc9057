// Package pdf wraps the poppler command line tools used by the extraction pipeline.
package pdf

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"taxdesk/pkg/logger"
)

// Runner lets us stub external commands in tests.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

type execRunner struct {
	logger logger.Logger
}

func NewExecRunner(log logger.Logger) Runner {
	return &execRunner{logger: log}
}

func (r *execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, name, args...)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb

	err := cmd.Run()
	fields := map[string]interface{}{
		"cmd":         name,
		"args":        strings.Join(args, " "),
		"duration_ms": time.Since(start).Milliseconds(),
	}
	if err != nil {
		fields["error"] = err.Error()
		fields["stderr"] = truncate(errb.String(), 8<<10)
		r.logger.Error("pdf.exec.failed", fields)
	} else {
		fields["stdout_bytes"] = out.Len()
		r.logger.Debug("pdf.exec.ok", fields)
	}
	return out.Bytes(), errb.Bytes(), err
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
