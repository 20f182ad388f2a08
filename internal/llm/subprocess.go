package llm

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"codemap/internal/summarize"
)

// Subprocess shells out to a summarizer binary. The entity payload is
// written to a temp file and the instruction arrives on stdin; the summary
// is read from stdout.
type Subprocess struct {
	bin  string
	args []string
}

// NewSubprocess creates a backend around the given binary and arguments.
func NewSubprocess(bin string, args ...string) *Subprocess {
	return &Subprocess{bin: bin, args: args}
}

// Name identifies this backend by binary name in persisted summary records.
func (s *Subprocess) Name() string {
	return strings.TrimSuffix(filepath.Base(s.bin), filepath.Ext(s.bin))
}

// Summarize runs the binary once for the entity. The process is killed
// when ctx expires.
func (s *Subprocess) Summarize(ctx context.Context, req summarize.Request) (string, error) {
	bin, err := exec.LookPath(s.bin)
	if err != nil {
		return "", fmt.Errorf("summarizer binary not found: %s", s.bin)
	}

	dir, err := os.MkdirTemp("", "codemap-summarize-")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(dir)

	var payload strings.Builder
	fmt.Fprintf(&payload, "ENTITY\nkind: %s\nfqname: %s\nsignature: %s\n\n", req.Kind, req.FQName, req.Signature)
	fmt.Fprintf(&payload, "DOCSTRING (may be empty)\n%s\n\n", req.Docstring)
	fmt.Fprintf(&payload, "CODE\n%s\n", req.Code)

	payloadPath := filepath.Join(dir, "entity.txt")
	if err := os.WriteFile(payloadPath, []byte(payload.String()), 0o600); err != nil {
		return "", err
	}

	prompt := fmt.Sprintf("Read the file at: %s\n\n%s", filepath.ToSlash(payloadPath), summarize.Template)

	cmd := exec.CommandContext(ctx, bin, s.args...)
	cmd.Stdin = strings.NewReader(prompt)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%s failed: %v: %s", s.Name(), err, strings.TrimSpace(stderr.String()))
	}

	text := strings.TrimSpace(stdout.String())
	if text == "" {
		return "", fmt.Errorf("%s returned empty output", s.Name())
	}
	return text, nil
}
