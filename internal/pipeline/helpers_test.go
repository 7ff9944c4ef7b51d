package pipeline

import (
	"bytes"
	"compress/zlib"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/MFaiqKhan/sweepjudge/internal/domain/task"
)

type emitted struct {
	taskType string
	payload  map[string]any
	session  string
	dedup    string
}

type recordingEmitter struct {
	mu    sync.Mutex
	tasks []emitted
	err   error
}

func (e *recordingEmitter) EmitTask(_ context.Context, t *task.Task) error {
	if e.err != nil {
		return e.err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tasks = append(e.tasks, emitted{taskType: t.Type, payload: t.Payload, session: t.SessionID, dedup: t.DedupKey})
	return nil
}

func (e *recordingEmitter) EmitKarma(context.Context, string, int, string, string) error {
	return nil
}

func (e *recordingEmitter) types() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.tasks))
	for i, t := range e.tasks {
		out[i] = t.taskType
	}
	return out
}

type fakeCompleter struct {
	mu      sync.Mutex
	reply   func(system, prompt string) (string, error)
	systems []string
}

func (f *fakeCompleter) Complete(_ context.Context, system, prompt string) (string, error) {
	f.mu.Lock()
	f.systems = append(f.systems, system)
	f.mu.Unlock()
	return f.reply(system, prompt)
}

var errLLM = errors.New("llm down")

// writeFile stores content under a temp dir and returns its path.
func writeFile(t *testing.T, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

// buildPDF returns a minimal PDF with one Flate-compressed content stream
// per page.
func buildPDF(t *testing.T, pages ...string) []byte {
	t.Helper()
	var doc bytes.Buffer
	doc.WriteString("%PDF-1.4\n")
	for i, page := range pages {
		var content strings.Builder
		content.WriteString("BT /F1 12 Tf 72 720 Td\n")
		for _, line := range strings.Split(page, "\n") {
			content.WriteString("(" + strings.NewReplacer("(", `\(`, ")", `\)`).Replace(line) + ") Tj T*\n")
		}
		content.WriteString("ET")

		var z bytes.Buffer
		zw := zlib.NewWriter(&z)
		if _, err := zw.Write([]byte(content.String())); err != nil {
			t.Fatal(err)
		}
		if err := zw.Close(); err != nil {
			t.Fatal(err)
		}
		doc.WriteString(strconv.Itoa(i+4) + " 0 obj\n<< /Length " + strconv.Itoa(z.Len()) + " /Filter /FlateDecode >>\nstream\n")
		doc.Write(z.Bytes())
		doc.WriteString("\nendstream\nendobj\n")
	}
	doc.WriteString("%%EOF\n")
	return doc.Bytes()
}
