package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/MFaiqKhan/sweepjudge/internal/domain"
	"github.com/MFaiqKhan/sweepjudge/internal/domain/task"
	"github.com/MFaiqKhan/sweepjudge/internal/port/worker"
)

const defaultUserAgent = "SweepJudge/1.0"

// Fetcher downloads the document behind payload.url and hands its local
// path to the reader and prefilter.
type Fetcher struct {
	id        string
	client    *http.Client
	dir       string
	maxBytes  int64
	userAgent string
	limit     *Limiter
}

// NewFetcher builds a fetcher. Config key user_agent overrides the default.
func NewFetcher(id string, cfg map[string]any, deps Deps) *Fetcher {
	return &Fetcher{
		id:        id,
		client:    deps.httpClient(),
		dir:       deps.Worker.DownloadDir,
		maxBytes:  deps.Worker.MaxFetchBytes,
		userAgent: configString(cfg, "user_agent", defaultUserAgent),
		limit:     deps.Downloads,
	}
}

func (f *Fetcher) Capabilities() worker.Capabilities {
	return worker.Capabilities{TaskTypes: []string{task.TypeFetchPaper}}
}

func (f *Fetcher) Handle(ctx context.Context, t *task.Task, emit worker.Emitter) error {
	rawURL, err := t.RequireString("url")
	if err != nil {
		return err
	}
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: url must be http or https: %q", domain.ErrValidation, rawURL)
	}

	var path string
	err = f.limit.Run(ctx, func() error {
		path, err = f.download(ctx, rawURL)
		return err
	})
	if err != nil {
		return err
	}

	t.Artifacts = []task.Artifact{{
		Name:  "paper",
		Parts: []task.Part{task.FileURIPart(filepath.Base(path), "application/pdf", "file://"+path)},
	}}
	t.Phase = task.PhaseCompleted

	payload := map[string]any{"pdf_path": path}
	for _, next := range []string{task.TypeSummarisePaper, task.TypeFilterPages} {
		if err := emit.EmitTask(ctx, task.New(next, maps.Clone(payload))); err != nil {
			return fmt.Errorf("emit %s: %w", next, err)
		}
	}
	slog.Info("paper fetched", "worker", f.id, "url", rawURL, "path", path)
	return nil
}

// download stores url under a name derived from its hash. An existing
// file is reused.
func (f *Fetcher) download(ctx context.Context, rawURL string) (string, error) {
	sum := sha256.Sum256([]byte(rawURL))
	dest, err := filepath.Abs(filepath.Join(f.dir, hex.EncodeToString(sum[:])[:24]+".pdf"))
	if err != nil {
		return "", fmt.Errorf("resolve download path: %w", err)
	}
	if _, err := os.Stat(dest); err == nil {
		slog.Debug("paper cache hit", "worker", f.id, "path", dest)
		return dest, nil
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return "", fmt.Errorf("create download dir: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("get %s: %w", rawURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("get %s: status %d", rawURL, resp.StatusCode)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".fetch-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	body := io.Reader(resp.Body)
	if f.maxBytes > 0 {
		body = io.LimitReader(resp.Body, f.maxBytes+1)
	}
	n, err := io.Copy(tmp, body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", fmt.Errorf("write %s: %w", dest, err)
	}
	if f.maxBytes > 0 && n > f.maxBytes {
		return "", errors.New("document exceeds max_fetch_bytes")
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", fmt.Errorf("store %s: %w", dest, err)
	}
	return dest, nil
}
