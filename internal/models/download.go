package models

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

const downloadTimeout = 45 * time.Minute

// Download fetches a model file into place. The body is streamed into a
// sibling temp file and renamed, so a torn download never shadows the
// real model path. First-use downloads can take minutes for large tiers.
func Download(ctx context.Context, resolved Resolved) error {
	if !resolved.NeedsDownload {
		return nil
	}
	if resolved.URL == "" {
		return fmt.Errorf("model %s has no download URL", resolved.ID)
	}

	if err := os.MkdirAll(filepath.Dir(resolved.Path), 0o755); err != nil {
		return fmt.Errorf("prepare model directory: %w", err)
	}

	tmpPath := resolved.Path + ".download"
	if err := os.Remove(tmpPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale temp file: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resolved.URL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "audio-transcriber")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request model download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected HTTP status: %s", resp.Status)
	}

	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create temporary file: %w", err)
	}

	_, copyErr := io.Copy(file, resp.Body)
	closeErr := file.Close()
	if copyErr != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write model file: %w", copyErr)
	}
	if closeErr != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close model file: %w", closeErr)
	}

	if err := os.Rename(tmpPath, resolved.Path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("move model into place: %w", err)
	}

	return nil
}
