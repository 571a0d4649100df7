package models

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"audio-transcriber/internal/domain"
)

// DefaultModel is the accuracy/speed trade-off preselected in the UI.
const DefaultModel = "medium"

var catalog = []domain.ModelOption{
	{
		ID:          "base",
		Name:        "Base",
		FileName:    "ggml-base.bin",
		URL:         "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-base.bin",
		SizeLabel:   "~142 MB",
		Description: "Fastest tier, lowest accuracy.",
	},
	{
		ID:          "small",
		Name:        "Small",
		FileName:    "ggml-small.bin",
		URL:         "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-small.bin",
		SizeLabel:   "~466 MB",
		Description: "Good speed with reasonable accuracy.",
	},
	{
		ID:          "medium",
		Name:        "Medium",
		FileName:    "ggml-medium.bin",
		URL:         "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-medium.bin",
		SizeLabel:   "~1.5 GB",
		Description: "Best accuracy/speed trade-off on CPU.",
		Default:     true,
	},
	{
		ID:          "large-v2",
		Name:        "Large v2",
		FileName:    "ggml-large-v2.bin",
		URL:         "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-large-v2.bin",
		SizeLabel:   "~2.9 GB",
		Description: "Highest accuracy, slowest tier.",
	},
}

// Options returns the selectable model tiers, annotated with download state
// for the given model directory.
func Options(modelDir string) []domain.ModelOption {
	options := make([]domain.ModelOption, len(catalog))
	copy(options, catalog)

	for i := range options {
		localPath := filepath.Join(modelDir, options[i].FileName)
		info, err := os.Stat(localPath)
		if err != nil || info.IsDir() {
			continue
		}
		options[i].Downloaded = true
		options[i].LocalPath = localPath
	}
	return options
}

// Names returns the known tier ids in stable order.
func Names() []string {
	names := make([]string, 0, len(catalog))
	for _, option := range catalog {
		names = append(names, option.ID)
	}
	sort.Strings(names)
	return names
}

// Lookup finds a catalog entry by tier id.
func Lookup(id string) (domain.ModelOption, bool) {
	for _, option := range catalog {
		if option.ID == id {
			return option, true
		}
	}
	return domain.ModelOption{}, false
}

// Resolved describes where a named model lives on disk and whether it
// still has to be fetched.
type Resolved struct {
	ID            string
	Path          string
	URL           string
	NeedsDownload bool
}

// Resolve maps a tier id to its local file under modelDir.
func Resolve(id, modelDir string) (Resolved, error) {
	tier := strings.TrimSpace(id)
	if tier == "" {
		tier = DefaultModel
	}

	option, ok := Lookup(tier)
	if !ok {
		return Resolved{}, fmt.Errorf("unknown model %q (known models: %s)", tier, strings.Join(Names(), ", "))
	}
	if strings.TrimSpace(modelDir) == "" {
		return Resolved{}, fmt.Errorf("model directory is required")
	}

	path := filepath.Join(modelDir, option.FileName)
	_, err := os.Stat(path)
	if err != nil && !os.IsNotExist(err) {
		return Resolved{}, fmt.Errorf("stat model path: %w", err)
	}

	return Resolved{
		ID:            option.ID,
		Path:          path,
		URL:           option.URL,
		NeedsDownload: os.IsNotExist(err),
	}, nil
}
