package config

import (
	"os"
	"path/filepath"

	"audio-transcriber/internal/domain"
	"audio-transcriber/internal/models"
)

// DefaultSettings returns baseline local configuration for first launch.
// Transcripts land in the process working directory unless the user picks
// another output folder.
func DefaultSettings() domain.Settings {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	workDir, err := os.Getwd()
	if err != nil {
		workDir = "."
	}

	return domain.Settings{
		ModelDir:  filepath.Join(homeDir, ".audio-transcriber", "models"),
		OutputDir: workDir,
		Language:  "auto",
		Model:     models.DefaultModel,
	}
}
