package transcribe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/natefinch/atomic"

	"audio-transcriber/internal/models"
)

// Request contains the inputs and lifecycle callbacks for one run.
// OnStarted fires once model loading begins, OnProgress once the model is
// ready and inference starts. Completion and failure are reported through
// the Run return values.
type Request struct {
	InputPath  string
	Model      string
	ModelDir   string
	OutputDir  string
	Language   string
	OnStarted  func(message string)
	OnProgress func(message string)
}

// Result carries the transcript, its output path, and inference wall time.
type Result struct {
	OutputPath string        `json:"outputPath"`
	Transcript string        `json:"transcript"`
	Elapsed    time.Duration `json:"elapsed"`
}

// Summary renders the completion message shown in the UI.
func (r Result) Summary() string {
	return fmt.Sprintf(
		"Transcription complete in %.2f seconds.\nResult saved to: %s",
		r.Elapsed.Seconds(),
		r.OutputPath,
	)
}

// TaskError is a stage-aware failure. Every cause collapses into one
// human-readable message for the UI.
type TaskError struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Error formats task failures for logs and UI.
func (e *TaskError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Stage, e.Message)
}

// Unwrap exposes the underlying error for errors.Is / errors.As.
func (e *TaskError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// commandResult is an internal process execution response.
type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

// execRunner executes commands via os/exec.
type execRunner struct{}

// Run executes one command and captures stdout/stderr and exit code.
func (r *execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := commandResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: 0,
	}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}

	return result, nil
}

// Task runs one transcription: model load, ffmpeg preprocessing,
// whisper.cpp inference, and transcript export.
type Task struct {
	ffmpegPath  string
	whisperPath string
	runner      commandRunner
	resolve     func(id, modelDir string) (models.Resolved, error)
	fetch       func(ctx context.Context, resolved models.Resolved) error
	mkdirTemp   func(dir, pattern string) (string, error)
	removeAll   func(path string) error
	stat        func(name string) (os.FileInfo, error)
	mkdirAll    func(path string, perm os.FileMode) error
	readFile    func(name string) ([]byte, error)
	now         func() time.Time
}

// NewTask constructs the production task with OS dependencies.
func NewTask() *Task {
	return &Task{
		ffmpegPath:  "ffmpeg",
		whisperPath: "whisper.cpp",
		runner:      &execRunner{},
		resolve:     models.Resolve,
		fetch:       models.Download,
		mkdirTemp:   os.MkdirTemp,
		removeAll:   os.RemoveAll,
		stat:        os.Stat,
		mkdirAll:    os.MkdirAll,
		readFile:    os.ReadFile,
		now:         time.Now,
	}
}

// Run performs one full transcription and writes the transcript file.
// The output file is only written after successful inference; any failure
// leaves the output directory untouched.
func (t *Task) Run(ctx context.Context, req Request) (Result, error) {
	inputPath := strings.TrimSpace(req.InputPath)
	if inputPath == "" {
		return Result{}, &TaskError{
			Stage:   "input",
			Message: "audio file path is required",
		}
	}
	if _, err := t.stat(inputPath); err != nil {
		return Result{}, &TaskError{
			Stage:   "input",
			Message: fmt.Sprintf("audio file not found at %q", inputPath),
			Err:     err,
		}
	}

	resolved, err := t.resolve(req.Model, req.ModelDir)
	if err != nil {
		return Result{}, &TaskError{
			Stage:   "loading",
			Message: err.Error(),
			Err:     err,
		}
	}

	emit(req.OnStarted, startMessage(resolved))

	// First use may download the model weights. This is the slow part.
	if err := t.fetch(ctx, resolved); err != nil {
		return Result{}, &TaskError{
			Stage:   "loading",
			Message: fmt.Sprintf("download model %s: %v", resolved.ID, err),
			Err:     err,
		}
	}

	tempDir, err := t.mkdirTemp("", "audio-transcriber-*")
	if err != nil {
		return Result{}, &TaskError{
			Stage:   "loading",
			Message: "failed to create temporary workspace",
			Err:     err,
		}
	}

	wavPath := filepath.Join(tempDir, "preprocessed-16k-mono.wav")
	ffmpegArgs := buildFFmpegArgs(inputPath, wavPath)
	ffmpegResult, runErr := t.runner.Run(ctx, t.ffmpegPath, ffmpegArgs...)
	if runErr != nil {
		_ = t.removeAll(tempDir)
		return Result{}, &TaskError{
			Stage:   "loading",
			Message: commandFailureMessage("ffmpeg audio conversion failed", ffmpegResult, runErr),
			Err:     runErr,
		}
	}
	if _, err := t.stat(wavPath); err != nil {
		_ = t.removeAll(tempDir)
		return Result{}, &TaskError{
			Stage:   "loading",
			Message: "ffmpeg completed but converted audio is missing",
			Err:     err,
		}
	}

	emit(req.OnProgress, fmt.Sprintf("Model %s ready. Starting transcription...", resolved.ID))

	textBase := filepath.Join(tempDir, "transcript")
	whisperArgs := buildWhisperArgs(resolved.Path, wavPath, textBase, req.Language)

	start := t.now()
	whisperResult, runErr := t.runner.Run(ctx, t.whisperPath, whisperArgs...)
	elapsed := t.now().Sub(start)
	if runErr != nil {
		_ = t.removeAll(tempDir)
		return Result{}, &TaskError{
			Stage:   "transcribing",
			Message: commandFailureMessage("whisper.cpp transcription failed", whisperResult, runErr),
			Err:     runErr,
		}
	}

	content, err := t.readFile(textBase + ".txt")
	if err != nil {
		_ = t.removeAll(tempDir)
		return Result{}, &TaskError{
			Stage:   "transcribing",
			Message: "whisper.cpp completed but produced no transcript",
			Err:     err,
		}
	}
	transcript := strings.TrimSpace(string(content))

	outputDir := strings.TrimSpace(req.OutputDir)
	if outputDir == "" {
		outputDir = "."
	}
	if err := t.mkdirAll(outputDir, 0o755); err != nil {
		_ = t.removeAll(tempDir)
		return Result{}, &TaskError{
			Stage:   "exporting",
			Message: fmt.Sprintf("cannot create output directory: %s", outputDir),
			Err:     err,
		}
	}

	outputPath := filepath.Join(outputDir, transcriptFileName(inputPath, req.Model))
	if err := atomic.WriteFile(outputPath, strings.NewReader(transcript)); err != nil {
		_ = t.removeAll(tempDir)
		return Result{}, &TaskError{
			Stage:   "exporting",
			Message: fmt.Sprintf("write transcript file %s: %v", outputPath, err),
			Err:     err,
		}
	}

	// Leftover temp files are harmless; the run itself succeeded.
	_ = t.removeAll(tempDir)

	return Result{
		OutputPath: outputPath,
		Transcript: transcript,
		Elapsed:    elapsed,
	}, nil
}

// startMessage tells the user when model loading includes a first-use
// download, which can run for minutes on the large tiers.
func startMessage(resolved models.Resolved) string {
	if resolved.NeedsDownload {
		return fmt.Sprintf("Downloading whisper model %s (first use, this may take a while)...", resolved.ID)
	}
	return fmt.Sprintf("Loading whisper model: %s...", resolved.ID)
}

// emit forwards a lifecycle message when a callback is configured.
func emit(cb func(message string), message string) {
	if cb != nil {
		cb(message)
	}
}

// commandFailureMessage prefers captured stderr over the raw exec error.
func commandFailureMessage(prefix string, result commandResult, err error) string {
	detail := strings.TrimSpace(result.Stderr)
	if detail == "" {
		detail = err.Error()
	}
	return fmt.Sprintf("%s: %s", prefix, detail)
}

// normalizeLanguage maps "auto" and empty language to no CLI override.
func normalizeLanguage(raw string) string {
	lang := strings.TrimSpace(raw)
	if lang == "" || strings.EqualFold(lang, "auto") {
		return ""
	}
	return lang
}

// buildFFmpegArgs builds preprocessing CLI args for mono 16k PCM WAV output.
func buildFFmpegArgs(inputPath, outPath string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", inputPath,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		outPath,
	}
}

// buildWhisperArgs builds whisper.cpp args for plain-text transcript export.
func buildWhisperArgs(modelPath, audioPath, textBase, language string) []string {
	args := []string{
		"-m", modelPath,
		"-f", audioPath,
		"-of", textBase,
		"-otxt",
		"-nt",
	}

	if lang := normalizeLanguage(language); lang != "" {
		args = append(args, "-l", lang)
	}

	return args
}

// transcriptFileName builds the output name from input base name and model.
func transcriptFileName(inputPath, model string) string {
	base := filepath.Base(inputPath)
	name := strings.TrimSpace(strings.TrimSuffix(base, filepath.Ext(base)))
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = "audio"
	}
	return name + "_" + model + "_transcript.txt"
}

// NewTaskForTests constructs a task with injectable dependencies.
func NewTaskForTests(
	ffmpegPath string,
	whisperPath string,
	runner commandRunner,
	resolve func(id, modelDir string) (models.Resolved, error),
	fetch func(ctx context.Context, resolved models.Resolved) error,
) *Task {
	return &Task{
		ffmpegPath:  ffmpegPath,
		whisperPath: whisperPath,
		runner:      runner,
		resolve:     resolve,
		fetch:       fetch,
		mkdirTemp:   os.MkdirTemp,
		removeAll:   os.RemoveAll,
		stat:        os.Stat,
		mkdirAll:    os.MkdirAll,
		readFile:    os.ReadFile,
		now:         time.Now,
	}
}
