package transcribe

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"audio-transcriber/internal/models"
)

// fakeRunner simulates command execution order and outcomes.
type fakeRunner struct {
	run func(ctx context.Context, name string, args ...string) (commandResult, error)
}

// Run delegates to injected behavior.
func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	if f.run == nil {
		return commandResult{}, nil
	}
	return f.run(ctx, name, args...)
}

// localResolve maps any model id onto a file inside the test model dir.
func localResolve(t *testing.T, modelDir string) func(id, dir string) (models.Resolved, error) {
	t.Helper()
	return func(id, dir string) (models.Resolved, error) {
		return models.Resolved{
			ID:   id,
			Path: filepath.Join(modelDir, "ggml-"+id+".bin"),
		}, nil
	}
}

// noFetch is a download stub for models already on disk.
func noFetch(ctx context.Context, resolved models.Resolved) error {
	return nil
}

// TestTaskRunSuccess checks the full happy path and event ordering.
func TestTaskRunSuccess(t *testing.T) {
	root := t.TempDir()
	inputPath := filepath.Join(root, "sample.wav")
	outputDir := filepath.Join(root, "out")
	mustWriteFile(t, inputPath, "audio")

	call := 0
	var whisperArgs []string
	runner := &fakeRunner{
		run: func(ctx context.Context, name string, args ...string) (commandResult, error) {
			call++
			switch call {
			case 1:
				if name != "ffmpeg-custom" {
					t.Fatalf("command 1 name = %q, want ffmpeg-custom", name)
				}
				mustWriteFile(t, args[len(args)-1], "wav")
				return commandResult{ExitCode: 0}, nil
			case 2:
				if name != "whisper-custom" {
					t.Fatalf("command 2 name = %q, want whisper-custom", name)
				}
				whisperArgs = append([]string{}, args...)
				base := argValue(args, "-of")
				mustWriteFile(t, base+".txt", " hello world \n")
				return commandResult{ExitCode: 0}, nil
			default:
				t.Fatalf("unexpected command call: %d", call)
				return commandResult{}, nil
			}
		},
	}

	var messages []string
	task := NewTaskForTests("ffmpeg-custom", "whisper-custom", runner, localResolve(t, root), noFetch)
	result, err := task.Run(context.Background(), Request{
		InputPath:  inputPath,
		Model:      "balanced",
		ModelDir:   root,
		OutputDir:  outputDir,
		Language:   "auto",
		OnStarted:  func(m string) { messages = append(messages, "started:"+m) },
		OnProgress: func(m string) { messages = append(messages, "progress:"+m) },
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if call != 2 {
		t.Fatalf("command calls = %d, want 2", call)
	}
	wantPath := filepath.Join(outputDir, "sample_balanced_transcript.txt")
	if result.OutputPath != wantPath {
		t.Fatalf("output path = %q, want %q", result.OutputPath, wantPath)
	}
	if result.Transcript != "hello world" {
		t.Fatalf("transcript = %q", result.Transcript)
	}
	if result.Elapsed < 0 {
		t.Fatalf("elapsed = %v", result.Elapsed)
	}

	data, err := os.ReadFile(wantPath)
	if err != nil {
		t.Fatalf("transcript file missing: %v", err)
	}
	if string(data) != "hello world" {
		t.Fatalf("file contents = %q, want exact transcript text", string(data))
	}

	if len(messages) != 2 {
		t.Fatalf("messages = %v, want started then progress", messages)
	}
	if !strings.HasPrefix(messages[0], "started:Loading whisper model: balanced") {
		t.Fatalf("first message = %q", messages[0])
	}
	if !strings.HasPrefix(messages[1], "progress:Model balanced ready") {
		t.Fatalf("second message = %q", messages[1])
	}
	if hasArg(whisperArgs, "-l") {
		t.Fatalf("auto language should not pass -l, args=%v", whisperArgs)
	}
}

// TestTaskRunMissingInput checks the not-found path emits no lifecycle events.
func TestTaskRunMissingInput(t *testing.T) {
	root := t.TempDir()

	started := false
	task := NewTaskForTests("ffmpeg", "whisper.cpp", &fakeRunner{}, localResolve(t, root), noFetch)
	_, err := task.Run(context.Background(), Request{
		InputPath: filepath.Join(root, "missing.wav"),
		Model:     "medium",
		ModelDir:  root,
		OutputDir: root,
		OnStarted: func(string) { started = true },
	})
	if err == nil {
		t.Fatal("expected error")
	}

	var tErr *TaskError
	if !errors.As(err, &tErr) {
		t.Fatalf("error type = %T, want *TaskError", err)
	}
	if tErr.Stage != "input" {
		t.Fatalf("stage = %s, want input", tErr.Stage)
	}
	if !strings.Contains(tErr.Message, "not found") {
		t.Fatalf("message = %q, want not found", tErr.Message)
	}
	if started {
		t.Fatal("started should not fire for missing input")
	}
}

// TestTaskRunInferenceFailureSkipsOutputWrite checks the error contract.
func TestTaskRunInferenceFailureSkipsOutputWrite(t *testing.T) {
	root := t.TempDir()
	inputPath := filepath.Join(root, "sample.wav")
	outputDir := filepath.Join(root, "out")
	mustWriteFile(t, inputPath, "audio")

	runner := &fakeRunner{
		run: func(ctx context.Context, name string, args ...string) (commandResult, error) {
			if name == "ffmpeg" {
				mustWriteFile(t, args[len(args)-1], "wav")
				return commandResult{ExitCode: 0}, nil
			}
			return commandResult{
				Stderr:   "disk full",
				ExitCode: 1,
			}, errors.New("exit status 1")
		},
	}

	task := NewTaskForTests("ffmpeg", "whisper.cpp", runner, localResolve(t, root), noFetch)
	_, err := task.Run(context.Background(), Request{
		InputPath: inputPath,
		Model:     "medium",
		ModelDir:  root,
		OutputDir: outputDir,
	})
	if err == nil {
		t.Fatal("expected error")
	}

	var tErr *TaskError
	if !errors.As(err, &tErr) {
		t.Fatalf("error type = %T, want *TaskError", err)
	}
	if tErr.Stage != "transcribing" {
		t.Fatalf("stage = %s, want transcribing", tErr.Stage)
	}
	if !strings.Contains(tErr.Message, "disk full") {
		t.Fatalf("message = %q, want to contain stderr detail", tErr.Message)
	}

	if _, statErr := os.Stat(filepath.Join(outputDir, "sample_medium_transcript.txt")); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatalf("output file must not exist on failure, stat err = %v", statErr)
	}
}

// TestTaskRunFFmpegFailure checks the conversion error path.
func TestTaskRunFFmpegFailure(t *testing.T) {
	root := t.TempDir()
	inputPath := filepath.Join(root, "clip.mp3")
	mustWriteFile(t, inputPath, "audio")

	runner := &fakeRunner{
		run: func(ctx context.Context, name string, args ...string) (commandResult, error) {
			return commandResult{
				Stderr:   "unsupported codec",
				ExitCode: 1,
			}, errors.New("exit status 1")
		},
	}

	task := NewTaskForTests("ffmpeg", "whisper.cpp", runner, localResolve(t, root), noFetch)
	_, err := task.Run(context.Background(), Request{
		InputPath: inputPath,
		Model:     "base",
		ModelDir:  root,
		OutputDir: root,
	})
	if err == nil {
		t.Fatal("expected error")
	}

	var tErr *TaskError
	if !errors.As(err, &tErr) {
		t.Fatalf("error type = %T, want *TaskError", err)
	}
	if tErr.Stage != "loading" {
		t.Fatalf("stage = %s, want loading", tErr.Stage)
	}
	if !strings.Contains(tErr.Message, "unsupported codec") {
		t.Fatalf("message = %q", tErr.Message)
	}
}

// TestTaskRunModelDownloadFailure checks first-use download error mapping.
func TestTaskRunModelDownloadFailure(t *testing.T) {
	root := t.TempDir()
	inputPath := filepath.Join(root, "clip.wav")
	mustWriteFile(t, inputPath, "audio")

	resolve := func(id, dir string) (models.Resolved, error) {
		return models.Resolved{
			ID:            id,
			Path:          filepath.Join(root, "ggml-"+id+".bin"),
			NeedsDownload: true,
		}, nil
	}
	fetch := func(ctx context.Context, resolved models.Resolved) error {
		return errors.New("connection refused")
	}

	var started string
	task := NewTaskForTests("ffmpeg", "whisper.cpp", &fakeRunner{}, resolve, fetch)
	_, err := task.Run(context.Background(), Request{
		InputPath: inputPath,
		Model:     "large-v2",
		ModelDir:  root,
		OutputDir: root,
		OnStarted: func(m string) { started = m },
	})
	if err == nil {
		t.Fatal("expected error")
	}

	if !strings.Contains(started, "Downloading whisper model large-v2") {
		t.Fatalf("started message = %q, want first-use download notice", started)
	}

	var tErr *TaskError
	if !errors.As(err, &tErr) {
		t.Fatalf("error type = %T, want *TaskError", err)
	}
	if tErr.Stage != "loading" {
		t.Fatalf("stage = %s, want loading", tErr.Stage)
	}
	if !strings.Contains(tErr.Message, "connection refused") {
		t.Fatalf("message = %q", tErr.Message)
	}
}

// TestTranscriptFileName verifies output naming from input and model.
func TestTranscriptFileName(t *testing.T) {
	for _, tc := range []struct {
		input string
		model string
		want  string
	}{
		{"sample.wav", "balanced", "sample_balanced_transcript.txt"},
		{"/tmp/meeting.mp3", "medium", "meeting_medium_transcript.txt"},
		{"noext", "base", "noext_base_transcript.txt"},
		{".wav", "small", "audio_small_transcript.txt"},
	} {
		if got := transcriptFileName(tc.input, tc.model); got != tc.want {
			t.Fatalf("transcriptFileName(%q, %q) = %q, want %q", tc.input, tc.model, got, tc.want)
		}
	}
}

// TestBuildFFmpegArgs verifies deterministic ffmpeg command arguments.
func TestBuildFFmpegArgs(t *testing.T) {
	args := buildFFmpegArgs("/in.mp3", "/tmp/out.wav")
	want := []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", "/in.mp3",
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		"/tmp/out.wav",
	}

	if len(args) != len(want) {
		t.Fatalf("args len = %d, want %d", len(args), len(want))
	}
	for i := range want {
		if args[i] != want[i] {
			t.Fatalf("args[%d] = %q, want %q", i, args[i], want[i])
		}
	}
}

// TestBuildWhisperArgsLanguage verifies language flag handling.
func TestBuildWhisperArgsLanguage(t *testing.T) {
	args := buildWhisperArgs("/m.bin", "/audio.wav", "/out/base", "auto")
	if hasArg(args, "-l") {
		t.Fatalf("did not expect -l in args: %v", args)
	}
	if !hasArg(args, "-nt") {
		t.Fatalf("expected -nt for plain text output: %v", args)
	}

	args = buildWhisperArgs("/m.bin", "/audio.wav", "/out/base", "ru")
	if got := argValue(args, "-l"); got != "ru" {
		t.Fatalf("language arg = %q, want ru", got)
	}
}

// mustWriteFile creates parent directory and writes file content.
func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir parent: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write file %s: %v", path, err)
	}
}

// argValue returns value for key-style CLI args.
func argValue(args []string, key string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == key {
			return args[i+1]
		}
	}
	return ""
}

// hasArg reports whether args include the target flag.
func hasArg(args []string, key string) bool {
	for _, arg := range args {
		if arg == key {
			return true
		}
	}
	return false
}
