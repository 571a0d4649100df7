package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"
	"go.uber.org/zap"

	"audio-transcriber/internal/config"
	"audio-transcriber/internal/diagnostics"
	"audio-transcriber/internal/domain"
	"audio-transcriber/internal/history"
	"audio-transcriber/internal/jobs"
	"audio-transcriber/internal/logging"
	"audio-transcriber/internal/models"
	"audio-transcriber/internal/transcribe"

	wailsruntime "github.com/wailsapp/wails/v2/pkg/runtime"
)

var audioDialogFilter = []wailsruntime.FileFilter{
	{
		DisplayName: "Audio files",
		Pattern:     "*.mp3;*.wav;*.m4a;*.mp4;*.flac;*.aac;*.ogg",
	},
	{
		DisplayName: "All files",
		Pattern:     "*",
	},
}

// ValidationError is a local input rejection: no task is spawned and the
// frontend shows the message inline instead of raising an alert.
type ValidationError struct {
	Message string
}

// Error returns the inline validation message.
func (e *ValidationError) Error() string {
	return e.Message
}

// App wires configuration, jobs, the transcription task, history, and the
// Wails UI runtime callbacks.
type App struct {
	Settings    domain.Settings
	Store       config.Store
	Jobs        *jobs.Manager
	Task        taskRunner
	History     historyStore
	Diagnostics domain.DiagnosticReport
	assets      fs.FS
	checker     *diagnostics.Checker
	log         *zap.Logger

	mu          sync.Mutex
	activeJobID string
	events      *jobs.EventBus
	runtimeCtx  context.Context
}

// taskRunner isolates the transcription task behind an interface.
type taskRunner interface {
	Run(ctx context.Context, req transcribe.Request) (transcribe.Result, error)
}

// historyStore isolates run-history persistence behind an interface.
type historyStore interface {
	Record(ctx context.Context, run domain.Run) error
	Recent(ctx context.Context, limit int) ([]domain.Run, error)
}

// New builds the application with persisted settings and startup diagnostics.
func New() (*App, error) {
	return NewWithAssets(nil)
}

// NewWithAssets builds the application and optionally configures embedded frontend assets.
func NewWithAssets(assets fs.FS) (*App, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve user home: %w", err)
	}
	appDir := filepath.Join(homeDir, ".audio-transcriber")
	if err := os.MkdirAll(appDir, 0o755); err != nil {
		return nil, fmt.Errorf("prepare app directory: %w", err)
	}

	logger, err := logging.New(logging.Options{})
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	store := config.NewJSONStore(filepath.Join(appDir, "settings.json"))
	settings, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	settings = normalizeSettings(settings)

	runs, err := history.Open(filepath.Join(appDir, "history.db"))
	if err != nil {
		return nil, fmt.Errorf("open run history: %w", err)
	}

	checker := diagnostics.NewChecker()
	report := checker.Run(settings)

	return &App{
		Settings:    settings,
		Store:       store,
		Jobs:        jobs.NewManager(),
		Task:        transcribe.NewTask(),
		History:     runs,
		Diagnostics: report,
		assets:      assets,
		checker:     checker,
		log:         logger,
		events:      jobs.NewEventBus(1000),
	}, nil
}

// Run starts the Wails desktop application and binds backend methods.
func (a *App) Run() error {
	assetOptions := &assetserver.Options{}
	if a.assets != nil {
		assetOptions.Assets = a.assets
	} else {
		assetOptions.Handler = http.FileServer(http.Dir("./frontend"))
	}

	return wails.Run(&options.App{
		Title:       "Whisper Audio Transcriber",
		Width:       900,
		Height:      680,
		AssetServer: assetOptions,
		OnStartup:   a.Startup,
		OnShutdown: func(ctx context.Context) {
			a.mu.Lock()
			a.runtimeCtx = nil
			a.mu.Unlock()
			if closer, ok := a.History.(interface{ Close() error }); ok {
				_ = closer.Close()
			}
		},
		Bind: []interface{}{a},
	})
}

// Startup stores Wails runtime context for push events.
func (a *App) Startup(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runtimeCtx = ctx
}

// GetDiagnostics returns the latest cached diagnostics report.
func (a *App) GetDiagnostics() domain.DiagnosticReport {
	return a.Diagnostics
}

// RefreshDiagnostics reloads settings and reruns environment checks.
func (a *App) RefreshDiagnostics() (domain.DiagnosticReport, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.DiagnosticReport{}, fmt.Errorf("load settings: %w", err)
	}
	settings = normalizeSettings(settings)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.Settings = settings
	a.Diagnostics = a.checker.Run(settings)
	return a.Diagnostics, nil
}

// GetSettings loads and returns the latest persisted settings.
func (a *App) GetSettings() (domain.Settings, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}
	settings = normalizeSettings(settings)

	a.mu.Lock()
	a.Settings = settings
	a.mu.Unlock()

	return settings, nil
}

// SaveSettings normalizes and persists settings, then refreshes diagnostics.
func (a *App) SaveSettings(settings domain.Settings) (domain.Settings, error) {
	normalized := normalizeSettings(settings)
	if _, ok := models.Lookup(normalized.Model); !ok {
		return domain.Settings{}, &ValidationError{
			Message: fmt.Sprintf("Unknown model %q.", settings.Model),
		}
	}

	if err := a.Store.Save(normalized); err != nil {
		return domain.Settings{}, fmt.Errorf("save settings: %w", err)
	}

	a.mu.Lock()
	a.Settings = normalized
	if a.checker != nil {
		a.Diagnostics = a.checker.Run(normalized)
	}
	a.mu.Unlock()

	return normalized, nil
}

// GetModelOptions returns selectable model tiers with download state.
func (a *App) GetModelOptions() []domain.ModelOption {
	a.mu.Lock()
	modelDir := a.Settings.ModelDir
	a.mu.Unlock()
	return models.Options(modelDir)
}

// PickAudioFile opens a native file dialog for audio selection.
func (a *App) PickAudioFile() (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.OpenFileDialog(ctx, wailsruntime.OpenDialogOptions{
		Title:   "Select audio file",
		Filters: audioDialogFilter,
	})
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(path), nil
}

// PickOutputDirectory opens a native directory picker for transcript exports.
func (a *App) PickOutputDirectory() (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.OpenDirectoryDialog(ctx, wailsruntime.OpenDialogOptions{
		Title: "Select output directory",
	})
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(path), nil
}

// OpenOutputFolder opens the given path (or configured output dir) in the file manager.
func (a *App) OpenOutputFolder(path string) error {
	target := strings.TrimSpace(path)
	if target == "" {
		a.mu.Lock()
		target = a.Settings.OutputDir
		a.mu.Unlock()
	}
	if target == "" {
		return fmt.Errorf("output path is empty")
	}

	info, err := os.Stat(target)
	if err != nil {
		return fmt.Errorf("resolve output path: %w", err)
	}

	openPath := target
	if !info.IsDir() {
		openPath = filepath.Dir(target)
	}

	return openInFileManager(openPath)
}

// StartTranscription validates input locally, then runs one job asynchronously.
// An empty or missing path is rejected before any task is spawned.
func (a *App) StartTranscription(inputPath, model string) (domain.Job, error) {
	path := strings.TrimSpace(inputPath)
	if path == "" {
		return domain.Job{}, &ValidationError{
			Message: "Please select an audio file before starting transcription.",
		}
	}
	if _, err := os.Stat(path); err != nil {
		return domain.Job{}, &ValidationError{
			Message: fmt.Sprintf("Audio file not found at %q.", path),
		}
	}

	tier := strings.TrimSpace(model)
	if tier == "" {
		tier = models.DefaultModel
	}
	if _, ok := models.Lookup(tier); !ok {
		return domain.Job{}, &ValidationError{
			Message: fmt.Sprintf("Unknown model %q.", model),
		}
	}

	settings, err := a.Store.Load()
	if err != nil {
		return domain.Job{}, fmt.Errorf("load settings: %w", err)
	}
	settings = normalizeSettings(settings)

	job := domain.Job{
		ID:        uuid.NewString(),
		InputPath: path,
		Model:     tier,
	}
	if err := a.Jobs.Start(job); err != nil {
		return domain.Job{}, err
	}

	a.mu.Lock()
	a.activeJobID = job.ID
	a.Settings = settings
	a.mu.Unlock()

	a.log.Info("job started",
		zap.String("job", job.ID),
		zap.String("input", path),
		zap.String("model", tier),
	)

	go a.runJob(context.Background(), job, settings)
	return a.Jobs.Current(), nil
}

// CurrentJob returns current job metadata and status.
func (a *App) CurrentJob() domain.Job {
	return a.Jobs.Current()
}

// UIState reports whether input controls should be enabled.
func (a *App) UIState() domain.UIState {
	return a.Jobs.UIState()
}

// JobEvents returns the current job's events with sequence greater than
// sinceSeq. Events from earlier jobs are filtered out so a re-syncing
// consumer never replays a stale terminal event.
func (a *App) JobEvents(sinceSeq int64) []jobs.Event {
	events := a.events.Since(sinceSeq)
	currentID := a.Jobs.Current().ID
	if currentID == "" {
		return events
	}

	filtered := make([]jobs.Event, 0, len(events))
	for _, event := range events {
		if event.JobID == currentID {
			filtered = append(filtered, event)
		}
	}
	return filtered
}

// RecentRuns lists the latest finished runs from history.
func (a *App) RecentRuns(limit int) ([]domain.Run, error) {
	if a.History == nil {
		return nil, nil
	}
	return a.History.Recent(context.Background(), limit)
}

// runJob executes the task and maps its outcome onto lifecycle events.
func (a *App) runJob(ctx context.Context, job domain.Job, settings domain.Settings) {
	startedAt := time.Now()

	req := transcribe.Request{
		InputPath: job.InputPath,
		Model:     job.Model,
		ModelDir:  settings.ModelDir,
		OutputDir: settings.OutputDir,
		Language:  settings.Language,
		OnStarted: func(message string) {
			a.publishEvent(jobs.Event{
				JobID:   job.ID,
				Type:    jobs.EventTypeStarted,
				Status:  domain.JobStatusLoading,
				Message: message,
			})
		},
		OnProgress: func(message string) {
			if err := a.Jobs.Transition(domain.JobStatusTranscribing); err == nil {
				a.publishEvent(jobs.Event{
					JobID:   job.ID,
					Type:    jobs.EventTypeProgress,
					Status:  domain.JobStatusTranscribing,
					Message: message,
				})
			}
		},
	}

	// The terminal status transition happens last so observers polling the
	// job status see the event history and run record already in place.
	result, err := a.Task.Run(ctx, req)
	if err != nil {
		a.log.Warn("job failed", zap.String("job", job.ID), zap.Error(err))
		a.publishEvent(jobs.Event{
			JobID:   job.ID,
			Type:    jobs.EventTypeError,
			Status:  domain.JobStatusFailed,
			Message: taskErrorMessage(err),
		})
		a.recordRun(job, startedAt, domain.JobStatusFailed, transcribe.Result{}, err)
		a.clearActiveJob(job.ID)
		_ = a.Jobs.Transition(domain.JobStatusFailed)
		return
	}

	a.log.Info("job completed",
		zap.String("job", job.ID),
		zap.String("output", result.OutputPath),
		zap.Duration("elapsed", result.Elapsed),
	)
	a.publishEvent(jobs.Event{
		JobID:      job.ID,
		Type:       jobs.EventTypeComplete,
		Status:     domain.JobStatusDone,
		Message:    result.Summary(),
		OutputPath: result.OutputPath,
		Transcript: result.Transcript,
		ElapsedSec: result.Elapsed.Seconds(),
	})
	a.recordRun(job, startedAt, domain.JobStatusDone, result, nil)
	a.clearActiveJob(job.ID)
	// A task that produced a result has been through inference even if its
	// progress callback never fired.
	_ = a.Jobs.Transition(domain.JobStatusTranscribing)
	_ = a.Jobs.Transition(domain.JobStatusDone)
}

// recordRun persists one finished job to history.
func (a *App) recordRun(job domain.Job, startedAt time.Time, status domain.JobStatus, result transcribe.Result, runErr error) {
	if a.History == nil {
		return
	}

	run := domain.Run{
		ID:         job.ID,
		StartedAt:  startedAt,
		InputPath:  job.InputPath,
		Model:      job.Model,
		Status:     status,
		ElapsedMS:  result.Elapsed.Milliseconds(),
		OutputPath: result.OutputPath,
	}
	if runErr != nil {
		run.Error = taskErrorMessage(runErr)
	}

	if err := a.History.Record(context.Background(), run); err != nil {
		a.log.Warn("record run history", zap.String("job", job.ID), zap.Error(err))
	}
}

// publishEvent stores event history and emits runtime push notifications.
func (a *App) publishEvent(event jobs.Event) {
	published := a.events.Publish(event)

	a.mu.Lock()
	ctx := a.runtimeCtx
	a.mu.Unlock()
	if ctx != nil {
		wailsruntime.EventsEmit(ctx, "job:event", published)
	}
}

// clearActiveJob clears the active-job handle for completed job IDs.
func (a *App) clearActiveJob(jobID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.activeJobID == jobID {
		a.activeJobID = ""
	}
}

// taskErrorMessage flattens any task failure into one displayable string.
func taskErrorMessage(err error) string {
	var tErr *transcribe.TaskError
	if errors.As(err, &tErr) {
		return tErr.Message
	}
	return err.Error()
}

// runtimeContext returns current Wails runtime context for dialog APIs.
func (a *App) runtimeContext() (context.Context, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runtimeCtx == nil {
		return nil, fmt.Errorf("runtime context is not initialized")
	}
	return a.runtimeCtx, nil
}

// normalizeSettings trims user inputs and fills defaults for empty fields.
func normalizeSettings(settings domain.Settings) domain.Settings {
	defaults := config.DefaultSettings()

	settings.ModelDir = strings.TrimSpace(settings.ModelDir)
	settings.OutputDir = strings.TrimSpace(settings.OutputDir)
	settings.Language = strings.TrimSpace(settings.Language)
	settings.Model = strings.TrimSpace(settings.Model)

	if settings.ModelDir == "" {
		settings.ModelDir = defaults.ModelDir
	}
	if settings.OutputDir == "" {
		settings.OutputDir = defaults.OutputDir
	}
	if settings.Language == "" {
		settings.Language = "auto"
	}
	if settings.Model == "" {
		settings.Model = models.DefaultModel
	}
	return settings
}

// openInFileManager launches the platform file explorer for the provided path.
func openInFileManager(path string) error {
	var cmd *exec.Cmd
	switch goruntime.GOOS {
	case "darwin":
		cmd = exec.Command("open", path)
	case "windows":
		cmd = exec.Command("explorer", filepath.Clean(path))
	default:
		cmd = exec.Command("xdg-open", path)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch file manager: %w", err)
	}
	return nil
}
