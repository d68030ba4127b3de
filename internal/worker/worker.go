package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bobarin/reelcut/internal/encoder"
	"github.com/bobarin/reelcut/internal/export"
	"github.com/bobarin/reelcut/internal/models"
	"github.com/bobarin/reelcut/internal/queue"
	"github.com/bobarin/reelcut/internal/scene"
	"github.com/bobarin/reelcut/internal/storage"
)

const (
	dequeueTimeout = 5 * time.Second
	cancelPoll     = 500 * time.Millisecond
)

// Store is the persistence the worker needs; *db.DB satisfies it.
type Store interface {
	GetProject(ctx context.Context, id uuid.UUID) (*models.Project, error)
	GetProjectScenes(ctx context.Context, projectID uuid.UUID) ([]models.Scene, error)
	GetExport(ctx context.Context, id uuid.UUID) (*models.Export, error)
	UpdateExportProgress(ctx context.Context, id uuid.UUID, ev models.ProgressEvent) error
	SetExportBackend(ctx context.Context, id uuid.UUID, backend string) error
	SetExportResult(ctx context.Context, id uuid.UUID, phase models.ExportPhase, filename, storagePath string, partial bool) error
	SetExportError(ctx context.Context, id uuid.UUID, errorMessage string) error
}

// Jobs is the queue side; *queue.Queue satisfies it.
type Jobs interface {
	Dequeue(ctx context.Context, queueName string, timeout time.Duration) (*queue.Job, error)
	CancelRequested(ctx context.Context, exportID uuid.UUID) (bool, error)
	ClearCancel(ctx context.Context, exportID uuid.UUID) error
	PublishEvent(ctx context.Context, exportID uuid.UUID, ev models.ProgressEvent) error
}

// Options carries the engine wiring shared by every job.
type Options struct {
	NewLoader   export.LoaderFactory
	Aligner     scene.Aligner // nil disables alignment
	Environment func(ctx context.Context) encoder.Environment
	NewBackend  export.BackendFactory // nil = export.DefaultBackends
	// NewSaver returns where one export's file goes.
	NewSaver func(projectID, exportID uuid.UUID) export.Saver
	// SignAsset turns a project storage key into a fetchable URL. Nil drops
	// trailing clips.
	SignAsset   func(ctx context.Context, key string) (string, error)
	ScratchDir  string
	MusicGain   float64
	SeekTimeout time.Duration
}

type Worker struct {
	db    Store
	queue Jobs
	opts  Options
	log   zerolog.Logger
}

func New(database Store, q Jobs, opts Options, logger zerolog.Logger) *Worker {
	return &Worker{
		db:    database,
		queue: q,
		opts:  opts,
		log:   logger.With().Str("component", "worker").Logger(),
	}
}

// Start runs concurrency export loops until ctx is done.
func (w *Worker) Start(ctx context.Context, concurrency int) {
	w.log.Info().Int("concurrency", concurrency).Msg("Worker started")

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.processQueue(ctx, queue.QueueExport, w.handleExport)
		}()
	}

	<-ctx.Done()
	w.log.Info().Msg("Worker shutting down...")
	wg.Wait()
}

func (w *Worker) processQueue(ctx context.Context, queueName string, handler func(context.Context, *queue.Job) error) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			job, err := w.queue.Dequeue(ctx, queueName, dequeueTimeout)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				w.log.Error().Err(err).Str("queue", queueName).Msg("Error dequeuing")
				time.Sleep(time.Second)
				continue
			}

			if job == nil {
				continue // No job available, retry
			}

			log := w.log.With().Str("job_id", job.ID.String()).Str("export_id", job.ExportID.String()).Logger()
			log.Info().Str("type", job.Type).Str("project_id", job.ProjectID.String()).Msg("Processing job")

			if err := handler(ctx, job); err != nil {
				log.Error().Err(err).Msg("Job failed")
			} else {
				log.Info().Msg("Job completed")
			}
		}
	}
}

// handleExport runs one export session and mirrors it into Postgres and
// Redis until it reaches a terminal phase.
func (w *Worker) handleExport(ctx context.Context, job *queue.Job) error {
	// The session and the bookkeeping writes run detached from ctx. Shutdown
	// reaches the encoder only through Session.Cancel so the partial file is
	// finalized instead of killed.
	bg := context.WithoutCancel(ctx)

	exp, err := w.db.GetExport(ctx, job.ExportID)
	if err != nil {
		return fmt.Errorf("failed to get export: %w", err)
	}
	if exp.Phase.Terminal() {
		w.log.Warn().Str("export_id", exp.ID.String()).Str("phase", string(exp.Phase)).Msg("Skipping finished export")
		return nil
	}

	if cancelled, _ := w.queue.CancelRequested(ctx, exp.ID); cancelled {
		w.mirror(bg, exp.ID, models.ProgressEvent{
			Phase: models.ExportPhaseCancelled, Message: "Export cancelled", At: time.Now(),
		})
		return w.queue.ClearCancel(bg, exp.ID)
	}

	req, err := w.buildRequest(ctx, exp)
	if err != nil {
		w.db.SetExportError(bg, exp.ID, err.Error())
		return err
	}

	ctrl := export.NewController(export.Options{
		NewLoader:   w.opts.NewLoader,
		Aligner:     w.opts.Aligner,
		Environment: w.opts.Environment,
		NewBackend:  w.opts.NewBackend,
		Saver:       w.opts.NewSaver(exp.ProjectID, exp.ID),
		ScratchDir:  w.opts.ScratchDir,
		MusicGain:   w.opts.MusicGain,
		SeekTimeout: w.opts.SeekTimeout,
		Logger:      w.log,
	})

	session, ok := ctrl.StartExport(bg, req)
	if !ok {
		w.db.SetExportError(bg, exp.ID, export.ErrNoVisual.Error())
		return export.ErrNoVisual
	}

	mirrored := make(chan struct{})
	go func() {
		defer close(mirrored)
		for ev := range session.Subscribe(bg, 0) {
			w.mirror(bg, exp.ID, ev)
		}
	}()

	stopPoll := make(chan struct{})
	go w.pollCancel(ctx, session, stopPoll)

	out, err := session.Wait(bg)
	close(stopPoll)
	<-mirrored
	if err != nil {
		return err
	}

	w.queue.ClearCancel(bg, exp.ID)
	if out.Backend != "" {
		if err := w.db.SetExportBackend(bg, exp.ID, out.Backend); err != nil {
			w.log.Warn().Err(err).Msg("Failed to record backend")
		}
	}
	if out.Location != "" {
		if err := w.db.SetExportResult(bg, exp.ID, out.Phase, out.Filename, out.Location, out.Partial); err != nil {
			return fmt.Errorf("failed to record export result: %w", err)
		}
	}
	if out.Phase == models.ExportPhaseError {
		msg := "export failed"
		if out.Err != nil {
			msg = out.Err.Error()
		}
		w.db.SetExportError(bg, exp.ID, msg)
		return out.Err
	}
	return nil
}

func (w *Worker) buildRequest(ctx context.Context, exp *models.Export) (export.Request, error) {
	project, err := w.db.GetProject(ctx, exp.ProjectID)
	if err != nil {
		return export.Request{}, fmt.Errorf("failed to get project: %w", err)
	}
	scenes, err := w.db.GetProjectScenes(ctx, exp.ProjectID)
	if err != nil {
		return export.Request{}, fmt.Errorf("failed to get scenes: %w", err)
	}

	req := export.Request{
		ID:                    exp.ID,
		Title:                 project.Title,
		Scenes:                scenes,
		MusicVolume:           project.MusicVolume,
		Subtitles:             exp.Subtitles,
		FPS:                   exp.FPS,
		Resolution:            models.ParseResolution(exp.Resolution),
		Format:                exp.Format,
		AllowRealtimeFallback: exp.AllowRealtimeFallback,
	}
	if project.BackgroundMusicURL != nil {
		req.MusicURL = *project.BackgroundMusicURL
	}
	if exp.TrailingClipPath != nil {
		req.TrailingClipPath = w.signTrailingClip(ctx, exp.ProjectID, *exp.TrailingClipPath)
	}
	return req, nil
}

// signTrailingClip resolves the stored key to a signed URL. The key is
// checked again so rows written before validation cannot name local files.
// Any failure exports without the clip.
func (w *Worker) signTrailingClip(ctx context.Context, projectID uuid.UUID, key string) string {
	clean, err := storage.AssetKey(projectID, key)
	if err != nil {
		w.log.Warn().Str("key", key).Msg("Ignoring trailing clip outside the project folder")
		return ""
	}
	key = clean
	if w.opts.SignAsset == nil {
		w.log.Warn().Str("key", key).Msg("No asset signer configured, exporting without trailing clip")
		return ""
	}
	url, err := w.opts.SignAsset(ctx, key)
	if err != nil {
		w.log.Warn().Err(err).Str("key", key).Msg("Failed to sign trailing clip, exporting without it")
		return ""
	}
	return url
}

// mirror copies one event into the Redis event list and the export row.
func (w *Worker) mirror(ctx context.Context, exportID uuid.UUID, ev models.ProgressEvent) {
	if err := w.queue.PublishEvent(ctx, exportID, ev); err != nil {
		w.log.Warn().Err(err).Int("seq", ev.Seq).Msg("Failed to publish event")
	}
	if err := w.db.UpdateExportProgress(ctx, exportID, ev); err != nil {
		w.log.Warn().Err(err).Int("seq", ev.Seq).Msg("Failed to update export progress")
	}
}

// pollCancel forwards the Redis cancel flag, and worker shutdown, to the
// session.
func (w *Worker) pollCancel(ctx context.Context, s *export.Session, stop <-chan struct{}) {
	ticker := time.NewTicker(cancelPoll)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-s.Done():
			return
		case <-ctx.Done():
			w.log.Info().Str("export_id", s.ID.String()).Msg("Worker stopping, cancelling export")
			s.Cancel()
			return
		case <-ticker.C:
			cancelled, err := w.queue.CancelRequested(ctx, s.ID)
			if err != nil {
				w.log.Warn().Err(err).Msg("Failed to read cancel flag")
				continue
			}
			if cancelled {
				w.log.Info().Str("export_id", s.ID.String()).Msg("Cancel requested")
				s.Cancel()
				return
			}
		}
	}
}
