// Command export renders one video from a YAML manifest on this machine.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/schollz/progressbar/v3"

	"github.com/bobarin/reelcut/internal/config"
	"github.com/bobarin/reelcut/internal/export"
	"github.com/bobarin/reelcut/internal/logging"
	"github.com/bobarin/reelcut/internal/media"
	"github.com/bobarin/reelcut/internal/models"
	"github.com/bobarin/reelcut/internal/scene"
	"github.com/bobarin/reelcut/internal/services"
)

func main() {
	cfg := config.Load()

	manifestPath := flag.String("manifest", "export.yaml", "path to the export manifest")
	outDir := flag.String("out", cfg.ExportOutputDir, "directory for finished files")
	ffmpegPath := flag.String("ffmpeg", cfg.FFmpegPath, "ffmpeg binary (default: from PATH)")
	logLevel := flag.String("log-level", "warn", "debug, info, warn or error")
	flag.Parse()

	logging.Setup(*logLevel, "console")
	log := logging.Component("cli")

	m, err := loadManifest(*manifestPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Cannot load manifest")
	}

	ffmpegSvc := services.NewFFmpegService(*ffmpegPath, logging.Component("ffmpeg"))

	var aligner scene.Aligner
	if cfg.OpenAIKey != "" {
		aligner = services.NewWhisperAligner(cfg.OpenAIKey, cfg.OpenAIBaseURL, cfg.AlignLanguage, logging.Component("whisper"))
	}

	ctrl := export.NewController(export.Options{
		NewLoader: func(scratchDir string) export.Loader {
			return media.NewLoader(media.Options{
				ProxyURL:   cfg.AssetProxyURL,
				ScratchDir: scratchDir,
				Clips:      ffmpegSvc,
				Audio:      ffmpegSvc,
				Logger:     logging.Component("loader"),
			})
		},
		Aligner:     aligner,
		Environment: ffmpegSvc.ProbeEnvironment,
		Saver:       export.LocalSaver{Dir: *outDir},
		ScratchDir:  cfg.ExportTempDir,
		MusicGain:   cfg.MusicVolume,
		SeekTimeout: cfg.SeekTimeout,
		Logger:      logging.Component("export"),
	})

	ctx := context.Background()
	session, ok := ctrl.StartExport(ctx, m.Request())
	if !ok {
		log.Fatal().Err(export.ErrNoVisual).Msg("Nothing to export")
	}

	// First Ctrl-C cancels gracefully; the partial file is kept
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		fmt.Fprintln(os.Stderr, "\nCancelling export...")
		ctrl.CancelExport()
		signal.Stop(sig)
	}()

	bar := progressbar.NewOptions(100,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("Loading"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionClearOnFinish(),
	)
	for ev := range session.Subscribe(ctx, 0) {
		bar.Describe(describe(ev))
		bar.Set(int(ev.Percent))
	}
	bar.Finish()

	out, _ := session.Wait(ctx)
	switch out.Phase {
	case models.ExportPhaseDone:
		fmt.Printf("Saved %s (%d frames, %s)\n", out.Location, out.Frames, out.Backend)
		if out.AudioPath != "" {
			fmt.Printf("Audio track: %s\n", out.AudioPath)
		}
	case models.ExportPhaseCancelled:
		if out.Location != "" {
			fmt.Printf("Cancelled, kept %d of %d frames in %s\n", out.Frames, out.TotalFrames, out.Location)
		} else {
			fmt.Println("Cancelled, nothing was saved")
		}
		os.Exit(130)
	default:
		log.Error().Err(out.Err).Msg("Export failed")
		os.Exit(1)
	}
}

func describe(ev models.ProgressEvent) string {
	if ev.ETASeconds != nil {
		return fmt.Sprintf("%-9s ~%.0fs left", ev.Phase, *ev.ETASeconds)
	}
	return fmt.Sprintf("%-9s", ev.Phase)
}
