package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"
	_ "golang.org/x/image/webp"

	"github.com/bobarin/reelcut/internal/audio"
)

const (
	fetchTimeout   = 60 * time.Second
	directAttempts = 2
	baseRetryDelay = 250 * time.Millisecond
)

// AudioDecoder decodes a compressed audio file (mp3, m4a, ...) from disk.
type AudioDecoder interface {
	DecodeAudio(ctx context.Context, path string) (*audio.Buffer, error)
}

// Options configures a Loader.
type Options struct {
	// ProxyURL, when set, is tried first as <ProxyURL><escaped target url>.
	ProxyURL   string
	ScratchDir string
	Client     *http.Client
	Clips      ClipOpener
	Audio      AudioDecoder
	Logger     zerolog.Logger
}

// Loader retrieves single assets. None of its Load methods return errors;
// failures are logged and replaced by a placeholder or nil.
type Loader struct {
	proxyURL   string
	scratchDir string
	client     *http.Client
	clips      ClipOpener
	audio      AudioDecoder
	log        zerolog.Logger
}

func NewLoader(opts Options) *Loader {
	client := opts.Client
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	scratch := opts.ScratchDir
	if scratch == "" {
		scratch = os.TempDir()
	}
	return &Loader{
		proxyURL:   opts.ProxyURL,
		scratchDir: scratch,
		client:     client,
		clips:      opts.Clips,
		audio:      opts.Audio,
		log:        opts.Logger,
	}
}

// Fetch returns the raw bytes behind ref. Local paths and file:// URLs are
// read from disk. Remote URLs go through the proxy first when one is
// configured, then directly.
func (l *Loader) Fetch(ctx context.Context, ref string) ([]byte, error) {
	if ref == "" {
		return nil, fmt.Errorf("empty asset reference")
	}
	if p, ok := localPath(ref); ok {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", p, err)
		}
		return data, nil
	}

	if l.proxyURL != "" {
		data, err := l.get(ctx, l.proxyURL+url.QueryEscape(ref))
		if err == nil {
			return data, nil
		}
		l.log.Debug().Err(err).Str("url", ref).Msg("Proxy fetch failed, retrying direct")
	}

	var lastErr error
	for attempt := 0; attempt < directAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("fetch cancelled: %w", ctx.Err())
			case <-time.After(retryDelay(attempt)):
			}
		}
		data, err := l.get(ctx, ref)
		if err == nil {
			return data, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("fetch failed after %d direct attempts: %w", directAttempts, lastErr)
}

func (l *Loader) get(ctx context.Context, target string) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	return data, nil
}

// LoadImage returns the decoded image or a transparent placeholder.
func (l *Loader) LoadImage(ctx context.Context, ref string) image.Image {
	if ref == "" {
		return Placeholder()
	}
	data, err := l.Fetch(ctx, ref)
	if err != nil {
		l.log.Warn().Err(err).Str("url", ref).Msg("Image fetch failed, using placeholder")
		return Placeholder()
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		l.log.Warn().Err(err).Str("url", ref).Msg("Image decode failed, using placeholder")
		return Placeholder()
	}
	l.log.Debug().Str("url", ref).Str("format", format).Msg("Image loaded")
	return img
}

// LoadAudio returns the decoded narration buffer or nil.
func (l *Loader) LoadAudio(ctx context.Context, ref string) *audio.Buffer {
	if ref == "" {
		return nil
	}
	data, err := l.Fetch(ctx, ref)
	if err != nil {
		l.log.Warn().Err(err).Str("url", ref).Msg("Audio fetch failed")
		return nil
	}
	buf, err := l.decodeAudio(ctx, ref, data)
	if err != nil {
		l.log.Warn().Err(err).Str("url", ref).Msg("Audio decode failed")
		return nil
	}
	return buf
}

// LoadAudioFile decodes the audio track of a local media file, or returns nil.
func (l *Loader) LoadAudioFile(ctx context.Context, path string) *audio.Buffer {
	if l.audio == nil || path == "" {
		return nil
	}
	buf, err := l.audio.DecodeAudio(ctx, path)
	if err != nil {
		l.log.Warn().Err(err).Str("path", path).Msg("Audio track decode failed")
		return nil
	}
	return buf
}

func (l *Loader) decodeAudio(ctx context.Context, ref string, data []byte) (*audio.Buffer, error) {
	buf, err := audio.DecodeWAV(bytes.NewReader(data))
	if err == nil {
		return buf, nil
	}
	if l.audio == nil {
		return nil, fmt.Errorf("no decoder for %s: %w", ref, err)
	}

	p, err := l.writeScratch(ref, data)
	if err != nil {
		return nil, err
	}
	defer os.Remove(p)
	return l.audio.DecodeAudio(ctx, p)
}

// LoadClip downloads the clip to a scratch file and opens it. On any failure
// it returns a placeholder clip of zero duration.
func (l *Loader) LoadClip(ctx context.Context, ref string) *ClipSource {
	src, err := l.OpenClip(ctx, ref)
	if err != nil {
		l.log.Warn().Err(err).Str("url", ref).Msg("Clip load failed, using placeholder")
		return PlaceholderClip()
	}
	return src
}

// OpenClip is LoadClip with the failure reported, for callers that fall back
// to something other than a placeholder.
func (l *Loader) OpenClip(ctx context.Context, ref string) (*ClipSource, error) {
	if l.clips == nil {
		return nil, fmt.Errorf("no clip decoder configured")
	}

	p, local := localPath(ref)
	if !local {
		data, err := l.Fetch(ctx, ref)
		if err != nil {
			return nil, err
		}
		if p, err = l.writeScratch(ref, data); err != nil {
			return nil, err
		}
	}

	dec, info, err := l.clips.OpenClip(ctx, p)
	if err != nil {
		if !local {
			os.Remove(p)
		}
		return nil, fmt.Errorf("failed to open clip: %w", err)
	}
	if info.Duration <= 0 || math.IsInf(info.Duration, 0) || math.IsNaN(info.Duration) {
		dec.Close()
		if !local {
			os.Remove(p)
		}
		return nil, fmt.Errorf("clip has no usable duration")
	}
	return NewClipSource(p, info, dec, l.log.With().Str("clip", ref).Logger()), nil
}

// writeScratch stores data as a file in the scratch dir, keeping the
// extension of ref so decoders can sniff the container.
func (l *Loader) writeScratch(ref string, data []byte) (string, error) {
	f, err := os.CreateTemp(l.scratchDir, "asset-*"+extOf(ref))
	if err != nil {
		return "", fmt.Errorf("failed to create scratch file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write scratch file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to close scratch file: %w", err)
	}
	return f.Name(), nil
}

func localPath(ref string) (string, bool) {
	if strings.HasPrefix(ref, "file://") {
		return strings.TrimPrefix(ref, "file://"), true
	}
	if !strings.Contains(ref, "://") {
		return ref, true
	}
	return "", false
}

func extOf(ref string) string {
	if u, err := url.Parse(ref); err == nil && u.Path != "" {
		ref = u.Path
	}
	ext := path.Ext(ref)
	if len(ext) > 6 {
		return ""
	}
	return ext
}

func retryDelay(attempt int) time.Duration {
	delay := float64(baseRetryDelay) * math.Pow(2, float64(attempt-1))
	jitter := delay * 0.25 * rand.Float64()
	return time.Duration(delay + jitter)
}
