package services

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"io"
	"io/fs"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/bobarin/reelcut/internal/audio"
	"github.com/bobarin/reelcut/internal/encoder"
	"github.com/bobarin/reelcut/internal/media"
)

const (
	defaultClipFPS = 30.0

	// A forward jump longer than this restarts the reader at the target
	// instead of decoding through the gap.
	maxSkipSeconds = 2.0
)

// ---------------------------------------------------------------------------
// FFmpegService
// ---------------------------------------------------------------------------

// FFmpegService wraps the ffmpeg and ffprobe binaries: compressed audio
// decode, clip probing and frame-accurate clip reading, plus the encoder
// environment probe used to pick an export backend.
type FFmpegService struct {
	ffmpegPath  string
	ffprobePath string
	log         zerolog.Logger
}

// NewFFmpegService uses ffmpegPath when set, otherwise ffmpeg from PATH.
// ffprobe is expected next to ffmpeg.
func NewFFmpegService(ffmpegPath string, logger zerolog.Logger) *FFmpegService {
	ffprobePath := "ffprobe"
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	} else if strings.ContainsRune(ffmpegPath, filepath.Separator) {
		ffprobePath = filepath.Join(filepath.Dir(ffmpegPath), "ffprobe"+filepath.Ext(ffmpegPath))
	}

	return &FFmpegService{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		log:         logger.With().Str("component", "ffmpeg").Logger(),
	}
}

// ---------------------------------------------------------------------------
// Environment probe
// ---------------------------------------------------------------------------

// ProbeEnvironment reports whether ffmpeg exists, may be executed here and
// which encoders it was built with.
func (s *FFmpegService) ProbeEnvironment(ctx context.Context) encoder.Environment {
	env := encoder.Environment{FFmpegPath: s.ffmpegPath}

	path, err := exec.LookPath(s.ffmpegPath)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			env.Found = true
			env.ProbeError = err.Error()
			return env
		}
		if info, statErr := os.Stat(s.ffmpegPath); statErr == nil && !info.IsDir() {
			// present but not runnable, e.g. missing execute bit
			env.Found = true
			env.ProbeError = err.Error()
		}
		return env
	}
	env.FFmpegPath = path
	env.Found = true

	var out, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, path, "-hide_banner", "-encoders")
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		env.ProbeError = detail
		return env
	}

	env.Executable = true
	env.Encoders = parseEncoders(out.String())
	s.log.Debug().Str("ffmpeg", path).Int("encoders", len(env.Encoders)).Msg("Probed encoder environment")
	return env
}

// parseEncoders extracts encoder names from `ffmpeg -encoders` output. The
// listing starts after the " ------" separator; each row is
// "<flags> <name> <description>".
func parseEncoders(out string) []string {
	var names []string
	listing := false
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !listing {
			listing = strings.HasPrefix(line, "------")
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		names = append(names, fields[1])
	}
	return names
}

// ---------------------------------------------------------------------------
// Probing
// ---------------------------------------------------------------------------

// ClipProbe is what ffprobe reports about a media file.
type ClipProbe struct {
	Duration float64
	Width    int
	Height   int
	FPS      float64
	HasVideo bool
	HasAudio bool
}

// Probe runs ffprobe on path.
func (s *FFmpegService) Probe(ctx context.Context, path string) (ClipProbe, error) {
	args := []string{"-v", "error", "-show_format", "-show_streams", "-of", "json", path}
	cmd := exec.CommandContext(ctx, s.ffprobePath, args...)

	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return ClipProbe{}, fmt.Errorf("ffprobe failed: %s", detail)
	}
	return parseProbe(out.String())
}

func parseProbe(js string) (ClipProbe, error) {
	if !gjson.Valid(js) {
		return ClipProbe{}, fmt.Errorf("ffprobe returned invalid json")
	}
	res := gjson.Parse(js)

	var p ClipProbe
	p.Duration = res.Get("format.duration").Float()

	video := res.Get(`streams.#(codec_type=="video")`)
	if video.Exists() {
		p.HasVideo = true
		p.Width = int(video.Get("width").Int())
		p.Height = int(video.Get("height").Int())
		p.FPS = parseRate(video.Get("avg_frame_rate").String())
		if p.FPS <= 0 {
			p.FPS = parseRate(video.Get("r_frame_rate").String())
		}
		if p.Duration <= 0 {
			p.Duration = video.Get("duration").Float()
		}
	}
	p.HasAudio = res.Get(`streams.#(codec_type=="audio")`).Exists()
	return p, nil
}

// parseRate parses ffprobe rationals such as "30000/1001".
func parseRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !ok {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}

// ---------------------------------------------------------------------------
// Audio decode
// ---------------------------------------------------------------------------

// DecodeAudio decodes the audio of path to 48 kHz stereo float PCM.
func (s *FFmpegService) DecodeAudio(ctx context.Context, path string) (*audio.Buffer, error) {
	args := ffmpeg.Input(path).
		Output("pipe:1", ffmpeg.KwArgs{
			"vn":     "",
			"f":      "f32le",
			"ac":     audio.Channels,
			"ar":     audio.SampleRate,
			"acodec": "pcm_f32le",
		}).
		GetArgs()

	cmd := exec.CommandContext(ctx, s.ffmpegPath, args...)
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg audio decode failed: %s", lastLine(stderr.String(), err))
	}
	return pcmToBuffer(out.Bytes()), nil
}

func pcmToBuffer(raw []byte) *audio.Buffer {
	n := len(raw) / 4
	n -= n % audio.Channels
	buf := &audio.Buffer{
		SampleRate: audio.SampleRate,
		Channels:   audio.Channels,
		Data:       make([]float32, n),
	}
	for i := 0; i < n; i++ {
		buf.Data[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return buf
}

func lastLine(stderr string, err error) string {
	stderr = strings.TrimSpace(stderr)
	if stderr == "" {
		return err.Error()
	}
	if i := strings.LastIndexByte(stderr, '\n'); i >= 0 {
		return stderr[i+1:]
	}
	return stderr
}

// ---------------------------------------------------------------------------
// Clip reader
// ---------------------------------------------------------------------------

// OpenClip probes path and returns a frame decoder for it.
func (s *FFmpegService) OpenClip(ctx context.Context, path string) (media.FrameDecoder, media.ClipInfo, error) {
	p, err := s.Probe(ctx, path)
	if err != nil {
		return nil, media.ClipInfo{}, err
	}
	if !p.HasVideo || p.Width <= 0 || p.Height <= 0 {
		return nil, media.ClipInfo{}, fmt.Errorf("%s has no video stream", filepath.Base(path))
	}
	fps := p.FPS
	if fps <= 0 || math.IsInf(fps, 0) || fps > 240 {
		fps = defaultClipFPS
	}

	info := media.ClipInfo{Duration: p.Duration, Width: p.Width, Height: p.Height, HasAudio: p.HasAudio}
	dec := &clipReader{
		bin:    s.ffmpegPath,
		path:   path,
		fps:    fps,
		width:  p.Width,
		height: p.Height,
		frames: int(math.Floor(p.Duration * fps)),
		log:    s.log.With().Str("clip", filepath.Base(path)).Logger(),
	}
	return dec, info, nil
}

// clipReader keeps one ffmpeg process streaming raw frames and serves
// sequential seeks from it. Backward seeks and long jumps restart the
// process at the target.
type clipReader struct {
	bin    string
	path   string
	fps    float64
	width  int
	height int
	frames int
	log    zerolog.Logger

	cmd    *exec.Cmd
	stdout io.ReadCloser
	r      *bufio.Reader
	next   int // index of the next frame the stream yields
	cur    *image.RGBA
	skip   []byte
}

func (c *clipReader) frameIndex(t float64) int {
	i := int(math.Floor(t*c.fps + 1e-6))
	if i >= c.frames {
		i = c.frames - 1
	}
	if i < 0 {
		i = 0
	}
	return i
}

func (c *clipReader) DecodeAt(ctx context.Context, t float64) (image.Image, error) {
	target := c.frameIndex(t)
	if c.cur != nil && target == c.next-1 {
		return c.cur, nil
	}

	maxSkip := int(maxSkipSeconds * c.fps)
	if c.cmd == nil || target < c.next || target-c.next > maxSkip {
		if err := c.restart(ctx, target); err != nil {
			return nil, err
		}
	}

	size := c.width * c.height * 4
	for c.next <= target {
		if c.next < target {
			if c.skip == nil {
				c.skip = make([]byte, size)
			}
			if _, err := io.ReadFull(c.r, c.skip); err != nil {
				return c.endOfStream(err)
			}
			c.next++
			continue
		}
		img := image.NewRGBA(image.Rect(0, 0, c.width, c.height))
		if _, err := io.ReadFull(c.r, img.Pix); err != nil {
			return c.endOfStream(err)
		}
		c.cur = img
		c.next++
	}
	return c.cur, nil
}

// endOfStream serves the last decoded frame when the stream ends early,
// which happens when the container's duration overstates its video.
func (c *clipReader) endOfStream(err error) (image.Image, error) {
	c.stop()
	if (errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)) && c.cur != nil {
		return c.cur, nil
	}
	return nil, fmt.Errorf("clip read failed: %w", err)
}

func (c *clipReader) restart(ctx context.Context, target int) error {
	c.stop()
	if err := ctx.Err(); err != nil {
		return err
	}

	start := float64(target) / c.fps
	args := ffmpeg.Input(c.path, ffmpeg.KwArgs{"ss": strconv.FormatFloat(start, 'f', 3, 64)}).
		Output("pipe:1", ffmpeg.KwArgs{
			"an":      "",
			"f":       "rawvideo",
			"pix_fmt": "rgba",
			"r":       strconv.FormatFloat(c.fps, 'f', -1, 64),
		}).
		GetArgs()

	// The reader outlives the seek that started it.
	cmd := exec.Command(c.bin, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open clip stream: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start clip reader: %w", err)
	}
	c.log.Debug().Int("frame", target).Msg("Clip reader restarted")

	c.cmd = cmd
	c.stdout = stdout
	c.r = bufio.NewReaderSize(stdout, c.width*c.height*4)
	c.next = target
	return nil
}

func (c *clipReader) stop() {
	if c.cmd == nil {
		return
	}
	if c.cmd.Process != nil {
		c.cmd.Process.Kill()
	}
	c.stdout.Close()
	c.cmd.Wait()
	c.cmd = nil
	c.stdout = nil
	c.r = nil
}

func (c *clipReader) Close() error {
	c.stop()
	c.cur = nil
	return nil
}
