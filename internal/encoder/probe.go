package encoder

import (
	"fmt"

	"github.com/bobarin/reelcut/internal/models"
)

// CapabilityKind classifies why the deterministic encoder is unavailable.
type CapabilityKind string

const (
	// CapabilityRestricted: an ffmpeg binary exists but this environment may
	// not execute it (permissions, sandbox, noexec mount).
	CapabilityRestricted CapabilityKind = "restricted"
	// CapabilityMissing: no ffmpeg binary was found.
	CapabilityMissing CapabilityKind = "missing"
	// CapabilityUnsupported: ffmpeg runs but lacks an encoder pair for the format.
	CapabilityUnsupported CapabilityKind = "unsupported"
)

// CapabilityError is a fatal-at-start error with a remediation hint.
type CapabilityError struct {
	Kind   CapabilityKind
	Format models.ExportFormat
	Detail string
}

func (e *CapabilityError) Error() string {
	switch e.Kind {
	case CapabilityRestricted:
		return fmt.Sprintf("video encoder is present but cannot be executed here (%s): grant execute permission or run the export outside the sandbox", e.Detail)
	case CapabilityMissing:
		return "no video encoder installed: install ffmpeg or set FFMPEG_PATH"
	default:
		return fmt.Sprintf("installed ffmpeg cannot encode %s (%s): install a build with these encoders or choose another format", e.Format, e.Detail)
	}
}

// Environment is what was discovered about the local ffmpeg install.
type Environment struct {
	FFmpegPath string
	Found      bool
	Executable bool
	Encoders   []string
	ProbeError string
}

// Capability is the encoder pair chosen for the deterministic backend.
type Capability struct {
	FFmpegPath string
	Format     models.ExportFormat
	VideoCodec string
	AudioCodec string
	Hardware   bool
}

var (
	h264Preference = []string{"h264_nvenc", "h264_videotoolbox", "h264_qsv", "h264_amf", "libx264"}
	vpxPreference  = []string{"libvpx-vp9", "libvpx"}
	aacPreference  = []string{"aac", "libfdk_aac"}
	webmAudio      = []string{"libopus", "libvorbis"}
)

// Probe picks the deterministic encoder pair for format from env. It is a
// pure function of its inputs.
func Probe(env Environment, format models.ExportFormat) (Capability, error) {
	if !env.Found {
		return Capability{}, &CapabilityError{Kind: CapabilityMissing, Format: format}
	}
	if !env.Executable {
		detail := env.ProbeError
		if detail == "" {
			detail = env.FFmpegPath
		}
		return Capability{}, &CapabilityError{Kind: CapabilityRestricted, Format: format, Detail: detail}
	}

	videoPref, audioPref := h264Preference, aacPreference
	if format == models.ExportFormatWebM {
		videoPref, audioPref = vpxPreference, webmAudio
	}

	have := make(map[string]bool, len(env.Encoders))
	for _, e := range env.Encoders {
		have[e] = true
	}
	video := firstAvailable(videoPref, have)
	aud := firstAvailable(audioPref, have)
	if video == "" || aud == "" {
		return Capability{}, &CapabilityError{
			Kind:   CapabilityUnsupported,
			Format: format,
			Detail: fmt.Sprintf("need one of %v and one of %v", videoPref, audioPref),
		}
	}

	return Capability{
		FFmpegPath: env.FFmpegPath,
		Format:     format,
		VideoCodec: video,
		AudioCodec: aud,
		Hardware:   video != "libx264" && video != "libvpx-vp9" && video != "libvpx",
	}, nil
}

func firstAvailable(pref []string, have map[string]bool) string {
	for _, p := range pref {
		if have[p] {
			return p
		}
	}
	return ""
}

// Choice is the outcome of backend selection.
type Choice struct {
	Backend    string
	Capability Capability
	// Reason is set when the realtime fallback was chosen.
	Reason error
}

// Choose selects exactly one backend. The realtime fallback is only used when
// allowRealtime is set; otherwise a missing capability is returned as error.
func Choose(env Environment, format models.ExportFormat, allowRealtime bool) (Choice, error) {
	caps, err := Probe(env, format)
	if err == nil {
		return Choice{Backend: BackendDeterministic, Capability: caps}, nil
	}
	if !allowRealtime {
		return Choice{}, err
	}
	return Choice{Backend: BackendRealtime, Reason: err}, nil
}
