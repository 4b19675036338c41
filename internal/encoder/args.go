package encoder

import (
	"fmt"

	"github.com/krsna1729/roomrecorder/internal/scene"
)

// CaptureArgs builds the argument vector for a single-input capture: an
// RTSP camera publisher (stream-copied) optionally paired with a
// stream-mapped microphone input, transcoded to AAC. Grounded on
// original_source/httpclient.py's __record_cam, with the Windows-specific
// dshow device syntax generalized to an opaque device URI the caller
// supplies (device enumeration itself is an external collaborator).
func CaptureArgs(inputURL, micDeviceURI, outputPath string) []string {
	if micDeviceURI == "" {
		return []string{
			"-loglevel", "error",
			"-rtsp_transport", "tcp",
			"-i", inputURL,
			"-c:v", "copy",
			outputPath,
		}
	}
	return []string{
		"-loglevel", "error",
		"-rtsp_transport", "tcp", "-thread_queue_size", "512", "-i", inputURL,
		"-thread_queue_size", "512", "-itsoffset", "1", "-i", micDeviceURI,
		"-map", "1:a", "-map", "0:v",
		"-c:v", "copy",
		"-c:a", "aac", "-ar", "44100", "-b:a", "320k", "-ac", "2",
		outputPath,
	}
}

// ScreenCaptureArgs builds the argument vector for the screen-capture leg of
// a paired screen+cam recording, encoded with the room's chosen hardware
// profile. Grounded on original_source/httpclient.py's __record_screen_cam
// screen branch.
func ScreenCaptureArgs(monitorDeviceURI string, profile Profile, outputPath string) []string {
	return []string{
		"-loglevel", "info",
		"-thread_queue_size", "1024", "-i", monitorDeviceURI,
		"-c:v", string(profile),
		"-r", "25",
		"-b:v", "6M", "-minrate", "6M", "-maxrate", "8M",
		outputPath,
	}
}

// MergeArgs builds the PiP compositing invocation: the camera stream scaled
// and overlaid over the screen stream per layout, emitted to outputPath.
// Hardware dispatch mirrors original_source/recorder.py's
// RecordSegment.merge() NVENC/VideoToolbox pair, generalized to include
// QuickSync; the inset geometry itself comes from the room's capture scene
// (internal/scene), matching original_source/obsclient.py's CAM_SCALE-driven
// SceneItem placement instead of a hardcoded constant.
func MergeArgs(screenFile, camFile string, profile Profile, layout scene.Layout, outputPath string) []string {
	w, h := layout.InsetSize()
	margin := layout.MarginPx
	switch profile {
	case ProfileNVENC:
		return []string{
			"-hwaccel", "cuda", "-hwaccel_output_format", "cuda", "-i", screenFile,
			"-hwaccel", "cuda", "-hwaccel_output_format", "cuda", "-i", camFile,
			"-filter_complex", fmt.Sprintf("[1]scale_npp=%d:%d:format=nv12[pip];[0][pip]overlay_cuda=x=main_w-overlay_w-%d:y=main_h-overlay_h-%d", w, h, margin, margin),
			"-codec:v", string(ProfileNVENC), "-crf", "17", "-preset", "p6", "-b:v", "8M",
			"-codec:a", "copy",
			outputPath,
		}
	case ProfileQuickSync:
		return []string{
			"-hwaccel", "qsv", "-i", screenFile,
			"-hwaccel", "qsv", "-i", camFile,
			"-filter_complex", fmt.Sprintf("[1]scale_qsv=w=%d:h=%d[pip];[0][pip]overlay_qsv=x=main_w-overlay_w-%d:y=main_h-overlay_h-%d", w, h, margin, margin),
			"-codec:v", string(ProfileQuickSync), "-b:v", "8M",
			"-codec:a", "copy",
			outputPath,
		}
	default: // ProfileVideoToolbox
		return []string{
			"-i", screenFile,
			"-i", camFile,
			"-filter_complex", fmt.Sprintf("[1]scale=%d:%d[pip];[0][pip]overlay=main_w-overlay_w-%d:main_h-overlay_h-%d", w, h, margin, margin),
			"-codec:v", string(ProfileVideoToolbox), "-preset", "fast", "-b:v", "8M",
			"-codec:a", "copy",
			outputPath,
		}
	}
}

// ConcatArgs builds a stream-copy concat-demuxer invocation over a
// pre-written join-list file.
func ConcatArgs(joinListPath, outputPath string) []string {
	return []string{
		"-f", "concat", "-safe", "0", "-i", joinListPath,
		"-c", "copy",
		outputPath,
	}
}

// TranscodeArgs builds the final-container transcode: video stream-copied,
// audio re-encoded to AAC.
func TranscodeArgs(inputPath, outputPath string) []string {
	return []string{
		"-i", inputPath,
		"-c:v", "copy", "-c:a", "aac",
		outputPath,
	}
}

// ThumbnailArgs builds a single-frame thumbnail extraction at t=1s.
func ThumbnailArgs(inputPath, outputPath string) []string {
	return []string{
		"-i", inputPath,
		"-ss", "00:00:01.000", "-vframes", "1",
		outputPath,
	}
}

// ProbeArgs builds the ffprobe invocation used to read duration/size.
func ProbeArgs(inputPath string) []string {
	return []string{
		"-v", "quiet", "-print_format", "json", "-show_format",
		inputPath,
	}
}

// JoinListLine formats one line of a concat-demuxer join-list file.
func JoinListLine(folder, name string) string {
	return fmt.Sprintf("file '%s/%s'", folder, name)
}
