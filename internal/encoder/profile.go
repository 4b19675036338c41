package encoder

// Profile names a hardware-accelerated video codec choice made once at room
// configure time and reused by that room's re-encoding invocations (screen
// capture and PiP merge); camera capture and transcode copy the video
// stream and take no profile.
type Profile string

const (
	ProfileNVENC        Profile = "h264_nvenc"
	ProfileVideoToolbox Profile = "h264_videotoolbox"
	ProfileQuickSync    Profile = "h264_qsv"
)

// SelectProfile chooses the encoder profile the way configure() does:
// hardware-accelerated (NVENC on Linux hosts, VideoToolbox on Darwin hosts)
// when the injected GPU probe reports true, QuickSync otherwise. Device
// enumeration itself is an external collaborator; SelectProfile only
// consumes the probe's boolean result.
func SelectProfile(gpuAvailable bool, goos string) Profile {
	if gpuAvailable {
		if goos == "darwin" {
			return ProfileVideoToolbox
		}
		return ProfileNVENC
	}
	return ProfileQuickSync
}
