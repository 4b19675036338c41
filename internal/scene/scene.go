// Package scene models the picture-in-picture capture layout a room's
// configure step pins down: where the camera inset sits over the screen
// canvas once the two legs of a paired capture are merged.
//
// Grounded on original_source/obsclient.py's Scene/SceneItem model
// (MAIN_SCENE, the SCREEN_W/SCREEN_H canvas, CAM_SCALE=1/3 camera inset
// positioned bottom-right via update_position_scale). That original drives a
// live OBS WebSocket session that composites video in real time by toggling
// scene-item visibility per publisher; this design instead records each
// publisher through its own encoder and composites after the fact in
// internal/session's merge step, which internal/postprocess waits on (one of
// the several divergent composition strategies
// original_source explores). "Creates capture scene" here means computing
// and pinning this geometry at configure time, not opening a live session —
// the Layout it produces is what internal/encoder.MergeArgs actually
// exercises at merge time.
package scene

import "math"

// Canvas is the assumed screen-capture resolution, matching
// original_source/obsclient.py's SCREEN_W/SCREEN_H constants.
const (
	CanvasWidth  = 1920
	CanvasHeight = 1080
)

// Layout is the picture-in-picture geometry for one room: the camera
// inset's scale relative to the screen canvas, and its margin from the
// bottom-right corner.
type Layout struct {
	CamScale float64
	MarginPx int
}

// DefaultLayout returns the bottom-right, one-third-scale inset matching
// original_source/obsclient.py's CAM_SCALE and spec.md's PiP description.
func DefaultLayout() Layout {
	return Layout{CamScale: 1.0 / 3, MarginPx: 20}
}

// InsetSize returns the camera inset's pixel dimensions against the assumed
// canvas, rounded down to the nearest even number since several hardware
// scalers (scale_npp, scale_qsv) reject odd dimensions.
func (l Layout) InsetSize() (width, height int) {
	w := math.Floor(CanvasWidth*l.CamScale/2) * 2
	h := math.Floor(CanvasHeight*l.CamScale/2) * 2
	return int(w), int(h)
}
