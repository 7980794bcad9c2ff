package occlusion

import "math"

// Face is one raw detector hit in source image pixels. Contour and landmarks
// are optional; detectors that only report boxes leave them empty.
type Face struct {
	Box      Viewport     `json:"box"`
	Contour  []PixelPoint `json:"contour,omitempty"`
	LeftEye  *PixelPoint  `json:"leftEye,omitempty"`
	RightEye *PixelPoint  `json:"rightEye,omitempty"`
	NoseBase *PixelPoint  `json:"noseBase,omitempty"`
}

func (f Face) hasLandmarks() bool {
	return f.LeftEye != nil || f.RightEye != nil || f.NoseBase != nil
}

// DetectionFrame is the detector output for one sampled video frame.
type DetectionFrame struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Faces  []Face `json:"faces"`
}

const minFaceContourPoints = 20

// IsReliableFaceCandidate rejects boxes that are too small, too large or
// oddly shaped to be a face. Contour and landmark checks apply only when the
// detector supplied that data.
func IsReliableFaceCandidate(face Face, imageWidth, imageHeight float64) bool {
	imageWidth = math.Max(imageWidth, 1)
	imageHeight = math.Max(imageHeight, 1)
	box := face.Box
	if box.Width() <= 0 || box.Height() <= 0 {
		return false
	}
	widthRatio := clamp(box.Width()/imageWidth, 0, 1)
	heightRatio := clamp(box.Height()/imageHeight, 0, 1)
	if widthRatio < 0.06 || heightRatio < 0.08 {
		return false
	}
	area := widthRatio * heightRatio
	if area < 0.008 || area > 0.45 {
		return false
	}
	aspect := math.Max(box.Width()/box.Height(), 0.01)
	if aspect < 0.5 || aspect > 1.7 {
		return false
	}
	if len(face.Contour) > 0 && len(face.Contour) < minFaceContourPoints {
		return false
	}
	if !face.hasLandmarks() {
		return true
	}
	eyes := 0
	if face.LeftEye != nil {
		eyes++
	}
	if face.RightEye != nil {
		eyes++
	}
	if eyes == 0 || face.NoseBase == nil {
		return false
	}
	if face.LeftEye != nil && face.RightEye != nil {
		if math.Abs(face.LeftEye.X-face.RightEye.X)/imageWidth < 0.025 {
			return false
		}
	}
	return true
}

// Detection is a frame converted into normalized geometry.
type Detection struct {
	Regions     []Region     `json:"regions"`
	MaskRects   []Rect       `json:"maskRects"`
	VisualMasks []VisualMask `json:"visualMasks"`
}

// ConvertFrame filters unreliable faces, builds a visual mask per face and
// derives vertical regions from the merged mask rects.
func ConvertFrame(frame DetectionFrame, maskOpts MaskOptions, visualOpts VisualMaskOptions) Detection {
	w := math.Max(float64(frame.Width), 1)
	h := math.Max(float64(frame.Height), 1)
	result := Detection{}
	for _, face := range frame.Faces {
		if !IsReliableFaceCandidate(face, w, h) {
			continue
		}
		rect := Rect{
			Left:   clamp(face.Box.Left/w, 0, 1),
			Top:    clamp(face.Box.Top/h, 0, 1),
			Right:  clamp(face.Box.Right/w, 0, 1),
			Bottom: clamp(face.Box.Bottom/h, 0, 1),
		}.Normalized()
		if rect.Right <= rect.Left || rect.Bottom <= rect.Top {
			continue
		}
		polygon := make([]Point, 0, len(face.Contour))
		for _, p := range face.Contour {
			polygon = append(polygon, Point{X: clamp(p.X/w, 0, 1), Y: clamp(p.Y/h, 0, 1)})
		}
		result.VisualMasks = append(result.VisualMasks, BuildVisualMask(rect, polygon, visualOpts))
	}
	rects := make([]Rect, 0, len(result.VisualMasks))
	for _, m := range result.VisualMasks {
		rects = append(rects, m.Rect)
	}
	result.MaskRects = ResolveFaceOcclusionMasks(rects, maskOpts)
	for _, r := range result.MaskRects {
		result.Regions = append(result.Regions, Region{Top: r.Top, Bottom: r.Bottom})
	}
	return result
}
