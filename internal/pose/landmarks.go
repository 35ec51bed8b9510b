// Package pose holds the landmark frames produced by the external pose, hand and
// face detectors.
package pose

import (
	"math"
	"time"
)

// maxCoordinate bounds landmark coordinates. Detectors report normalized or
// pixel coordinates, far below it.
const maxCoordinate = 1e6

// Topology names a detector's landmark numbering.
type Topology string

const (
	Body Topology = "body"
	Hand Topology = "hand"
	Face Topology = "face"
)

// Body landmark indices following the 33-point MediaPipe pose topology.
const (
	Nose           = 0
	LeftEyeInner   = 1
	LeftEye        = 2
	LeftEyeOuter   = 3
	RightEyeInner  = 4
	RightEye       = 5
	RightEyeOuter  = 6
	LeftEar        = 7
	RightEar       = 8
	MouthLeft      = 9
	MouthRight     = 10
	LeftShoulder   = 11
	RightShoulder  = 12
	LeftElbow      = 13
	RightElbow     = 14
	LeftWrist      = 15
	RightWrist     = 16
	LeftPinky      = 17
	RightPinky     = 18
	LeftIndex      = 19
	RightIndex     = 20
	LeftThumb      = 21
	RightThumb     = 22
	LeftHip        = 23
	RightHip       = 24
	LeftKnee       = 25
	RightKnee      = 26
	LeftAnkle      = 27
	RightAnkle     = 28
	LeftHeel       = 29
	RightHeel      = 30
	LeftFootIndex  = 31
	RightFootIndex = 32

	NumBodyLandmarks = 33
)

// Hand landmark indices following the 21-point MediaPipe hand topology.
const (
	Wrist     = 0
	ThumbCMC  = 1
	ThumbMCP  = 2
	ThumbIP   = 3
	ThumbTip  = 4
	IndexMCP  = 5
	IndexPIP  = 6
	IndexDIP  = 7
	IndexTip  = 8
	MiddleMCP = 9
	MiddlePIP = 10
	MiddleDIP = 11
	MiddleTip = 12
	RingMCP   = 13
	RingPIP   = 14
	RingDIP   = 15
	RingTip   = 16
	PinkyMCP  = 17
	PinkyPIP  = 18
	PinkyDIP  = 19
	PinkyTip  = 20

	NumHandLandmarks = 21
)

// Landmark is one tracked point in normalized image coordinates.
// Z is nil when the detector supplies no depth.
type Landmark struct {
	X     float64  `json:"x"`
	Y     float64  `json:"y"`
	Z     *float64 `json:"z,omitempty"`
	Score float64  `json:"score"`
}

// HasDepth reports whether the landmark carries a Z coordinate.
func (l Landmark) HasDepth() bool {
	return l.Z != nil
}

// Depth returns Z, or 0 when the landmark has none.
func (l Landmark) Depth() float64 {
	if l.Z == nil {
		return 0
	}
	return *l.Z
}

// Set is one detection: an ordered landmark sequence in a fixed topology.
// Handedness is "Left" or "Right" for hand detections and empty otherwise.
type Set struct {
	Topology   Topology   `json:"topology"`
	Handedness string     `json:"handedness,omitempty"`
	Points     []Landmark `json:"points"`
}

// Point returns landmark i when it exists and its score reaches minScore.
func (s Set) Point(i int, minScore float64) (Landmark, bool) {
	if i < 0 || i >= len(s.Points) {
		return Landmark{}, false
	}
	l := s.Points[i]
	if l.Score < minScore || !l.finite() {
		return Landmark{}, false
	}
	return l, true
}

// finite reports whether every coordinate is a real number. Huge values are
// rejected too, since their differences overflow.
func (l Landmark) finite() bool {
	ok := func(v float64) bool { return !math.IsNaN(v) && math.Abs(v) <= maxCoordinate }
	return ok(l.X) && ok(l.Y) && (l.Z == nil || ok(*l.Z))
}

// Frame is everything the detector reported for one video frame.
type Frame struct {
	Time time.Time `json:"time"`
	Sets []Set     `json:"sets"`
}

// Find returns the first set with the given topology. A non-empty handedness
// must also match (case sensitive, as reported by the detector).
func (f Frame) Find(topology Topology, handedness string) (Set, bool) {
	for _, s := range f.Sets {
		if s.Topology != topology {
			continue
		}
		if handedness != "" && s.Handedness != handedness {
			continue
		}
		return s, true
	}
	return Set{}, false
}

var bodyNames = [NumBodyLandmarks]string{
	"nose", "left_eye_inner", "left_eye", "left_eye_outer",
	"right_eye_inner", "right_eye", "right_eye_outer", "left_ear", "right_ear",
	"mouth_left", "mouth_right", "left_shoulder", "right_shoulder",
	"left_elbow", "right_elbow", "left_wrist", "right_wrist",
	"left_pinky", "right_pinky", "left_index", "right_index",
	"left_thumb", "right_thumb", "left_hip", "right_hip",
	"left_knee", "right_knee", "left_ankle", "right_ankle",
	"left_heel", "right_heel", "left_foot_index", "right_foot_index",
}

var handNames = [NumHandLandmarks]string{
	"wrist", "thumb_cmc", "thumb_mcp", "thumb_ip", "thumb_tip",
	"index_mcp", "index_pip", "index_dip", "index_tip",
	"middle_mcp", "middle_pip", "middle_dip", "middle_tip",
	"ring_mcp", "ring_pip", "ring_dip", "ring_tip",
	"pinky_mcp", "pinky_pip", "pinky_dip", "pinky_tip",
}

// Index resolves a landmark name such as "left_elbow" or "index_tip" within a topology.
func Index(topology Topology, name string) (int, bool) {
	var names []string
	switch topology {
	case Body:
		names = bodyNames[:]
	case Hand:
		names = handNames[:]
	default:
		return 0, false
	}
	for i, n := range names {
		if n == name {
			return i, true
		}
	}
	return 0, false
}

// Name returns the landmark name for index i, or "" when out of range.
func Name(topology Topology, i int) string {
	switch topology {
	case Body:
		if i >= 0 && i < NumBodyLandmarks {
			return bodyNames[i]
		}
	case Hand:
		if i >= 0 && i < NumHandLandmarks {
			return handNames[i]
		}
	}
	return ""
}
