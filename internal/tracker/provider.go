package tracker

import "time"

// Provider is the interface all pose sources must implement. Controller is
// the hardware implementation; Demo generates synthetic poses so the rest
// of the stack can be developed without a measurement controller attached.
type Provider interface {
	// Name returns the human-readable name of this pose provider.
	Name() string
	// Connect establishes a session with the pose source.
	Connect() error
	// Disconnect cleanly shuts the session down.
	Disconnect() error
	// Connected reports whether a session is established.
	Connected() bool
	// SessionID identifies the current session, empty when disconnected.
	SessionID() string

	// DeclareTool registers a tool the caller expects to track.
	DeclareTool(d ToolDeclaration) error
	// SetupTools prepares every declared and detected tool for tracking.
	SetupTools() error
	// Tools snapshots all known tools for status reporting.
	Tools() []ToolSnapshot

	// Tracking reports whether pose frames are being produced.
	Tracking() bool
	// SetTracking moves the source into or out of tracking mode.
	SetTracking(on bool) error
	// StrayReporting reports whether stray markers ride along with frames.
	StrayReporting() bool
	// SetStrayReporting toggles stray marker reporting.
	SetStrayReporting(on bool)

	// Track polls one pose frame. Only valid while tracking.
	Track() (*Frame, error)
	// TrackStrays polls stray marker positions without tool poses. Valid
	// whenever connected; tracking mode is entered and restored as needed.
	TrackStrays() ([]StraySnapshot, error)

	// Beep sounds the source's beeper count times, if it has one.
	Beep(count int) error
}

// ToolSnapshot is one tool's state as published to clients.
type ToolSnapshot struct {
	Name         string  `json:"name"`
	SerialNumber string  `json:"serialNumber"`
	MainType     string  `json:"mainType,omitempty"`
	PartNumber   string  `json:"partNumber,omitempty"`
	PortHandle   string  `json:"portHandle,omitempty"`
	MarkerPose   Pose    `json:"markerPose"`
	TooltipPose  Pose    `json:"tooltipPose"`
	ErrorRMS     float64 `json:"errorRms"` // mm
	FrameNumber  uint32  `json:"frameNumber"`
	FrameValid   bool    `json:"frameValid"`
}

// StraySnapshot is one unpaired marker as published to clients. Visible is
// false for markers the controller flagged out of the calibrated volume.
type StraySnapshot struct {
	Visible  bool    `json:"visible"`
	Position Vector3 `json:"position"` // mm
}

// Frame is one published tracking frame: every known tool's state plus any
// stray markers, stamped with the session and a per-session sequence.
type Frame struct {
	SessionID    string          `json:"sessionId"`
	Seq          uint64          `json:"seq"`
	Captured     time.Time       `json:"captured"`
	SystemStatus string          `json:"systemStatus,omitempty"`
	Tools        []ToolSnapshot  `json:"tools"`
	Strays       []StraySnapshot `json:"strays,omitempty"`
}

// snapshotTool freezes one tool for publication.
func snapshotTool(t *Tool) ToolSnapshot {
	return ToolSnapshot{
		Name:         t.Name,
		SerialNumber: t.SerialNumber,
		MainType:     t.MainType,
		PartNumber:   t.PartNumber,
		PortHandle:   t.PortHandle,
		MarkerPose:   t.MarkerPose,
		TooltipPose:  t.TooltipPose,
		ErrorRMS:     t.ErrorRMS,
		FrameNumber:  t.FrameNumber,
		FrameValid:   t.FrameValid,
	}
}
