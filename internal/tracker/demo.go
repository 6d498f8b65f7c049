package tracker

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"
)

// Demo generates simulated pose data for development and testing without a
// measurement controller attached. Motion is a probe sweeping a circle in
// front of a static reference, with measurement noise and the occasional
// marker occlusion thrown in.
type Demo struct {
	connected bool
	tracking  bool
	strays    bool
	sessionID string

	t     float64 // virtual time accumulator
	frame uint32
	seq   uint64
	tools []*demoTool
}

type demoTool struct {
	name   string
	serial string
	handle string
	main   string
	offset Vector3
	phase  float64
	static bool

	markerPose  Pose
	tooltipPose Pose
	errorRMS    float64
	frameValid  bool
}

// NewDemo returns a disconnected demo provider.
func NewDemo() *Demo {
	return &Demo{}
}

func (d *Demo) Name() string      { return "Demo (Simulated)" }
func (d *Demo) SessionID() string { return d.sessionID }
func (d *Demo) Connected() bool   { return d.connected }
func (d *Demo) Tracking() bool    { return d.tracking }

func (d *Demo) Connect() error {
	d.connected = true
	d.sessionID = uuid.NewString()
	d.frame = 0
	d.seq = 0
	return nil
}

func (d *Demo) Disconnect() error {
	d.connected = false
	d.tracking = false
	d.sessionID = ""
	return nil
}

// DeclareTool adds a tool to the simulation. Redeclaring a serial replaces
// the earlier declaration.
func (d *Demo) DeclareTool(decl ToolDeclaration) error {
	name := decl.Name
	if name == "" {
		name = decl.SerialNumber
	}
	for _, t := range d.tools {
		if t.serial == decl.SerialNumber {
			t.name = name
			t.offset = decl.TooltipOffset
			return nil
		}
	}
	d.tools = append(d.tools, &demoTool{
		name:   name,
		serial: decl.SerialNumber,
		main:   "02",
		offset: decl.TooltipOffset,
		phase:  float64(len(d.tools)) * math.Pi / 3,
	})
	return nil
}

// SetupTools assigns simulated port handles. With no declared tools it
// seeds a static reference and a sweeping probe.
func (d *Demo) SetupTools() error {
	if !d.connected {
		return fmt.Errorf("tracker: not connected")
	}
	if len(d.tools) == 0 {
		d.tools = []*demoTool{
			{name: "reference", serial: "DEMO0001", main: "01", static: true},
			{name: "probe", serial: "DEMO0002", main: "02", offset: Vector3{Z: -88.0}},
		}
	}
	for i, t := range d.tools {
		t.handle = fmt.Sprintf("%02X", 10+i)
	}
	return nil
}

func (d *Demo) SetTracking(on bool) error {
	if !d.connected {
		return fmt.Errorf("tracker: not connected")
	}
	d.tracking = on
	return nil
}

func (d *Demo) StrayReporting() bool      { return d.strays }
func (d *Demo) SetStrayReporting(on bool) { d.strays = on }

// Beep pretends the beeper sounded.
func (d *Demo) Beep(count int) error {
	if !d.connected {
		return fmt.Errorf("tracker: not connected")
	}
	if count < 1 || count > 9 {
		return fmt.Errorf("tracker: beep count %d out of range", count)
	}
	return nil
}

// Track synthesizes one frame of pose data.
func (d *Demo) Track() (*Frame, error) {
	if !d.tracking {
		return nil, fmt.Errorf("tracker: not tracking")
	}

	d.t += 0.05 // ~20Hz tick
	d.frame += 3
	d.seq++

	for _, t := range d.tools {
		// Occasional occlusion on moving tools
		if !t.static && rand.Float64() < 0.02 {
			t.markerPose.Valid = false
			t.tooltipPose.Valid = false
			t.frameValid = true
			continue
		}

		var pos Vector3
		var rot Quaternion
		if t.static {
			pos = Vector3{Z: -1000}
			rot = Quaternion{W: 1}
		} else {
			// Sweep a circle in front of the camera, bobbing in depth
			angle := d.t*0.4 + t.phase
			pos = Vector3{
				X: 150 * math.Cos(angle),
				Y: 150 * math.Sin(angle),
				Z: -1000 + 40*math.Sin(d.t*0.15),
			}
			half := (d.t*0.2 + t.phase) / 2
			rot = Quaternion{W: math.Cos(half), Z: math.Sin(half)}
		}

		// Sub-millimetre measurement noise
		pos.X += rand.Float64()*0.1 - 0.05
		pos.Y += rand.Float64()*0.1 - 0.05
		pos.Z += rand.Float64()*0.1 - 0.05

		t.markerPose = Pose{Rotation: rot, Translation: pos, Valid: true}
		t.tooltipPose = tooltipPose(t.markerPose, t.offset)
		t.errorRMS = 0.08 + rand.Float64()*0.1
		t.frameValid = true
	}

	return &Frame{
		SessionID:    d.sessionID,
		Seq:          d.seq,
		Captured:     time.Now().UTC(),
		SystemStatus: "0000",
		Tools:        d.Tools(),
		Strays:       d.strayMarkers(),
	}, nil
}

// TrackStrays synthesizes stray markers without touching tool poses. Unlike
// Track it only needs a connection; the simulated session tracks on demand.
func (d *Demo) TrackStrays() ([]StraySnapshot, error) {
	if !d.connected {
		return nil, fmt.Errorf("tracker: not connected")
	}
	d.t += 0.05
	saved := d.strays
	d.strays = true
	out := d.strayMarkers()
	d.strays = saved
	return out, nil
}

func (d *Demo) strayMarkers() []StraySnapshot {
	if !d.strays {
		return nil
	}
	out := make([]StraySnapshot, 0, 3)
	for i := 0; i < 3; i++ {
		angle := d.t*0.1 + float64(i)*2*math.Pi/3
		out = append(out, StraySnapshot{
			// Third marker drifts in and out of the volume
			Visible: i < 2 || math.Sin(d.t*0.3) > 0,
			Position: Vector3{
				X: 250 * math.Cos(angle),
				Y: 250 * math.Sin(angle),
				Z: -1100,
			},
		})
	}
	return out
}

// Tools snapshots the simulated tools in declaration order.
func (d *Demo) Tools() []ToolSnapshot {
	out := make([]ToolSnapshot, 0, len(d.tools))
	for _, t := range d.tools {
		out = append(out, ToolSnapshot{
			Name:         t.name,
			SerialNumber: t.serial,
			MainType:     t.main,
			PortHandle:   t.handle,
			MarkerPose:   t.markerPose,
			TooltipPose:  t.tooltipPose,
			ErrorRMS:     t.errorRMS,
			FrameNumber:  d.frame,
			FrameValid:   t.frameValid,
		})
	}
	return out
}

var (
	_ Provider = (*Controller)(nil)
	_ Provider = (*Demo)(nil)
)
