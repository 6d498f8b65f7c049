package tracker

import (
	"fmt"
	"log"
	"time"

	"github.com/tracklab/nditracker/internal/protocol"
)

// ============================================================================
// Tracking frames
// ============================================================================

// Track polls one tracking frame, folds it into the registry and returns
// the resulting snapshot. Tools absent from the frame keep their previous
// state; tools reported missing have their poses invalidated. On any
// failure the registry is left exactly as it was.
func (c *Controller) Track() (*Frame, error) {
	if c.state != Tracking {
		return nil, fmt.Errorf("tracker: not tracking")
	}
	if err := c.sendCommand(protocol.TXCmd(c.strayMarkers)); err != nil {
		return nil, err
	}
	payload, err := c.readResponse()
	if err != nil {
		return nil, err
	}
	if code, isErr := protocol.IsErrorReply(payload); isErr {
		return nil, &protocol.ProtocolError{Op: "TX", Detail: "controller error " + code}
	}
	reply, err := protocol.ParseTX(payload, c.strayMarkers)
	if err != nil {
		return nil, err
	}
	if err := c.applyTX(reply); err != nil {
		return nil, err
	}
	c.seq++
	return &Frame{
		SessionID:    c.sessionID,
		Seq:          c.seq,
		Captured:     time.Now().UTC(),
		SystemStatus: reply.SystemStatus,
		Tools:        c.Tools(),
		Strays:       straySnapshots(reply.Strays),
	}, nil
}

// TrackStrays polls stray marker positions alone. Tools still appear in the
// reply as bare handles but no pose data is transferred or applied. The
// controller only reports markers while tracking, so the mode is entered if
// needed and restored afterwards.
func (c *Controller) TrackStrays() ([]StraySnapshot, error) {
	if !c.Connected() {
		return nil, fmt.Errorf("tracker: not connected")
	}
	wasTracking := c.state == Tracking
	if !wasTracking {
		if err := c.SetTracking(true); err != nil {
			return nil, err
		}
		defer func() {
			if err := c.SetTracking(false); err != nil {
				log.Printf("[tracker] stop tracking after stray poll: %v", err)
			}
		}()
	}

	if err := c.sendCommand(protocol.TXStraysOnlyCmd()); err != nil {
		return nil, err
	}
	payload, err := c.readResponse()
	if err != nil {
		return nil, err
	}
	if code, isErr := protocol.IsErrorReply(payload); isErr {
		return nil, &protocol.ProtocolError{Op: "TX", Detail: "controller error " + code}
	}
	strays, err := protocol.ParseTXStraysOnly(payload)
	if err != nil {
		return nil, err
	}
	return straySnapshots(strays), nil
}

// applyTX folds one decoded frame into the registry. Every handle is
// resolved before anything is mutated: a frame naming a handle the registry
// does not know means the enumeration is stale, and the whole frame is
// rejected rather than applied in part.
func (c *Controller) applyTX(reply *protocol.TXReply) error {
	tools := make([]*Tool, len(reply.Tools))
	for i := range reply.Tools {
		tool := c.registry.ByHandle(reply.Tools[i].Handle)
		if tool == nil {
			return &protocol.ProtocolError{
				Op:     "TX",
				Detail: fmt.Sprintf("unknown port handle %s, enumeration is stale", reply.Tools[i].Handle),
			}
		}
		tools[i] = tool
	}

	for i := range reply.Tools {
		tx := &reply.Tools[i]
		tool := tools[i]
		if tx.State == protocol.TXToolVisible {
			tool.MarkerPose = Pose{
				Rotation:    Quaternion{W: tx.Quaternion[0], X: tx.Quaternion[1], Y: tx.Quaternion[2], Z: tx.Quaternion[3]}.Normalized(),
				Translation: Vector3{X: tx.Position[0], Y: tx.Position[1], Z: tx.Position[2]},
				Valid:       true,
			}
			tool.TooltipPose = tooltipPose(tool.MarkerPose, tool.TooltipOffset)
			tool.ErrorRMS = tx.ErrorRMS
		} else {
			// missing, disabled or unoccupied: flag the poses stale but
			// keep their last numeric values
			tool.MarkerPose.Valid = false
			tool.TooltipPose.Valid = false
		}
		tool.FrameNumber = tx.FrameNumber
		tool.FrameValid = true
	}
	return nil
}

// tooltipPose shifts a marker pose to the working tip: same orientation,
// translation moved by the rotated tip offset.
func tooltipPose(marker Pose, offset Vector3) Pose {
	return Pose{
		Rotation:    marker.Rotation,
		Translation: marker.Translation.Add(marker.Rotation.Rotate(offset)),
		Valid:       marker.Valid,
	}
}

// Tools snapshots every registry tool, sorted by name.
func (c *Controller) Tools() []ToolSnapshot {
	tools := c.registry.Tools()
	out := make([]ToolSnapshot, 0, len(tools))
	for _, t := range tools {
		out = append(out, snapshotTool(t))
	}
	return out
}

func straySnapshots(strays []protocol.StrayMarker) []StraySnapshot {
	if len(strays) == 0 {
		return nil
	}
	out := make([]StraySnapshot, len(strays))
	for i, s := range strays {
		out[i] = StraySnapshot{
			Visible:  s.Visible,
			Position: Vector3{X: s.Position[0], Y: s.Position[1], Z: s.Position[2]},
		}
	}
	return out
}
