package tracker

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/tracklab/nditracker/internal/protocol"
)

// ============================================================================
// Port handle management
// ============================================================================

const (
	// zeroSerial is the placeholder electromagnetic sensors occasionally
	// report right after initialization, before the sensor EEPROM has been
	// read out.
	zeroSerial = "00000000"

	// secondChannel marks the extra port handle a dual 5-DoF sensor gets
	// for its second coil.
	secondChannel = "01"

	// zeroSerialSettle is the pause before the single reinitialize retry
	// after a zero serial.
	zeroSerialSettle = 500 * time.Millisecond
)

// SetupTools prepares every tool for tracking: stale handles are freed and
// fresh ones initialized, declared tool definitions are uploaded, their
// handles initialized in turn, every occupant identified and paired with a
// registry tool, and finally everything ready is enabled. Must run connected
// but not tracking.
func (c *Controller) SetupTools() error {
	if !c.Connected() {
		return fmt.Errorf("tracker: not connected")
	}
	if c.state == Tracking {
		return fmt.Errorf("tracker: cannot set up tools while tracking")
	}

	c.registry.BeginEnumeration()
	if err := c.initializePortHandles(); err != nil {
		return err
	}
	for _, tool := range c.registry.Tools() {
		if tool.DefinitionPath == "" {
			continue
		}
		if err := c.loadToolDefinition(tool); err != nil {
			return err
		}
	}
	if err := c.initializePortHandles(); err != nil {
		return err
	}
	if err := c.queryPortHandles(true); err != nil {
		return err
	}
	if err := c.enablePortHandles(); err != nil {
		return err
	}
	log.Printf("[tracker] tool setup complete, %d tools registered", c.registry.Len())
	return nil
}

// portHandleSearch runs one PHSR and returns the reported handles.
func (c *Controller) portHandleSearch(mode protocol.PHSRMode) ([]string, error) {
	if err := c.sendCommand(protocol.PHSRCmd(mode)); err != nil {
		return nil, err
	}
	payload, err := c.readResponse()
	if err != nil {
		return nil, err
	}
	if code, isErr := protocol.IsErrorReply(payload); isErr {
		return nil, &protocol.ProtocolError{Op: "PHSR", Detail: "controller error " + code}
	}
	return protocol.ParsePHSR(payload)
}

// initializePortHandles frees every handle the controller flags as stale,
// then initializes every occupied one. A handle that refuses either command
// is logged and skipped; the rest of the pass continues.
func (c *Controller) initializePortHandles() error {
	handles, err := c.portHandleSearch(protocol.PHSRToFree)
	if err != nil {
		return err
	}
	for _, h := range handles {
		if err := c.commandOKAY(protocol.PHFCmd(h)); err != nil {
			log.Printf("[tracker] free handle %s: %v", h, err)
			continue
		}
		log.Printf("[tracker] freed port handle %s", h)
	}

	handles, err = c.portHandleSearch(protocol.PHSRToInitialize)
	if err != nil {
		return err
	}
	for _, h := range handles {
		if err := c.commandOKAY(protocol.PInitCmd(h)); err != nil {
			log.Printf("[tracker] initialize handle %s: %v", h, err)
			continue
		}
		log.Printf("[tracker] initialized port handle %s", h)
	}
	return nil
}

// queryPortHandles reads the tool information behind every allocated
// handle and pairs each with a registry tool. A zero serial is retried
// once after a reinitialize; a second one fails the setup.
func (c *Controller) queryPortHandles(allowRetry bool) error {
	handles, err := c.portHandleSearch(protocol.PHSRAll)
	if err != nil {
		return err
	}
	for _, h := range handles {
		info, err := c.toolInfo(h)
		if errors.Is(err, protocol.ErrUnoccupied) {
			continue
		}
		if err != nil {
			return err
		}
		if c.registry.ByHandle(h) == nil && info.SerialNumber == zeroSerial {
			if !allowRetry {
				return &protocol.ProtocolError{
					Op:     "PHINF",
					Detail: fmt.Sprintf("handle %s still reports a zero serial number", h),
				}
			}
			log.Printf("[tracker] handle %s reported a zero serial, reinitializing once", h)
			time.Sleep(zeroSerialSettle)
			if err := c.initializePortHandles(); err != nil {
				return err
			}
			return c.queryPortHandles(false)
		}
		if err := c.adoptTool(h, info); err != nil {
			return err
		}
	}
	return nil
}

// adoptTool pairs handle with its registry tool, creating one for tools
// first seen on the wire. The second channel of a dual sensor becomes its
// own tool under a derived serial so both coils report poses.
func (c *Controller) adoptTool(handle string, info *protocol.ToolInfo) error {
	if tool := c.registry.ByHandle(handle); tool != nil {
		// handle was acquired during a definition upload
		tool.MainType = info.MainType
		tool.ManufacturerID = info.ManufacturerID
		tool.ToolRevision = info.ToolRevision
		tool.PartNumber = info.PartNumber
		return nil
	}

	serial := info.SerialNumber
	if info.Channel == secondChannel {
		b := []byte(serial)
		b[len(b)-1]++
		serial = string(b)
		log.Printf("[tracker] handle %s carries a second sensor channel, adopting as %s", handle, serial)
	}
	tool := c.registry.BySerial(serial)
	if tool == nil {
		name := info.MainType + "-" + serial
		var err error
		tool, err = c.registry.Add(name, serial)
		if err != nil {
			return err
		}
		log.Printf("[tracker] discovered tool %s", name)
	}
	tool.MainType = info.MainType
	tool.ManufacturerID = info.ManufacturerID
	tool.ToolRevision = info.ToolRevision
	tool.PartNumber = info.PartNumber
	c.registry.AssignHandle(handle, tool)
	return nil
}

// toolInfo runs one PHINF for handle.
func (c *Controller) toolInfo(handle string) (*protocol.ToolInfo, error) {
	if err := c.sendCommand(protocol.PHInfCmd(handle)); err != nil {
		return nil, err
	}
	payload, err := c.readResponse()
	if err != nil {
		return nil, err
	}
	if code, isErr := protocol.IsErrorReply(payload); isErr {
		return nil, &protocol.ProtocolError{Op: "PHINF", Detail: "controller error " + code}
	}
	return protocol.ParsePHINF(payload)
}

// enablePortHandles enables every handle the controller reports ready, with
// the tracking mode derived from the occupant's main type. A handle with no
// adopted tool or an unrecognized main type aborts the pass; a refused PENA
// is logged and skipped.
func (c *Controller) enablePortHandles() error {
	handles, err := c.portHandleSearch(protocol.PHSRToEnable)
	if err != nil {
		return err
	}
	for _, h := range handles {
		tool := c.registry.ByHandle(h)
		if tool == nil {
			return &protocol.ProtocolError{
				Op:     "PENA",
				Detail: fmt.Sprintf("handle %s has no tool information", h),
			}
		}
		mode, err := protocol.EnableModeForType(tool.MainType)
		if err != nil {
			return err
		}
		if err := c.commandOKAY(protocol.PEnaCmd(h, mode)); err != nil {
			log.Printf("[tracker] enable handle %s: %v", h, err)
			continue
		}
		log.Printf("[tracker] enabled %s on handle %s (mode %c)", tool.Name, h, mode)
	}
	return nil
}
