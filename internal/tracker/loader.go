package tracker

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/tracklab/nditracker/internal/protocol"
	"github.com/tracklab/nditracker/internal/rom"
)

// ============================================================================
// Tool definition upload
// ============================================================================

// acquirePortHandle requests a fresh handle for a wireless tool.
func (c *Controller) acquirePortHandle() (string, error) {
	if err := c.sendCommand(protocol.PHRQCmd()); err != nil {
		return "", err
	}
	payload, err := c.readResponse()
	if err != nil {
		return "", err
	}
	if code, isErr := protocol.IsErrorReply(payload); isErr {
		return "", &protocol.ProtocolError{Op: "PHRQ", Detail: "controller error " + code}
	}
	return protocol.ParsePHRQ(payload)
}

// loadToolDefinition uploads tool's geometry file to a freshly acquired
// port handle and pairs the two. The file is validated before anything
// touches the wire so a corrupt definition fails fast.
func (c *Controller) loadToolDefinition(tool *Tool) error {
	data, err := os.ReadFile(tool.DefinitionPath)
	if err != nil {
		return fmt.Errorf("tracker: tool %s: %w", tool.Name, err)
	}
	if len(data) == 0 || len(data) > protocol.MaxToolDefinitionSize {
		return &protocol.ConfigurationError{
			Field:  "tool definition",
			Detail: fmt.Sprintf("%s is %d bytes, limit %d", tool.DefinitionPath, len(data), protocol.MaxToolDefinitionSize),
		}
	}
	if rom.HasMagic(data) {
		if _, err := rom.Parse(data); err != nil {
			return fmt.Errorf("tracker: tool %s: %w", tool.Name, err)
		}
	}

	handle, err := c.acquirePortHandle()
	if err != nil {
		return err
	}

	chunks := (len(data) + protocol.ToolDefinitionChunkSize - 1) / protocol.ToolDefinitionChunkSize
	for i := 0; i < chunks; i++ {
		var chunk [protocol.ToolDefinitionChunkSize]byte
		copy(chunk[:], data[i*protocol.ToolDefinitionChunkSize:])
		payload, err := protocol.PVWRCmd(handle, i*protocol.ToolDefinitionChunkSize, chunk[:])
		if err != nil {
			return err
		}
		if err := c.commandOKAY(payload); err != nil {
			return fmt.Errorf("tracker: tool %s chunk %d: %w", tool.Name, i, err)
		}
	}
	c.registry.AssignHandle(handle, tool)
	log.Printf("[tracker] uploaded %s (%d bytes, %d chunks) for %s on handle %s",
		filepath.Base(tool.DefinitionPath), len(data), chunks, tool.Name, handle)
	return nil
}
