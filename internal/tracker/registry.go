package tracker

import (
	"fmt"
	"log"
	"sort"

	"github.com/tracklab/nditracker/internal/protocol"
)

// serialNumberLen is the width of the serial number field in tool
// information replies. Serials are compared as raw 8-character strings.
const serialNumberLen = 8

// Tool is one physical or logical tracked instrument. Tools are created
// when declared by configuration or first observed on the wire and live for
// the whole process; the port handle and live pose state are cleared and
// reassigned across reconnects.
type Tool struct {
	Name           string
	SerialNumber   string // 8 ASCII chars, the dedup identity
	DefinitionPath string // passive tool geometry file, optional

	MainType       string
	ManufacturerID string
	ToolRevision   string
	PartNumber     string
	PortHandle     string // 2-char handle, "" while unassigned

	TooltipOffset Vector3 // tool frame, marker origin to working tip

	MarkerPose  Pose
	TooltipPose Pose
	ErrorRMS    float64
	FrameNumber uint32
	FrameValid  bool // FrameNumber means nothing until the first good frame
}

// Registry owns every Tool, indexed by name and by live port handle. It is
// only ever touched from the session's single command goroutine, so it
// carries no locking.
type Registry struct {
	byName   map[string]*Tool
	byHandle map[string]*Tool
}

// NewRegistry returns an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		byName:   make(map[string]*Tool),
		byHandle: make(map[string]*Tool),
	}
}

// Add registers a tool, deduplicating by serial number: a second
// registration with a known serial renames the existing tool instead of
// creating a duplicate. A rename or creation that collides with a different
// tool's name is a ConfigurationError.
func (r *Registry) Add(name, serialNumber string) (*Tool, error) {
	if tool := r.BySerial(serialNumber); tool != nil {
		if tool.Name == name {
			return tool, nil
		}
		if other, taken := r.byName[name]; taken && other != tool {
			return nil, &protocol.ConfigurationError{
				Field:  "tool name",
				Detail: fmt.Sprintf("%q already used by serial %s", name, other.SerialNumber),
			}
		}
		log.Printf("[registry] tool %q already exists for serial %s, renaming to %q", tool.Name, serialNumber, name)
		delete(r.byName, tool.Name)
		tool.Name = name
		r.byName[name] = tool
		return tool, nil
	}

	if _, taken := r.byName[name]; taken {
		return nil, &protocol.ConfigurationError{
			Field:  "tool name",
			Detail: fmt.Sprintf("duplicate tool name %q", name),
		}
	}
	tool := &Tool{Name: name, SerialNumber: serialNumber}
	r.byName[name] = tool
	return tool, nil
}

// BySerial finds a tool by its serial number, nil when unknown.
func (r *Registry) BySerial(serialNumber string) *Tool {
	for _, tool := range r.byName {
		if tool.SerialNumber == serialNumber {
			return tool
		}
	}
	return nil
}

// ByName finds a tool by name, nil when unknown.
func (r *Registry) ByName(name string) *Tool { return r.byName[name] }

// ByHandle finds the tool currently assigned a port handle, nil when none.
func (r *Registry) ByHandle(handle string) *Tool { return r.byHandle[handle] }

// AssignHandle maps a port handle to a tool, atomically replacing whatever
// either side was mapped to before: no two handles point at one tool and no
// stale mapping survives.
func (r *Registry) AssignHandle(handle string, tool *Tool) {
	if prev, ok := r.byHandle[handle]; ok && prev != tool {
		prev.PortHandle = ""
	}
	if tool.PortHandle != "" && tool.PortHandle != handle {
		delete(r.byHandle, tool.PortHandle)
	}
	tool.PortHandle = handle
	r.byHandle[handle] = tool
}

// BeginEnumeration drops the whole handle map so a query pass rebuilds it
// from scratch; tools keep their metadata and pose state.
func (r *Registry) BeginEnumeration() {
	for _, tool := range r.byHandle {
		tool.PortHandle = ""
	}
	r.byHandle = make(map[string]*Tool)
}

// ClearLiveState drops handle assignments and invalidates every pose, as
// after a disconnect.
func (r *Registry) ClearLiveState() {
	r.BeginEnumeration()
	for _, tool := range r.byName {
		tool.MarkerPose.Valid = false
		tool.TooltipPose.Valid = false
		tool.FrameValid = false
	}
}

// Len returns the number of registered tools.
func (r *Registry) Len() int { return len(r.byName) }

// Tools returns a name-sorted snapshot of the registered tools.
func (r *Registry) Tools() []*Tool {
	tools := make([]*Tool, 0, len(r.byName))
	for _, tool := range r.byName {
		tools = append(tools, tool)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	return tools
}
