package builtin

import (
	"github.com/relaycore/chatengine/internal/toolregistry"
	"github.com/relaycore/chatengine/internal/undo"
)

// ToolSet bundles the sample tools this build ships: file read/write and
// shell exec/process management, all scoped to one workspace root.
type ToolSet struct {
	Read    *ReadFileTool
	Write   *WriteFileTool
	Exec    *ExecTool
	Process *ProcessTool
}

// NewToolSet constructs every sample tool scoped to workspace, wiring the
// process tool to the same background-process manager the exec tool uses.
func NewToolSet(workspace string) *ToolSet {
	exec := NewExecTool(workspace)
	return &ToolSet{
		Read:    NewReadFileTool(workspace, 0),
		Write:   NewWriteFileTool(workspace),
		Exec:    exec,
		Process: NewProcessTool(exec.Manager()),
	}
}

// Register adds every tool definition and handler to reg.
func (s *ToolSet) Register(reg *toolregistry.Registry) error {
	if err := reg.Register(s.Read.Definition(), s.Read.Handler); err != nil {
		return err
	}
	if err := reg.Register(s.Write.Definition(), s.Write.Handler); err != nil {
		return err
	}
	if err := reg.Register(s.Exec.Definition(), s.Exec.Handler); err != nil {
		return err
	}
	if err := reg.Register(s.Process.Definition(), s.Process.Handler); err != nil {
		return err
	}
	return nil
}

// RegisterReverseHandlers wires every undoable tool's reverse handler into
// reg, for use by the Undo Service.
func (s *ToolSet) RegisterReverseHandlers(reg *undo.Registry) {
	s.Write.RegisterReverse(reg)
}
