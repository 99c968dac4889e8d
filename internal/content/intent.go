package content

// Intents describe desired mutations handed to the persistence layer. The
// tree itself performs no I/O; a caller forwards intents and refetches the
// document, which is the authoritative state.

// ReorderIntent replaces one parent's complete child ordering.
type ReorderIntent struct {
	ParentID   string
	OrderedIDs []string
}

// MoveIntent re-parents a node and inserts it at Position in the new
// parent's child list.
type MoveIntent struct {
	NodeID      string
	NewParentID string
	Position    int
}

// CreateIntent requests a new block. The id is server-assigned, so the
// intent carries only the parent and datatype.
type CreateIntent struct {
	ParentID   string
	DatatypeID string
}

// DeleteIntent destroys either a stored field value (FieldValueID set) or a
// node (NodeID set). DeleteSubtree emits them deepest-first so a partial
// failure never leaves a field referencing a missing node.
type DeleteIntent struct {
	NodeID       string
	FieldValueID string
}

// DropTarget is where a dragged block was released: either onto an existing
// sibling (insert before it) or into a container (append).
type DropTarget struct {
	SiblingID   string
	ContainerID string
}
