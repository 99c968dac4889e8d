package content

import "fmt"

// StructuralError reports a mutation that would corrupt the tree, such as
// moving a node into its own subtree or reordering with a bad permutation.
// It is raised before any intent is emitted.
type StructuralError struct {
	Op     string
	NodeID string
	Reason string
}

func (e *StructuralError) Error() string {
	if e.NodeID == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Reason)
	}
	return fmt.Sprintf("%s %s: %s", e.Op, e.NodeID, e.Reason)
}

// NotFoundError reports an id absent from the current tree snapshot. This can
// legitimately occur when an intent was computed against a stale snapshot.
type NotFoundError struct {
	NodeID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("node %s not found in tree", e.NodeID)
}

func structural(op, nodeID, reason string) *StructuralError {
	return &StructuralError{Op: op, NodeID: nodeID, Reason: reason}
}

func notFound(nodeID string) *NotFoundError {
	return &NotFoundError{NodeID: nodeID}
}
