package graph

import (
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// NotFoundError is returned when a node name (or a tensor reference) does
// not resolve in the graph.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("node %q not found", e.Name)
}

func (e *NotFoundError) GRPCStatus() *status.Status {
	return status.New(codes.NotFound, e.Error())
}

// DuplicateNameError is returned when an insert, rename or copy would give two
// live nodes the same name.
type DuplicateNameError struct {
	Name string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("node %q already exists", e.Name)
}

func (e *DuplicateNameError) GRPCStatus() *status.Status {
	return status.New(codes.AlreadyExists, e.Error())
}

// DanglingReferenceError is returned when removing Name would leave Consumer
// with an input that no longer resolves. Callers must reroute before removing.
type DanglingReferenceError struct {
	Name     string
	Consumer string
}

func (e *DanglingReferenceError) Error() string {
	return fmt.Sprintf("cannot remove node %q: still consumed by %q", e.Name, e.Consumer)
}

func (e *DanglingReferenceError) GRPCStatus() *status.Status {
	return status.New(codes.FailedPrecondition, e.Error())
}

// ContractViolationError is returned when a host or donor graph does not
// follow the boundary naming and arity conventions needed for splicing.
type ContractViolationError struct {
	Boundary string
	Reason   string
}

func (e *ContractViolationError) Error() string {
	return fmt.Sprintf("boundary %q: %s", e.Boundary, e.Reason)
}

func (e *ContractViolationError) GRPCStatus() *status.Status {
	return status.New(codes.InvalidArgument, e.Error())
}

// FoldError records a folding attempt on a single node that failed. It is
// recoverable: the node is left as it was.
type FoldError struct {
	Pass string
	Node string
	Err  error
}

func (e *FoldError) Error() string {
	return fmt.Sprintf("%s: folding %q: %v", e.Pass, e.Node, e.Err)
}

func (e *FoldError) Unwrap() error {
	return e.Err
}
