package temporal

import (
	"context"
	"errors"
	"fmt"

	"go.temporal.io/api/serviceerror"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	// ErrWorkflowNotFound indicates the workflow execution was not found.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrWorkflowAlreadyStarted indicates a batch with the same workflow ID is already running.
	ErrWorkflowAlreadyStarted = errors.New("workflow already started")

	// ErrQueryFailed indicates the progress query failed.
	ErrQueryFailed = errors.New("query failed")

	// ErrClientClosed indicates the client has been closed.
	ErrClientClosed = errors.New("client closed")

	// ErrConnectionFailed indicates a connection failure to the Temporal server.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrNamespaceNotFound indicates the namespace does not exist.
	ErrNamespaceNotFound = errors.New("namespace not found")

	// ErrInvalidArgument indicates an invalid argument was provided.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrDeadlineExceeded indicates the operation deadline was exceeded.
	ErrDeadlineExceeded = errors.New("deadline exceeded")
)

// TemporalError wraps a Temporal SDK error with the operation and workflow
// it concerns.
type TemporalError struct {
	Op         string
	Kind       error
	WorkflowID string
	RunID      string
	Err        error
}

func (e *TemporalError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.WorkflowID != "" {
		msg += fmt.Sprintf(" [workflowID=%s", e.WorkflowID)
		if e.RunID != "" {
			msg += fmt.Sprintf(", runID=%s", e.RunID)
		}
		msg += "]"
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

func (e *TemporalError) Unwrap() error {
	return e.Err
}

// Is reports whether target matches the error's Kind.
func (e *TemporalError) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// wrapTemporalError maps service errors and raw gRPC statuses onto the
// sentinels above.
func wrapTemporalError(op string, err error, workflowID, runID string) error {
	if err == nil {
		return nil
	}

	te := &TemporalError{Op: op, WorkflowID: workflowID, RunID: runID, Err: err}

	var (
		notFound          *serviceerror.NotFound
		alreadyStarted    *serviceerror.WorkflowExecutionAlreadyStarted
		namespaceNotFound *serviceerror.NamespaceNotFound
		invalidArgument   *serviceerror.InvalidArgument
		deadlineExceeded  *serviceerror.DeadlineExceeded
		queryFailed       *serviceerror.QueryFailed
	)

	switch {
	case errors.As(err, &notFound):
		te.Kind = ErrWorkflowNotFound
	case errors.As(err, &alreadyStarted):
		te.Kind = ErrWorkflowAlreadyStarted
	case errors.As(err, &namespaceNotFound):
		te.Kind = ErrNamespaceNotFound
	case errors.As(err, &invalidArgument), status.Code(err) == codes.InvalidArgument:
		te.Kind = ErrInvalidArgument
	case errors.As(err, &deadlineExceeded), errors.Is(err, context.DeadlineExceeded),
		status.Code(err) == codes.DeadlineExceeded:
		te.Kind = ErrDeadlineExceeded
	case errors.As(err, &queryFailed):
		te.Kind = ErrQueryFailed
	case errors.Is(err, context.Canceled), status.Code(err) == codes.Canceled:
		te.Kind = ErrClientClosed
	default:
		te.Kind = ErrConnectionFailed
	}
	return te
}

// IsWorkflowNotFound reports whether err means the batch workflow does not exist.
func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}

// IsWorkflowAlreadyStarted reports whether err means the batch is already running.
func IsWorkflowAlreadyStarted(err error) bool {
	return errors.Is(err, ErrWorkflowAlreadyStarted)
}
