package exchange

import (
	"github.com/backkem/keyturner/pkg/command"
	"github.com/backkem/keyturner/pkg/message"
)

// Result is the closed set of outcomes of an execution.
type Result int

const (
	ResultSuccess Result = iota
	ResultFailed
	ResultTimeOut
	// ResultWorking is only reported by Machine.Step while the exchange is
	// in progress. Run never returns it.
	ResultWorking
	ResultNotPaired
	ResultError
	ResultLockBusy
)

// String returns the result name.
func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "Success"
	case ResultFailed:
		return "Failed"
	case ResultTimeOut:
		return "TimeOut"
	case ResultWorking:
		return "Working"
	case ResultNotPaired:
		return "NotPaired"
	case ResultError:
		return "Error"
	case ResultLockBusy:
		return "LockBusy"
	default:
		return "Unknown"
	}
}

// Response is what an execution returns to its caller.
type Response struct {
	Result Result

	// ErrorCode is the code of the ErrorReport that ended the exchange, or
	// ErrorNone.
	ErrorCode command.ErrorCode

	// Frames holds the data replies received after the command was sent,
	// in arrival order.
	Frames []*message.Frame

	// Err carries the local cause of ResultError.
	Err error
}

// Frame returns the first collected frame with opcode cmd.
func (r *Response) Frame(cmd command.Command) *message.Frame {
	for _, f := range r.Frames {
		if f.Command == cmd {
			return f
		}
	}
	return nil
}

// FramesOf returns all collected frames with opcode cmd.
func (r *Response) FramesOf(cmd command.Command) []*message.Frame {
	var out []*message.Frame
	for _, f := range r.Frames {
		if f.Command == cmd {
			out = append(out, f)
		}
	}
	return out
}
