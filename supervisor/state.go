package supervisor

import "fmt"

// ProcessState tracks the supervised renderer process handle.
type ProcessState int32

const (
	NotStarted ProcessState = iota
	Starting
	Running
	Stopped
	Exited
	Failed
)

func (s ProcessState) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	case Exited:
		return "exited"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("unknown(%d)", int32(s))
}
