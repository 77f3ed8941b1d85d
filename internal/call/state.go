package call

type State int

const (
	Idle State = iota
	Calling
	AwaitingAnswer
	Ringing
	InCall
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Calling:
		return "calling"
	case AwaitingAnswer:
		return "awaiting-answer"
	case Ringing:
		return "ringing"
	case InCall:
		return "in-call"
	}
	return "unknown"
}

// EndReason tells observers why a call went back to Idle.
type EndReason string

const (
	EndLocalHangUp EndReason = "hung up"
	EndRemote      EndReason = "ended by peer"
	EndNotAnswered EndReason = "not answered"
	EndMissed      EndReason = "missed"
	EndFailed      EndReason = "failed"
)
