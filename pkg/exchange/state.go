package exchange

// State is the command state machine's position within one execution.
type State int

const (
	StateIdle State = iota
	StateChallengeSent
	StateChallengeRespReceived
	StateCmdSent
	StateCmdAccepted
)

var stateNames = [...]string{
	StateIdle:                  "Idle",
	StateChallengeSent:         "ChallengeSent",
	StateChallengeRespReceived: "ChallengeRespReceived",
	StateCmdSent:               "CmdSent",
	StateCmdAccepted:           "CmdAccepted",
}

// String returns the state name.
func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "Unknown"
}

// IsWaiting reports whether s waits for a reply from the peer.
func (s State) IsWaiting() bool {
	return s == StateChallengeSent || s == StateCmdSent || s == StateCmdAccepted
}
