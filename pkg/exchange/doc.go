// Package exchange implements the command execution engine: it drives a
// single Action to completion over an encrypted link.
//
// One state machine serves every authentication class. The class only
// selects which extra rounds are run:
//
//	Unauthenticated:  Idle -> CmdSent -> Success
//	Challenge(Pin):   Idle -> ChallengeSent -> ChallengeRespReceived -> CmdSent -> Success
//	ChallengeAccept:  ... -> CmdSent -> CmdAccepted -> Success
//
// In every wait state an ErrorReport ends the exchange (LockBusy for the busy
// code, Failed otherwise) and silence for longer than the command timeout
// ends it with TimeOut. The machine is reset to Idle before and after every
// execution.
//
// Inbound frames reach the engine through an Inbox, a bounded channel filled
// by the transport's notification callback. The engine is the only consumer.
package exchange
