// Package command defines the keyturner message opcode space, the status and
// error codes carried in replies, and the Action request envelope submitted
// to the command execution engine.
package command

import "fmt"

// Command is a 2-byte message type identifier, little-endian on the wire.
type Command uint16

// Message types. Pairing messages travel unencrypted on the pairing
// characteristic; everything else is encrypted on the data characteristic.
const (
	Empty                       Command = 0x0000
	RequestData                 Command = 0x0001
	PublicKey                   Command = 0x0003
	Challenge                   Command = 0x0004
	AuthorizationAuthenticator  Command = 0x0005
	AuthorizationData           Command = 0x0006
	AuthorizationID             Command = 0x0007
	RemoveUserAuthorization     Command = 0x0008
	RequestAuthorizationEntries Command = 0x0009
	AuthorizationEntry          Command = 0x000A
	AuthorizationDataInvite     Command = 0x000B
	KeyturnerStates             Command = 0x000C
	LockAction                  Command = 0x000D
	Status                      Command = 0x000E
	MostRecentCommand           Command = 0x000F
	OpeningsClosingsSummary     Command = 0x0010
	BatteryReport               Command = 0x0011
	ErrorReport                 Command = 0x0012
	SetConfig                   Command = 0x0013
	RequestConfig               Command = 0x0014
	Config                      Command = 0x0015
	SetSecurityPIN              Command = 0x0019
	RequestCalibration          Command = 0x001A
	RequestReboot               Command = 0x001D
	AuthorizationIDConfirmation Command = 0x001E
	AuthorizationIDInvite       Command = 0x001F
	VerifySecurityPIN           Command = 0x0020
	UpdateTime                  Command = 0x0021
	UpdateAuthorization         Command = 0x0025
	AuthorizationEntryCount     Command = 0x0027
	StartBusSignalRecording     Command = 0x002F
	RequestLogEntries           Command = 0x0031
	LogEntry                    Command = 0x0032
	LogEntryCount               Command = 0x0033
	EnableLogging               Command = 0x0034
	SetAdvancedConfig           Command = 0x0035
	RequestAdvancedConfig       Command = 0x0036
	AdvancedConfig              Command = 0x0037
	AddTimeControlEntry         Command = 0x0039
	TimeControlEntryID          Command = 0x003A
	RemoveTimeControlEntry      Command = 0x003B
	RequestTimeControlEntries   Command = 0x003C
	TimeControlEntryCount       Command = 0x003D
	TimeControlEntry            Command = 0x003E
	UpdateTimeControlEntry      Command = 0x003F
	AddKeypadCode               Command = 0x0041
	KeypadCodeID                Command = 0x0042
	RequestKeypadCodes          Command = 0x0043
	KeypadCodeCount             Command = 0x0044
	KeypadCode                  Command = 0x0045
	UpdateKeypadCode            Command = 0x0046
	RemoveKeypadCode            Command = 0x0047
	KeypadAction                Command = 0x0048
	ContinuousModeAction        Command = 0x0057
	SimpleLockAction            Command = 0x0100
)

var commandNames = map[Command]string{
	Empty:                       "Empty",
	RequestData:                 "RequestData",
	PublicKey:                   "PublicKey",
	Challenge:                   "Challenge",
	AuthorizationAuthenticator:  "AuthorizationAuthenticator",
	AuthorizationData:           "AuthorizationData",
	AuthorizationID:             "AuthorizationID",
	RemoveUserAuthorization:     "RemoveUserAuthorization",
	RequestAuthorizationEntries: "RequestAuthorizationEntries",
	AuthorizationEntry:          "AuthorizationEntry",
	AuthorizationDataInvite:     "AuthorizationDataInvite",
	KeyturnerStates:             "KeyturnerStates",
	LockAction:                  "LockAction",
	Status:                      "Status",
	MostRecentCommand:           "MostRecentCommand",
	OpeningsClosingsSummary:     "OpeningsClosingsSummary",
	BatteryReport:               "BatteryReport",
	ErrorReport:                 "ErrorReport",
	SetConfig:                   "SetConfig",
	RequestConfig:               "RequestConfig",
	Config:                      "Config",
	SetSecurityPIN:              "SetSecurityPIN",
	RequestCalibration:          "RequestCalibration",
	RequestReboot:               "RequestReboot",
	AuthorizationIDConfirmation: "AuthorizationIDConfirmation",
	AuthorizationIDInvite:       "AuthorizationIDInvite",
	VerifySecurityPIN:           "VerifySecurityPIN",
	UpdateTime:                  "UpdateTime",
	UpdateAuthorization:         "UpdateAuthorization",
	AuthorizationEntryCount:     "AuthorizationEntryCount",
	StartBusSignalRecording:     "StartBusSignalRecording",
	RequestLogEntries:           "RequestLogEntries",
	LogEntry:                    "LogEntry",
	LogEntryCount:               "LogEntryCount",
	EnableLogging:               "EnableLogging",
	SetAdvancedConfig:           "SetAdvancedConfig",
	RequestAdvancedConfig:       "RequestAdvancedConfig",
	AdvancedConfig:              "AdvancedConfig",
	AddTimeControlEntry:         "AddTimeControlEntry",
	TimeControlEntryID:          "TimeControlEntryID",
	RemoveTimeControlEntry:      "RemoveTimeControlEntry",
	RequestTimeControlEntries:   "RequestTimeControlEntries",
	TimeControlEntryCount:       "TimeControlEntryCount",
	TimeControlEntry:            "TimeControlEntry",
	UpdateTimeControlEntry:      "UpdateTimeControlEntry",
	AddKeypadCode:               "AddKeypadCode",
	KeypadCodeID:                "KeypadCodeID",
	RequestKeypadCodes:          "RequestKeypadCodes",
	KeypadCodeCount:             "KeypadCodeCount",
	KeypadCode:                  "KeypadCode",
	UpdateKeypadCode:            "UpdateKeypadCode",
	RemoveKeypadCode:            "RemoveKeypadCode",
	KeypadAction:                "KeypadAction",
	ContinuousModeAction:        "ContinuousModeAction",
	SimpleLockAction:            "SimpleLockAction",
}

// String returns the message type name.
func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Command(0x%04X)", uint16(c))
}

// IsKnown reports whether c is part of the opcode space.
func (c Command) IsKnown() bool {
	_, ok := commandNames[c]
	return ok
}

// IsPairing reports whether c is exchanged unencrypted during pairing.
func (c Command) IsPairing() bool {
	switch c {
	case RequestData, PublicKey, Challenge, AuthorizationAuthenticator,
		AuthorizationData, AuthorizationID, AuthorizationIDConfirmation,
		Status, ErrorReport:
		return true
	default:
		return false
	}
}

// Commands returns all known message types in ascending order.
func Commands() []Command {
	out := make([]Command, 0, len(commandNames))
	for c := Command(0); c <= SimpleLockAction; c++ {
		if _, ok := commandNames[c]; ok {
			out = append(out, c)
		}
	}
	return out
}
