// Package device holds typed records for the keyturner commands the client
// issues and the data replies it decodes.
//
// Records are fixed little-endian layouts. Decoders accept trailing bytes
// so newer firmware that appends fields keeps working.
package device

import (
	"errors"
	"fmt"
)

// Record errors.
var (
	ErrShortRecord   = errors.New("device: record too short")
	ErrInvalidTime   = errors.New("device: invalid date/time")
	ErrInvalidAction = errors.New("device: invalid lock action")
)

// LockAction is the action byte of a LockAction command.
type LockAction uint8

// Smart lock actions.
const (
	ActionUnlock         LockAction = 0x01
	ActionLock           LockAction = 0x02
	ActionUnlatch        LockAction = 0x03
	ActionLockNGo        LockAction = 0x04
	ActionLockNGoUnlatch LockAction = 0x05
	ActionFullLock       LockAction = 0x06
	ActionFobAction1     LockAction = 0x81
	ActionFobAction2     LockAction = 0x82
	ActionFobAction3     LockAction = 0x83
)

// Opener actions share the byte with the smart lock set.
const (
	ActionActivateRTO             LockAction = 0x01
	ActionDeactivateRTO           LockAction = 0x02
	ActionElectricStrikeActuation LockAction = 0x03
	ActionActivateCM              LockAction = 0x04
	ActionDeactivateCM            LockAction = 0x05
)

var lockActionNames = map[LockAction]string{
	ActionUnlock:         "unlock",
	ActionLock:           "lock",
	ActionUnlatch:        "unlatch",
	ActionLockNGo:        "lockngo",
	ActionLockNGoUnlatch: "lockngo-unlatch",
	ActionFullLock:       "full-lock",
	ActionFobAction1:     "fob-action-1",
	ActionFobAction2:     "fob-action-2",
	ActionFobAction3:     "fob-action-3",
}

// String returns the smart lock name of the action.
func (a LockAction) String() string {
	if s, ok := lockActionNames[a]; ok {
		return s
	}
	return fmt.Sprintf("LockAction(0x%02X)", uint8(a))
}

// ParseLockAction maps a smart lock action name to its value.
func ParseLockAction(s string) (LockAction, error) {
	for a, name := range lockActionNames {
		if name == s {
			return a, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidAction, s)
}

// LockState is the bolt position reported in KeyTurnerState.
type LockState uint8

const (
	LockStateUncalibrated LockState = 0x00
	LockStateLocked       LockState = 0x01
	LockStateUnlocking    LockState = 0x02
	LockStateUnlocked     LockState = 0x03
	LockStateLocking      LockState = 0x04
	LockStateUnlatched    LockState = 0x05
	LockStateUnlockedLnga LockState = 0x06
	LockStateUnlatching   LockState = 0x07
	LockStateCalibration  LockState = 0xFC
	LockStateBootRun      LockState = 0xFD
	LockStateMotorBlocked LockState = 0xFE
	LockStateUndefined    LockState = 0xFF
)

// String returns the state name.
func (s LockState) String() string {
	switch s {
	case LockStateUncalibrated:
		return "uncalibrated"
	case LockStateLocked:
		return "locked"
	case LockStateUnlocking:
		return "unlocking"
	case LockStateUnlocked:
		return "unlocked"
	case LockStateLocking:
		return "locking"
	case LockStateUnlatched:
		return "unlatched"
	case LockStateUnlockedLnga:
		return "unlocked (lock'n'go)"
	case LockStateUnlatching:
		return "unlatching"
	case LockStateCalibration:
		return "calibration"
	case LockStateBootRun:
		return "boot run"
	case LockStateMotorBlocked:
		return "motor blocked"
	default:
		return "undefined"
	}
}

// Mode is the device operating mode.
type Mode uint8

const (
	ModeUninitialized Mode = 0x00
	ModePairing       Mode = 0x01
	ModeDoor          Mode = 0x02
	ModeMaintenance   Mode = 0x04
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeUninitialized:
		return "uninitialized"
	case ModePairing:
		return "pairing"
	case ModeDoor:
		return "door"
	case ModeMaintenance:
		return "maintenance"
	default:
		return fmt.Sprintf("Mode(0x%02X)", uint8(m))
	}
}

// Trigger identifies what caused a state change.
type Trigger uint8

const (
	TriggerSystem    Trigger = 0x00
	TriggerManual    Trigger = 0x01
	TriggerButton    Trigger = 0x02
	TriggerAutomatic Trigger = 0x03
	TriggerAutoLock  Trigger = 0x06
)

// String returns the trigger name.
func (t Trigger) String() string {
	switch t {
	case TriggerSystem:
		return "system"
	case TriggerManual:
		return "manual"
	case TriggerButton:
		return "button"
	case TriggerAutomatic:
		return "automatic"
	case TriggerAutoLock:
		return "auto lock"
	default:
		return fmt.Sprintf("Trigger(0x%02X)", uint8(t))
	}
}

// BatteryCritical reports the critical flag of a battery state byte.
func BatteryCritical(b uint8) bool {
	return b&0x01 != 0
}

// BatteryCharging reports the charging flag of a battery state byte.
func BatteryCharging(b uint8) bool {
	return b&0x02 != 0
}

// BatteryPercent returns the charge level encoded in the upper six bits.
func BatteryPercent(b uint8) int {
	return int(b>>2) * 2
}
