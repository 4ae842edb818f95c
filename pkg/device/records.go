package device

import (
	"fmt"
	"math"
	"time"

	"github.com/backkem/keyturner/pkg/message"
)

// TimeSize is the encoded size of a Time.
const TimeSize = 7

// Time is the device's calendar time: year (2), month, day, hour, minute,
// second. The device keeps UTC.
type Time struct {
	Year                 uint16
	Month, Day           uint8
	Hour, Minute, Second uint8
}

// TimeOf converts t to device time in UTC.
func TimeOf(t time.Time) Time {
	t = t.UTC()
	return Time{
		Year:   uint16(t.Year()),
		Month:  uint8(t.Month()),
		Day:    uint8(t.Day()),
		Hour:   uint8(t.Hour()),
		Minute: uint8(t.Minute()),
		Second: uint8(t.Second()),
	}
}

// Time converts back to a time.Time.
func (t Time) Time() (time.Time, error) {
	if t.Month < 1 || t.Month > 12 || t.Day < 1 || t.Day > 31 ||
		t.Hour > 23 || t.Minute > 59 || t.Second > 59 {
		return time.Time{}, fmt.Errorf("%w: %04d-%02d-%02d %02d:%02d:%02d", ErrInvalidTime,
			t.Year, t.Month, t.Day, t.Hour, t.Minute, t.Second)
	}
	return time.Date(int(t.Year), time.Month(t.Month), int(t.Day),
		int(t.Hour), int(t.Minute), int(t.Second), 0, time.UTC), nil
}

func (t Time) put(b *message.Builder) {
	b.PutUint16(t.Year).PutUint8(t.Month).PutUint8(t.Day).
		PutUint8(t.Hour).PutUint8(t.Minute).PutUint8(t.Second)
}

func readTime(r *message.Reader) Time {
	return Time{
		Year:   r.Uint16(),
		Month:  r.Uint8(),
		Day:    r.Uint8(),
		Hour:   r.Uint8(),
		Minute: r.Uint8(),
		Second: r.Uint8(),
	}
}

// KeyTurnerStateSize is the size of the fields every firmware sends.
const KeyTurnerStateSize = 19

// KeyTurnerState is the KeyturnerStates data record.
type KeyTurnerState struct {
	Mode                 Mode
	LockState            LockState
	Trigger              Trigger
	CurrentTime          Time
	TimezoneOffset       int16
	BatteryState         uint8
	ConfigUpdateCount    uint8
	LockNGoTimer         uint8
	LastLockAction       LockAction
	LastLockTrigger      Trigger
	LastLockCompletion   uint8
	DoorSensorState      uint8
	NightModeActive      uint16
	AccessoryBatteryByte uint8
}

// Encode serializes the record including the extended fields.
func (s *KeyTurnerState) Encode() ([]byte, error) {
	b := message.NewBuilder(KeyTurnerStateSize + 3)
	b.PutUint8(uint8(s.Mode)).PutUint8(uint8(s.LockState)).PutUint8(uint8(s.Trigger))
	s.CurrentTime.put(b)
	b.PutUint16(uint16(s.TimezoneOffset)).
		PutUint8(s.BatteryState).
		PutUint8(s.ConfigUpdateCount).
		PutUint8(s.LockNGoTimer).
		PutUint8(uint8(s.LastLockAction)).
		PutUint8(uint8(s.LastLockTrigger)).
		PutUint8(s.LastLockCompletion).
		PutUint8(s.DoorSensorState).
		PutUint16(s.NightModeActive).
		PutUint8(s.AccessoryBatteryByte)
	return b.Bytes()
}

// DecodeKeyTurnerState parses a KeyturnerStates payload. The extended
// fields are optional.
func DecodeKeyTurnerState(p []byte) (*KeyTurnerState, error) {
	if len(p) < KeyTurnerStateSize {
		return nil, fmt.Errorf("%w: KeyturnerStates has %d bytes", ErrShortRecord, len(p))
	}
	r := message.NewReader(p)
	s := &KeyTurnerState{
		Mode:      Mode(r.Uint8()),
		LockState: LockState(r.Uint8()),
		Trigger:   Trigger(r.Uint8()),
	}
	s.CurrentTime = readTime(r)
	s.TimezoneOffset = int16(r.Uint16())
	s.BatteryState = r.Uint8()
	s.ConfigUpdateCount = r.Uint8()
	s.LockNGoTimer = r.Uint8()
	s.LastLockAction = LockAction(r.Uint8())
	s.LastLockTrigger = Trigger(r.Uint8())
	s.LastLockCompletion = r.Uint8()
	s.DoorSensorState = r.Uint8()
	if r.Remaining() >= 3 {
		s.NightModeActive = r.Uint16()
		s.AccessoryBatteryByte = r.Uint8()
	}
	return s, r.Err()
}

// BatteryReportSize is the size of a BatteryReport record.
const BatteryReportSize = 17

// BatteryReport is the BatteryReport data record.
type BatteryReport struct {
	BatteryDrain      uint16 // mWs
	BatteryVoltage    uint16 // mV
	CriticalState     uint8
	LockAction        LockAction
	StartVoltage      uint16
	LowestVoltage     uint16
	LockDistance      uint16 // degrees
	StartTemperature  int8   // °C
	MaxTurnCurrent    uint16 // mA
	BatteryResistance uint16 // mOhm
}

// Encode serializes the record.
func (r *BatteryReport) Encode() ([]byte, error) {
	b := message.NewBuilder(BatteryReportSize)
	b.PutUint16(r.BatteryDrain).
		PutUint16(r.BatteryVoltage).
		PutUint8(r.CriticalState).
		PutUint8(uint8(r.LockAction)).
		PutUint16(r.StartVoltage).
		PutUint16(r.LowestVoltage).
		PutUint16(r.LockDistance).
		PutUint8(uint8(r.StartTemperature)).
		PutUint16(r.MaxTurnCurrent).
		PutUint16(r.BatteryResistance)
	return b.Bytes()
}

// DecodeBatteryReport parses a BatteryReport payload.
func DecodeBatteryReport(p []byte) (*BatteryReport, error) {
	if len(p) < BatteryReportSize {
		return nil, fmt.Errorf("%w: BatteryReport has %d bytes", ErrShortRecord, len(p))
	}
	r := message.NewReader(p)
	return &BatteryReport{
		BatteryDrain:      r.Uint16(),
		BatteryVoltage:    r.Uint16(),
		CriticalState:     r.Uint8(),
		LockAction:        LockAction(r.Uint8()),
		StartVoltage:      r.Uint16(),
		LowestVoltage:     r.Uint16(),
		LockDistance:      r.Uint16(),
		StartTemperature:  int8(r.Uint8()),
		MaxTurnCurrent:    r.Uint16(),
		BatteryResistance: r.Uint16(),
	}, r.Err()
}

// ConfigSize is the size of a Config record.
const ConfigSize = 74

// NameSize is the size of the device name field.
const NameSize = 32

// Config is the Config data record.
type Config struct {
	DeviceID         uint32
	Name             string
	Latitude         float32
	Longitude        float32
	AutoUnlatch      bool
	PairingEnabled   bool
	ButtonEnabled    bool
	LEDEnabled       bool
	LEDBrightness    uint8
	CurrentTime      Time
	TimezoneOffset   int16
	DSTMode          uint8
	HasFob           bool
	FobActions       [3]uint8
	SingleLock       bool
	AdvertisingMode  uint8
	HasKeypad        bool
	FirmwareVersion  [3]uint8
	HardwareRevision [2]uint8
	HomeKitStatus    uint8
	TimezoneID       uint16
}

// Firmware returns the firmware version as "major.minor.patch".
func (c *Config) Firmware() string {
	return fmt.Sprintf("%d.%d.%d", c.FirmwareVersion[0], c.FirmwareVersion[1], c.FirmwareVersion[2])
}

// Encode serializes the record.
func (c *Config) Encode() ([]byte, error) {
	b := message.NewBuilder(ConfigSize)
	b.PutUint32(c.DeviceID).
		PutFixedString(c.Name, NameSize).
		PutUint32(math.Float32bits(c.Latitude)).
		PutUint32(math.Float32bits(c.Longitude)).
		PutUint8(boolByte(c.AutoUnlatch)).
		PutUint8(boolByte(c.PairingEnabled)).
		PutUint8(boolByte(c.ButtonEnabled)).
		PutUint8(boolByte(c.LEDEnabled)).
		PutUint8(c.LEDBrightness)
	c.CurrentTime.put(b)
	b.PutUint16(uint16(c.TimezoneOffset)).
		PutUint8(c.DSTMode).
		PutUint8(boolByte(c.HasFob)).
		PutBytes(c.FobActions[:]).
		PutUint8(boolByte(c.SingleLock)).
		PutUint8(c.AdvertisingMode).
		PutUint8(boolByte(c.HasKeypad)).
		PutBytes(c.FirmwareVersion[:]).
		PutBytes(c.HardwareRevision[:]).
		PutUint8(c.HomeKitStatus).
		PutUint16(c.TimezoneID)
	return b.Bytes()
}

// DecodeConfig parses a Config payload.
func DecodeConfig(p []byte) (*Config, error) {
	if len(p) < ConfigSize {
		return nil, fmt.Errorf("%w: Config has %d bytes", ErrShortRecord, len(p))
	}
	r := message.NewReader(p)
	c := &Config{
		DeviceID:       r.Uint32(),
		Name:           r.FixedString(NameSize),
		Latitude:       math.Float32frombits(r.Uint32()),
		Longitude:      math.Float32frombits(r.Uint32()),
		AutoUnlatch:    r.Uint8() != 0,
		PairingEnabled: r.Uint8() != 0,
		ButtonEnabled:  r.Uint8() != 0,
		LEDEnabled:     r.Uint8() != 0,
		LEDBrightness:  r.Uint8(),
	}
	c.CurrentTime = readTime(r)
	c.TimezoneOffset = int16(r.Uint16())
	c.DSTMode = r.Uint8()
	c.HasFob = r.Uint8() != 0
	copy(c.FobActions[:], r.Bytes(3))
	c.SingleLock = r.Uint8() != 0
	c.AdvertisingMode = r.Uint8()
	c.HasKeypad = r.Uint8() != 0
	copy(c.FirmwareVersion[:], r.Bytes(3))
	copy(c.HardwareRevision[:], r.Bytes(2))
	c.HomeKitStatus = r.Uint8()
	c.TimezoneID = r.Uint16()
	return c, r.Err()
}

// LogEntryCount is the LogEntryCount data record.
type LogEntryCount struct {
	LoggingEnabled bool
	Count          uint16
}

// Encode serializes the record.
func (l *LogEntryCount) Encode() ([]byte, error) {
	b := message.NewBuilder(3)
	b.PutUint8(boolByte(l.LoggingEnabled)).PutUint16(l.Count)
	return b.Bytes()
}

// DecodeLogEntryCount parses a LogEntryCount payload.
func DecodeLogEntryCount(p []byte) (*LogEntryCount, error) {
	if len(p) < 3 {
		return nil, fmt.Errorf("%w: LogEntryCount has %d bytes", ErrShortRecord, len(p))
	}
	r := message.NewReader(p)
	return &LogEntryCount{LoggingEnabled: r.Uint8() != 0, Count: r.Uint16()}, r.Err()
}

func boolByte(v bool) uint8 {
	if v {
		return 1
	}
	return 0
}
