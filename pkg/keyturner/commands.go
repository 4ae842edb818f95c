package keyturner

import (
	"fmt"
	"time"

	"github.com/backkem/keyturner/pkg/command"
	"github.com/backkem/keyturner/pkg/device"
	"github.com/backkem/keyturner/pkg/exchange"
)

// CommandError is returned by the typed helpers when an execution does not
// end in ResultSuccess.
type CommandError struct {
	Command   command.Command
	Result    exchange.Result
	ErrorCode command.ErrorCode
	Err       error
}

func (e *CommandError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("keyturner: %s: %s: %v", e.Command, e.Result, e.Err)
	case e.ErrorCode != command.ErrorNone:
		return fmt.Sprintf("keyturner: %s: %s (%s)", e.Command, e.Result, e.ErrorCode)
	default:
		return fmt.Sprintf("keyturner: %s: %s", e.Command, e.Result)
	}
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// run executes action and converts a non-success response to an error.
func (c *Client) run(action command.Action) (exchange.Response, error) {
	resp := c.Execute(action)
	if resp.Result != exchange.ResultSuccess {
		return resp, &CommandError{
			Command:   action.Command,
			Result:    resp.Result,
			ErrorCode: resp.ErrorCode,
			Err:       resp.Err,
		}
	}
	return resp, nil
}

// record runs action and returns the payload of its reply with opcode cmd.
func (c *Client) record(action command.Action, cmd command.Command) ([]byte, error) {
	resp, err := c.run(action)
	if err != nil {
		return nil, err
	}
	f := resp.Frame(cmd)
	if f == nil {
		return nil, fmt.Errorf("%w: no %s", ErrUnexpectedReply, cmd)
	}
	return f.Payload, nil
}

// LockAction asks the device to perform a. It returns once the device
// reports the motor run complete.
func (c *Client) LockAction(a device.LockAction) error {
	return c.LockActionWithSuffix(a, "")
}

// LockActionWithSuffix is LockAction with a name suffix recorded in the
// device log.
func (c *Client) LockActionWithSuffix(a device.LockAction, suffix string) error {
	req := device.LockActionRequest{Action: a, AppID: c.config.AppID, NameSuffix: suffix}
	payload, err := req.Encode()
	if err != nil {
		return err
	}
	_, err = c.run(command.Action{
		Class:   command.ChallengeAccept,
		Command: command.LockAction,
		Payload: payload,
	})
	return err
}

// RequestKeyTurnerState fetches the current lock state.
func (c *Client) RequestKeyTurnerState() (*device.KeyTurnerState, error) {
	action := command.NewRequestData(command.KeyturnerStates)
	action.Expect = command.KeyturnerStates
	p, err := c.record(action, command.KeyturnerStates)
	if err != nil {
		return nil, err
	}
	return device.DecodeKeyTurnerState(p)
}

// RequestBatteryReport fetches the battery report.
func (c *Client) RequestBatteryReport() (*device.BatteryReport, error) {
	action := command.NewRequestData(command.BatteryReport)
	action.Expect = command.BatteryReport
	p, err := c.record(action, command.BatteryReport)
	if err != nil {
		return nil, err
	}
	return device.DecodeBatteryReport(p)
}

// RequestConfig fetches the device configuration.
func (c *Client) RequestConfig() (*device.Config, error) {
	p, err := c.record(command.Action{
		Class:   command.WithChallenge,
		Command: command.RequestConfig,
		Expect:  command.Config,
	}, command.Config)
	if err != nil {
		return nil, err
	}
	return device.DecodeConfig(p)
}

// UpdateTime sets the device clock to t.
func (c *Client) UpdateTime(t time.Time) error {
	payload, err := device.EncodeUpdateTime(device.TimeOf(t))
	if err != nil {
		return err
	}
	_, err = c.run(command.Action{
		Class:   command.ChallengePin,
		Command: command.UpdateTime,
		Payload: payload,
		Expect:  command.Status,
	})
	return err
}

// VerifySecurityPin checks the stored PIN against the device.
func (c *Client) VerifySecurityPin() error {
	_, err := c.run(command.Action{
		Class:   command.ChallengePin,
		Command: command.VerifySecurityPIN,
		Expect:  command.Status,
	})
	return err
}

// SetSecurityPin changes the device PIN to pin and stores it.
func (c *Client) SetSecurityPin(pin uint16) error {
	_, err := c.run(command.Action{
		Class:   command.ChallengePin,
		Command: command.SetSecurityPIN,
		Payload: device.EncodeSetSecurityPIN(pin),
		Expect:  command.Status,
	})
	if err != nil {
		return err
	}
	return c.SetPin(pin)
}

// RequestReboot restarts the device.
func (c *Client) RequestReboot() error {
	_, err := c.run(command.Action{
		Class:   command.WithChallenge,
		Command: command.RequestReboot,
		Expect:  command.Status,
	})
	return err
}

// RequestCalibration starts a calibration run.
func (c *Client) RequestCalibration() error {
	_, err := c.run(command.Action{
		Class:   command.ChallengePin,
		Command: command.RequestCalibration,
		Expect:  command.Status,
	})
	return err
}

// RequestLogEntryCount fetches the number of log entries.
func (c *Client) RequestLogEntryCount() (*device.LogEntryCount, error) {
	req := device.RequestLogEntries{TotalCount: true}
	payload, err := req.Encode()
	if err != nil {
		return nil, err
	}
	p, err := c.record(command.Action{
		Class:   command.ChallengePin,
		Command: command.RequestLogEntries,
		Payload: payload,
		Expect:  command.Status,
	}, command.LogEntryCount)
	if err != nil {
		return nil, err
	}
	return device.DecodeLogEntryCount(p)
}
