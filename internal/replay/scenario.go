// Package replay runs YAML scenarios against an in-memory engine driven by
// a manual logical clock.
package replay

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Step operations
const (
	OpAdvance     = "advance"
	OpSchedule    = "schedule"
	OpExecute     = "execute"
	OpFail        = "fail"
	OpDrive       = "drive"
	OpCancel      = "cancel"
	OpRefund      = "refund"
	OpRegister    = "register"
	OpDeposit     = "deposit"
	OpSetFee      = "set_fee"
	OpToggleRetry = "toggle_retry"
	OpExpect      = "expect"
)

// Scenario is a scripted sequence of engine calls
type Scenario struct {
	Name      string           `yaml:"name"`
	StartTick uint64           `yaml:"start_tick"`
	Admin     string           `yaml:"admin"`
	Driver    string           `yaml:"driver"`
	Settings  *Settings        `yaml:"settings"`
	Balances  map[string]int64 `yaml:"balances"`
	Steps     []Step           `yaml:"steps"`
}

// Settings overrides the engine defaults. Omitted fields keep them.
type Settings struct {
	PlatformFeeBps   *int64  `yaml:"platform_fee_bps"`
	MaxRetryAttempts *int    `yaml:"max_retry_attempts"`
	RetryDelay       *uint64 `yaml:"retry_delay"`
	RefundWindow     *uint64 `yaml:"refund_window"`
	RetryEnabled     *bool   `yaml:"retry_enabled"`
}

// Step is one operation. Payments are referred to by the label given when
// they were scheduled.
type Step struct {
	Op string `yaml:"op"`
	// As is the caller; defaults to the admin for admin ops and the driver
	// for fail
	As string `yaml:"as"`

	Label        string `yaml:"label"`
	Payment      string `yaml:"payment"`
	Subscription string `yaml:"subscription"`
	Payee        string `yaml:"payee"`
	Amount       int64  `yaml:"amount"`
	Method       string `yaml:"method"`
	At           uint64 `yaml:"at"`
	// In schedules relative to the current tick when At is zero
	In     uint64 `yaml:"in"`
	Ticks  uint64 `yaml:"ticks"`
	Reason string `yaml:"reason"`
	Index  int    `yaml:"index"`
	Bps    int64  `yaml:"bps"`

	Default               bool  `yaml:"default"`
	AutoRechargeThreshold int64 `yaml:"auto_recharge_threshold"`
	AutoRechargeAmount    int64 `yaml:"auto_recharge_amount"`

	Enabled *bool `yaml:"enabled"`

	// Error is the error code the step must fail with
	Error string `yaml:"error"`

	Expect *Expectation `yaml:"expect"`
}

// Expectation asserts engine state at an expect step
type Expectation struct {
	Status     string           `yaml:"status"`
	RetryCount *int             `yaml:"retry_count"`
	Executions *int             `yaml:"executions"`
	Balances   map[string]int64 `yaml:"balances"`
	Global     *Counters        `yaml:"global"`
	// Subscription counters are checked for the payment's subscription
	Subscription *Counters `yaml:"subscription"`
	Tick         *uint64   `yaml:"tick"`
}

// Counters are optional analytics totals
type Counters struct {
	Total      *int64 `yaml:"total"`
	Successful *int64 `yaml:"successful"`
	Failed     *int64 `yaml:"failed"`
	Volume     *int64 `yaml:"volume"`
	Fees       *int64 `yaml:"fees"`
	Refunds    *int64 `yaml:"refunds"`
}

// Load reads a scenario file
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario: %w", err)
	}
	return Parse(data)
}

// Parse decodes a scenario, rejecting unknown fields
func Parse(data []byte) (*Scenario, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var s Scenario
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse scenario: %w", err)
	}
	if s.Admin == "" {
		s.Admin = "admin"
	}
	if s.Driver == "" {
		s.Driver = "driver"
	}

	labels := make(map[string]bool)
	for i, step := range s.Steps {
		switch step.Op {
		case OpSchedule:
			if step.Label == "" {
				return nil, fmt.Errorf("step %d: schedule needs a label", i+1)
			}
			if labels[step.Label] {
				return nil, fmt.Errorf("step %d: duplicate label %q", i+1, step.Label)
			}
			labels[step.Label] = true
		case OpExecute, OpFail, OpCancel, OpRefund:
			if !labels[step.Payment] {
				return nil, fmt.Errorf("step %d: unknown payment %q", i+1, step.Payment)
			}
		case OpExpect:
			if step.Expect == nil {
				return nil, fmt.Errorf("step %d: expect step without expectations", i+1)
			}
			if step.Payment != "" && !labels[step.Payment] {
				return nil, fmt.Errorf("step %d: unknown payment %q", i+1, step.Payment)
			}
		case OpAdvance, OpDrive, OpRegister, OpDeposit, OpSetFee, OpToggleRetry:
		default:
			return nil, fmt.Errorf("step %d: unknown op %q", i+1, step.Op)
		}
	}
	return &s, nil
}
