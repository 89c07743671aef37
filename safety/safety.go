// Package safety gates order placement. Every check returns a SafetyError
// so callers can abort the run and cancel outstanding work.
package safety

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config carries the safety knobs.
type Config struct {
	PaperOnly       bool     `yaml:"paper_only"`
	RequireConfirm  bool     `yaml:"require_confirm"`
	KillSwitchFile  string   `yaml:"kill_switch_file"`
	AllowedAccounts []string `yaml:"allowed_accounts"`
}

// SafetyError is returned by any failed gate.
type SafetyError struct {
	Check  string
	Reason string
}

func (e *SafetyError) Error() string {
	return fmt.Sprintf("safety %s: %s", e.Check, e.Reason)
}

// CheckKillSwitch aborts when the sentinel file exists. An empty path
// disables the check.
func CheckKillSwitch(path string) error {
	if path == "" {
		return nil
	}
	if home, err := os.UserHomeDir(); err == nil && len(path) > 1 && path[:2] == "~/" {
		path = filepath.Join(home, path[2:])
	}
	if _, err := os.Stat(path); err == nil {
		return &SafetyError{Check: "kill_switch", Reason: "kill switch engaged: " + path}
	}
	return nil
}

// CheckTradingMode enforces the paper/live gates: live mode needs the
// paper-only gate lifted and explicit consent.
func CheckTradingMode(cfg Config, live, consented bool) error {
	if !live {
		return nil
	}
	if cfg.PaperOnly {
		return &SafetyError{Check: "paper_only", Reason: "live trading blocked by paper_only"}
	}
	if cfg.RequireConfirm && !consented {
		return &SafetyError{Check: "consent", Reason: "live trading requires explicit confirmation"}
	}
	return nil
}

// CheckAccount verifies the account is on the allow-list. An empty list
// allows paper accounts only, so live runs must configure one.
func CheckAccount(cfg Config, account string, live bool) error {
	if !live {
		return nil
	}
	for _, allowed := range cfg.AllowedAccounts {
		if allowed == account {
			return nil
		}
	}
	return &SafetyError{Check: "account", Reason: fmt.Sprintf("account %s not on allow-list", account)}
}

// CheckRegularHours rejects runs outside 09:30-16:00 Eastern on weekdays
// when preferRTH is set.
func CheckRegularHours(now time.Time, preferRTH bool) error {
	if !preferRTH {
		return nil
	}
	eastern, err := time.LoadLocation("America/New_York")
	if err != nil {
		return &SafetyError{Check: "rth", Reason: "cannot load market timezone"}
	}
	local := now.In(eastern)
	if wd := local.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return &SafetyError{Check: "rth", Reason: "outside regular trading hours: weekend"}
	}
	minutes := local.Hour()*60 + local.Minute()
	if minutes < 9*60+30 || minutes > 16*60 {
		return &SafetyError{Check: "rth", Reason: "outside regular trading hours: after-hours"}
	}
	return nil
}
