package executor

import (
	"log/slog"
	"sync/atomic"
)

// KillSwitch is the global execution halt flag. Shared by the decision engine
// and the executor; the executor re-checks it immediately before every
// attempt so a flip mid-pipeline still blocks the command.
type KillSwitch struct {
	logger  *slog.Logger
	engaged atomic.Bool
}

// NewKillSwitch returns a disengaged switch.
func NewKillSwitch(logger *slog.Logger) *KillSwitch {
	if logger == nil {
		logger = slog.Default()
	}
	return &KillSwitch{logger: logger}
}

// Engage halts all executions until Disengage is called.
func (k *KillSwitch) Engage(operator string) {
	if k.engaged.Swap(true) {
		return
	}
	k.logger.Error("kill switch engaged, all executions halted", slog.String("operator", operator))
}

// Disengage resumes normal operation.
func (k *KillSwitch) Disengage(operator string) {
	if !k.engaged.Swap(false) {
		return
	}
	k.logger.Info("kill switch disengaged", slog.String("operator", operator))
}

// Engaged reports the current state.
func (k *KillSwitch) Engaged() bool {
	return k.engaged.Load()
}
