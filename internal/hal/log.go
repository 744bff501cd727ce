package hal

import (
	"sync"

	logx "valvectl/pkg/logx"
)

// LogDriver keeps output state in memory and logs every change. Used for
// development and dry runs.
type LogDriver struct {
	log logx.Logger

	mu     sync.Mutex
	states []bool
	writes int
}

func NewLogDriver(channels int, log logx.Logger) *LogDriver {
	return &LogDriver{
		log:    log.With(logx.String("comp", "hal"), logx.String("driver", "log")),
		states: make([]bool, channels),
	}
}

func (d *LogDriver) SetChannelOutput(ch int, on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := checkChannel(ch, len(d.states)); err != nil {
		return err
	}
	d.writes++
	if d.states[ch-1] != on {
		d.log.Info("valve output", logx.Int("channel", ch), logx.Bool("on", on))
	}
	d.states[ch-1] = on
	return nil
}

func (d *LogDriver) States() []bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]bool(nil), d.states...)
}

// Writes counts SetChannelOutput calls.
func (d *LogDriver) Writes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writes
}

func (d *LogDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.states {
		d.states[i] = false
	}
	return nil
}
