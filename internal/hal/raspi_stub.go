//go:build !linux

package hal

import (
	"errors"

	logx "valvectl/pkg/logx"
)

func openRaspi(Config, logx.Logger) (Driver, error) {
	return nil, errors.New("outputs: raspi driver requires linux")
}
