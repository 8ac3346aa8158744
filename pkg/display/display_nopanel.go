//go:build !tinygo || nodebug

package display

import (
	"errors"

	"tinygo.org/x/drivers"
)

// ErrNoPanel is returned by NewPanel on builds without the SSD1306 driver.
//
// To build the firmware without the panel (saves RAM and flash), use:
//   tinygo build -tags=nodebug -target=pico -o firmware.uf2 .
var ErrNoPanel = errors.New("display panel not available in this build")

func NewPanel() (drivers.Displayer, error) {
	return nil, ErrNoPanel
}
