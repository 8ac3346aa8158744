//go:build tinygo && !nodebug

package display

import (
	"machine"
	"time"

	"tinygo.org/x/drivers"
	"tinygo.org/x/drivers/ssd1306"
)

const (
	// I2C configuration
	i2cAddress = 0x3C
	sclPin     = machine.GPIO1
	sdaPin     = machine.GPIO0

	// Display dimensions
	screenWidth  = 128
	screenHeight = 64
)

// NewPanel configures I2C0 and the SSD1306 panel. Use PanelLayout with it.
func NewPanel() (drivers.Displayer, error) {
	i2c := machine.I2C0
	if err := i2c.Configure(machine.I2CConfig{
		Frequency: 400000, // 400kHz fast mode
		SCL:       sclPin,
		SDA:       sdaPin,
	}); err != nil {
		return nil, err
	}

	// Small delay for bus stabilization
	time.Sleep(10 * time.Millisecond)

	dev := ssd1306.NewI2C(i2c)
	dev.Configure(ssd1306.Config{
		Address: i2cAddress,
		Width:   screenWidth,
		Height:  screenHeight,
	})
	dev.ClearDisplay()

	return dev, nil
}
