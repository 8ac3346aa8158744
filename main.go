//go:build tinygo

package main

import (
	"context"
	"image/color"
	"log/slog"
	"machine"

	"github.com/tuffrabit/tinygo-activator/pkg/app"
	"github.com/tuffrabit/tinygo-activator/pkg/display"
	"github.com/tuffrabit/tinygo-activator/pkg/input"
	"github.com/tuffrabit/tinygo-activator/pkg/link"
	"github.com/tuffrabit/tinygo-activator/pkg/storage"
	"github.com/tuffrabit/tinygo-activator/serial"
)

// Button wiring, active low with internal pullups
var buttonPins = []struct {
	pin    machine.Pin
	button input.Button
}{
	{machine.GPIO2, input.ButtonUp},
	{machine.GPIO3, input.ButtonSelect},
	{machine.GPIO4, input.ButtonDown},
}

// MAIN THREAD DUTIES
//
// Logs go to the hardware UART, the phone link runs over USB CDC serial.

func main() {
	logger := slog.New(slog.NewTextHandler(machine.DefaultUART, &slog.HandlerOptions{Level: slog.LevelInfo}))

	store, err := storage.New(machine.Flash, true)
	if err != nil {
		logger.Error("storage init failed", "error", err)
		select {}
	}
	cfg := app.LoadConfig(store, logger)

	port := serial.NewPort(machine.Serial) // USB CDC Serial
	phone := link.New(port, link.Options{
		InboundBufferSize:  int(cfg.InboundBufferSize),
		OutboundBufferSize: int(cfg.OutboundBufferSize),
		AckTimeout:         cfg.AckTimeout(),
	}, logger.With("component", "link"))

	panel, err := display.NewPanel()
	if err != nil {
		logger.Warn("running without display", "error", err)
		panel = headless{}
	}
	window := display.NewManager(panel, display.PanelLayout(), logger.With("component", "display"))

	activator := app.New(store, phone, window, cfg, logger)
	activator.Init()

	poller := input.NewPoller(activator.Buttons())
	for _, b := range buttonPins {
		pin := b.pin
		pin.Configure(machine.PinConfig{Mode: machine.PinInputPullup})
		poller.Add(b.button, func() bool { return !pin.Get() })
	}

	ctx := context.Background()
	go poller.Run(ctx, input.DefaultPollInterval)
	go func() {
		if err := phone.Serve(ctx); err != nil {
			logger.Error("link stopped", "error", err)
		}
		activator.Deinit()
	}()

	// Block main goroutine to keep program running
	select {}
}

// headless stands in for the panel on boards without one.
type headless struct{}

func (headless) Size() (int16, int16)               { return 128, 64 }
func (headless) SetPixel(x, y int16, c color.RGBA) {}
func (headless) Display() error                     { return nil }
