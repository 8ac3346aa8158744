// Package app wires the Activator components together and runs the
// init/deinit lifecycle.
package app

import (
	"log/slog"

	"github.com/tuffrabit/tinygo-activator/pkg/bitmap"
	"github.com/tuffrabit/tinygo-activator/pkg/channel"
	"github.com/tuffrabit/tinygo-activator/pkg/config"
	"github.com/tuffrabit/tinygo-activator/pkg/input"
	"github.com/tuffrabit/tinygo-activator/pkg/link"
	"github.com/tuffrabit/tinygo-activator/pkg/protocol"
)

// IconResourceID is the resource holding the window icon.
const IconResourceID uint32 = 1

// Storage supplies the config record and resource blobs.
type Storage interface {
	LoadConfig(cfg *config.AppConfig) error
	LoadResource(id uint32, buf []byte) (int, error)
}

// Transport is the link as the app sees it.
type Transport interface {
	channel.Transport
	SetHandlers(h link.Handlers)
}

// Display is the window.
type Display interface {
	channel.Display
	SetBitmap(d *bitmap.Descriptor)
}

// App owns the icon buffer, the command channel and the button mapper.
type App struct {
	storage   Storage
	transport Transport
	display   Display
	cfg       config.AppConfig
	logger    *slog.Logger

	icon     *bitmap.Buffer
	iconDesc bitmap.Descriptor

	channel *channel.Channel
	mapper  *input.Mapper
}

// LoadConfig reads the config record, falling back to defaults when it is
// missing or unusable.
func LoadConfig(s Storage, logger *slog.Logger) config.AppConfig {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	var cfg config.AppConfig
	err := s.LoadConfig(&cfg)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		logger.Info("using default config", "error", err)
		return config.Defaults()
	}
	return cfg
}

func New(storage Storage, transport Transport, display Display, cfg config.AppConfig, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &App{
		storage:   storage,
		transport: transport,
		display:   display,
		cfg:       cfg,
		logger:    logger,
		icon:      new(bitmap.Buffer),
	}
}

// Init shows the window, registers the link callbacks, binds the buttons
// and asks the phone for the current text. A missing icon is logged and the
// window is shown without it.
func (a *App) Init() {
	a.display.SetText("")
	if err := a.loadIcon(IconResourceID); err != nil {
		a.logger.Warn("icon not loaded", "id", IconResourceID, "error", err)
		a.display.SetBitmap(nil)
	} else {
		a.display.SetBitmap(&a.iconDesc)
	}
	a.display.MarkDirty()

	a.channel = channel.New(a.transport, a.display, a.logger.With("component", "channel"))
	a.transport.SetHandlers(a.channel.Handlers())

	a.mapper = input.NewMapper(a.channel, input.DefaultBindings(a.cfg.RepeatInterval()), a.logger.With("component", "input"))

	if a.cfg.HasFlag(config.FlagRequestTextOnStart) {
		// Dropped if the slot is busy; the phone pushes text on change anyway
		_ = a.channel.SendCommand(protocol.KeyRequestText, 0)
	}

	a.logger.Info("app started", "name", a.cfg.GetName())
}

// Deinit deregisters the link callbacks and stops button repeats.
func (a *App) Deinit() {
	a.transport.SetHandlers(link.Handlers{})
	if a.mapper != nil {
		a.mapper.Close()
	}
	a.logger.Info("app stopped")
}

// Channel returns the command channel. Nil before Init.
func (a *App) Channel() *channel.Channel {
	return a.channel
}

// Buttons returns the button mapper. Nil before Init.
func (a *App) Buttons() *input.Mapper {
	return a.mapper
}

func (a *App) loadIcon(id uint32) error {
	d, err := bitmap.Load(a.storage, id, a.icon)
	if err != nil {
		return err
	}
	if !d.Fits() {
		a.logger.Warn("icon geometry exceeds pixel data", "width", d.Width, "height", d.Height, "stride", d.RowStride)
	}
	a.iconDesc = d
	return nil
}
