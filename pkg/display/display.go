// Package display renders the Activator window: a black background, an
// icon layer and a centered text layer.
//
// The Manager draws into any drivers.Displayer. On the board that is the
// SSD1306 panel returned by NewPanel; tests use an in-memory framebuffer.
package display

import (
	"image/color"
	"log/slog"
	"strings"
	"sync"

	"tinygo.org/x/drivers"
	"tinygo.org/x/tinyfont"

	"github.com/tuffrabit/tinygo-activator/pkg/bitmap"
)

// Colors for monochrome display
var (
	black = color.RGBA{0, 0, 0, 0}
	white = color.RGBA{255, 255, 255, 255}
)

// Rect is a screen region.
type Rect struct {
	X, Y, W, H int16
}

func (r Rect) contains(x, y int16) bool {
	return x >= r.X && y >= r.Y && x < r.X+r.W && y < r.Y+r.H
}

// Layout places the two layers on a screen of the given size.
type Layout struct {
	Width, Height int16
	Icon          Rect
	Text          Rect
}

// WatchLayout is the original 144x168 window geometry.
func WatchLayout() Layout {
	return Layout{
		Width:  144,
		Height: 168,
		Icon:   Rect{X: 32, Y: 20, W: 80, H: 80},
		Text:   Rect{X: 0, Y: 110, W: 144, H: 68},
	}
}

// PanelLayout fits both layers side by side on a 128x64 SSD1306.
func PanelLayout() Layout {
	return Layout{
		Width:  128,
		Height: 64,
		Icon:   Rect{X: 0, Y: 0, W: 64, H: 64},
		Text:   Rect{X: 64, Y: 0, W: 64, H: 64},
	}
}

// Manager holds the layer contents and redraws them on MarkDirty.
type Manager struct {
	device drivers.Displayer
	layout Layout
	font   tinyfont.Fonter
	logger *slog.Logger

	mu     sync.Mutex
	text   string
	bitmap *bitmap.Descriptor
}

func NewManager(device drivers.Displayer, layout Layout, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		device: device,
		layout: layout,
		font:   &tinyfont.TomThumb,
		logger: logger,
	}
}

// SetText replaces the text layer content. It is drawn on the next MarkDirty.
func (m *Manager) SetText(text string) {
	m.mu.Lock()
	m.text = text
	m.mu.Unlock()
}

// SetBitmap replaces the icon. The descriptor's pixels must stay valid while
// it is set; nil clears the icon.
func (m *Manager) SetBitmap(d *bitmap.Descriptor) {
	m.mu.Lock()
	m.bitmap = d
	m.mu.Unlock()
}

// Text returns the text layer content.
func (m *Manager) Text() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.text
}

// MarkDirty redraws the window. Render errors are logged.
func (m *Manager) MarkDirty() {
	if err := m.Render(); err != nil {
		m.logger.Warn("display refresh failed", "error", err)
	}
}

// Render draws every layer and flushes the device.
func (m *Manager) Render() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.clear()
	if m.bitmap != nil {
		m.drawBitmap(m.bitmap)
	}
	m.drawText(m.text)

	return m.device.Display()
}

func (m *Manager) clear() {
	w, h := m.bounds()
	for y := int16(0); y < h; y++ {
		for x := int16(0); x < w; x++ {
			m.device.SetPixel(x, y, black)
		}
	}
}

// drawBitmap centers d in the icon layer, clipped to the layer.
func (m *Manager) drawBitmap(d *bitmap.Descriptor) {
	r := m.layout.Icon
	ox := r.X + (r.W-d.Width)/2
	oy := r.Y + (r.H-d.Height)/2

	for y := int16(0); y < d.Height; y++ {
		for x := int16(0); x < d.Width; x++ {
			sx, sy := ox+x, oy+y
			if !r.contains(sx, sy) || !d.At(int(x), int(y)) {
				continue
			}
			m.device.SetPixel(sx, sy, white)
		}
	}
}

// drawText wraps text to the layer width and centers each line. Lines that
// do not fit the layer height are not drawn.
func (m *Manager) drawText(text string) {
	if text == "" {
		return
	}

	r := m.layout.Text
	advance := int16(m.font.GetYAdvance())
	target := &clip{Displayer: m.device, rect: r}

	y := r.Y + advance
	for _, line := range wrap(m.font, text, r.W) {
		if y > r.Y+r.H {
			break
		}
		x := r.X + (r.W-lineWidth(m.font, line))/2
		tinyfont.WriteLine(target, m.font, x, y, line, white)
		y += advance
	}
}

func (m *Manager) bounds() (int16, int16) {
	w, h := m.device.Size()
	if m.layout.Width < w {
		w = m.layout.Width
	}
	if m.layout.Height < h {
		h = m.layout.Height
	}
	return w, h
}

// clip drops pixels outside rect.
type clip struct {
	drivers.Displayer
	rect Rect
}

func (c *clip) SetPixel(x, y int16, col color.RGBA) {
	if c.rect.contains(x, y) {
		c.Displayer.SetPixel(x, y, col)
	}
}

func lineWidth(f tinyfont.Fonter, s string) int16 {
	_, w := tinyfont.LineWidth(f, s)
	return int16(w)
}

// wrap breaks text into lines no wider than width, splitting at spaces and
// inside words that are wider than a whole line.
func wrap(f tinyfont.Fonter, text string, width int16) []string {
	var lines []string
	for _, para := range strings.Split(text, "\n") {
		line := ""
		for _, word := range strings.Fields(para) {
			candidate := word
			if line != "" {
				candidate = line + " " + word
			}
			if lineWidth(f, candidate) <= width {
				line = candidate
				continue
			}

			if line != "" {
				lines = append(lines, line)
			}
			line = word
			for lineWidth(f, line) > width {
				head, rest := splitFit(f, line, width)
				if rest == "" {
					break
				}
				lines = append(lines, head)
				line = rest
			}
		}
		lines = append(lines, line)
	}
	return lines
}

// splitFit returns the longest prefix of s that fits width, at least one rune.
func splitFit(f tinyfont.Fonter, s string, width int16) (string, string) {
	runes := []rune(s)
	n := 1
	for n < len(runes) && lineWidth(f, string(runes[:n+1])) <= width {
		n++
	}
	return string(runes[:n]), string(runes[n:])
}
