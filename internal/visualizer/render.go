package visualizer

import (
	"fmt"
	"math"
)

// Canvas and bar parameters.
const (
	CanvasWidth      = 400.0
	CanvasHeight     = 80.0
	BarCount         = 24
	MinBarHeight     = 4.0
	SilenceThreshold = 10.0
	heightScale      = 0.8
	barFill          = 0.8 // share of each slot the bar occupies
)

// RGBA is a CSS color.
type RGBA struct {
	R, G, B uint8
	A       float64
}

// String renders the color as a CSS rgba() value.
func (c RGBA) String() string {
	return fmt.Sprintf("rgba(%d, %d, %d, %.2f)", c.R, c.G, c.B, c.A)
}

// MarshalText lets frames carry colors as CSS strings.
func (c RGBA) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText parses the rgba() form written by MarshalText.
func (c *RGBA) UnmarshalText(text []byte) error {
	var v RGBA
	if _, err := fmt.Sscanf(string(text), "rgba(%d, %d, %d, %g)", &v.R, &v.G, &v.B, &v.A); err != nil {
		return fmt.Errorf("parse color %q: %w", text, err)
	}
	*c = v
	return nil
}

var (
	IdleColor   = RGBA{R: 148, G: 163, B: 184, A: 0.5}
	ActiveColor = RGBA{R: 59, G: 130, B: 246, A: 1}
)

// Bar is one rectangle of a frame, in canvas pixels.
type Bar struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Color  RGBA    `json:"color"`
}

// Frame is one rendered visualizer image.
type Frame struct {
	Seq      uint64  `json:"seq"`
	Active   bool    `json:"active"`
	Activity bool    `json:"activity"`
	Level    float64 `json:"level"` // mean bin value
	Bars     []Bar   `json:"bars"`
}

// Render lays out BarCount bars for bins on a width×height canvas.
// With no bins, or when the mean bin value is at or below the silence
// threshold, every bar sits at the minimum height in the idle color.
func Render(bins []uint8, width, height float64) Frame {
	f := Frame{Bars: make([]Bar, BarCount)}
	slot := width / BarCount

	if len(bins) > 0 {
		sum := 0
		for _, b := range bins {
			sum += int(b)
		}
		f.Level = float64(sum) / float64(len(bins))
		f.Activity = f.Level > SilenceThreshold
	}

	for i := 0; i < BarCount; i++ {
		h := MinBarHeight
		color := IdleColor
		if f.Activity {
			v := float64(bins[i*len(bins)/BarCount])
			if v > 0 {
				h = v/255*(height*heightScale) + MinBarHeight
			}
			color = blend(IdleColor, ActiveColor, math.Min(v/128, 1))
		}
		f.Bars[i] = Bar{
			X:      float64(i)*slot + slot*(1-barFill)/2,
			Y:      height - h,
			Width:  slot * barFill,
			Height: h,
			Color:  color,
		}
	}
	return f
}

// blend mixes from toward to by t in [0, 1]; alpha runs from 0.5 to 1.
func blend(from, to RGBA, t float64) RGBA {
	mix := func(a, b uint8) uint8 {
		return uint8(math.Round(float64(a) + (float64(b)-float64(a))*t))
	}
	return RGBA{
		R: mix(from.R, to.R),
		G: mix(from.G, to.G),
		B: mix(from.B, to.B),
		A: 0.5 + 0.5*t,
	}
}
