package collector

import (
	"math"
	"time"
)

const (
	fastPageLatency = time.Second
	slowPageLatency = 3 * time.Second
	growFactor      = 1.5
	shrinkFactor    = 0.7
)

// PageSizeController grows the page size while the vendor answers full pages
// quickly and shrinks it when responses get slow.
type PageSizeController struct {
	bounds PageBounds
	size   int
}

func NewPageSizeController(initial int, bounds PageBounds) *PageSizeController {
	if initial <= 0 {
		initial = bounds.Default
	}
	return &PageSizeController{bounds: bounds, size: bounds.clamp(initial)}
}

func (c *PageSizeController) Size() int {
	return c.size
}

// Observe records one page round trip and returns the next page size.
func (c *PageSizeController) Observe(latency time.Duration, returned, requested int) int {
	switch {
	case latency < fastPageLatency && returned == requested:
		c.size = int(math.Min(float64(c.bounds.Max), math.Floor(float64(c.size)*growFactor)))
	case latency > slowPageLatency:
		c.size = int(math.Max(float64(c.bounds.Min), math.Floor(float64(c.size)*shrinkFactor)))
	}
	return c.size
}
