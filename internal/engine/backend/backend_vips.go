//go:build govips && cgo

package backend

import (
	"github.com/dunamismax/pixelpipe/internal/engine"
	"github.com/dunamismax/pixelpipe/internal/engine/vips"
)

// Name identifies the engine compiled into this binary.
const Name = "vips"

func New(cache engine.CacheLimits, concurrency int) engine.Engine {
	return vips.New(cache, concurrency)
}

func Shutdown() {
	vips.Shutdown()
}
