//go:build !govips || !cgo

package backend

import (
	"github.com/dunamismax/pixelpipe/internal/engine"
	"github.com/dunamismax/pixelpipe/internal/engine/native"
)

// Name identifies the engine compiled into this binary.
const Name = "native"

func New(cache engine.CacheLimits, concurrency int) engine.Engine {
	e := native.New()
	e.SetCache(cache)
	e.SetConcurrency(concurrency)
	return e
}

func Shutdown() {}
