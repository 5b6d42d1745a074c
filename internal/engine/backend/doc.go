// Package backend selects the image engine for the build. Builds tagged
// govips with cgo enabled run on libvips; every other build uses the pure
// Go engine.
package backend
