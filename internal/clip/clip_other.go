//go:build !linux && !darwin && !windows

package clip

// New returns the headless backend; no desktop clipboard is supported here.
func New() Backend { return NewHeadless() }
