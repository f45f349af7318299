package bridge

import (
	"fmt"
	"time"

	"github.com/roach88/simbridge/internal/event"
)

// Default timings, matching the native engine's observed behaviour.
const (
	DefaultPollSlice   = 25 * time.Millisecond
	DefaultStartProbe  = 250 * time.Millisecond
	DefaultHaltTimeout = 3 * time.Second
	DefaultHaltReissue = 200 * time.Millisecond
	DefaultExitTimeout = 5 * time.Second
)

// FencePolicy selects which marker kinds are discarded when their
// generation is stale.
type FencePolicy int

const (
	// FenceAll discards stale markers of every kind.
	FenceAll FencePolicy = iota
	// FenceData discards only stale data and init-data markers; text,
	// status, exit and background markers are generation independent.
	FenceData
)

// Fences reports whether a stale marker of kind k is discarded.
func (p FencePolicy) Fences(k event.Kind) bool {
	switch p {
	case FenceData:
		return k == event.KindSendData || k == event.KindSendInitData
	default:
		return true
	}
}

func (p FencePolicy) String() string {
	if p == FenceData {
		return "data"
	}
	return "all"
}

// ParseFencePolicy accepts "all" or "data".
func ParseFencePolicy(s string) (FencePolicy, error) {
	switch s {
	case "", "all":
		return FenceAll, nil
	case "data":
		return FenceData, nil
	}
	return 0, fmt.Errorf("unknown fence policy %q (want all or data)", s)
}

// Config holds the timings and policies of an instance.
type Config struct {
	// PollSlice is the liveness polling interval used while waiting for
	// the worker to stop.
	PollSlice time.Duration
	// StartProbe bounds the wait for a "started" report during teardown.
	StartProbe time.Duration
	// HaltTimeout bounds the wait for "ended" after a halt request.
	HaltTimeout time.Duration
	// HaltReissue is how often the halt request is re-sent while waiting.
	HaltReissue time.Duration
	// ExitTimeout bounds the wait for the engine's exit report; after it
	// passes the exit is synthesized and unloading is forbidden.
	ExitTimeout time.Duration
	// Fence selects which stale markers are discarded.
	Fence FencePolicy
}

// DefaultConfig returns the default timings with FenceAll.
func DefaultConfig() Config {
	return Config{
		PollSlice:   DefaultPollSlice,
		StartProbe:  DefaultStartProbe,
		HaltTimeout: DefaultHaltTimeout,
		HaltReissue: DefaultHaltReissue,
		ExitTimeout: DefaultExitTimeout,
		Fence:       FenceAll,
	}
}

// withDefaults fills zero durations from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PollSlice <= 0 {
		c.PollSlice = d.PollSlice
	}
	if c.StartProbe <= 0 {
		c.StartProbe = d.StartProbe
	}
	if c.HaltTimeout <= 0 {
		c.HaltTimeout = d.HaltTimeout
	}
	if c.HaltReissue <= 0 {
		c.HaltReissue = d.HaltReissue
	}
	if c.ExitTimeout <= 0 {
		c.ExitTimeout = d.ExitTimeout
	}
	return c
}
