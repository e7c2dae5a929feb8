// Package config holds the device daemon's configuration, following the
// teacher's option-struct-with-defaults idiom (LoggerConfig,
// SharedMemoryOptions). It reads no flags or environment variables
// itself; cmd/inos-devicesim overrides HostListenAddr and SCRPath from its
// flags.
package config

import (
	"time"

	"github.com/aifoundry-org/et-platform-sub018/kernel/scr"
	"github.com/aifoundry-org/et-platform-sub018/kernel/utils"
)

// DeviceConfig configures one device-simulation process.
type DeviceConfig struct {
	ShireCount     int
	HartsPerShire  int
	MaxSlots       int
	SCRSize        uint32
	SCRPath        string // empty selects an in-memory backend
	HostListenAddr string
	LogLevel       utils.LogLevel
	TraceEnabled   bool
	BarrierTimeout time.Duration
}

// Default returns a configuration sized for the full 33-shire device,
// using an in-memory SCR backend and no host listen address (local
// single-process mode).
func Default() DeviceConfig {
	return DeviceConfig{
		ShireCount:     scr.MaxShires,
		HartsPerShire:  scr.HartsPerShire,
		MaxSlots:       scr.MaxSimultaneousKernels,
		SCRSize:        scr.SCR_SIZE_DEFAULT,
		HostListenAddr: "",
		LogLevel:       utils.INFO,
		TraceEnabled:   false,
		BarrierTimeout: 0,
	}
}
