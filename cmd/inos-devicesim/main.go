// Command inos-devicesim runs a single-process simulation of the
// accelerator device: every shire and hart as goroutines sharing a Shared
// Coordination Region (in memory, or an mmap'd file with -scr-path), with
// a host link listening for launch commands.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aifoundry-org/et-platform-sub018/kernel/config"
	"github.com/aifoundry-org/et-platform-sub018/kernel/hartrt"
	"github.com/aifoundry-org/et-platform-sub018/kernel/hostlink"
	"github.com/aifoundry-org/et-platform-sub018/kernel/launch"
	"github.com/aifoundry-org/et-platform-sub018/kernel/scr"
	"github.com/aifoundry-org/et-platform-sub018/kernel/utils"
)

// launchCommandWireSize is the size of a LaunchCommand once packed into
// an envelope payload (see launch.EncodeLaunch); a KERNEL_LAUNCH hostlink
// frame carries that encoding followed by the raw kernel module bytes.
const launchCommandWireSize = 18

func main() {
	listenAddr := flag.String("listen", "", "libp2p multiaddr to listen on (empty keeps libp2p's default listen addresses)")
	scrPath := flag.String("scr-path", "", "path to an mmap'd SCR file (empty selects an in-memory backend)")
	flag.Parse()

	cfg := config.Default()
	cfg.HostListenAddr = *listenAddr
	cfg.SCRPath = *scrPath

	logger := utils.NewLogger(utils.LoggerConfig{
		Level:     cfg.LogLevel,
		Component: "devicesim",
		Colorize:  true,
	})

	mem, closeMem, err := openSCR(cfg)
	if err != nil {
		logger.Fatal("failed to open SCR", utils.Err(err))
	}

	device := hartrt.NewDevice(mem, cfg.ShireCount, cfg.HartsPerShire, logger)

	shutdown := utils.NewGracefulShutdown(10*time.Second, logger)
	shutdown.Register(func() error { return closeMem() })

	server, err := hostlink.NewServer(cfg.HostListenAddr, logger, handleFrame(device, logger))
	if err != nil {
		logger.Fatal("failed to start hostlink server", utils.Err(err))
	}
	shutdown.Register(server.Close)

	for _, addr := range server.Addrs() {
		logger.Info("listening", utils.String("addr", addr.String()+"/p2p/"+server.ID().String()))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := shutdown.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown did not complete cleanly", utils.Err(err))
	}
}

func openSCR(cfg config.DeviceConfig) (scr.MemoryProvider, func() error, error) {
	if cfg.SCRPath == "" {
		mem := scr.NewInMemoryProvider(cfg.SCRSize)
		return mem, mem.Close, nil
	}
	mem, err := scr.OpenSharedMemory(scr.SharedMemoryOptions{
		Path:   cfg.SCRPath,
		Size:   cfg.SCRSize,
		Create: true,
	})
	if err != nil {
		return nil, nil, err
	}
	return mem, mem.Close, nil
}

// handleFrame dispatches inbound hostlink frames to the device. It never
// asks the server for a response frame: KERNEL_LAUNCH frames are
// dispatched, and any other kind is logged and ignored.
func handleFrame(device *hartrt.Device, logger *utils.Logger) func(hostlink.Frame) (hostlink.Frame, bool) {
	return func(frame hostlink.Frame) (hostlink.Frame, bool) {
		switch frame.Kind {
		case hostlink.FrameKernelLaunch:
			if err := dispatchFromFrame(device, frame); err != nil {
				logger.Error("KERNEL_LAUNCH frame rejected", utils.Err(err))
			}
			return hostlink.Frame{}, false
		default:
			logger.Warn("unhandled hostlink frame kind", utils.Int("kind", int(frame.Kind)))
			return hostlink.Frame{}, false
		}
	}
}

// dispatchFromFrame decodes a KERNEL_LAUNCH frame's payload (a packed
// LaunchCommand followed by the kernel's WASM bytes), registers the
// module, and starts the launch. KERNEL_COMPLETE is delivered later over
// the device's own unicast channel, not as this frame's response.
func dispatchFromFrame(device *hartrt.Device, frame hostlink.Frame) error {
	if len(frame.Payload) < launchCommandWireSize {
		return fmt.Errorf("KERNEL_LAUNCH payload too short: %d bytes", len(frame.Payload))
	}

	var env scr.Envelope
	env.ID = scr.MessageKernelLaunch
	copy(env.Payload[:], frame.Payload[:launchCommandWireSize])
	cmd, err := launch.DecodeLaunch(env)
	if err != nil {
		return err
	}

	module := frame.Payload[launchCommandWireSize:]
	if _, err := device.Registry().RegisterAnonymous(module); err != nil {
		return err
	}

	return device.Dispatch(context.Background(), cmd, module, "kernel_main")
}
