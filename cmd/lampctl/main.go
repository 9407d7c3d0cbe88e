package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/qstra/lampctl/internal/ble"
	"github.com/qstra/lampctl/internal/ble/protocol"
	"github.com/qstra/lampctl/internal/config"
	"github.com/qstra/lampctl/internal/hotkey"
	"github.com/qstra/lampctl/internal/lamp"
)

// rescanDelay is how long the hotkey daemon waits before scanning again
// after the lamp is lost or could not be reached.
const rescanDelay = 2 * time.Second

func main() {
	// CLI flags
	configPath := flag.String("config", "", "path to config file (default: ~/.config/lampctl/config.yaml)")
	send := flag.String("send", "", "switch the lamp on or off once and exit")
	initConfig := flag.Bool("init-config", false, "write the default config file and exit")
	flag.Parse()

	if *initConfig {
		path, err := config.WriteDefault()
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		if path == "" {
			fmt.Printf("Config already exists at %s\n", config.DefaultConfigPath())
			return
		}
		fmt.Printf("Wrote default config to %s\n", path)
		return
	}

	var oneShot *protocol.Command
	if *send != "" {
		cmd, err := protocol.ParseCommand(*send)
		if err != nil {
			log.Fatalf("-send: %v", err)
		}
		oneShot = &cmd
	}

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	})))

	printBanner(cfg)

	// Initialize the radio and the lamp controller
	opts := ble.DefaultOptions()
	opts.DeviceName = cfg.Device.Name
	opts.ServiceUUID = ble.NormalizeUUID(cfg.Device.ServiceUUID)
	opts.CharacteristicUUID = ble.NormalizeUUID(cfg.Device.CharacteristicUUID)
	opts.ScanTimeout = cfg.Timeouts.Scan
	opts.ConnectTimeout = cfg.Timeouts.Connect
	opts.WriteTimeout = cfg.Timeouts.Write

	ctrl := ble.NewController(ble.NewTinyGoRadio(), opts)
	if ctrl.State() == ble.StateUnavailable {
		ctrl.Close()
		log.Fatalf("Bluetooth is unavailable.\n\nEnsure Bluetooth is switched on and this terminal has Bluetooth permission.")
	}
	events, unsubscribe := ctrl.Subscribe(32)
	defer unsubscribe()

	// Debounce only guards toggle presses; a hold release must never be dropped.
	debounce := cfg.Hotkey.Debounce
	if cfg.Hotkey.Mode == "hold" || oneShot != nil {
		debounce = 0
	}
	sw := lamp.NewSwitch(lamp.FromController(ctrl), cfg.Timeouts.Write, debounce)

	// Signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	log.Printf("Scanning for %s (up to %s)...", cfg.Device.Name, cfg.Timeouts.Scan)
	if err := ctrl.StartScan(context.Background()); err != nil {
		ctrl.Close()
		log.Fatalf("Failed to start scan: %v", err)
	}

	if oneShot != nil {
		os.Exit(runOnce(ctrl, sw, events, sigCh, *oneShot, cfg))
	}

	// Initialize hotkey listener
	listener := hotkey.NewListener(cfg.Hotkey.Keys, cfg.Hotkey.Mode)
	log.Printf("Hotkey listener ready (%s, mode: %s)", strings.Join(cfg.Hotkey.Keys, "+"), cfg.Hotkey.Mode)
	go listener.Start()

	log.Println("Ready! Press", strings.Join(cfg.Hotkey.Keys, "+"), "to switch the lamp. Ctrl+C to quit.")

	var rescan <-chan time.Time
	keys := listener.Events()
	for {
		select {
		case ev, ok := <-keys:
			if !ok {
				log.Println("Hotkey listener stopped")
				ctrl.Close()
				return
			}
			err := sw.Press(ev.Type == hotkey.EventOn, listener)
			switch {
			case err == nil:
			case errors.Is(err, lamp.ErrThrottled):
				slog.Debug("[LAMP] press ignored", "event", ev.Type)
			default:
				log.Printf("Lamp %s rejected: %v", ev.Type, err)
			}

		case ev, ok := <-events:
			if !ok {
				log.Println("Controller closed")
				return
			}
			logEvent(ev)
			if ev.Kind == ble.EventStateChanged && rescanAfter(ev.State) {
				rescan = time.After(rescanDelay)
			}

		case <-rescan:
			rescan = nil
			log.Printf("Scanning for %s again...", cfg.Device.Name)
			if err := ctrl.StartScan(context.Background()); err != nil {
				log.Printf("ERROR: failed to restart scan: %v", err)
			}

		case sig := <-sigCh:
			log.Printf("Received %s, shutting down...", sig)
			listener.Stop()
			ctrl.Close()
			sw.Wait()
			log.Println("Goodbye!")
			// Exit directly to avoid gohook's C cleanup crash.
			// The OS reclaims the event hook on process exit.
			os.Exit(0)
		}
	}
}

// runOnce waits for the lamp to be ready, writes cmd and returns the
// process exit code. The whole run is bounded by the scan, connect and
// write timeouts together.
func runOnce(ctrl *ble.Controller, sw *lamp.Switch, events <-chan ble.Event, sigCh <-chan os.Signal, cmd protocol.Command, cfg *config.Config) int {
	defer ctrl.Close()

	budget := cfg.Timeouts.Scan + cfg.Timeouts.Connect + cfg.Timeouts.Write
	ctx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()

	interrupted := make(chan os.Signal, 1)
	go func() {
		select {
		case sig := <-sigCh:
			interrupted <- sig
			cancel()
		case <-ctx.Done():
		}
	}()

	err := awaitReady(ctx, events)
	if err == nil {
		writeCtx, writeCancel := context.WithTimeout(ctx, cfg.Timeouts.Write)
		err = sw.Set(writeCtx, cmd.Bool())
		writeCancel()
	}

	select {
	case sig := <-interrupted:
		log.Printf("Received %s, giving up", sig)
		return 130
	default:
	}
	switch {
	case err == nil:
		log.Printf("Lamp switched %s", cmd)
		return 0
	case errors.Is(err, context.DeadlineExceeded):
		log.Printf("ERROR: lamp %s not done within %s", cmd, budget)
		return 1
	default:
		log.Printf("ERROR: lamp %s failed: %v", cmd, err)
		return 1
	}
}

// awaitReady consumes controller events until the lamp's services are
// discovered. It fails on a state that ends the attempt, on a failed
// discovery, or when ctx is done.
func awaitReady(ctx context.Context, events <-chan ble.Event) error {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return ble.ErrClosed
			}
			logEvent(ev)
			switch {
			case ev.Kind == ble.EventServicesDiscovered:
				return nil
			case ev.Kind == ble.EventError && errors.Is(ev.Err, ble.ErrServiceDiscoveryFailed):
				return ev.Err
			case ev.Kind == ble.EventStateChanged && terminal(ev.State):
				if ev.Err != nil {
					return fmt.Errorf("lamp not reachable (%s): %w", ev.State, ev.Err)
				}
				return fmt.Errorf("lamp not reachable (%s)", ev.State)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// terminal reports whether a state ends a one-shot run without a write.
func terminal(s ble.State) bool {
	switch s {
	case ble.StateScanFailed, ble.StateScanTimedOut, ble.StateConnectFailed,
		ble.StateDisconnected, ble.StateUnavailable:
		return true
	}
	return false
}

// rescanAfter reports whether the hotkey daemon should scan again after
// entering s. A radio failure is not retried.
func rescanAfter(s ble.State) bool {
	switch s {
	case ble.StateDisconnected, ble.StateScanTimedOut, ble.StateConnectFailed:
		return true
	}
	return false
}

// logEvent prints one controller event at a level matching its weight.
func logEvent(ev ble.Event) {
	switch ev.Kind {
	case ble.EventStateChanged:
		if ev.Err != nil {
			slog.Warn("[BLE] state changed", "state", ev.State, "error", ev.Err)
			return
		}
		slog.Info("[BLE] state changed", "state", ev.State)
	case ble.EventPeripheralFound:
		slog.Info("[BLE] found lamp", "name", ev.Peripheral.Name, "address", ev.Peripheral.Address, "rssi", ev.Peripheral.RSSI)
	case ble.EventServicesDiscovered:
		slog.Info("[BLE] services discovered", "count", len(ev.Services))
	case ble.EventWriteCompleted:
		if ev.Err != nil {
			slog.Warn("[BLE] write failed", "id", ev.CommandID, "error", ev.Err)
			return
		}
		slog.Debug("[BLE] write completed", "id", ev.CommandID)
	case ble.EventError:
		slog.Error("[BLE] error", "error", ev.Err)
	}
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	// Try default config path
	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		log.Printf("Config loaded from %s", defaultPath)
		return cfg, nil
	}

	// No config file, use defaults
	log.Println("No config file found, using defaults")
	return config.Default(), nil
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	fmt.Println("=== lampctl ===")
	fmt.Printf("  Device:   %s\n", cfg.Device.Name)
	fmt.Printf("  Service:  %s\n", cfg.Device.ServiceUUID)
	fmt.Printf("  Char:     %s\n", cfg.Device.CharacteristicUUID)
	fmt.Printf("  Hotkey:   %s (%s mode)\n", strings.Join(cfg.Hotkey.Keys, "+"), cfg.Hotkey.Mode)
	fmt.Printf("  Timeouts: scan %s, connect %s, write %s\n", cfg.Timeouts.Scan, cfg.Timeouts.Connect, cfg.Timeouts.Write)
	fmt.Printf("  Log:      %s\n", cfg.LogLevel)
	fmt.Println("===============")
}
