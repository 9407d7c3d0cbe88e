// Command test-hotkey checks the lamp hotkey without a lamp. Presses go
// through the same switch lampctl uses, with a dry-run submitter that
// prints the byte each press would write.
//
// Usage:
//
//	go run ./cmd/test-hotkey [--mode toggle|hold] [--keys ctrl+shift+l] [--debounce 250ms]
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/qstra/lampctl/internal/config"
	"github.com/qstra/lampctl/internal/hotkey"
	"github.com/qstra/lampctl/internal/lamp"
)

func main() {
	defaults := config.Default().Hotkey
	mode := flag.String("mode", defaults.Mode, "hotkey mode: toggle or hold")
	keys := flag.String("keys", strings.Join(defaults.Keys, "+"), "key combo, '+' separated")
	debounce := flag.Duration("debounce", defaults.Debounce, "ignore toggle presses closer together than this")
	flag.Parse()

	combo := strings.Split(strings.ToLower(*keys), "+")
	if *mode == "hold" {
		*debounce = 0
	}

	listener := hotkey.NewListener(combo, *mode)
	sw := lamp.NewSwitch(lamp.DryRun(os.Stdout), time.Second, *debounce)

	fmt.Printf("Listening for %s in %q mode (debounce %s)...\n", *keys, *mode, *debounce)
	fmt.Println("Press Ctrl+C to exit.")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		fmt.Println("\nShutting down...")
		listener.Stop()
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range listener.Events() {
			err := sw.Press(ev.Type == hotkey.EventOn, listener)
			switch {
			case err == nil:
			case errors.Is(err, lamp.ErrThrottled):
				fmt.Printf("    %s ignored (debounce)\n", ev.Type)
			default:
				fmt.Printf("    %s rejected: %v\n", ev.Type, err)
			}
		}
		sw.Wait()
		on, known := sw.State()
		fmt.Printf("Event channel closed. Last lamp state: on=%v known=%v\n", on, known)
	}()

	// Blocks until stopped
	listener.Start()
	<-done
	fmt.Println("Done.")
}
