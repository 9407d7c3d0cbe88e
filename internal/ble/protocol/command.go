// Package protocol implements the one-byte on/off command understood by the
// ESP32 lamp firmware.
package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// Command is a lamp state as written to the lamp characteristic.
type Command byte

const (
	Off Command = 0x00
	On  Command = 0x01
)

// ErrInvalidPayload is returned by Decode for anything but a single 0x00 or
// 0x01 byte.
var ErrInvalidPayload = errors.New("protocol: invalid payload")

func (c Command) String() string {
	switch c {
	case Off:
		return "off"
	case On:
		return "on"
	default:
		return fmt.Sprintf("Command(0x%02x)", byte(c))
	}
}

// FromBool maps a switch position to a Command.
func FromBool(on bool) Command {
	if on {
		return On
	}
	return Off
}

// Bool reports whether c turns the lamp on.
func (c Command) Bool() bool {
	return c == On
}

// Encode returns the wire payload for c.
func Encode(c Command) []byte {
	return []byte{byte(c)}
}

// Decode parses a wire payload.
func Decode(payload []byte) (Command, error) {
	if len(payload) != 1 {
		return 0, fmt.Errorf("%w: want 1 byte, got %d", ErrInvalidPayload, len(payload))
	}
	switch c := Command(payload[0]); c {
	case Off, On:
		return c, nil
	default:
		return 0, fmt.Errorf("%w: 0x%02x", ErrInvalidPayload, payload[0])
	}
}

// ParseCommand parses user input such as "on", "off", "1", "0", "true" or
// "false". Matching is case-insensitive.
func ParseCommand(s string) (Command, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on", "1", "true":
		return On, nil
	case "off", "0", "false":
		return Off, nil
	default:
		return 0, fmt.Errorf("protocol: unknown command %q (want on or off)", s)
	}
}
