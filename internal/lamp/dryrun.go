package lamp

import (
	"context"
	"fmt"
	"io"

	"github.com/oklog/ulid/v2"

	"github.com/qstra/lampctl/internal/ble/protocol"
)

// DryRun returns a Submitter that prints the payload a write would carry
// instead of sending it. Every write is acknowledged at once.
func DryRun(out io.Writer) Submitter {
	return func(on bool) (Waiter, error) {
		payload := protocol.Encode(protocol.FromBool(on))
		cmd, err := protocol.Decode(payload)
		if err != nil {
			return nil, err
		}
		id := ulid.Make().String()
		fmt.Fprintf(out, "[dry-run] %s payload=0x%02x (%s)\n", id, payload, cmd)
		return ackedWrite(id), nil
	}
}

// ackedWrite is a write that has already been acknowledged.
type ackedWrite string

func (w ackedWrite) ID() string { return string(w) }

func (w ackedWrite) Wait(context.Context) error { return nil }
