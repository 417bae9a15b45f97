package gateway

import (
	"fmt"

	"github.com/kvgate/kvgate/pkg/adapters/driver"
	"github.com/kvgate/kvgate/pkg/apperrors"
)

// Last-command values a connection reports while running CLIENT LIST.
// Servers before 7.0 only report the command name.
var listCommands = map[string]bool{
	"client|list": true,
	"client":      true,
}

// ResolveDatabase finds the descriptor of the caller's own connection and
// returns its selected database.
//
// A persistent connection is matched on connectionID. A non-persistent one is
// matched on its last command being CLIENT LIST, since the listing is the
// last thing it ran. That match is a heuristic: a second connection issuing
// CLIENT LIST at the same instant is indistinguishable.
//
// The list is scanned from the tail. Descriptors without id, db or cmd are
// skipped. An empty list or no match is apperrors.ErrLogic.
func ResolveDatabase(descs []driver.Descriptor, persistent bool, connectionID int64) (int, error) {
	if len(descs) == 0 {
		return 0, fmt.Errorf("%w: server reported no connections", apperrors.ErrLogic)
	}

	for i := len(descs) - 1; i >= 0; i-- {
		d := descs[i]
		id, ok := d.ID()
		if !ok {
			continue
		}
		db, ok := d.DB()
		if !ok {
			continue
		}
		cmd, ok := d.LastCommand()
		if !ok {
			continue
		}

		if persistent {
			if id == connectionID {
				return db, nil
			}
			continue
		}
		if listCommands[cmd] {
			return db, nil
		}
	}

	if persistent {
		return 0, fmt.Errorf("%w: connection %d not in server client list", apperrors.ErrLogic, connectionID)
	}
	return 0, fmt.Errorf("%w: no connection in server client list is running CLIENT LIST", apperrors.ErrLogic)
}
