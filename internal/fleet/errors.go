package fleet

import "errors"

// Domain errors for the fleet package.
var (
	// ErrIdentityUnresolvable is counted when a payload carries neither a
	// vendor id nor an IP address.
	ErrIdentityUnresolvable = errors.New("fleet: identity unresolvable")

	// ErrNoAdapter is returned for a manufacturer without a usable adapter.
	ErrNoAdapter = errors.New("fleet: no adapter for manufacturer")

	// ErrListDevices wraps a failed ListDevices call.
	ErrListDevices = errors.New("fleet: listing devices failed")

	// ErrInventory wraps a failure to load local inventory.
	ErrInventory = errors.New("fleet: loading inventory failed")
)
