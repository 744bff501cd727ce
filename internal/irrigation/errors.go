package irrigation

import (
	"errors"

	"valvectl/internal/storage"
)

var (
	ErrInvalidParameter = errors.New("irrigation: invalid parameter")
	ErrInvalidIndex     = errors.New("irrigation: invalid schedule index")
	ErrNoFreeSlot       = errors.New("irrigation: no free schedule slot")
	ErrChannelBusy      = errors.New("irrigation: channel already running")

	ErrStorageUnavailable = storage.ErrUnavailable
	ErrNotFound           = storage.ErrNotFound
	ErrCorrupt            = storage.ErrCorrupt
)

// Messages recorded in Status.LastError.
const (
	msgSafetyTimeout      = "Safety timeout triggered"
	msgStorageUnavailable = "Storage unavailable"
	msgActuationFailed    = "Valve actuation failed"
)
