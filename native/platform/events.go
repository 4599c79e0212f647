package platform

import (
	"encoding/hex"
	"strconv"

	"payvault/core/types"
)

const (
	EventTypeInitialized    = "platform.initialized"
	EventTypeUpdated        = "platform.updated"
	EventTypeAdminProposed  = "platform.admin_proposed"
	EventTypeAdminAccepted  = "platform.admin_accepted"
	EventTypeAdminCancelled = "platform.admin_cancelled"
)

// NewInitializedEvent returns the payload emitted after the one-time setup.
func NewInitializedEvent(cfg *Config) *types.Event {
	return newConfigEvent(EventTypeInitialized, cfg)
}

// NewUpdatedEvent returns the payload emitted after an admin update.
func NewUpdatedEvent(cfg *Config) *types.Event {
	return newConfigEvent(EventTypeUpdated, cfg)
}

// NewAdminProposedEvent returns the payload emitted when an admin transfer is
// proposed.
func NewAdminProposedEvent(cfg *Config, proposed [20]byte) *types.Event {
	evt := newConfigEvent(EventTypeAdminProposed, cfg)
	evt.Attributes["proposedAdmin"] = hex.EncodeToString(proposed[:])
	return evt
}

// NewAdminAcceptedEvent returns the payload emitted when the pending admin
// confirms the transfer.
func NewAdminAcceptedEvent(cfg *Config) *types.Event {
	return newConfigEvent(EventTypeAdminAccepted, cfg)
}

// NewAdminCancelledEvent returns the payload emitted when a pending transfer
// is discarded.
func NewAdminCancelledEvent(cfg *Config) *types.Event {
	return newConfigEvent(EventTypeAdminCancelled, cfg)
}

func newConfigEvent(eventType string, cfg *Config) *types.Event {
	attrs := make(map[string]string)
	if cfg == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["admin"] = hex.EncodeToString(cfg.Admin[:])
	attrs["treasury"] = hex.EncodeToString(cfg.Treasury[:])
	attrs["paused"] = strconv.FormatBool(cfg.Paused)
	if cfg.ReleaseAuthority != ([20]byte{}) {
		attrs["releaseAuthority"] = hex.EncodeToString(cfg.ReleaseAuthority[:])
	}
	if cfg.PendingAdmin != nil {
		attrs["pendingAdmin"] = hex.EncodeToString(cfg.PendingAdmin[:])
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
