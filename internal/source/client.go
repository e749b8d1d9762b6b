// Package source provides an availability source API client abstracted behind
// an interface for testability.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	domain "github.com/mgrabowski/restock-sentinel/pkg/types"
)

// ErrSourceUnavailable is returned when the availability API cannot be
// reached or answers with an error status. A poll cycle treats it as
// transient and carries state forward unchanged.
var ErrSourceUnavailable = errors.New("availability source unavailable")

// LocationStatus is one location's availability for a monitored item.
type LocationStatus struct {
	Datacenter  string `json:"datacenter"`
	Code        string `json:"code"`
	LinuxStatus string `json:"linuxStatus"`
}

// Available reports whether the location can currently be ordered.
// Any status other than "available" counts as out of stock.
func (l LocationStatus) Available() bool {
	return l.LinuxStatus == "available"
}

// Availability is one observation of an item's per-location stock state.
type Availability struct {
	Locations  []LocationStatus
	Raw        json.RawMessage
	ObservedAt time.Time
}

// Client defines the interface for fetching item availability.
type Client interface {
	FetchAvailability(ctx context.Context, it *domain.Item) (*Availability, error)
}
