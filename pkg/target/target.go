// Package target defines the outgoing destination of the mover.
//
// Items are whole directory trees or single files, addressed by name. Once
// an item has been transferred completely the mover writes a marker
// (MarkerName) next to it so that downstream consumers can tell finished
// items from ones still in transfer.
package target

import (
	"context"
	"errors"
	"strings"
)

// MarkerPrefix starts the name of every finished-marker.
const MarkerPrefix = ".MARKER_is_finished_"

// ErrNotFound is returned for items the target does not hold.
var ErrNotFound = errors.New("item not found in target")

// MarkerName returns the marker name for item.
func MarkerName(item string) string {
	return MarkerPrefix + item
}

// IsMarker reports whether name is a finished-marker.
func IsMarker(name string) bool {
	return strings.HasPrefix(name, MarkerPrefix)
}

// Target receives items from the outgoing stage.
//
// Implementations must be safe for concurrent use.
type Target interface {
	// Put transfers the file or tree at localPath to the target as itemName.
	Put(ctx context.Context, localPath, itemName string) error

	// Exists reports whether the target holds itemName.
	Exists(ctx context.Context, itemName string) (bool, error)

	// Remove deletes itemName and its marker.
	Remove(ctx context.Context, itemName string) error

	// List returns the item names, markers and in-flight copies excluded.
	List(ctx context.Context) ([]string, error)

	// MarkFinished writes the finished-marker of itemName.
	MarkFinished(ctx context.Context, itemName string) error

	// Check verifies that the target is reachable and writable.
	Check(ctx context.Context) error

	// Close releases resources.
	Close() error
}
