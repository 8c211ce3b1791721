// Package blockfilter removes content authored by accounts the viewer has
// blocked. It is pure: the viewer's block set is passed in as a snapshot,
// refreshed by the caller, and no I/O happens here. The same filter is
// applied to feed pages, comment lists, and notification lists before they
// reach UI-facing state.
package blockfilter

// Snapshot is a viewer's full block set at a point in time.
type Snapshot map[string]struct{}

// NewSnapshot builds a snapshot from a list of blocked user ids.
func NewSnapshot(blockedIDs []string) Snapshot {
	s := make(Snapshot, len(blockedIDs))
	for _, id := range blockedIDs {
		s[id] = struct{}{}
	}
	return s
}

// Blocked reports whether userID is in the snapshot.
func (s Snapshot) Blocked(userID string) bool {
	_, ok := s[userID]
	return ok
}

// IsVisible reports whether content authored by authorID is visible to the
// viewer. A viewer always sees their own content.
func IsVisible(viewerID, authorID string, snap Snapshot) bool {
	if viewerID == authorID {
		return true
	}
	return !snap.Blocked(authorID)
}

// FilterList returns the items whose author is visible to the viewer,
// preserving order. authorKey extracts the author id from an item.
func FilterList[T any](viewerID string, items []T, authorKey func(T) string, snap Snapshot) []T {
	out := make([]T, 0, len(items))
	for _, item := range items {
		if IsVisible(viewerID, authorKey(item), snap) {
			out = append(out, item)
		}
	}
	return out
}
