package blockfilter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSnapshotBlocked(t *testing.T) {
	t.Parallel()

	snap := NewSnapshot([]string{"bob", "carol"})

	assert.True(t, snap.Blocked("bob"))
	assert.True(t, snap.Blocked("carol"))
	assert.False(t, snap.Blocked("dave"))

	empty := NewSnapshot(nil)
	assert.False(t, empty.Blocked("bob"))
}

func TestIsVisible(t *testing.T) {
	t.Parallel()

	snap := NewSnapshot([]string{"bob"})

	assert.False(t, IsVisible("alice", "bob", snap))
	assert.True(t, IsVisible("alice", "carol", snap))
	assert.True(t, IsVisible("alice", "alice", snap), "a viewer always sees their own content")
}

func TestIsVisibleSelfWinsOverSnapshot(t *testing.T) {
	t.Parallel()

	// A corrupt snapshot containing the viewer themselves must not hide
	// their own content.
	snap := NewSnapshot([]string{"alice"})
	assert.True(t, IsVisible("alice", "alice", snap))
}

func TestFilterListPreservesOrder(t *testing.T) {
	t.Parallel()

	type item struct {
		id     string
		author string
	}
	items := []item{
		{"1", "bob"},
		{"2", "carol"},
		{"3", "bob"},
		{"4", "alice"},
		{"5", "dave"},
	}
	snap := NewSnapshot([]string{"bob"})

	got := FilterList("alice", items, func(i item) string { return i.author }, snap)

	var ids []string
	for _, i := range got {
		ids = append(ids, i.id)
	}
	assert.Equal(t, []string{"2", "4", "5"}, ids)
}

func TestFilterListEmptyInput(t *testing.T) {
	t.Parallel()

	snap := NewSnapshot([]string{"bob"})
	got := FilterList("alice", []string(nil), func(s string) string { return s }, snap)
	assert.Empty(t, got)
}
