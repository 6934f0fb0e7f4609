package rbac

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tallyard/tallyard/internal/shared"
)

func TestPendingChangeSetResolution(t *testing.T) {
	read := Key{Menu: MenuSales, Submenu: SubmenuCounter, Action: ActionRead}
	write := Key{Menu: MenuSales, Submenu: SubmenuCounter, Action: ActionWrite}
	reports := Key{Menu: MenuReports, Action: ActionRead}

	baseline := map[Key]bool{read: true, write: false}
	pending := NewPendingChangeSet()
	pending.Set(read, false)
	pending.Set(write, true)

	// Pending overrides baseline; untouched keys keep their baseline value;
	// absent keys stay denied.
	assert.False(t, pending.Effective(read, baseline))
	assert.True(t, pending.Effective(write, baseline))
	assert.False(t, pending.Effective(reports, baseline))

	resolved := pending.Resolve(baseline)
	assert.False(t, resolved[read])
	assert.True(t, resolved[write])
}

func TestPendingChangeSetLastWriteWins(t *testing.T) {
	key := Key{Menu: MenuReports, Action: ActionRead}
	pending := NewPendingChangeSet()
	pending.Set(key, true)
	pending.Set(key, false)
	pending.Set(key, true)

	v, ok := pending.Value(key)
	require.True(t, ok)
	assert.True(t, v)
	assert.Equal(t, 1, pending.Len())
}

func TestPendingChangeSetClearAndUnset(t *testing.T) {
	key := Key{Menu: MenuReports, Action: ActionRead}
	pending := NewPendingChangeSet()
	pending.Set(key, true)
	pending.Unset(key)
	assert.Zero(t, pending.Len())

	pending.Set(key, true)
	pending.Clear()
	assert.Zero(t, pending.Len())
	_, ok := pending.Value(key)
	assert.False(t, ok)
}

func TestCommitBatchCoversFullPicture(t *testing.T) {
	catalog := DefaultCatalog()
	read := Key{Menu: MenuSales, Submenu: SubmenuCounter, Action: ActionRead}
	write := Key{Menu: MenuSales, Submenu: SubmenuCounter, Action: ActionWrite}
	reports := Key{Menu: MenuReports, Action: ActionRead}

	baseline := map[Key]bool{read: true, write: false}
	pending := NewPendingChangeSet()
	pending.Set(write, true)
	pending.Set(reports, true)

	batch, err := pending.CommitBatch(baseline, catalog)
	require.NoError(t, err)

	// Every baseline row plus every pending-only key, resolved and sorted.
	require.Len(t, batch, 3)
	byKey := make(map[Key]bool, len(batch))
	for _, u := range batch {
		byKey[u.Key] = u.CanAccess
	}
	assert.True(t, byKey[read], "unchanged baseline row keeps its value")
	assert.True(t, byKey[write], "pending override replaces the baseline value")
	assert.True(t, byKey[reports], "pending-only key joins the batch")

	for i := 1; i < len(batch); i++ {
		prev, cur := batch[i-1].Key, batch[i].Key
		less := prev.Menu < cur.Menu ||
			(prev.Menu == cur.Menu && prev.Submenu < cur.Submenu) ||
			(prev.Menu == cur.Menu && prev.Submenu == cur.Submenu && prev.Action < cur.Action)
		assert.True(t, less, "batch must be sorted")
	}
}

func TestCommitBatchRejectsUnknownPendingKey(t *testing.T) {
	pending := NewPendingChangeSet()
	pending.Set(Key{Menu: "Bogus", Action: ActionRead}, true)

	_, err := pending.CommitBatch(map[Key]bool{}, DefaultCatalog())
	require.ErrorIs(t, err, shared.ErrPermissionNotFound)
}
