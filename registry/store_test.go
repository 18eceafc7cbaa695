package registry

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestListNodesOrderAndFilter(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	_, err := store.insert(ctx, "n1", "addr1", true, false)
	require.NoError(t, err)
	_, err = store.insert(ctx, "n2", "addr2", false, true)
	require.NoError(t, err)
	_, err = store.insert(ctx, "n3", "addr3", false, false)
	require.NoError(t, err)

	all, err := store.ListNodes(ctx, true)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{all[0].Seqno, all[1].Seqno, all[2].Seqno})

	standbys, err := store.ListNodes(ctx, false)
	require.NoError(t, err)
	require.Len(t, standbys, 2)
	assert.Equal(t, "n2", standbys[0].Name)
	assert.Equal(t, "n3", standbys[1].Name)
}

func TestMasterNode(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	master, err := store.MasterNode(ctx)
	require.NoError(t, err)
	assert.Nil(t, master, "empty registry has no master")

	_, err = store.insert(ctx, "n1", "addr1", true, false)
	require.NoError(t, err)

	master, err = store.MasterNode(ctx)
	require.NoError(t, err)
	require.NotNil(t, master)
	assert.Equal(t, "n1", master.Name)
	assert.Equal(t, "addr1", master.Conninfo)
}

func TestDeleteMissesLeaveRegistryUnchanged(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	_, err := store.insert(ctx, "n1", "addr1", true, false)
	require.NoError(t, err)

	ok, err := store.DeleteBySeqno(ctx, 99)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.DeleteByName(ctx, "ghost")
	require.NoError(t, err)
	assert.False(t, ok)

	nodes, err := store.ListNodes(ctx, true)
	require.NoError(t, err)
	assert.Len(t, nodes, 1)
}

func TestSeqnosAreNeverReused(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	n1, err := store.insert(ctx, "n1", "addr1", true, false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n1.Seqno)

	ok, err := store.DeleteBySeqno(ctx, n1.Seqno)
	require.NoError(t, err)
	assert.True(t, ok)

	// A rename (delete + re-add) must get a fresh seqno, so the old
	// identity never aliases a new node.
	n2, err := store.insert(ctx, "n1-renamed", "addr1", true, false)
	require.NoError(t, err)
	assert.Greater(t, n2.Seqno, n1.Seqno)

	ok, err = store.DeleteBySeqno(ctx, n1.Seqno)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFirstWinsAcrossConnections(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "registry.db")

	// Two independent stores over the same registry file stand in for two
	// mutator processes racing on an empty registry.
	a, err := Open(path)
	require.NoError(t, err)
	defer a.Close()
	b, err := Open(path)
	require.NoError(t, err)
	defer b.Close()

	n1, err := a.insertFirstWins(ctx, "n1", "addr1", nil)
	require.NoError(t, err)
	assert.True(t, n1.IsMaster)

	// The second committer's count runs in its own immediate transaction
	// and must observe the winner's row.
	n2, err := b.insertFirstWins(ctx, "n2", "addr2", nil)
	require.NoError(t, err)
	assert.False(t, n2.IsMaster)

	nodes, err := a.ListNodes(ctx, true)
	require.NoError(t, err)
	masters := 0
	for _, n := range nodes {
		if n.IsMaster {
			masters++
		}
	}
	assert.Equal(t, 1, masters, "first committer wins")
}

func TestInsertFirstWinsDerivesSyncFromMembership(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	first, err := store.insertFirstWins(ctx, "n1", "addr1", []string{"n1"})
	require.NoError(t, err)
	assert.True(t, first.IsMaster)
	assert.False(t, first.IsSync, "a master is never sync even when listed")

	second, err := store.insertFirstWins(ctx, "n2", "addr2", []string{"n2"})
	require.NoError(t, err)
	assert.False(t, second.IsMaster)
	assert.True(t, second.IsSync)
}

func TestInsertDuplicateNameFails(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	_, err := store.insert(ctx, "n1", "addr1", true, false)
	require.NoError(t, err)
	_, err = store.insert(ctx, "n1", "addr2", false, false)
	assert.Error(t, err)
}

func TestSetMasterHandoff(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	_, err := store.insert(ctx, "old", "addr1", true, false)
	require.NoError(t, err)
	_, err = store.insert(ctx, "new", "addr2", false, true)
	require.NoError(t, err)

	require.NoError(t, store.SetMaster(ctx, "new"))

	master, err := store.MasterNode(ctx)
	require.NoError(t, err)
	require.NotNil(t, master)
	assert.Equal(t, "new", master.Name)
	assert.False(t, master.IsSync, "a master is never sync")

	nodes, err := store.ListNodes(ctx, true)
	require.NoError(t, err)
	for _, n := range nodes {
		if n.Name != "new" {
			assert.False(t, n.IsMaster)
		}
	}
}

func TestSetMasterUnknownNameLeavesZeroMasters(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	_, err := store.insert(ctx, "old", "addr1", true, false)
	require.NoError(t, err)

	require.NoError(t, store.SetMaster(ctx, "not-registered"))

	master, err := store.MasterNode(ctx)
	require.NoError(t, err)
	assert.Nil(t, master, "registry transiently holds zero masters")
}

func TestApplySyncMembership(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	_, err := store.insert(ctx, "m", "addr0", true, false)
	require.NoError(t, err)
	_, err = store.insert(ctx, "s1", "addr1", false, false)
	require.NoError(t, err)
	_, err = store.insert(ctx, "s2", "addr2", false, true)
	require.NoError(t, err)

	// s1 becomes sync, s2 loses it, the master stays untouched even
	// though its name is listed.
	changed, err := store.ApplySyncMembership(ctx, []string{"s1", "m"}, false)
	require.NoError(t, err)
	assert.Equal(t, 2, changed)

	nodes, err := store.ListNodes(ctx, true)
	require.NoError(t, err)
	byName := map[string]Node{}
	for _, n := range nodes {
		byName[n.Name] = n
	}
	assert.True(t, byName["m"].IsMaster)
	assert.False(t, byName["m"].IsSync)
	assert.True(t, byName["s1"].IsSync)
	assert.False(t, byName["s2"].IsSync)

	// Second run with the same list writes nothing.
	changed, err = store.ApplySyncMembership(ctx, []string{"s1", "m"}, false)
	require.NoError(t, err)
	assert.Equal(t, 0, changed)
}

func TestApplySyncMembershipDryRun(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	_, err := store.insert(ctx, "s1", "addr1", false, false)
	require.NoError(t, err)

	changed, err := store.ApplySyncMembership(ctx, []string{"s1"}, true)
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	nodes, err := store.ListNodes(ctx, true)
	require.NoError(t, err)
	assert.False(t, nodes[0].IsSync, "dry run writes nothing")
}

func TestApplySyncMembershipNeverInventsNodes(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	_, err := store.insert(ctx, "s1", "addr1", false, false)
	require.NoError(t, err)

	// The live list names more candidates than the registry holds; only
	// matching entries are updated.
	changed, err := store.ApplySyncMembership(ctx, []string{"s1", "phantom"}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	nodes, err := store.ListNodes(ctx, true)
	require.NoError(t, err)
	assert.Len(t, nodes, 1)
}
