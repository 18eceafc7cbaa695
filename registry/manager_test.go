package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProber struct {
	unreachable map[string]bool
}

func (f *fakeProber) Probe(ctx context.Context, conninfo string) bool {
	return !f.unreachable[conninfo]
}

type fakeMembers struct {
	names []string
	err   error
}

func (f *fakeMembers) SyncStandbyNames(ctx context.Context) ([]string, error) {
	return f.names, f.err
}

type fakeNotifier struct {
	calls int
}

func (f *fakeNotifier) Invalidate() error {
	f.calls++
	return nil
}

func newTestManager(t *testing.T, prober *fakeProber, members *fakeMembers) (*Manager, *fakeNotifier) {
	t.Helper()
	store := openTestStore(t)
	notifier := &fakeNotifier{}
	return NewManager(store, prober, members, notifier), notifier
}

func TestAddNodeRejectsUnreachable(t *testing.T) {
	ctx := context.Background()
	m, notifier := newTestManager(t,
		&fakeProber{unreachable: map[string]bool{"bad-addr": true}},
		&fakeMembers{})

	_, err := m.AddNode(ctx, "n1", "bad-addr")
	assert.Error(t, err)
	assert.Equal(t, 0, notifier.calls)

	count, err := m.Store().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestAddNodeRejectsEmptyName(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, &fakeProber{}, &fakeMembers{})

	_, err := m.AddNode(ctx, "  ", "addr")
	assert.Error(t, err)
	_, err = m.AddNode(ctx, "n1", "")
	assert.Error(t, err)
}

func TestAtMostOneMasterUnderSerializedAdds(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, &fakeProber{}, &fakeMembers{})

	first, err := m.AddNode(ctx, "n1", "addr1")
	require.NoError(t, err)
	assert.True(t, first.IsMaster, "first inserted node becomes master")

	for _, name := range []string{"n2", "n3", "n4"} {
		n, err := m.AddNode(ctx, name, "addr-"+name)
		require.NoError(t, err)
		assert.False(t, n.IsMaster)
	}

	nodes, err := m.Store().ListNodes(ctx, true)
	require.NoError(t, err)
	masters := 0
	for _, n := range nodes {
		if n.IsMaster {
			masters++
			assert.Equal(t, "n1", n.Name)
		}
	}
	assert.Equal(t, 1, masters)
}

// The lifecycle scenario: empty registry, master add, sync standby add,
// delete-by-seqno, then a reconcile that must not disturb the survivor.
func TestRegistryLifecycleScenario(t *testing.T) {
	ctx := context.Background()
	members := &fakeMembers{names: []string{"n2"}}
	m, notifier := newTestManager(t, &fakeProber{}, members)

	n1, err := m.AddNode(ctx, "n1", "addr1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n1.Seqno)
	assert.True(t, n1.IsMaster)
	assert.False(t, n1.IsSync)

	n2, err := m.AddNode(ctx, "n2", "addr2")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n2.Seqno)
	assert.False(t, n2.IsMaster)
	assert.True(t, n2.IsSync, "n2 is in the live sync membership")

	ok, err := m.RemoveNodeBySeqno(ctx, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	nodes, err := m.Store().ListNodes(ctx, true)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "n2", nodes[0].Name)

	changed, err := m.Reconcile(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 0, changed, "reconciliation after delete does not alter n2")

	assert.Equal(t, 3, notifier.calls, "two adds and one delete notified")
}

func TestRemoveMissDoesNotNotify(t *testing.T) {
	ctx := context.Background()
	m, notifier := newTestManager(t, &fakeProber{}, &fakeMembers{})

	ok, err := m.RemoveNode(ctx, "ghost")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = m.RemoveNodeBySeqno(ctx, 7)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, 0, notifier.calls)
}

func TestCheckReachableHasNoSideEffects(t *testing.T) {
	ctx := context.Background()
	m, notifier := newTestManager(t,
		&fakeProber{unreachable: map[string]bool{"down": true}},
		&fakeMembers{})

	assert.True(t, m.CheckReachable(ctx, "up"))
	assert.False(t, m.CheckReachable(ctx, "down"))

	count, err := m.Store().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Equal(t, 0, notifier.calls)
}

func TestAddNodeSyncMatchingIsExact(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, &fakeProber{}, &fakeMembers{names: []string{"node1"}})

	_, err := m.AddNode(ctx, "seed", "addr0")
	require.NoError(t, err)

	n, err := m.AddNode(ctx, "node10", "addr10")
	require.NoError(t, err)
	assert.False(t, n.IsSync, "node10 must not match member node1")

	n, err = m.AddNode(ctx, "node1", "addr1")
	require.NoError(t, err)
	assert.True(t, n.IsSync)
}
