package job

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddAssignsMonotonicIDs(t *testing.T) {
	tbl := New()
	j1, err := tbl.Add(100, "sleep 5", Running)
	require.NoError(t, err)
	j2, err := tbl.Add(200, "sleep 10", Running)
	require.NoError(t, err)

	assert.Equal(t, 1, j1.ID)
	assert.Equal(t, 2, j2.ID)
}

func TestAddTruncatesCommand(t *testing.T) {
	tbl := New()
	long := strings.Repeat("x", 300)
	j, err := tbl.Add(1, long, Running)
	require.NoError(t, err)
	assert.Len(t, j.Command, maxCommandLen)
}

func TestAddRespectsMaxJobs(t *testing.T) {
	tbl := New()
	for i := 0; i < maxJobs; i++ {
		_, err := tbl.Add(i+1, "cmd", Running)
		require.NoError(t, err)
	}
	_, err := tbl.Add(999, "overflow", Running)
	assert.ErrorIs(t, err, ErrTableFull)
}

func TestRemoveUnlinksByPGID(t *testing.T) {
	tbl := New()
	tbl.Add(10, "a", Running)
	tbl.Add(20, "b", Running)
	tbl.Add(30, "c", Running)

	tbl.Remove(20)

	pgids := []int{}
	for _, j := range tbl.List() {
		pgids = append(pgids, j.PGID)
	}
	assert.Equal(t, []int{10, 30}, pgids)
}

func TestRemoveNonexistentIsNoop(t *testing.T) {
	tbl := New()
	tbl.Add(10, "a", Running)
	tbl.Remove(999)
	assert.Len(t, tbl.List(), 1)
}

func TestFindLinearSearch(t *testing.T) {
	tbl := New()
	tbl.Add(10, "a", Running)
	tbl.Add(20, "b", Suspended)

	j := tbl.Find(20)
	require.NotNil(t, j)
	assert.Equal(t, "b", j.Command)
	assert.Nil(t, tbl.Find(999))
}

func TestListPreservesInsertionOrder(t *testing.T) {
	tbl := New()
	tbl.Add(10, "a", Running)
	tbl.Add(20, "b", Running)
	tbl.Add(30, "c", Running)

	cmds := []string{}
	for _, j := range tbl.List() {
		cmds = append(cmds, j.Command)
	}
	assert.Equal(t, []string{"a", "b", "c"}, cmds)
}

func TestSuspendedStackPushPopPeek(t *testing.T) {
	tbl := New()
	assert.Equal(t, -1, tbl.Peek())
	assert.Equal(t, -1, tbl.Pop())

	tbl.Push(111)
	tbl.Push(222)
	assert.Equal(t, 222, tbl.Peek())
	assert.Equal(t, 222, tbl.Pop())
	assert.Equal(t, 111, tbl.Peek())
}

func TestSuspendedStackCapacityDropsExcess(t *testing.T) {
	tbl := New()
	for i := 0; i < stackSize+10; i++ {
		tbl.Push(i)
	}
	// Top should be the last value that fit (stackSize-1), not an overflowed one.
	assert.Equal(t, stackSize-1, tbl.Peek())
}

func TestFormatListMarksCurrentSuspendedJob(t *testing.T) {
	tbl := New()
	tbl.Add(10, "sleep 30", Suspended)
	tbl.Add(20, "sleep 60", Suspended)
	tbl.Push(10)
	tbl.Push(20)

	lines := tbl.FormatList()
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "- Suspended")
	assert.Contains(t, lines[1], "+ Suspended")
}
