package executor

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/mevbot/internal/domain"
)

func pendingPosition(i int) domain.Position {
	return domain.Position{
		ID:            "pos_" + strconv.Itoa(i),
		OpportunityID: "opp_" + strconv.Itoa(i),
		Status:        domain.PositionPending,
	}
}

func complete(p *domain.Position) { p.Status = domain.PositionCompleted }

func TestBookRecentNewestFirst(t *testing.T) {
	b := NewBook(10)
	for i := 0; i < 3; i++ {
		require.NoError(t, b.Open(pendingPosition(i), 0))
	}
	recent := b.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "pos_2", recent[0].ID)
	assert.Equal(t, "pos_1", recent[1].ID)
	assert.Len(t, b.Recent(0), 3)
}

func TestBookTerminalPositionsAreFrozen(t *testing.T) {
	b := NewBook(10)
	require.NoError(t, b.Open(pendingPosition(1), 0))

	committed := 0
	_, err := b.Resolve("pos_1", complete, func(domain.Position) { committed++ })
	require.NoError(t, err)
	assert.Equal(t, 1, committed)

	_, err = b.Resolve("pos_1", complete, func(domain.Position) { committed++ })
	assert.ErrorIs(t, err, ErrFrozen)
	_, err = b.Advance("pos_1", func(p *domain.Position) { p.Status = domain.PositionFrontRunSent })
	assert.ErrorIs(t, err, ErrFrozen)
	assert.Equal(t, 1, committed)
	assert.Zero(t, b.OpenCount())
}

func TestBookAdvanceRejectsTerminalStatus(t *testing.T) {
	b := NewBook(10)
	require.NoError(t, b.Open(pendingPosition(1), 0))
	_, err := b.Advance("pos_1", complete)
	require.Error(t, err)

	p, _ := b.Get("pos_1")
	assert.Equal(t, domain.PositionPending, p.Status)
	assert.Equal(t, 1, b.OpenCount())
}

func TestBookEvictsOnlyTerminal(t *testing.T) {
	b := NewBook(2)
	for i := 0; i < 5; i++ {
		require.NoError(t, b.Open(pendingPosition(i), 0))
	}
	// complete 0..3, leave 4 open
	for i := 0; i < 4; i++ {
		_, err := b.Resolve("pos_"+strconv.Itoa(i), complete, nil)
		require.NoError(t, err)
	}

	recent := b.Recent(0)
	ids := make([]string, 0, len(recent))
	for _, p := range recent {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"pos_4", "pos_3", "pos_2"}, ids)
	_, ok := b.Get("pos_0")
	assert.False(t, ok)
}

func TestBookUnknownPosition(t *testing.T) {
	b := NewBook(1)
	_, err := b.Advance("missing", func(*domain.Position) {})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
