package game

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func checked(owner string, ids ...int64) []Box {
	boxes := make([]Box, 0, len(ids))
	for _, id := range ids {
		boxes = append(boxes, Box{ID: id, Checked: true, Owner: owner})
	}
	return boxes
}

func TestCoordinatesRoundTrip(t *testing.T) {
	for id := int64(1); id <= Boxes; id++ {
		x, y := Coordinates(id)
		assert.True(t, x >= 0 && x < Width, "x out of range for %d", id)
		assert.True(t, y >= 0 && y < Height, "y out of range for %d", id)
		assert.Equal(t, id, BoxID(x, y))
	}
}

func TestCoordinates(t *testing.T) {
	x, y := Coordinates(1)
	assert.Equal(t, [2]int64{0, 0}, [2]int64{x, y})
	x, y = Coordinates(50)
	assert.Equal(t, [2]int64{49, 0}, [2]int64{x, y})
	x, y = Coordinates(51)
	assert.Equal(t, [2]int64{0, 1}, [2]int64{x, y})
	x, y = Coordinates(1000)
	assert.Equal(t, [2]int64{49, 19}, [2]int64{x, y})
}

func TestAdjacent(t *testing.T) {
	a := assert.New(t)

	a.True(Adjacent(1, 2))
	a.True(Adjacent(1, 51))
	a.False(Adjacent(1, 52), "diagonal")
	a.False(Adjacent(50, 51), "row wrap")
	a.False(Adjacent(1, 1))
	a.False(Adjacent(1, 3))
	a.False(Adjacent(0, 1), "off the grid")
	a.False(Adjacent(Boxes, Boxes+Width), "below the last row")
	a.False(Adjacent(-1, 0))
}

func TestNeighboursStayOnGrid(t *testing.T) {
	for id := int64(1); id <= Boxes; id++ {
		for _, n := range neighbours(id) {
			assert.True(t, OnGrid(n), "neighbour %d of %d", n, id)
			assert.True(t, Adjacent(id, n), "neighbour %d of %d", n, id)
		}
	}
	assert.Len(t, neighbours(1), 2)
	assert.Len(t, neighbours(Boxes), 2)
	assert.Len(t, neighbours(BoxID(0, Height-1)), 2)
	assert.Len(t, neighbours(BoxID(10, 10)), 4)
}

func TestComponentsIgnoreOffGridBoxes(t *testing.T) {
	boxes := append(checked("ada", Boxes-Width+1), checked("ada", Boxes+1)...)
	assert.Equal(t, map[string][][]int64{"ada": {{Boxes - Width + 1}}}, Components(boxes))
}

func TestAdjacentIsSymmetric(t *testing.T) {
	for a := int64(1); a <= 120; a++ {
		for b := int64(1); b <= 120; b++ {
			assert.Equal(t, Adjacent(a, b), Adjacent(b, a), "ids %d,%d", a, b)
		}
	}
}

func TestGroupScore(t *testing.T) {
	assert.Equal(t, 1, GroupScore(1))
	assert.Equal(t, 2, GroupScore(2))
	assert.Equal(t, 5, GroupScore(3))
	assert.Equal(t, 8, GroupScore(4))
	assert.Equal(t, 1000, GroupScore(100))
}

func TestComponents(t *testing.T) {
	t.Run("horizontal pair", func(t *testing.T) {
		groups := Components(checked("alice", 1, 2))
		assert.Len(t, groups["alice"], 1)
		assert.ElementsMatch(t, []int64{1, 2}, groups["alice"][0])
	})

	t.Run("row of three", func(t *testing.T) {
		stats := Compute(checked("alice", 10, 11, 12), nil)
		assert.Equal(t, []UserStats{{
			UserID: "alice",
			Name:   "Unknown",
			Score:  5,
			Groups: []Group{{Size: 3, Score: 5}},
		}}, stats.UserStats)
	})

	t.Run("different owners stay apart", func(t *testing.T) {
		boxes := append(checked("alice", 1), checked("bob", 2)...)
		groups := Components(boxes)
		assert.Equal(t, [][]int64{{1}}, groups["alice"])
		assert.Equal(t, [][]int64{{2}}, groups["bob"])
	})

	t.Run("vertical and bent shapes", func(t *testing.T) {
		groups := Components(checked("alice", 1, 51, 52, 102))
		assert.Len(t, groups["alice"], 1)
		assert.Len(t, groups["alice"][0], 4)
	})

	t.Run("row wrap does not connect", func(t *testing.T) {
		groups := Components(checked("alice", 50, 51))
		assert.Len(t, groups["alice"], 2)
	})

	t.Run("unchecked and unowned boxes are ignored", func(t *testing.T) {
		boxes := []Box{
			{ID: 1, Checked: true, Owner: "alice"},
			{ID: 2, Checked: false, Owner: "alice"},
			{ID: 3, Checked: true},
			{ID: 4, Checked: true, Owner: "alice"},
		}
		groups := Components(boxes)
		assert.Len(t, groups, 1)
		assert.Equal(t, [][]int64{{1}, {4}}, groups["alice"])
	})

	t.Run("every owned box is in exactly one group", func(t *testing.T) {
		var boxes []Box
		for id := int64(1); id <= Boxes; id++ {
			owner := "alice"
			if id%3 == 0 {
				owner = "bob"
			}
			boxes = append(boxes, Box{ID: id, Checked: id%7 != 0, Owner: owner})
		}

		seen := map[int64]int{}
		for _, components := range Components(boxes) {
			for _, c := range components {
				for _, id := range c {
					seen[id]++
				}
			}
		}
		for _, b := range boxes {
			if b.Checked {
				assert.Equal(t, 1, seen[b.ID], "box %d", b.ID)
			} else {
				assert.Zero(t, seen[b.ID], "box %d", b.ID)
			}
		}
	})
}

func TestCompute(t *testing.T) {
	a := assert.New(t)

	boxes := append(checked("alice", 1, 2, 3, 100), checked("bob", 498, 499)...)
	boxes = append(boxes, Box{ID: 700})

	stats := Compute(boxes, map[string]string{"alice": "Alice", "bob": "Bob"})

	a.Equal(6, stats.TotalChecked)
	a.Len(stats.UserStats, 2)

	alice := stats.UserStats[0]
	a.Equal("Alice", alice.Name)
	a.Equal(6, alice.Score)
	a.Equal([]Group{{Size: 3, Score: 5}, {Size: 1, Score: 1}}, alice.Groups)

	bob := stats.UserStats[1]
	a.Equal("Bob", bob.Name)
	a.Equal(2, bob.Score)
}

func TestComputeEmpty(t *testing.T) {
	stats := Compute(nil, nil)
	assert.Equal(t, 0, stats.TotalChecked)
	assert.NotNil(t, stats.UserStats)
	assert.Empty(t, stats.UserStats)
}
