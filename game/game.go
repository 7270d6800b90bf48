// Package game scores the shared checkbox grid. Checked boxes are grouped
// into 4-connected regions per owner, and each region scores floor(size^1.5).
package game

import (
	"math"
	"sort"
)

const (
	Width  = 50
	Height = 20
	Boxes  = Width * Height
)

// Box is one cell of the grid. IDs run from 1 to Boxes in row-major order.
// Owner is empty for unowned boxes.
type Box struct {
	ID      int64
	Checked bool
	Owner   string
}

type (
	Group struct {
		Size  int `json:"size"`
		Score int `json:"score"`
	}

	UserStats struct {
		UserID string  `json:"user_id"`
		Name   string  `json:"name"`
		Score  int     `json:"score"`
		Groups []Group `json:"groups"`
	}

	Stats struct {
		TotalChecked int         `json:"total_checked"`
		UserStats    []UserStats `json:"user_stats"`
	}
)

// OnGrid reports whether id names a box of the grid.
func OnGrid(id int64) bool {
	return id >= 1 && id <= Boxes
}

func Coordinates(id int64) (x, y int64) {
	return (id - 1) % Width, (id - 1) / Width
}

func BoxID(x, y int64) int64 {
	return y*Width + x + 1
}

// Adjacent reports whether two boxes of the grid share an edge.
func Adjacent(a, b int64) bool {
	if !OnGrid(a) || !OnGrid(b) {
		return false
	}
	x1, y1 := Coordinates(a)
	x2, y2 := Coordinates(b)
	return (abs(x1-x2) == 1 && y1 == y2) || (abs(y1-y2) == 1 && x1 == x2)
}

func GroupScore(size int) int {
	return int(math.Floor(math.Pow(float64(size), 1.5)))
}

// Components partitions the checked, owned boxes of the grid into connected
// groups of the same owner. Groups are listed per owner in the order their first box
// appears in boxes.
func Components(boxes []Box) map[string][][]int64 {
	owners := make(map[int64]string, len(boxes))
	for _, b := range boxes {
		if b.Checked && b.Owner != "" && OnGrid(b.ID) {
			owners[b.ID] = b.Owner
		}
	}

	visited := make(map[int64]bool, len(owners))
	groups := make(map[string][][]int64)

	for _, b := range boxes {
		owner, ok := owners[b.ID]
		if !ok || visited[b.ID] {
			continue
		}

		var component []int64
		stack := []int64{b.ID}
		for len(stack) > 0 {
			current := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if visited[current] {
				continue
			}
			visited[current] = true
			component = append(component, current)

			for _, n := range neighbours(current) {
				if !visited[n] && owners[n] == owner {
					stack = append(stack, n)
				}
			}
		}

		groups[owner] = append(groups[owner], component)
	}

	return groups
}

// Compute builds the leaderboard. names maps owner ids to display names.
func Compute(boxes []Box, names map[string]string) Stats {
	stats := Stats{UserStats: []UserStats{}}
	for _, b := range boxes {
		if b.Checked && OnGrid(b.ID) {
			stats.TotalChecked++
		}
	}

	for owner, components := range Components(boxes) {
		name, ok := names[owner]
		if !ok {
			name = "Unknown"
		}

		user := UserStats{UserID: owner, Name: name}
		for _, c := range components {
			g := Group{Size: len(c), Score: GroupScore(len(c))}
			user.Score += g.Score
			user.Groups = append(user.Groups, g)
		}
		sort.SliceStable(user.Groups, func(i, j int) bool {
			return user.Groups[i].Size > user.Groups[j].Size
		})
		stats.UserStats = append(stats.UserStats, user)
	}

	sort.Slice(stats.UserStats, func(i, j int) bool {
		a, b := stats.UserStats[i], stats.UserStats[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.UserID < b.UserID
	})
	return stats
}

func neighbours(id int64) []int64 {
	x, y := Coordinates(id)
	out := make([]int64, 0, 4)
	if x > 0 {
		out = append(out, BoxID(x-1, y))
	}
	if x < Width-1 {
		out = append(out, BoxID(x+1, y))
	}
	if y > 0 {
		out = append(out, BoxID(x, y-1))
	}
	if y < Height-1 {
		out = append(out, BoxID(x, y+1))
	}
	return out
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
