// Package hexgrid models the 19-channel hexagonal capacitive array and fuses
// raw channel counts into a normalized field frame with derived (z, theta, r)
// coordinates.
package hexgrid

import "math"

// ChannelCount is the number of pads in the array: a center pad plus two
// concentric hex rings.
const ChannelCount = 19

// Center is the channel index of the middle pad.
const Center = 9

const sqrt3 = 1.7320508075688772

// axial holds hex axial coordinates (q, r) for one pad.
type axial struct {
	q, r int
}

// Pad layout, row by row:
//
//	     0   1   2
//	   3   4   5   6
//	 7   8   9  10  11
//	  12  13  14  15
//	    16  17  18
var axialCoords = [ChannelCount]axial{
	{-1, -2}, {0, -2}, {1, -2},
	{-2, -1}, {-1, -1}, {0, -1}, {1, -1},
	{-2, 0}, {-1, 0}, {0, 0}, {1, 0}, {2, 0},
	{-1, 1}, {0, 1}, {1, 1}, {2, 1},
	{0, 2}, {1, 2}, {2, 2},
}

// neighborTable lists up to 6 adjacent channel indices per pad, -1 where the
// pad sits on the array edge.
var neighborTable = [ChannelCount][6]int{
	{1, 4, 3, -1, -1, -1},
	{2, 5, 4, 0, -1, -1},
	{-1, 6, 5, 1, -1, -1},
	{4, 8, 7, -1, -1, 0},
	{5, 9, 8, 3, 0, 1},
	{6, 10, 9, 4, 1, 2},
	{-1, 11, 10, 5, 2, -1},
	{8, 12, -1, -1, -1, 3},
	{9, 13, 12, 7, 3, 4},
	{10, 14, 13, 8, 4, 5},
	{11, 15, 14, 9, 5, 6},
	{-1, -1, 15, 10, 6, -1},
	{13, 16, -1, -1, 7, 8},
	{14, 17, 16, 12, 8, 9},
	{15, 18, 17, 13, 9, 10},
	{-1, -1, 18, 14, 10, 11},
	{17, -1, -1, -1, 12, 13},
	{18, -1, -1, 16, 13, 14},
	{-1, -1, -1, 17, 14, 15},
}

// Position returns the pad's Cartesian position for pointy-top hexes with
// unit spacing. Out-of-range indices map to the origin.
func Position(index int) (x, y float64) {
	if index < 0 || index >= ChannelCount {
		return 0, 0
	}
	a := axialCoords[index]
	x = sqrt3*float64(a.q) + sqrt3/2*float64(a.r)
	y = 1.5 * float64(a.r)
	return x, y
}

// Neighbors returns the channel indices adjacent to index, 2 to 6 of them
// depending on the pad's place in the array.
func Neighbors(index int) []int {
	if index < 0 || index >= ChannelCount {
		return nil
	}
	out := make([]int, 0, 6)
	for _, n := range neighborTable[index] {
		if n >= 0 {
			out = append(out, n)
		}
	}
	return out
}

// sectorOf maps a pad to one of 6 angular sectors around the array center.
func sectorOf(index int) int {
	x, y := Position(index)
	angle := math.Atan2(y, x)
	if angle < 0 {
		angle += 2 * math.Pi
	}
	return int(angle/(2*math.Pi/6)) % 6
}
