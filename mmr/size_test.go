package mmr

import (
	"reflect"
	"testing"
)

func TestPeakPositions(t *testing.T) {
	cases := []struct {
		size uint64
		want []uint64
	}{
		{0, nil},
		{1, []uint64{0}},
		{2, nil},
		{3, []uint64{2}},
		{4, []uint64{2, 3}},
		{7, []uint64{6}},
		{8, []uint64{6, 7}},
		{11, []uint64{6, 9, 10}},
		{15, []uint64{14}},
	}
	for _, c := range cases {
		if got := PeakPositions(c.size); !reflect.DeepEqual(got, c.want) {
			t.Errorf("PeakPositions(%d) = %v, want %v", c.size, got, c.want)
		}
	}
}

func TestIsValidSize(t *testing.T) {
	valid := map[uint64]bool{
		0: true, 1: true, 2: false, 3: true, 4: true, 5: false,
		6: false, 7: true, 8: true, 9: false, 10: true, 11: true,
		15: true,
	}
	for size, want := range valid {
		if got := IsValidSize(size); got != want {
			t.Errorf("IsValidSize(%d) = %v, want %v", size, got, want)
		}
	}
}

func TestNumLeaves(t *testing.T) {
	cases := []struct {
		size uint64
		want uint64
	}{
		{0, 0}, {1, 1}, {3, 2}, {4, 3}, {7, 4}, {8, 5}, {11, 7}, {15, 8},
	}
	for _, c := range cases {
		if got := NumLeaves(c.size); got != c.want {
			t.Errorf("NumLeaves(%d) = %d, want %d", c.size, got, c.want)
		}
	}
}
