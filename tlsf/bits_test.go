package tlsf

import (
	"math/bits"
	"testing"
)

func TestAlignUpDown(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		size     uintptr
		wantUp   uintptr
		wantDown uintptr
	}{
		{"alignSize(0)", 0, 0, 0},
		{"alignSize(1)", 1, 16, 0},
		{"alignSize(15)", 15, 16, 0},
		{"alignSize(16)", 16, 16, 16},
		{"alignSize(17)", 17, 32, 16},
		{"alignSize(31)", 31, 32, 16},
		{"alignSize(32)", 32, 32, 32},
		{"alignSize(1024)", 1024, 1024, 1024},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := alignUp(tt.size, 16); got != tt.wantUp {
				t.Errorf("alignUp() = %v, want %v", got, tt.wantUp)
			}
			if got := alignDown(tt.size, 16); got != tt.wantDown {
				t.Errorf("alignDown() = %v, want %v", got, tt.wantDown)
			}
		})
	}
}

func TestFFS(t *testing.T) {
	tests := []struct {
		input    uint32
		expected int
	}{
		{0, -1}, // special case
		{1, 0},
		{2, 1},
		{3, 0},
		{4, 2},
		{7, 0},
		{8, 3},
		{15, 0},
		{16, 4},
		{0xFF, 0},
		{0x100, 8},
		{0xFFFF, 0},
		{0x10000, 16},
		{0xFFFFFF, 0},
		{0x1000000, 24},
		{0xFFFFFFFF, 0},
	}

	for _, test := range tests {
		result := ffs(test.input)
		if result != test.expected {
			t.Errorf("ffs(%d) = %d; want %d", test.input, result, test.expected)
		}

		stdResult := bits.TrailingZeros32(test.input)
		if test.input != 0 && result != stdResult {
			t.Errorf("ffs(%d) = %d; standard library returns %d", test.input, result, stdResult)
		}
	}
}

func TestFLS(t *testing.T) {
	tests := []struct {
		input    uint32
		expected int
	}{
		{0, -1}, // special case
		{1, 0},
		{2, 1},
		{3, 1},
		{4, 2},
		{7, 2},
		{8, 3},
		{15, 3},
		{16, 4},
		{0xFF, 7},
		{0x100, 8},
		{0xFFFF, 15},
		{0x10000, 16},
		{0xFFFFFF, 23},
		{0x1000000, 24},
		{0xFFFFFFFF, 31},
	}

	for _, test := range tests {
		result := fls(test.input)
		if result != test.expected {
			t.Errorf("fls(%d) = %d; want %d", test.input, result, test.expected)
		}

		stdResult := bits.Len32(test.input) - 1
		if test.input != 0 && result != stdResult {
			t.Errorf("fls(%d) = %d; standard library returns %d", test.input, result, stdResult)
		}
	}
}

func TestMappingInsert(t *testing.T) {
	tests := []struct {
		name   string
		size   uintptr
		wantFL int
		wantSL int
	}{
		{"small size 64", 64, 0, 16},
		{"exact smallBlockSize", smallBlockSize, 1, 0},
		{"large size 256", 256, 2, 0},
		{"large size 420", 420, 2, 20},
		{"large size 460", 460, 2, 25},
		{"large size 464", 464, 2, 26},
		{"large size 500", 500, 2, 30},
		{"large size 512", 512, 3, 0},
		{"large size 1024", 1024, 4, 0},
		{"large size 2048", 2048, 5, 0},
		{"large size 32736", 32736, 8, 31},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotFL, gotSL := mappingInsert(tt.size)
			if gotFL != tt.wantFL {
				t.Errorf("mappingInsert() fl = %v, want %v", gotFL, tt.wantFL)
			}
			if gotSL != tt.wantSL {
				t.Errorf("mappingInsert() sl = %v, want %v", gotSL, tt.wantSL)
			}
		})
	}
}

func TestMappingSearch(t *testing.T) {
	// These sizes already sit on a second-level boundary, so rounding up
	// within the class lands back on the same (fl, sl) mapping_insert
	// would produce for the exact size.
	tests := []struct {
		name   string
		size   uintptr
		wantFL int
		wantSL int
	}{
		{"small size 64", 64, 0, 16},
		{"exact smallBlockSize", smallBlockSize, 1, 0},
		{"large size 256", 256, 2, 0},
		{"large size 464", 464, 2, 26},
		{"large size 512", 512, 3, 0},
		{"large size 1024", 1024, 4, 0},
		{"large size 2048", 2048, 5, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotFL, gotSL := mappingSearch(tt.size)
			if gotFL != tt.wantFL {
				t.Errorf("mappingSearch() fl = %v, want %v", gotFL, tt.wantFL)
			}
			if gotSL != tt.wantSL {
				t.Errorf("mappingSearch() sl = %v, want %v", gotSL, tt.wantSL)
			}
		})
	}
}

// mappingSearch must never locate a class smaller than the one holding the
// exact size: a block found via the rounded-up class is guaranteed to
// satisfy the original request.
func TestMappingSearchNeverUndershoots(t *testing.T) {
	for size := uintptr(4); size < 1<<20; size += 37 {
		wantFL, wantSL := mappingInsert(size)
		gotFL, gotSL := mappingSearch(size)
		if gotFL < wantFL || (gotFL == wantFL && gotSL < wantSL) {
			t.Errorf("mappingSearch(%d) = (%d,%d), undershoots mappingInsert (%d,%d)", size, gotFL, gotSL, wantFL, wantSL)
		}
	}
}
