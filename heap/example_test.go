package heap

import "fmt"

// Example demonstrates the basic Init/Alloc/Free lifecycle and the
// consistency self-test a caller can run after mutating the heap.
func Example() {
	Init(1024)
	defer Deinit()

	p := Alloc(64)
	defer Free(p)

	mon := GetMonitor()
	fmt.Println(mon.UsedCnt)
	fmt.Println(Test() == ResOK)
	// Output:
	// 1
	// true
}

// Example_zeroAlloc shows that a zero-byte request always returns the
// same stable, non-nil sentinel address rather than a fresh allocation.
func Example_zeroAlloc() {
	Init(256)
	defer Deinit()

	a := Alloc(0)
	b := Alloc(0)
	fmt.Println(a == b)
	Free(a)
	fmt.Println(Test() == ResOK)
	// Output:
	// true
	// true
}
