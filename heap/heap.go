// Package heap is a process-wide allocator facade over tlsf: a single
// static buffer carved into one TLSF pool, with usage accounting, a
// consistency self-test, a monitor snapshot, aligned copy/set helpers, and
// a small pool of reusable temporary buffers.
//
// IMPORTANT: like tlsf, this package is NOT goroutine-safe. Init/Deinit
// establish an explicit lifecycle; callers must not use the heap from
// multiple preemptable contexts without their own locking.
package heap

import (
	"unsafe"

	"github.com/AquaEngineering/os/internal/logx"
	"github.com/AquaEngineering/os/tlsf"
)

// DefaultSize is the default byte size of the static backing buffer,
// matching the reference allocator's default heap size.
const DefaultSize = 1024

// BufMaxNum is the default number of temporary buffers BufGet can hand
// out concurrently; WithBufMaxNum overrides it.
const BufMaxNum = 16

var log = logx.NewPrefixed("heap")

// zeroSentinel is the value stored at the address handed back for every
// zero-byte allocation; Test checks it for stray writes.
const zeroSentinel uint32 = 0xa1b2c3d4

var zeroMem = zeroSentinel

// alignMask mirrors the allocator's own low-bit flag packing: size is
// always a multiple of tlsf.AlignSize (4), so the low 2 bits of a raw
// tlsf.Free result are flag bits, not size bits.
const alignMask = uintptr(tlsf.AlignSize - 1)

var (
	tl        *tlsf.TLSF
	pool      *tlsf.Pool
	totalSize uint32
	curUsed   uint32
	maxUsed   uint32
	bufs      []tempBuf
)

type tempBuf struct {
	p    unsafe.Pointer
	size uint32
	used bool
}

// Init (re)creates the heap from a freshly allocated size-byte buffer,
// discarding any prior state. Panics if size is too small to host even
// the pool's own bookkeeping, since that indicates a misconfigured
// caller rather than a recoverable runtime condition.
//
// size plays the role of OS_MEM_SIZE; everything else the reference
// allocator fixes at compile time (OS_MEM_BUF_MAX_NUM here) instead
// defaults via Config and can be overridden with an Option, e.g.
// Init(256, WithBufMaxNum(2)) for a test building a tiny heap.
func Init(size uint32, opts ...Option) {
	cfg := defaultConfig(size)
	for _, opt := range opts {
		opt(&cfg)
	}

	mem := make([]byte, cfg.MemSize)
	t, err := tlsf.New(mem)
	if err != nil {
		log.PANIC("Init(%d): %v", cfg.MemSize, err)
	}
	tl = t
	pool = t.GetPool()
	totalSize = cfg.MemSize
	curUsed = 0
	maxUsed = 0
	bufs = make([]tempBuf, cfg.BufMaxNum)
}

// Deinit discards the heap. Any pointers previously returned by Alloc
// become invalid.
func Deinit() {
	tl = nil
	pool = nil
	totalSize, curUsed, maxUsed = 0, 0, 0
	bufs = nil
}

// Alloc allocates size bytes. A zero-byte request returns a stable,
// shared, non-nil address rather than delegating to the allocator.
func Alloc(size uint32) unsafe.Pointer {
	if size == 0 {
		return unsafe.Pointer(&zeroMem)
	}
	p := tl.Malloc(uintptr(size))
	if p != nil {
		curUsed += size
		if curUsed > maxUsed {
			maxUsed = curUsed
		}
	}
	return p
}

// Free releases a block previously returned by Alloc. Freeing the
// zero-byte sentinel or nil is a no-op.
func Free(p unsafe.Pointer) {
	if p == nil || p == unsafe.Pointer(&zeroMem) {
		return
	}
	raw := tl.Free(p)
	size := uint32(raw &^ alignMask)
	if curUsed > size {
		curUsed -= size
	} else {
		curUsed = 0
	}
}

// Realloc resizes an existing allocation, or behaves as Alloc/Free at the
// boundaries (newSize == 0 frees and returns the zero sentinel; p being
// the zero sentinel allocates fresh). Unlike Alloc and Free, a successful
// resize here does not adjust curUsed/maxUsed: the reference allocator
// this is ported from has the same gap, and nothing in this codebase
// depends on realloc's accounting being exact.
func Realloc(p unsafe.Pointer, newSize uint32) unsafe.Pointer {
	if newSize == 0 {
		Free(p)
		return unsafe.Pointer(&zeroMem)
	}
	if p == unsafe.Pointer(&zeroMem) {
		return Alloc(newSize)
	}
	return tl.Realloc(p, uintptr(newSize))
}

// Result is the coarse pass/fail outcome of a consistency self-test.
type Result uint8

const (
	ResInv Result = 0
	ResOK  Result = 1
)

// Test verifies the zero-byte sentinel is unmodified and that the
// allocator's own invariants still hold, logging the first violation it
// finds through the BUG channel before reporting failure.
func Test() Result {
	if zeroMem != zeroSentinel {
		log.BUG("zero-byte sentinel value was overwritten")
		return ResInv
	}
	if err := tl.Check(); err != nil {
		log.BUG("consistency check failed: %v", err)
		return ResInv
	}
	if err := tl.CheckPool(pool); err != nil {
		log.BUG("pool check failed: %v", err)
		return ResInv
	}
	return ResOK
}

// Monitor is a point-in-time snapshot of heap occupancy and fragmentation.
type Monitor struct {
	TotalSize       uint32
	FreeCnt         uint32
	FreeSize        uint32
	FreeBiggestSize uint32
	UsedCnt         uint32
	MaxUsed         uint32
	UsedPct         uint8
	FragPct         uint8
}

// GetMonitor walks the pool and computes a fresh Monitor snapshot.
func GetMonitor() Monitor {
	var mon Monitor
	tlsf.WalkPool(pool, func(ptr unsafe.Pointer, size uintptr, used bool, user interface{}) {
		m := user.(*Monitor)
		if used {
			m.UsedCnt++
			return
		}
		m.FreeCnt++
		m.FreeSize += uint32(size)
		if uint32(size) > m.FreeBiggestSize {
			m.FreeBiggestSize = uint32(size)
		}
	}, &mon)

	mon.TotalSize = totalSize
	if mon.TotalSize > 0 {
		mon.UsedPct = uint8(100 - (100*uint64(mon.FreeSize))/uint64(mon.TotalSize))
	}
	if mon.FreeSize > 0 {
		mon.FragPct = uint8(100 - (100*uint64(mon.FreeBiggestSize))/uint64(mon.FreeSize))
	}
	mon.MaxUsed = maxUsed
	return mon
}

// Memcpy copies n bytes from src to dst, byte-wise if the two pointers
// have different alignment remainders, otherwise aligning the leading
// bytes and moving the bulk a word at a time.
func Memcpy(dst, src unsafe.Pointer, n uintptr) unsafe.Pointer {
	if n == 0 {
		return dst
	}
	d8 := unsafe.Slice((*byte)(dst), n)
	s8 := unsafe.Slice((*byte)(src), n)

	dAlign := uintptr(dst) & alignMask
	sAlign := uintptr(src) & alignMask
	if dAlign != sAlign {
		copy(d8, s8)
		return dst
	}

	i := uintptr(0)
	if dAlign != 0 {
		lead := (alignMask + 1) - dAlign
		if lead > n {
			lead = n
		}
		copy(d8[:lead], s8[:lead])
		i = lead
	}

	if words := (n - i) / 4; words > 0 {
		d32 := unsafe.Slice((*uint32)(unsafe.Add(dst, i)), words)
		s32 := unsafe.Slice((*uint32)(unsafe.Add(src, i)), words)
		copy(d32, s32)
		i += words * 4
	}

	copy(d8[i:], s8[i:])
	return dst
}

// MemcpySmall is a byte-only copy for callers moving so few bytes that
// the alignment bookkeeping in Memcpy would cost more than it saves.
func MemcpySmall(dst, src unsafe.Pointer, n uintptr) unsafe.Pointer {
	d8 := unsafe.Slice((*byte)(dst), n)
	s8 := unsafe.Slice((*byte)(src), n)
	for i := uintptr(0); i < n; i++ {
		d8[i] = s8[i]
	}
	return dst
}

// Memset fills n bytes at dst with v, aligning the leading bytes and
// filling the bulk a word at a time.
func Memset(dst unsafe.Pointer, v byte, n uintptr) {
	if n == 0 {
		return
	}
	d8 := unsafe.Slice((*byte)(dst), n)

	dAlign := uintptr(dst) & alignMask
	i := uintptr(0)
	if dAlign != 0 {
		lead := (alignMask + 1) - dAlign
		if lead > n {
			lead = n
		}
		for ; i < lead; i++ {
			d8[i] = v
		}
	}

	if words := (n - i) / 4; words > 0 {
		v32 := uint32(v) | uint32(v)<<8 | uint32(v)<<16 | uint32(v)<<24
		d32 := unsafe.Slice((*uint32)(unsafe.Add(dst, i)), words)
		for j := range d32 {
			d32[j] = v32
		}
		i += words * 4
	}

	for ; i < n; i++ {
		d8[i] = v
	}
}

// Memset00 fills n bytes at dst with zero.
func Memset00(dst unsafe.Pointer, n uintptr) { Memset(dst, 0x00, n) }

// MemsetFF fills n bytes at dst with 0xFF.
func MemsetFF(dst unsafe.Pointer, n uintptr) { Memset(dst, 0xFF, n) }

// BufGet returns a temporary buffer of at least size bytes from the
// shared pool of BufMaxNum reusable slots, reallocating a slot's backing
// storage if none of the right size is already free. Returns nil if
// every slot is in use.
func BufGet(size uint32) unsafe.Pointer {
	if size == 0 {
		return nil
	}

	guess := -1
	for i := range bufs {
		if bufs[i].used || bufs[i].size < size {
			continue
		}
		if bufs[i].size == size {
			bufs[i].used = true
			return bufs[i].p
		}
		if guess < 0 || bufs[i].size < bufs[guess].size {
			guess = i
		}
	}
	if guess >= 0 {
		bufs[guess].used = true
		return bufs[guess].p
	}

	for i := range bufs {
		if bufs[i].used {
			continue
		}
		buf := Realloc(bufs[i].p, size)
		if buf == nil {
			return nil
		}
		bufs[i].used = true
		bufs[i].size = size
		bufs[i].p = buf
		return bufs[i].p
	}
	return nil
}

// BufRelease marks the slot holding p as available for reuse without
// freeing its backing storage.
func BufRelease(p unsafe.Pointer) {
	for i := range bufs {
		if bufs[i].p == p {
			bufs[i].used = false
			return
		}
	}
}

// BufFreeAll frees every temporary buffer's backing storage and resets
// the slot table to empty.
func BufFreeAll() {
	for i := range bufs {
		if bufs[i].p != nil {
			Free(bufs[i].p)
		}
		bufs[i] = tempBuf{}
	}
}
