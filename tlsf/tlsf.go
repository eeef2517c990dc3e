/* This program is free software. It comes without any warranty, to
 * the extent permitted by applicable law. You can redistribute it
 * and/or modify it under the terms of the Do What The Fuck You Want
 * To Public License, Version 2, as published by Sam Hocevar. See
 * http://sam.zoy.org/wtfpl/COPYING for more details. */

// Package tlsf implements a Two-Level Segregated Fit memory allocator over
// caller-supplied byte slices ("pools").
//
// IMPORTANT: This package is NOT goroutine-safe. Concurrent access from
// multiple goroutines is not supported and may lead to race conditions. It
// is the responsibility of the caller to implement proper synchronization
// mechanisms when using this allocator in a concurrent environment.
package tlsf

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/AquaEngineering/os/internal/logx"
)

var log = logx.NewPrefixed("tlsf")

// Block status flags live in the low two bits of a block's size field,
// exactly as the reference allocator packs them: the size is always a
// multiple of AlignSize (4), so those bits are free for bookkeeping.
const (
	flagFree     uintptr = 1 << 0
	flagPrevFree uintptr = 1 << 1
	flagMask             = flagFree | flagPrevFree
)

// blockHeader is present at the start of every physical block, used or
// free. Unlike the reference C allocator, which overlaps a block's
// prevPhysBlock field into the tail of its physical predecessor to save a
// word, this header is always fully resident: Go's type system has no
// sanctioned way to let two live values share storage like that. The
// free-list-pointer overlap (below) is kept, since it only ever aliases a
// block's own payload, which is safe.
type blockHeader struct {
	prevPhysBlock *blockHeader
	size          uintptr // payload size (excludes this header) | flags
}

// freeBlockHeader is the layout a block has while it is free: its payload
// is unused, so the free-list links are written directly into it.
type freeBlockHeader struct {
	blockHeader
	nextFree *freeBlockHeader
	prevFree *freeBlockHeader
}

const (
	headerOverhead = unsafe.Sizeof(blockHeader{})     // 16 bytes: always-resident header
	freeHeaderSize = unsafe.Sizeof(freeBlockHeader{}) // 32 bytes: header + both free-list links
	blockSizeMin   = freeHeaderSize - headerOverhead   // smallest usable free payload (16 bytes)
	minSplitSize   = headerOverhead + blockSizeMin     // smallest a carved-off remainder may be
)

var blockSizeMax = uintptr(1) << flIndexMax

func (b *blockHeader) blockSize() uintptr { return b.size &^ flagMask }
func (b *blockHeader) isFree() bool       { return b.size&flagFree != 0 }
func (b *blockHeader) isPrevFree() bool   { return b.size&flagPrevFree != 0 }
func (b *blockHeader) setSize(sz uintptr) { b.size = sz | (b.size & flagMask) }
func (b *blockHeader) setFree()           { b.size |= flagFree }
func (b *blockHeader) setUsed()           { b.size &^= flagFree }
func (b *blockHeader) setPrevFree()       { b.size |= flagPrevFree }
func (b *blockHeader) setPrevUsed()       { b.size &^= flagPrevFree }

func (b *blockHeader) asFree() *freeBlockHeader {
	return (*freeBlockHeader)(unsafe.Pointer(b))
}

// blockToPtr returns the payload address for a block.
func blockToPtr(b *blockHeader) unsafe.Pointer {
	return unsafe.Add(unsafe.Pointer(b), headerOverhead)
}

// blockFromPtr recovers a block header from a payload pointer previously
// returned by blockToPtr.
func blockFromPtr(ptr unsafe.Pointer) *blockHeader {
	return (*blockHeader)(unsafe.Add(ptr, -int64(headerOverhead)))
}

func offsetToBlock(ptr unsafe.Pointer, offset uintptr) *blockHeader {
	return (*blockHeader)(unsafe.Add(ptr, offset))
}

// blockNext returns the block physically following b. Valid even on the
// sentinel, whose "next" is meaningless but never dereferenced as such.
func blockNext(b *blockHeader) *blockHeader {
	return offsetToBlock(blockToPtr(b), b.blockSize())
}

// blockLinkNext sets next's prevPhysBlock to b and returns next.
func blockLinkNext(b *blockHeader) *blockHeader {
	next := blockNext(b)
	next.prevPhysBlock = b
	return next
}

func blockMarkAsFree(b *blockHeader) {
	next := blockLinkNext(b)
	next.setPrevFree()
	b.setFree()
}

func blockMarkAsUsed(b *blockHeader) {
	next := blockNext(b)
	next.setPrevUsed()
	b.setUsed()
}

func blockCanSplit(b *blockHeader, size uintptr) bool {
	return b.blockSize() >= minSplitSize+size
}

// blockSplit carves the first size bytes of b's payload into b, and
// returns a new block header describing the remainder. The remainder is
// NOT yet marked free or linked into the physical chain; callers do that
// once they know what becomes of it.
func blockSplit(b *blockHeader, size uintptr) *blockHeader {
	remaining := offsetToBlock(blockToPtr(b), size)
	remainSize := b.blockSize() - size - headerOverhead
	remaining.setSize(remainSize)
	b.setSize(size)
	return remaining
}

// blockAbsorb merges the physically-following block "next" into b. next
// must not be the sentinel and must already be unlinked from any free
// list. b keeps next's payload plus next's own header as extra payload.
func blockAbsorb(b, next *blockHeader) {
	b.setSize(b.blockSize() + next.blockSize() + headerOverhead)
	blockLinkNext(b)
}

// control holds the segregated free-list bitmaps and bucket heads shared
// by every pool attached to a TLSF instance.
type control struct {
	blockNull freeBlockHeader // sentinel list head; never a real block

	flBitmap uint32
	slBitmap [flIndexCount]uint32
	blocks   [flIndexCount][slIndexCount]*freeBlockHeader
}

func newControl() *control {
	c := &control{}
	c.blockNull.nextFree = &c.blockNull
	c.blockNull.prevFree = &c.blockNull
	for fl := 0; fl < flIndexCount; fl++ {
		for sl := 0; sl < slIndexCount; sl++ {
			c.blocks[fl][sl] = &c.blockNull
		}
	}
	return c
}

// Pool identifies a single contiguous memory region registered with a
// TLSF instance via New or AddPool.
type Pool struct {
	mem   []byte // retained so the GC never reclaims memory we only reach via unsafe.Pointer
	first *blockHeader
}

// TLSF is a Two-Level Segregated Fit allocator. The zero value is not
// usable; construct one with New.
type TLSF struct {
	ctl   *control
	first Pool // the pool passed to New, for GetPool/backward compatibility with single-pool callers
}

var (
	// ErrOOM names the condition where no free block large enough exists
	// in any attached pool. No function in this package returns it:
	// Malloc, Memalign and Realloc signal that condition with a nil pointer.
	ErrOOM = errors.New("tlsf: out of memory")
	// ErrPoolTooSmall is returned when a caller-supplied region is too
	// small to host even the pool overhead plus one minimal block.
	ErrPoolTooSmall = errors.New("tlsf: pool too small")
	// ErrPoolNotEmpty is returned by RemovePool when the pool's block is
	// not a single free block spanning the whole pool.
	ErrPoolNotEmpty = errors.New("tlsf: pool has live allocations")
	// ErrCorrupt is the base error for CheckPool/Check failures; errors.Is
	// matches any corruption report against it.
	ErrCorrupt = errors.New("tlsf: pool integrity check failed")
)

// poolOverhead is the portion of a pool's bytes consumed by the leading
// and trailing (sentinel) bookkeeping blocks rather than available for
// payload.
const poolOverhead = 2 * headerOverhead

// New creates a TLSF allocator backed by a single pool carved from mem.
func New(mem []byte) (*TLSF, error) {
	t := &TLSF{ctl: newControl()}
	p, err := t.addPoolMem(mem)
	if err != nil {
		return nil, err
	}
	t.first = *p
	return t, nil
}

// AddPool registers an additional region against an already-constructed
// allocator, making its capacity available to future Malloc/Memalign
// calls alongside any pool(s) already attached.
func (t *TLSF) AddPool(mem []byte) (*Pool, error) {
	return t.addPoolMem(mem)
}

func (t *TLSF) addPoolMem(mem []byte) (*Pool, error) {
	base := alignUp(uintptr(unsafe.Pointer(&mem[0])), AlignSize)
	slack := base - uintptr(unsafe.Pointer(&mem[0]))
	usable := alignDown(uintptr(len(mem))-slack, AlignSize)

	if usable < poolOverhead+minSplitSize {
		log.WARN("addPoolMem: %d usable bytes is below the %d-byte minimum pool size", usable, poolOverhead+minSplitSize)
		return nil, ErrPoolTooSmall
	}

	poolBytes := usable - poolOverhead
	first := (*blockHeader)(unsafe.Pointer(base))
	// The first block's prevPhysBlock is never dereferenced (its
	// predecessor lies outside the pool); PREV_USED keeps WalkPool/Check
	// from expecting a valid physical predecessor there.
	first.prevPhysBlock = nil
	first.setSize(poolBytes)
	first.setPrevUsed()
	blockInsert(t.ctl, first) // marks first free and links it into the free list

	sentinel := blockLinkNext(first)
	sentinel.setSize(0)
	sentinel.setUsed()
	sentinel.setPrevFree()

	pool := &Pool{mem: mem, first: first}
	return pool, nil
}

// RemovePool detaches pool from the allocator. pool's single block must
// still be free and span the whole pool (i.e. nothing from it was ever
// allocated and kept live).
func (t *TLSF) RemovePool(pool *Pool) error {
	b := pool.first
	if !b.isFree() || blockNext(b).blockSize() != 0 {
		log.WARN("RemovePool: pool still has live allocations")
		return ErrPoolNotEmpty
	}
	fl, sl := mappingInsert(b.blockSize())
	removeFreeBlock(t.ctl, b.asFree(), fl, sl)
	return nil
}

// GetPool returns the pool created alongside the allocator by New, for
// callers that only ever use single-pool mode.
func (t *TLSF) GetPool() *Pool { return &t.first }

// ---- bitmap-indexed free list ----

func setBit(bitmap *uint32, i int)   { *bitmap |= 1 << uint(i) }
func clearBit(bitmap *uint32, i int) { *bitmap &^= 1 << uint(i) }

func removeFreeBlock(ctl *control, b *freeBlockHeader, fl, sl int) {
	prev := b.prevFree
	next := b.nextFree
	next.prevFree = prev
	prev.nextFree = next

	if ctl.blocks[fl][sl] == b {
		ctl.blocks[fl][sl] = next
		if next == &ctl.blockNull {
			clearBit(&ctl.slBitmap[fl], sl)
			if ctl.slBitmap[fl] == 0 {
				clearBit(&ctl.flBitmap, fl)
			}
		}
	}
}

func insertFreeBlock(ctl *control, b *freeBlockHeader, fl, sl int) {
	current := ctl.blocks[fl][sl]
	if current == nil {
		current = &ctl.blockNull
	}
	b.nextFree = current
	b.prevFree = &ctl.blockNull
	current.prevFree = b
	ctl.blocks[fl][sl] = b

	setBit(&ctl.flBitmap, fl)
	setBit(&ctl.slBitmap[fl], sl)
}

// blockRemove takes b out of its free list and marks it used (but does
// not touch its physical neighbors).
func blockRemove(ctl *control, b *blockHeader) {
	fl, sl := mappingInsert(b.blockSize())
	removeFreeBlock(ctl, b.asFree(), fl, sl)
	b.setUsed()
}

// blockInsert puts a free block into the free list matching its size and
// marks it free (does not touch physical neighbors; callers that need
// PREV_FREE propagated use blockMarkAsFree separately).
func blockInsert(ctl *control, b *blockHeader) {
	fl, sl := mappingInsert(b.blockSize())
	insertFreeBlock(ctl, b.asFree(), fl, sl)
	b.setFree()
}

// searchSuitableBlock finds the smallest free block at or above (fl, sl),
// updating fl/sl in place to the class it was actually found in.
func searchSuitableBlock(ctl *control, fl, sl *int) *freeBlockHeader {
	slMap := ctl.slBitmap[*fl] & (^uint32(0) << uint(*sl))
	if slMap == 0 {
		flMap := ctl.flBitmap & (^uint32(0) << uint(*fl+1))
		if flMap == 0 {
			return nil
		}
		*fl = ffs(flMap)
		slMap = ctl.slBitmap[*fl]
	}
	*sl = ffs(slMap)
	found := ctl.blocks[*fl][*sl]
	if found == &ctl.blockNull {
		return nil
	}
	return found
}

// ---- trimming ----

// blockTrimFree carves off and returns to the free list any tail of b
// beyond size bytes, if that tail is large enough to stand alone.
func blockTrimFree(ctl *control, b *blockHeader, size uintptr) {
	if !blockCanSplit(b, size) {
		return
	}
	remaining := blockSplit(b, size)
	blockLinkNext(b)
	remaining.setPrevUsed()
	blockMarkAsFree(remaining)
	blockInsert(ctl, remaining)
}

// blockTrimUsed is blockTrimFree's counterpart for a block that is about
// to grow used: any leftover tail beyond size is either merged into a
// following free block or stands alone as a new free block.
func blockTrimUsed(ctl *control, b *blockHeader, size uintptr) {
	if !blockCanSplit(b, size) {
		return
	}
	remaining := blockSplit(b, size)
	blockLinkNext(b)
	if next := blockNext(remaining); next.isFree() {
		fl, sl := mappingInsert(next.blockSize())
		removeFreeBlock(ctl, next.asFree(), fl, sl)
		blockAbsorb(remaining, next)
	}
	blockMarkAsFree(remaining)
	blockInsert(ctl, remaining)
}

// blockTrimFreeLeading is memalign's helper: splits off a leading chunk
// of b (of leadingSize bytes) and returns it to the free list, returning
// the remaining block (which starts at the aligned address).
func blockTrimFreeLeading(ctl *control, b *blockHeader, leadingSize uintptr) *blockHeader {
	remaining := b
	keep := leadingSize - headerOverhead
	if blockCanSplit(b, keep) {
		remaining = blockSplit(b, keep)
		blockLinkNext(b)
		remaining.setPrevFree()
		blockInsert(ctl, b)
	}
	return remaining
}

// blockLocateFree removes and returns the best-fit free block for size,
// or nil on OOM.
func blockLocateFree(ctl *control, size uintptr) *blockHeader {
	if size == 0 {
		return nil
	}
	fl, sl := mappingSearch(size)
	fb := searchSuitableBlock(ctl, &fl, &sl)
	if fb == nil {
		return nil
	}
	removeFreeBlock(ctl, fb, fl, sl)
	return &fb.blockHeader
}

func blockPrepareUsed(ctl *control, b *blockHeader, size uintptr) unsafe.Pointer {
	if b == nil {
		return nil
	}
	blockTrimFree(ctl, b, size)
	blockMarkAsUsed(b)
	return blockToPtr(b)
}

// ---- size adjustment ----

func adjustRequestSize(size, align uintptr) uintptr {
	if size == 0 {
		return 0
	}
	aligned := alignUp(size, align)
	if aligned >= blockSizeMax {
		return 0
	}
	if aligned < blockSizeMin {
		return blockSizeMin
	}
	return aligned
}

func alignPtr(ptr unsafe.Pointer, align uintptr) unsafe.Pointer {
	addr := uintptr(ptr)
	aligned := (addr + align - 1) &^ (align - 1)
	return unsafe.Pointer(aligned)
}

// ---- public allocation API ----

// Malloc returns a pointer to a newly allocated block of at least size
// usable bytes, or nil if no pool has enough contiguous free space.
func (t *TLSF) Malloc(size uintptr) unsafe.Pointer {
	adjusted := adjustRequestSize(size, AlignSize)
	b := blockLocateFree(t.ctl, adjusted)
	return blockPrepareUsed(t.ctl, b, adjusted)
}

// Memalign returns a pointer to a newly allocated block of at least size
// usable bytes whose address is a multiple of align (which must be a
// power of two). Returns nil on failure.
func (t *TLSF) Memalign(align, size uintptr) unsafe.Pointer {
	adjusted := adjustRequestSize(size, AlignSize)
	if adjusted == 0 {
		return nil
	}

	if align <= AlignSize {
		return t.Malloc(size)
	}

	gapMinimum := minSplitSize
	sizeWithGap := adjustRequestSize(adjusted+align+gapMinimum, align)
	if sizeWithGap == 0 {
		return nil
	}

	b := blockLocateFree(t.ctl, sizeWithGap)
	if b == nil {
		return nil
	}

	ptr := blockToPtr(b)
	aligned := alignPtr(ptr, align)
	gap := uintptr(aligned) - uintptr(ptr)

	if gap != 0 && gap < gapMinimum {
		advance := gapMinimum - gap
		if advance < align {
			advance = align
		}
		aligned = alignPtr(unsafe.Add(aligned, advance), align)
		gap = uintptr(aligned) - uintptr(ptr)
	}

	if gap != 0 {
		b = blockTrimFreeLeading(t.ctl, b, gap)
	}

	return blockPrepareUsed(t.ctl, b, adjusted)
}

// Free releases a block previously returned by Malloc or Memalign. Passing
// nil is a no-op. Returns the block's stored size field (payload size
// with flag bits still packed in), matching the reference allocator's
// contract; callers that want just the payload size should use BlockSize
// instead.
func (t *TLSF) Free(ptr unsafe.Pointer) uintptr {
	if ptr == nil {
		return 0
	}
	b := blockFromPtr(ptr)
	rawSize := b.size

	blockMarkAsFree(b)

	if prev := b.prevPhysBlock; b.isPrevFree() && prev != nil {
		blockRemove(t.ctl, prev)
		blockAbsorb(prev, b)
		b = prev
	}
	if next := blockNext(b); next.isFree() {
		blockRemove(t.ctl, next)
		blockAbsorb(b, next)
	}
	blockInsert(t.ctl, b)
	return rawSize
}

// Realloc resizes the allocation at ptr to size bytes, preserving the
// leading min(oldSize, size) bytes of content. ptr == nil behaves as
// Malloc; size == 0 behaves as Free, returning nil. Returns nil (without
// touching ptr) if size exceeds the allocator's maximum block size.
func (t *TLSF) Realloc(ptr unsafe.Pointer, size uintptr) unsafe.Pointer {
	if ptr != nil && size == 0 {
		t.Free(ptr)
		return nil
	}
	if ptr == nil {
		return t.Malloc(size)
	}

	b := blockFromPtr(ptr)
	adjusted := adjustRequestSize(size, AlignSize)
	if adjusted == 0 {
		return nil // size rounded up past blockSizeMax
	}

	cursize := b.blockSize()
	combined := cursize
	next := blockNext(b)
	if next.isFree() {
		combined += next.blockSize() + headerOverhead
	}

	if adjusted > cursize && (!next.isFree() || adjusted > combined) {
		newPtr := t.Malloc(size)
		if newPtr == nil {
			return nil
		}
		n := cursize
		if size < n {
			n = size
		}
		memmove(newPtr, ptr, n)
		t.Free(ptr)
		return newPtr
	}

	if adjusted > cursize {
		blockRemove(t.ctl, next)
		blockAbsorb(b, next)
		blockMarkAsUsed(b)
	}
	blockTrimUsed(t.ctl, b, adjusted)
	return ptr
}

func memmove(dst, src unsafe.Pointer, n uintptr) {
	d := unsafe.Slice((*byte)(dst), n)
	s := unsafe.Slice((*byte)(src), n)
	copy(d, s)
}

// ---- introspection ----

// BlockSize returns the usable payload size of a live allocation.
func BlockSize(ptr unsafe.Pointer) uintptr {
	if ptr == nil {
		return 0
	}
	return blockFromPtr(ptr).blockSize()
}

// PoolOverhead returns the fixed per-pool bookkeeping cost (the leading
// and sentinel block headers) that is not available as payload.
func PoolOverhead() uintptr { return poolOverhead }

// AllocOverhead returns the fixed per-allocation bookkeeping cost.
func AllocOverhead() uintptr { return headerOverhead }

// BlockSizeMin and BlockSizeMax bound the payload sizes this allocator
// can hand out.
func BlockSizeMin() uintptr { return blockSizeMin }
func BlockSizeMax() uintptr { return blockSizeMax }

// ---- walking and integrity checking ----

// Visitor is called once per physical block while walking a pool, in
// ascending address order, up to (but excluding) the sentinel.
type Visitor func(ptr unsafe.Pointer, size uintptr, used bool, user interface{})

// WalkPool walks pool's physical block chain from its first block to the
// zero-size sentinel, invoking visit for each block before the sentinel,
// used or free.
func WalkPool(pool *Pool, visit Visitor, user interface{}) {
	b := pool.first
	for b.blockSize() != 0 {
		visit(blockToPtr(b), b.blockSize(), !b.isFree(), user)
		b = blockNext(b)
	}
}

// CorruptionError describes the first integrity violation CheckPool or
// Check found while walking a pool.
type CorruptionError struct {
	Reason string
	Offset uintptr // byte offset of the offending block within its pool
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("tlsf: corruption at offset %d: %s", e.Offset, e.Reason)
}

func (e *CorruptionError) Unwrap() error { return ErrCorrupt }

// CheckPool walks pool's physical chain and bitmaps, verifying every
// invariant the allocator relies on, and returns a *CorruptionError
// describing the first violation found, or nil if the pool is consistent.
func (t *TLSF) CheckPool(pool *Pool) error {
	base := uintptr(unsafe.Pointer(pool.first))
	prevFree := false
	b := pool.first
	for {
		off := uintptr(unsafe.Pointer(b)) - base
		if b.isPrevFree() != prevFree {
			return &CorruptionError{Offset: off, Reason: "prev_free flag does not match predecessor's free state"}
		}
		if b.blockSize() == 0 {
			break // sentinel reached; nothing further to verify about it
		}
		if b.blockSize()%AlignSize != 0 {
			return &CorruptionError{Offset: off, Reason: "block size is not aligned"}
		}
		if b.isFree() {
			if prevFree {
				return &CorruptionError{Offset: off, Reason: "two physically adjacent free blocks"}
			}
			fl, sl := mappingInsert(b.blockSize())
			if !freeListContains(t.ctl, fl, sl, b.asFree()) {
				return &CorruptionError{Offset: off, Reason: "free block missing from its segregated free list"}
			}
		}
		prevFree = b.isFree()
		b = blockNext(b)
	}
	return t.checkBitmaps()
}

func freeListContains(ctl *control, fl, sl int, target *freeBlockHeader) bool {
	for cur := ctl.blocks[fl][sl]; cur != nil && cur != &ctl.blockNull; cur = cur.nextFree {
		if cur == target {
			return true
		}
	}
	return false
}

func (t *TLSF) checkBitmaps() error {
	for fl := 0; fl < flIndexCount; fl++ {
		flBitSet := t.ctl.flBitmap&(1<<uint(fl)) != 0
		var anySL bool
		for sl := 0; sl < slIndexCount; sl++ {
			slBitSet := t.ctl.slBitmap[fl]&(1<<uint(sl)) != 0
			head := t.ctl.blocks[fl][sl]
			nonEmpty := head != nil && head != &t.ctl.blockNull
			if slBitSet != nonEmpty {
				return &CorruptionError{Reason: fmt.Sprintf("sl_bitmap[%d] bit %d inconsistent with free list occupancy", fl, sl)}
			}
			if nonEmpty {
				anySL = true
			}
		}
		if flBitSet != anySL {
			return &CorruptionError{Reason: fmt.Sprintf("fl_bitmap bit %d inconsistent with sl_bitmap[%d]", fl, fl)}
		}
	}
	return nil
}

// Check verifies every pool given, or the pool created alongside New if
// none are given. Use this form when a caller only ever uses single-pool
// mode; callers using AddPool should retain their Pool handles and pass
// them all explicitly.
func (t *TLSF) Check(pools ...*Pool) error {
	if len(pools) == 0 {
		pools = []*Pool{&t.first}
	}
	for _, p := range pools {
		if err := t.CheckPool(p); err != nil {
			return err
		}
	}
	return nil
}
