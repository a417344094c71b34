package ecsfs

import (
	"encoding/binary"
	"fmt"

	"github.com/dargueta/ecsfs/errors"
	c "github.com/dargueta/ecsfs/file_systems/common"
)

// On-disk values of the allocation table sentinels.
const (
	rawFreeEntry       uint16 = 0
	rawEndOfChainEntry uint16 = 0xFFFF
)

// EntryKind tells what an allocation table entry means.
type EntryKind uint8

const (
	// EntryFree marks a data block not used by any file.
	EntryFree EntryKind = iota
	// EntryEndOfChain marks the last block of a file.
	EntryEndOfChain
	// EntryNext links a block to the following block of the same file.
	EntryNext
)

// FATEntry is the decoded form of one allocation table entry. Next is only
// meaningful if Kind is [EntryNext].
type FATEntry struct {
	Kind EntryKind
	Next c.DataBlock
}

var FreeEntry = FATEntry{Kind: EntryFree}
var EndOfChainEntry = FATEntry{Kind: EntryEndOfChain}

// NextEntry returns an entry linking to `next`.
func NextEntry(next c.DataBlock) FATEntry {
	return FATEntry{Kind: EntryNext, Next: next}
}

func decodeFATEntry(raw uint16) FATEntry {
	switch raw {
	case rawFreeEntry:
		return FreeEntry
	case rawEndOfChainEntry:
		return EndOfChainEntry
	default:
		return NextEntry(c.DataBlock(raw))
	}
}

func (entry FATEntry) encode() uint16 {
	switch entry.Kind {
	case EntryFree:
		return rawFreeEntry
	case EntryEndOfChain:
		return rawEndOfChainEntry
	default:
		return uint16(entry.Next)
	}
}

func (entry FATEntry) String() string {
	switch entry.Kind {
	case EntryFree:
		return "FREE"
	case EntryEndOfChain:
		return "EOC"
	default:
		return fmt.Sprintf("NEXT(%d)", entry.Next)
	}
}

// AllocationTable is the in-memory mirror of the volume's FAT. There's one
// entry per data block, and entry i describes data block i.
//
// Entry 0 is reserved and always holds end-of-chain, so data block 0 is never
// handed out. This keeps a link to block 0 from being confused with a free
// entry on disk.
type AllocationTable struct {
	entries []FATEntry
}

// NewAllocationTable creates the table for an empty volume with `dataBlocks`
// data blocks.
func NewAllocationTable(dataBlocks uint) *AllocationTable {
	table := &AllocationTable{entries: make([]FATEntry, dataBlocks)}
	table.entries[0] = EndOfChainEntry
	return table
}

// decodeAllocationTable reads the first `dataBlocks` entries from the raw FAT
// blocks. Entries past that are padding and ignored.
func decodeAllocationTable(raw []byte, dataBlocks uint) (*AllocationTable, error) {
	if uint(len(raw)) < dataBlocks*2 {
		return nil, errors.ErrFileSystemCorrupted.WithMessage(
			fmt.Sprintf(
				"FAT is %d bytes, too small for %d entries",
				len(raw),
				dataBlocks,
			),
		)
	}

	table := &AllocationTable{entries: make([]FATEntry, dataBlocks)}
	for i := range table.entries {
		table.entries[i] = decodeFATEntry(binary.LittleEndian.Uint16(raw[i*2:]))
	}

	if table.entries[0] != EndOfChainEntry {
		return nil, errors.ErrFileSystemCorrupted.WithMessage(
			fmt.Sprintf("reserved FAT entry 0 must be EOC, got %s", table.entries[0]))
	}
	return table, nil
}

// encodeInto writes every entry into `raw`, which must be at least two bytes per
// entry. Padding past the last entry is left untouched.
func (table *AllocationTable) encodeInto(raw []byte) {
	for i, entry := range table.entries {
		binary.LittleEndian.PutUint16(raw[i*2:], entry.encode())
	}
}

// Len returns the number of entries in the table, i.e. the number of data
// blocks on the volume.
func (table *AllocationTable) Len() uint {
	return uint(len(table.entries))
}

func (table *AllocationTable) isValidBlock(block c.DataBlock) bool {
	return uint(block) < uint(len(table.entries))
}

func (table *AllocationTable) makeInvalidBlockError(block c.DataBlock) error {
	return errors.ErrFileSystemCorrupted.WithMessage(
		fmt.Sprintf(
			"invalid data block %d: not in range [0, %d)",
			block,
			len(table.entries),
		),
	)
}

// Get returns the entry for data block `block`.
func (table *AllocationTable) Get(block c.DataBlock) (FATEntry, error) {
	if !table.isValidBlock(block) {
		return FATEntry{}, table.makeInvalidBlockError(block)
	}
	return table.entries[block], nil
}

// Next returns the block following `block` in its chain. The second return value
// is false if `block` is the last block of its chain, or isn't a valid link.
func (table *AllocationTable) Next(block c.DataBlock) (c.DataBlock, bool) {
	if !table.isValidBlock(block) {
		return c.InvalidDataBlock, false
	}

	entry := table.entries[block]
	if entry.Kind != EntryNext || !table.isValidBlock(entry.Next) {
		return c.InvalidDataBlock, false
	}
	return entry.Next, true
}

// FreeCount returns the number of unallocated data blocks.
func (table *AllocationTable) FreeCount() uint {
	count := uint(0)
	for _, entry := range table.entries {
		if entry.Kind == EntryFree {
			count++
		}
	}
	return count
}

// FindFreeBlock returns the first free block at or after `start`, scanning in
// increasing index order. If there are none, it returns an error with code
// [errors.ENOSPC].
func (table *AllocationTable) FindFreeBlock(start c.DataBlock) (c.DataBlock, error) {
	for i := uint(start); i < uint(len(table.entries)); i++ {
		if table.entries[i].Kind == EntryFree {
			return c.DataBlock(i), nil
		}
	}
	return c.InvalidDataBlock, errors.ErrNoSpaceOnDevice.WithMessage(
		fmt.Sprintf("no free data blocks at or after block %d", start))
}

// StartChain allocates the first block of a new chain and marks it as the end
// of the chain.
func (table *AllocationTable) StartChain() (c.DataBlock, error) {
	block, err := table.FindFreeBlock(0)
	if err != nil {
		return c.InvalidDataBlock, err
	}
	table.entries[block] = EndOfChainEntry
	return block, nil
}

// ExtendChain allocates a free block and appends it to the chain ending at
// `tail`, returning the new block. `tail` must be the last block of its chain.
// The table is not modified if this fails.
func (table *AllocationTable) ExtendChain(tail c.DataBlock) (c.DataBlock, error) {
	if !table.isValidBlock(tail) {
		return c.InvalidDataBlock, table.makeInvalidBlockError(tail)
	}
	if table.entries[tail] != EndOfChainEntry {
		return c.InvalidDataBlock, errors.ErrInvalidArgument.WithMessage(
			fmt.Sprintf(
				"block %d is not the end of a chain: entry is %s",
				tail,
				table.entries[tail],
			),
		)
	}

	newBlock, err := table.FindFreeBlock(0)
	if err != nil {
		return c.InvalidDataBlock, err
	}

	table.entries[tail] = NextEntry(newBlock)
	table.entries[newBlock] = EndOfChainEntry
	return newBlock, nil
}

// ReleaseChain frees every block in the chain beginning at `head` and returns
// the number of blocks freed. The walk stops at the end of the chain, at an
// entry that is already free or points outside the table, or after visiting as
// many blocks as the table has, so it always terminates.
func (table *AllocationTable) ReleaseChain(head c.DataBlock) uint {
	freed := uint(0)
	current := head

	for freed < uint(len(table.entries)) && table.isValidBlock(current) {
		// The reserved entry is never part of a file.
		if current == 0 {
			break
		}

		entry := table.entries[current]
		if entry.Kind == EntryFree {
			break
		}

		table.entries[current] = FreeEntry
		freed++

		if entry.Kind == EntryEndOfChain {
			break
		}
		current = entry.Next
	}
	return freed
}

// Walk follows the chain starting at `head` for `steps` links and returns the
// block it lands on. If the chain ends first, the error has code
// [errors.ENOENT]. A link to a free or out-of-range block gives
// [errors.EUCLEAN].
func (table *AllocationTable) Walk(head c.DataBlock, steps uint) (c.DataBlock, error) {
	if !table.isValidBlock(head) {
		return c.InvalidDataBlock, table.makeInvalidBlockError(head)
	}

	current := head
	for i := uint(0); i < steps; i++ {
		entry := table.entries[current]
		switch entry.Kind {
		case EntryEndOfChain:
			return current, errors.ErrNotFound.WithMessage(
				fmt.Sprintf(
					"block index %d out of bounds: chain from %d has %d blocks",
					steps,
					head,
					i+1,
				),
			)
		case EntryFree:
			return c.InvalidDataBlock, errors.ErrFileSystemCorrupted.WithMessage(
				fmt.Sprintf(
					"chain from %d runs into free block %d at index %d",
					head,
					current,
					i,
				),
			)
		}

		if !table.isValidBlock(entry.Next) {
			return c.InvalidDataBlock, table.makeInvalidBlockError(entry.Next)
		}
		current = entry.Next
	}
	return current, nil
}

// ChainLength returns the number of blocks in the chain starting at `head`. A
// chain longer than the table itself must contain a cycle and is reported as
// corrupted.
func (table *AllocationTable) ChainLength(head c.DataBlock) (uint, error) {
	current := head
	for length := uint(1); length <= uint(len(table.entries)); length++ {
		entry, err := table.Get(current)
		if err != nil {
			return 0, err
		}

		switch entry.Kind {
		case EntryEndOfChain:
			return length, nil
		case EntryFree:
			return 0, errors.ErrFileSystemCorrupted.WithMessage(
				fmt.Sprintf("chain from %d runs into free block %d", head, current))
		}
		current = entry.Next
	}

	return 0, errors.ErrFileSystemCorrupted.WithMessage(
		fmt.Sprintf("chain from %d is longer than the volume; it must have a cycle", head))
}
