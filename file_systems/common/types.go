// Package common contains definitions of fundamental types shared by the block
// device layer and the file system implementation.
package common

// PhysicalBlock is the absolute index of a block on the underlying device.
type PhysicalBlock uint

// DataBlock is the index of a block relative to the start of a volume's data
// region. Data block 0 is the first block of the data region, not block 0 of the
// device.
type DataBlock uint16

// InvalidDataBlock is the on-disk marker for "no data block". It's the same bit
// pattern as the end-of-chain sentinel in the allocation table, so it can never
// be a valid data block index.
const InvalidDataBlock = DataBlock(0xFFFF)
