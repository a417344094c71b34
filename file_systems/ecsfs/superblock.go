package ecsfs

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/dargueta/ecsfs/errors"
	c "github.com/dargueta/ecsfs/file_systems/common"
	"github.com/dargueta/ecsfs/file_systems/common/blockdevice"
	"github.com/noxer/bytewriter"
)

// Signature is the magic string at the beginning of every volume.
const Signature = "ECS150FS"

// FATEntriesPerBlock is the number of 16-bit allocation table entries that fit
// in one block.
const FATEntriesPerBlock = blockdevice.BlockSize / 2

// MinTotalBlocks is the smallest device a volume fits on: the superblock, one
// FAT block, the root directory, and one data block. Since data block 0 is
// reserved, a volume this size can't hold any file data.
const MinTotalBlocks = 4

// MaxTotalBlocks is the largest device a volume can describe. The block counts
// in the superblock are 16 bits wide.
const MaxTotalBlocks = 0xFFFF

// rawSuperblock is the on-disk representation of the first block of the volume,
// minus the padding.
type rawSuperblock struct {
	Signature          [8]byte
	TotalBlocks        uint16
	RootDirectoryBlock uint16
	DataStart          uint16
	DataBlocks         uint16
	FATBlocks          uint8
}

// Superblock describes the geometry of a volume.
type Superblock struct {
	TotalBlocks        uint
	FATBlocks          uint
	RootDirectoryBlock c.PhysicalBlock
	DataStart          c.PhysicalBlock
	DataBlocks         uint
}

// NewSuperblock computes the geometry of an empty volume occupying a device of
// `totalBlocks` blocks. The FAT gets the fewest blocks that can still hold one
// entry for every remaining data block.
func NewSuperblock(totalBlocks uint) (Superblock, error) {
	if totalBlocks < MinTotalBlocks || totalBlocks > MaxTotalBlocks {
		return Superblock{}, errors.ErrInvalidArgument.WithMessage(
			fmt.Sprintf(
				"volume must be between %d and %d blocks, got %d",
				MinTotalBlocks,
				MaxTotalBlocks,
				totalBlocks,
			),
		)
	}

	fatBlocks := uint(1)
	for fatBlocks*FATEntriesPerBlock < totalBlocks-2-fatBlocks {
		fatBlocks++
	}

	return Superblock{
		TotalBlocks:        totalBlocks,
		FATBlocks:          fatBlocks,
		RootDirectoryBlock: c.PhysicalBlock(fatBlocks + 1),
		DataStart:          c.PhysicalBlock(fatBlocks + 2),
		DataBlocks:         totalBlocks - 2 - fatBlocks,
	}, nil
}

// ParseSuperblock decodes the first block of a volume. It only checks the
// signature; use [Superblock.Validate] to check the geometry.
func ParseSuperblock(block []byte) (Superblock, error) {
	var raw rawSuperblock

	err := binary.Read(bytes.NewReader(block), binary.LittleEndian, &raw)
	if err != nil {
		return Superblock{}, errors.ErrIOFailed.Wrap(err)
	}

	if string(raw.Signature[:]) != Signature {
		return Superblock{}, errors.ErrInvalidFileSystem.WithMessage(
			fmt.Sprintf("bad signature: expected %q, got %q", Signature, raw.Signature[:]),
		)
	}

	return Superblock{
		TotalBlocks:        uint(raw.TotalBlocks),
		FATBlocks:          uint(raw.FATBlocks),
		RootDirectoryBlock: c.PhysicalBlock(raw.RootDirectoryBlock),
		DataStart:          c.PhysicalBlock(raw.DataStart),
		DataBlocks:         uint(raw.DataBlocks),
	}, nil
}

// Validate checks that the geometry is self-consistent and matches a device
// with `deviceBlocks` blocks.
func (sb *Superblock) Validate(deviceBlocks uint) error {
	if sb.TotalBlocks != deviceBlocks {
		return errors.ErrFileSystemCorrupted.WithMessage(
			fmt.Sprintf(
				"superblock claims %d blocks but the device has %d",
				sb.TotalBlocks,
				deviceBlocks,
			),
		)
	}

	if sb.TotalBlocks != 1+sb.FATBlocks+1+sb.DataBlocks {
		return errors.ErrFileSystemCorrupted.WithMessage(
			fmt.Sprintf(
				"block counts don't add up: 1 + %d FAT + 1 + %d data != %d total",
				sb.FATBlocks,
				sb.DataBlocks,
				sb.TotalBlocks,
			),
		)
	}

	if sb.DataBlocks == 0 || sb.FATBlocks == 0 {
		return errors.ErrFileSystemCorrupted.WithMessage(
			"volume must have at least one FAT block and one data block")
	}

	if sb.FATBlocks*FATEntriesPerBlock < sb.DataBlocks {
		return errors.ErrFileSystemCorrupted.WithMessage(
			fmt.Sprintf(
				"%d FAT blocks can't hold entries for %d data blocks",
				sb.FATBlocks,
				sb.DataBlocks,
			),
		)
	}

	if uint(sb.RootDirectoryBlock) != sb.FATBlocks+1 {
		return errors.ErrFileSystemCorrupted.WithMessage(
			fmt.Sprintf(
				"root directory must immediately follow the FAT at block %d, got %d",
				sb.FATBlocks+1,
				sb.RootDirectoryBlock,
			),
		)
	}

	if sb.DataStart != sb.RootDirectoryBlock+1 {
		return errors.ErrFileSystemCorrupted.WithMessage(
			fmt.Sprintf(
				"data region must immediately follow the root directory at block %d, got %d",
				sb.RootDirectoryBlock+1,
				sb.DataStart,
			),
		)
	}
	return nil
}

// DataBlockToPhysical converts a data-region-relative block index into an
// absolute block index on the device.
func (sb *Superblock) DataBlockToPhysical(block c.DataBlock) c.PhysicalBlock {
	return sb.DataStart + c.PhysicalBlock(block)
}

// FATBlockToPhysical returns the absolute block index of the `index`th block of
// the allocation table.
func (sb *Superblock) FATBlockToPhysical(index uint) c.PhysicalBlock {
	return c.PhysicalBlock(1 + index)
}

// encodeInto writes the superblock fields to the beginning of `block`. Bytes past
// the fields are left untouched.
func (sb *Superblock) encodeInto(block []byte) error {
	raw := rawSuperblock{
		TotalBlocks:        uint16(sb.TotalBlocks),
		RootDirectoryBlock: uint16(sb.RootDirectoryBlock),
		DataStart:          uint16(sb.DataStart),
		DataBlocks:         uint16(sb.DataBlocks),
		FATBlocks:          uint8(sb.FATBlocks),
	}
	copy(raw.Signature[:], Signature)

	writer := bytewriter.New(block)
	return binary.Write(writer, binary.LittleEndian, &raw)
}
