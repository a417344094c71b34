package ecsfs

import (
	"github.com/dargueta/ecsfs/errors"
	"github.com/dargueta/ecsfs/file_systems/common/blockdevice"
)

// Format writes an empty file system covering all of `device`. Only the
// superblock, allocation table, and root directory are written; the contents
// of the data region are left as they are. The device is not closed.
func Format(device blockdevice.BlockDevice) error {
	superblock, err := NewSuperblock(device.BlockCount())
	if err != nil {
		return err
	}

	block := make([]byte, blockdevice.BlockSize)
	err = superblock.encodeInto(block)
	if err != nil {
		return errors.ErrIOFailed.Wrap(err)
	}
	err = device.WriteBlock(0, block)
	if err != nil {
		return err
	}

	rawFAT := make([]byte, superblock.FATBlocks*blockdevice.BlockSize)
	NewAllocationTable(superblock.DataBlocks).encodeInto(rawFAT)
	for i := uint(0); i < superblock.FATBlocks; i++ {
		start := i * blockdevice.BlockSize
		err = device.WriteBlock(
			superblock.FATBlockToPhysical(i),
			rawFAT[start:start+blockdevice.BlockSize],
		)
		if err != nil {
			return err
		}
	}

	block = make([]byte, blockdevice.BlockSize)
	err = NewDirectoryTable().encodeInto(block)
	if err != nil {
		return err
	}
	return device.WriteBlock(superblock.RootDirectoryBlock, block)
}

// FormatImage creates an image file of `totalBlocks` blocks at `path` and
// formats it. An existing file at `path` is overwritten.
func FormatImage(path string, totalBlocks uint) error {
	// Check the size before creating anything on disk.
	_, err := NewSuperblock(totalBlocks)
	if err != nil {
		return err
	}

	device, err := blockdevice.Create(path, totalBlocks)
	if err != nil {
		return err
	}

	err = Format(device)
	closeErr := device.Close()
	if err != nil {
		return err
	}
	return closeErr
}
