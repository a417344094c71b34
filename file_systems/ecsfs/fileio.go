package ecsfs

import (
	stderrors "errors"
	"fmt"

	"github.com/dargueta/ecsfs/errors"
	c "github.com/dargueta/ecsfs/file_systems/common"
	"github.com/dargueta/ecsfs/file_systems/common/blockdevice"
	"github.com/sirupsen/logrus"
)

func minUint32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

func (volume *Volume) readDataBlock(block c.DataBlock, buffer []byte) error {
	return volume.device.ReadBlock(volume.superblock.DataBlockToPhysical(block), buffer)
}

func (volume *Volume) writeDataBlock(block c.DataBlock, buffer []byte) error {
	return volume.device.WriteBlock(volume.superblock.DataBlockToPhysical(block), buffer)
}

func (volume *Volume) zeroScratch() {
	for i := range volume.scratch {
		volume.scratch[i] = 0
	}
}

// Read reads up to len(buffer) bytes from the file open on `fd`, starting at the
// descriptor's offset, and advances the offset by the number of bytes read.
// Reading at the end of the file returns 0 and no error.
func (volume *Volume) Read(fd FileDescriptor, buffer []byte) (int, error) {
	volume.mutex.Lock()
	defer volume.mutex.Unlock()

	err := volume.checkMounted()
	if err != nil {
		return 0, err
	}

	file, err := volume.openFiles.get(fd)
	if err != nil {
		return 0, err
	}
	return volume.read(file, buffer)
}

func (volume *Volume) read(file *openFile, buffer []byte) (int, error) {
	dirent := volume.directory.entry(file.slot)
	if !dirent.HasData() || file.offset >= dirent.Size || len(buffer) == 0 {
		return 0, nil
	}

	remaining := dirent.Size - file.offset
	if uint64(len(buffer)) < uint64(remaining) {
		remaining = uint32(len(buffer))
	}

	current, err := volume.fat.Walk(dirent.FirstBlock, uint(file.offset/blockdevice.BlockSize))
	if err != nil {
		if stderrors.Is(err, errors.ErrNotFound) {
			// The chain is shorter than the file size says. Treat it as the
			// end of the file.
			return 0, nil
		}
		return 0, err
	}

	total := uint32(0)
	for total < remaining {
		offsetInBlock := file.offset % blockdevice.BlockSize
		chunkSize := minUint32(blockdevice.BlockSize-offsetInBlock, remaining-total)

		if chunkSize == blockdevice.BlockSize {
			err = volume.readDataBlock(current, buffer[total:total+chunkSize])
		} else {
			err = volume.readDataBlock(current, volume.scratch)
			copy(buffer[total:total+chunkSize], volume.scratch[offsetInBlock:])
		}
		if err != nil {
			return int(total), err
		}

		total += chunkSize
		file.offset += chunkSize

		if total < remaining {
			next, ok := volume.fat.Next(current)
			if !ok {
				break
			}
			current = next
		}
	}
	return int(total), nil
}

// allocationFailed reports whether `err` means the volume ran out of space, in
// which case a write stops early instead of failing.
func (volume *Volume) allocationFailed(err error, written int, requested int) bool {
	if !stderrors.Is(err, errors.ErrNoSpaceOnDevice) {
		return false
	}

	volume.logger.WithFields(logrus.Fields{
		"written":   written,
		"requested": requested,
	}).Debug("volume full, stopping write early")
	return true
}

// Write writes `data` to the file open on `fd` at the descriptor's offset,
// allocating data blocks as needed, and advances the offset by the number of
// bytes written. If the volume fills up, Write stops early and returns the
// number of bytes written with no error. The file never shrinks.
func (volume *Volume) Write(fd FileDescriptor, data []byte) (int, error) {
	volume.mutex.Lock()
	defer volume.mutex.Unlock()

	err := volume.checkMounted()
	if err != nil {
		return 0, err
	}

	file, err := volume.openFiles.get(fd)
	if err != nil {
		return 0, err
	}
	return volume.write(file, data)
}

func (volume *Volume) write(file *openFile, data []byte) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}

	dirent := volume.directory.entry(file.slot)
	remaining := uint64(^uint32(0)) - uint64(file.offset)
	if uint64(len(data)) > remaining {
		return 0, errors.ErrFileTooLarge.WithMessage(
			fmt.Sprintf(
				"writing %d bytes at offset %d would exceed the maximum file size",
				len(data),
				file.offset,
			),
		)
	}

	// `fresh` is true if the current block was just allocated and holds no
	// file data yet.
	fresh := false
	if !dirent.HasData() {
		head, err := volume.fat.StartChain()
		if err != nil {
			if volume.allocationFailed(err, 0, len(data)) {
				return 0, nil
			}
			return 0, err
		}
		dirent.FirstBlock = head
		volume.directory.markDirty(file.slot)
		fresh = true
	}

	current, fresh, err := volume.seekChainForWrite(
		dirent.FirstBlock, uint(file.offset/blockdevice.BlockSize), fresh)
	if err != nil {
		if volume.allocationFailed(err, 0, len(data)) {
			return 0, nil
		}
		return 0, err
	}

	written := uint32(0)
	total := uint32(len(data))
	for {
		offsetInBlock := file.offset % blockdevice.BlockSize
		chunkSize := minUint32(blockdevice.BlockSize-offsetInBlock, total-written)
		chunk := data[written : written+chunkSize]

		if chunkSize == blockdevice.BlockSize {
			err = volume.writeDataBlock(current, chunk)
		} else {
			if fresh {
				volume.zeroScratch()
			} else {
				err = volume.readDataBlock(current, volume.scratch)
			}
			if err == nil {
				copy(volume.scratch[offsetInBlock:], chunk)
				err = volume.writeDataBlock(current, volume.scratch)
			}
		}
		if err != nil {
			return int(written), err
		}

		written += chunkSize
		file.offset += chunkSize
		if file.offset > dirent.Size {
			dirent.Size = file.offset
			volume.directory.markDirty(file.slot)
		}

		if written == total {
			return int(written), nil
		}

		next, ok := volume.fat.Next(current)
		if ok {
			current = next
			fresh = false
			continue
		}

		next, err = volume.fat.ExtendChain(current)
		if err != nil {
			if volume.allocationFailed(err, int(written), len(data)) {
				return int(written), nil
			}
			return int(written), err
		}
		current = next
		fresh = true
	}
}

// seekChainForWrite follows the chain from `head` to the block at position
// `index`, appending blocks if the chain is too short. Blocks appended before
// the target are zeroed on disk. The returned flag tells whether the target
// block was just allocated.
func (volume *Volume) seekChainForWrite(
	head c.DataBlock, index uint, headIsFresh bool,
) (c.DataBlock, bool, error) {
	current := head
	fresh := headIsFresh

	for i := uint(0); i < index; i++ {
		next, ok := volume.fat.Next(current)
		if ok {
			current = next
			fresh = false
			continue
		}

		if fresh {
			volume.zeroScratch()
			err := volume.writeDataBlock(current, volume.scratch)
			if err != nil {
				return c.InvalidDataBlock, false, err
			}
		}

		next, err := volume.fat.ExtendChain(current)
		if err != nil {
			return c.InvalidDataBlock, false, err
		}
		current = next
		fresh = true
	}
	return current, fresh, nil
}

////////////////////////////////////////////////////////////////////////////////
// Whole-file helpers

// ReadFile returns the entire contents of the file named `name`. The file must
// not already be open.
func (volume *Volume) ReadFile(name string) ([]byte, error) {
	volume.mutex.Lock()
	defer volume.mutex.Unlock()

	err := volume.checkMounted()
	if err != nil {
		return nil, err
	}

	fd, err := volume.openFile(name)
	if err != nil {
		return nil, err
	}
	file, err := volume.openFiles.get(fd)
	if err != nil {
		return nil, volume.closeDescriptor(fd, err)
	}

	contents := make([]byte, volume.directory.entry(file.slot).Size)
	n, err := volume.read(file, contents)
	return contents[:n], volume.closeDescriptor(fd, err)
}

// closeDescriptor closes a descriptor opened by one of the whole-file helpers.
// `err` takes precedence over any error from closing.
func (volume *Volume) closeDescriptor(fd FileDescriptor, err error) error {
	closeErr := volume.openFiles.Close(fd)
	if err != nil {
		return err
	}
	return closeErr
}

// WriteFile creates a file named `name` holding `data`, replacing any existing
// file with that name. If the volume doesn't have room for all of `data`, the
// file keeps what fit and the error has code [errors.ENOSPC].
func (volume *Volume) WriteFile(name string, data []byte) error {
	volume.mutex.Lock()
	defer volume.mutex.Unlock()

	err := volume.checkMounted()
	if err != nil {
		return err
	}

	err = ValidateFilename(name)
	if err != nil {
		return err
	}

	err = volume.deleteFile(name)
	if err != nil && !stderrors.Is(err, errors.ErrNotFound) {
		return err
	}

	slot, err := volume.directory.Create(name)
	if err != nil {
		return err
	}

	fd, err := volume.openFiles.Open(slot)
	if err != nil {
		return err
	}
	file, err := volume.openFiles.get(fd)
	if err != nil {
		return volume.closeDescriptor(fd, err)
	}

	n, err := volume.write(file, data)
	err = volume.closeDescriptor(fd, err)
	if err != nil {
		return err
	}

	if n < len(data) {
		return errors.ErrNoSpaceOnDevice.WithMessage(
			fmt.Sprintf("only wrote %d of %d bytes to %q", n, len(data), name))
	}
	return nil
}
