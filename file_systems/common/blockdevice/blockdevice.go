// Package blockdevice provides the block storage layer underneath a volume: a
// stream that can only be read from or written to one whole block at a time.
package blockdevice

import (
	"fmt"
	"io"
	"os"

	"github.com/dargueta/ecsfs/errors"
	c "github.com/dargueta/ecsfs/file_systems/common"
	"github.com/xaionaro-go/bytesextra"
)

// BlockSize is the size of a single block, in bytes. All reads and writes are
// done in units of exactly one block.
const BlockSize = 4096

// BlockDevice is the interface a volume needs from its backing storage.
//
// `buffer` must be exactly [BlockSize] bytes for both ReadBlock and WriteBlock.
// Implementations must reject block indexes outside [0, BlockCount()).
type BlockDevice interface {
	io.Closer
	BlockCount() uint
	ReadBlock(index c.PhysicalBlock, buffer []byte) error
	WriteBlock(index c.PhysicalBlock, buffer []byte) error
}

// StreamDevice is a [BlockDevice] backed by any seekable stream, such as an
// image file or an in-memory buffer.
type StreamDevice struct {
	stream      io.ReadWriteSeeker
	totalBlocks uint
	closed      bool
}

// NewFromStream wraps `stream` as a block device with `totalBlocks` blocks. The
// stream must be at least `totalBlocks * BlockSize` bytes.
func NewFromStream(stream io.ReadWriteSeeker, totalBlocks uint) *StreamDevice {
	return &StreamDevice{
		stream:      stream,
		totalBlocks: totalBlocks,
	}
}

// NewMemory creates a zero-filled in-memory device of `totalBlocks` blocks.
func NewMemory(totalBlocks uint) *StreamDevice {
	return NewMemoryFromBytes(make([]byte, totalBlocks*BlockSize))
}

// NewMemoryFromBytes creates an in-memory device on top of `image`. Writes to
// the device modify `image` directly. Trailing bytes that don't make up a full
// block are ignored.
func NewMemoryFromBytes(image []byte) *StreamDevice {
	stream := bytesextra.NewReadWriteSeeker(image)
	return NewFromStream(stream, uint(len(image)/BlockSize))
}

// Open opens an existing image file for reading and writing. The number of
// blocks is determined from the size of the file, rounded down.
func Open(path string) (*StreamDevice, error) {
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, errors.ErrNoDevice.Wrap(err)
	}

	totalBlocks, err := DetermineBlockCount(file)
	if err != nil {
		file.Close()
		return nil, errors.ErrIOFailed.Wrap(err)
	}
	return NewFromStream(file, totalBlocks), nil
}

// Create creates (or truncates) an image file large enough to hold exactly
// `totalBlocks` blocks. The new image is filled with null bytes.
func Create(path string, totalBlocks uint) (*StreamDevice, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, errors.ErrIOFailed.Wrap(err)
	}

	err = file.Truncate(int64(totalBlocks) * BlockSize)
	if err != nil {
		file.Close()
		return nil, errors.ErrIOFailed.Wrap(err)
	}
	return NewFromStream(file, totalBlocks), nil
}

// DetermineBlockCount gives the total number of blocks in a stream, rounded down
// to the nearest block.
func DetermineBlockCount(stream io.Seeker) (uint, error) {
	offset, err := stream.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	return uint(offset / BlockSize), nil
}

// BlockCount returns the number of blocks on the device.
func (device *StreamDevice) BlockCount() uint {
	return device.totalBlocks
}

// checkIO verifies that one block can be transferred between `buffer` and block
// `index`.
func (device *StreamDevice) checkIO(index c.PhysicalBlock, buffer []byte) error {
	if device.closed {
		return errors.ErrFileDescriptorBadState.WithMessage("block device is closed")
	}

	if uint(index) >= device.totalBlocks {
		return errors.ErrInvalidArgument.WithMessage(
			fmt.Sprintf(
				"invalid block ID %d: not in range [0, %d)",
				index,
				device.totalBlocks,
			),
		)
	}

	if len(buffer) != BlockSize {
		return errors.ErrInvalidArgument.WithMessage(
			fmt.Sprintf(
				"buffer must be exactly one block (%d B), got %d",
				BlockSize,
				len(buffer),
			),
		)
	}
	return nil
}

// seekToBlock positions the stream pointer at the byte offset where the given
// block starts.
func (device *StreamDevice) seekToBlock(index c.PhysicalBlock) error {
	_, err := device.stream.Seek(int64(index)*BlockSize, io.SeekStart)
	if err != nil {
		return errors.ErrIOFailed.Wrap(err)
	}
	return nil
}

// ReadBlock fills `buffer` with the contents of block `index`.
func (device *StreamDevice) ReadBlock(index c.PhysicalBlock, buffer []byte) error {
	err := device.checkIO(index, buffer)
	if err != nil {
		return err
	}

	err = device.seekToBlock(index)
	if err != nil {
		return err
	}

	_, err = io.ReadFull(device.stream, buffer)
	if err != nil {
		return errors.ErrIOFailed.Wrap(
			fmt.Errorf("failed to read block %d: %w", index, err))
	}
	return nil
}

// WriteBlock writes `buffer` to block `index`.
func (device *StreamDevice) WriteBlock(index c.PhysicalBlock, buffer []byte) error {
	err := device.checkIO(index, buffer)
	if err != nil {
		return err
	}

	err = device.seekToBlock(index)
	if err != nil {
		return err
	}

	bytesWritten, err := device.stream.Write(buffer)
	if err != nil {
		return errors.ErrIOFailed.Wrap(
			fmt.Errorf("failed to write block %d: %w", index, err))
	} else if bytesWritten != BlockSize {
		return errors.ErrIOFailed.WithMessage(
			fmt.Sprintf(
				"short write to block %d: wrote %d of %d bytes",
				index,
				bytesWritten,
				BlockSize,
			),
		)
	}
	return nil
}

// Close releases the underlying stream if it can be closed. The device must not
// be used afterwards; doing so returns [errors.EBADFD].
func (device *StreamDevice) Close() error {
	if device.closed {
		return errors.ErrFileDescriptorBadState.WithMessage("block device already closed")
	}
	device.closed = true

	closer, ok := device.stream.(io.Closer)
	if ok {
		return closer.Close()
	}
	return nil
}
