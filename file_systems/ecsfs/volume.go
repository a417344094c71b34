package ecsfs

import (
	"fmt"
	"sync"

	"github.com/dargueta/ecsfs/errors"
	c "github.com/dargueta/ecsfs/file_systems/common"
	"github.com/dargueta/ecsfs/file_systems/common/blockdevice"
	"github.com/sirupsen/logrus"
)

// Options controls how a [Volume] behaves. The zero value is usable.
type Options struct {
	// Logger receives debug messages about mounting, allocation failures, and
	// partial writes. Defaults to the logrus standard logger.
	Logger logrus.FieldLogger
}

// VolumeInfo describes the geometry and usage of a mounted volume.
type VolumeInfo struct {
	TotalBlocks        uint
	FATBlocks          uint
	RootDirectoryBlock c.PhysicalBlock
	DataStart          c.PhysicalBlock
	DataBlocks         uint
	FreeDataBlocks     uint
	UsedFiles          uint
	MaxFiles           uint
	BlockSize          uint
}

// Volume is a session on one mounted file system. A Volume starts out unmounted
// and can be mounted, unmounted, and mounted again any number of times.
//
// All methods are safe to call from multiple goroutines. Every operation holds
// the volume's lock for its entire duration.
type Volume struct {
	mutex  sync.Mutex
	logger logrus.FieldLogger

	device     blockdevice.BlockDevice
	superblock Superblock
	fat        *AllocationTable
	directory  *DirectoryTable
	openFiles  OpenFileTable

	// rawSuperblock and rawFAT hold the bytes read at mount time so padding is
	// written back unchanged.
	rawSuperblock []byte
	rawFAT        []byte

	// scratch is a one-block buffer for partial-block I/O.
	scratch []byte
}

// New creates an unmounted volume.
func New(options Options) *Volume {
	logger := options.Logger
	if logger == nil {
		logger = logrus.StandardLogger().WithField("component", "ecsfs")
	}

	return &Volume{
		logger:  logger,
		scratch: make([]byte, blockdevice.BlockSize),
	}
}

// MountImage opens the image file at `path` and mounts it on a new volume.
func MountImage(path string, options Options) (*Volume, error) {
	device, err := blockdevice.Open(path)
	if err != nil {
		return nil, err
	}

	volume := New(options)
	err = volume.Mount(device)
	if err != nil {
		return nil, err
	}
	return volume, nil
}

////////////////////////////////////////////////////////////////////////////////
// Mounting

func (volume *Volume) isMounted() bool {
	return volume.device != nil
}

func (volume *Volume) checkMounted() error {
	if !volume.isMounted() {
		return errors.ErrNotMounted
	}
	return nil
}

// IsMounted reports whether a volume is currently mounted.
func (volume *Volume) IsMounted() bool {
	volume.mutex.Lock()
	defer volume.mutex.Unlock()
	return volume.isMounted()
}

// Mount loads the file system stored on `device`. The volume takes ownership of
// the device: it's closed on unmount, or immediately if mounting fails. If
// mounting fails, the volume is left exactly as it was.
func (volume *Volume) Mount(device blockdevice.BlockDevice) error {
	volume.mutex.Lock()
	defer volume.mutex.Unlock()

	if volume.isMounted() {
		return volume.abandonDevice(
			device, errors.ErrBusy.WithMessage("a volume is already mounted"))
	}

	superblockBytes := make([]byte, blockdevice.BlockSize)
	err := device.ReadBlock(0, superblockBytes)
	if err != nil {
		return volume.abandonDevice(device, err)
	}

	superblock, err := ParseSuperblock(superblockBytes)
	if err != nil {
		return volume.abandonDevice(device, err)
	}

	err = superblock.Validate(device.BlockCount())
	if err != nil {
		return volume.abandonDevice(device, err)
	}

	rawFAT := make([]byte, superblock.FATBlocks*blockdevice.BlockSize)
	for i := uint(0); i < superblock.FATBlocks; i++ {
		start := i * blockdevice.BlockSize
		err = device.ReadBlock(
			superblock.FATBlockToPhysical(i),
			rawFAT[start:start+blockdevice.BlockSize],
		)
		if err != nil {
			return volume.abandonDevice(device, err)
		}
	}

	fat, err := decodeAllocationTable(rawFAT, superblock.DataBlocks)
	if err != nil {
		return volume.abandonDevice(device, err)
	}

	directoryBytes := make([]byte, blockdevice.BlockSize)
	err = device.ReadBlock(superblock.RootDirectoryBlock, directoryBytes)
	if err != nil {
		return volume.abandonDevice(device, err)
	}

	directory, err := decodeDirectoryTable(directoryBytes)
	if err != nil {
		return volume.abandonDevice(device, err)
	}

	volume.device = device
	volume.superblock = superblock
	volume.rawSuperblock = superblockBytes
	volume.fat = fat
	volume.rawFAT = rawFAT
	volume.directory = directory
	volume.openFiles.Reset()

	volume.logger.WithFields(logrus.Fields{
		"total_blocks": superblock.TotalBlocks,
		"fat_blocks":   superblock.FATBlocks,
		"data_blocks":  superblock.DataBlocks,
		"free_blocks":  fat.FreeCount(),
		"files":        directory.UsedCount(),
	}).Debug("mounted volume")
	return nil
}

// abandonDevice closes a device that failed to mount and returns `cause`. If
// closing fails too, that error is attached to `cause` without changing its
// code.
func (volume *Volume) abandonDevice(device blockdevice.BlockDevice, cause error) error {
	volume.logger.WithError(cause).Debug("mount failed")

	closeErr := device.Close()
	if closeErr != nil {
		return errors.CastToDriverError(cause).Wrap(closeErr)
	}
	return cause
}

// flush writes the superblock, every FAT block, and the root directory back to
// the device.
func (volume *Volume) flush() error {
	err := volume.superblock.encodeInto(volume.rawSuperblock)
	if err != nil {
		return errors.ErrIOFailed.Wrap(err)
	}

	err = volume.device.WriteBlock(0, volume.rawSuperblock)
	if err != nil {
		return err
	}

	volume.fat.encodeInto(volume.rawFAT)
	for i := uint(0); i < volume.superblock.FATBlocks; i++ {
		start := i * blockdevice.BlockSize
		err = volume.device.WriteBlock(
			volume.superblock.FATBlockToPhysical(i),
			volume.rawFAT[start:start+blockdevice.BlockSize],
		)
		if err != nil {
			return err
		}
	}

	directoryBytes := make([]byte, blockdevice.BlockSize)
	err = volume.directory.encodeInto(directoryBytes)
	if err != nil {
		return err
	}
	return volume.device.WriteBlock(volume.superblock.RootDirectoryBlock, directoryBytes)
}

// Sync writes all metadata to the device without unmounting.
func (volume *Volume) Sync() error {
	volume.mutex.Lock()
	defer volume.mutex.Unlock()

	err := volume.checkMounted()
	if err != nil {
		return err
	}
	return volume.flush()
}

// Unmount writes all metadata back to the device, closes the device, and
// releases the volume. It fails with [errors.EBUSY] if any file is still open,
// in which case nothing changes. If the metadata can't be written the volume
// stays mounted.
func (volume *Volume) Unmount() error {
	volume.mutex.Lock()
	defer volume.mutex.Unlock()

	err := volume.checkMounted()
	if err != nil {
		return err
	}

	openCount := volume.openFiles.Count()
	if openCount > 0 {
		return errors.ErrBusy.WithMessage(
			fmt.Sprintf("can't unmount with %d file(s) still open", openCount))
	}

	err = volume.flush()
	if err != nil {
		return err
	}

	closeErr := volume.device.Close()

	volume.device = nil
	volume.superblock = Superblock{}
	volume.rawSuperblock = nil
	volume.fat = nil
	volume.rawFAT = nil
	volume.directory = nil
	volume.openFiles.Reset()

	volume.logger.Debug("unmounted volume")
	if closeErr != nil {
		return errors.CastToDriverError(closeErr)
	}
	return nil
}

// Info returns the geometry and usage of the mounted volume.
func (volume *Volume) Info() (VolumeInfo, error) {
	volume.mutex.Lock()
	defer volume.mutex.Unlock()

	err := volume.checkMounted()
	if err != nil {
		return VolumeInfo{}, err
	}

	return VolumeInfo{
		TotalBlocks:        volume.superblock.TotalBlocks,
		FATBlocks:          volume.superblock.FATBlocks,
		RootDirectoryBlock: volume.superblock.RootDirectoryBlock,
		DataStart:          volume.superblock.DataStart,
		DataBlocks:         volume.superblock.DataBlocks,
		FreeDataBlocks:     volume.fat.FreeCount(),
		UsedFiles:          volume.directory.UsedCount(),
		MaxFiles:           MaxFiles,
		BlockSize:          blockdevice.BlockSize,
	}, nil
}

////////////////////////////////////////////////////////////////////////////////
// Directory operations

// Create adds an empty file named `name` to the root directory.
func (volume *Volume) Create(name string) error {
	volume.mutex.Lock()
	defer volume.mutex.Unlock()

	err := volume.checkMounted()
	if err != nil {
		return err
	}

	_, err = volume.directory.Create(name)
	return err
}

// findClosedFile returns the directory slot of the file named `name`, failing
// with [errors.EBUSY] if the file is open.
func (volume *Volume) findClosedFile(name string) (int, error) {
	slot, err := volume.directory.Find(name)
	if err != nil {
		return -1, err
	}

	if volume.openFiles.IsOpen(slot) {
		return -1, errors.ErrBusy.WithMessage(fmt.Sprintf("file %q is open", name))
	}
	return slot, nil
}

func (volume *Volume) deleteFile(name string) error {
	slot, err := volume.findClosedFile(name)
	if err != nil {
		return err
	}
	volume.directory.Delete(slot, volume.fat)
	return nil
}

// Delete removes the file named `name` and frees all of its data blocks. Open
// files can't be deleted.
func (volume *Volume) Delete(name string) error {
	volume.mutex.Lock()
	defer volume.mutex.Unlock()

	err := volume.checkMounted()
	if err != nil {
		return err
	}
	return volume.deleteFile(name)
}

// Rename changes the name of a file. The file keeps its position in the
// directory. Open files can't be renamed.
func (volume *Volume) Rename(oldName, newName string) error {
	volume.mutex.Lock()
	defer volume.mutex.Unlock()

	err := volume.checkMounted()
	if err != nil {
		return err
	}

	slot, err := volume.findClosedFile(oldName)
	if err != nil {
		return err
	}
	return volume.directory.Rename(slot, newName)
}

// List returns every file in the root directory, in directory order.
func (volume *Volume) List() ([]FileInfo, error) {
	volume.mutex.Lock()
	defer volume.mutex.Unlock()

	err := volume.checkMounted()
	if err != nil {
		return nil, err
	}
	return volume.directory.List(), nil
}

// Lookup returns information about the file named `name`.
func (volume *Volume) Lookup(name string) (FileInfo, error) {
	volume.mutex.Lock()
	defer volume.mutex.Unlock()

	err := volume.checkMounted()
	if err != nil {
		return FileInfo{}, err
	}

	slot, err := volume.directory.Find(name)
	if err != nil {
		return FileInfo{}, err
	}

	dirent := volume.directory.entry(slot)
	return FileInfo{
		Slot:       slot,
		Name:       dirent.Name,
		Size:       dirent.Size,
		FirstBlock: dirent.FirstBlock,
	}, nil
}

////////////////////////////////////////////////////////////////////////////////
// File descriptors

func (volume *Volume) openFile(name string) (FileDescriptor, error) {
	slot, err := volume.directory.Find(name)
	if err != nil {
		return -1, err
	}
	return volume.openFiles.Open(slot)
}

// Open opens the file named `name` and returns the lowest unused descriptor,
// positioned at the start of the file. A file can only be open once at a time.
func (volume *Volume) Open(name string) (FileDescriptor, error) {
	volume.mutex.Lock()
	defer volume.mutex.Unlock()

	err := volume.checkMounted()
	if err != nil {
		return -1, err
	}
	return volume.openFile(name)
}

// Close closes an open file descriptor.
func (volume *Volume) Close(fd FileDescriptor) error {
	volume.mutex.Lock()
	defer volume.mutex.Unlock()

	err := volume.checkMounted()
	if err != nil {
		return err
	}
	return volume.openFiles.Close(fd)
}

// Stat returns the size of the file open on `fd`, in bytes.
func (volume *Volume) Stat(fd FileDescriptor) (uint32, error) {
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
	return volume.directory.entry(file.slot).Size, nil
}

// Seek moves the offset of `fd` to `offset` bytes from the beginning of the
// file. The offset can't be past the end of the file.
func (volume *Volume) Seek(fd FileDescriptor, offset int64) error {
	volume.mutex.Lock()
	defer volume.mutex.Unlock()

	err := volume.checkMounted()
	if err != nil {
		return err
	}

	file, err := volume.openFiles.get(fd)
	if err != nil {
		return err
	}

	size := volume.directory.entry(file.slot).Size
	if offset < 0 || offset > int64(size) {
		return errors.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("offset %d not in range [0, %d]", offset, size))
	}

	file.offset = uint32(offset)
	return nil
}

// Tell returns the current offset of `fd`.
func (volume *Volume) Tell(fd FileDescriptor) (int64, error) {
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
	return int64(file.offset), nil
}
