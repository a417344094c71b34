package ecsfs

import (
	"fmt"

	"github.com/dargueta/ecsfs/errors"
)

// MaxOpenFiles is the number of file descriptors that can be open at once.
const MaxOpenFiles = 32

// FileDescriptor identifies an open file on a mounted volume.
type FileDescriptor int

type openFile struct {
	slot   int
	offset uint32
	inUse  bool
}

// OpenFileTable tracks the open file descriptors of a mounted volume. It isn't
// persisted anywhere.
type OpenFileTable struct {
	files [MaxOpenFiles]openFile
}

func (table *OpenFileTable) isValidDescriptor(fd FileDescriptor) bool {
	return fd >= 0 && int(fd) < MaxOpenFiles && table.files[fd].inUse
}

func makeBadDescriptorError(fd FileDescriptor) error {
	return errors.ErrInvalidFileDescriptor.WithMessage(
		fmt.Sprintf("file descriptor %d is not open", fd))
}

// IsOpen reports whether the file in directory slot `slot` has a descriptor.
func (table *OpenFileTable) IsOpen(slot int) bool {
	for i := range table.files {
		if table.files[i].inUse && table.files[i].slot == slot {
			return true
		}
	}
	return false
}

// Count returns the number of open descriptors.
func (table *OpenFileTable) Count() int {
	count := 0
	for i := range table.files {
		if table.files[i].inUse {
			count++
		}
	}
	return count
}

// Open gives the file in directory slot `slot` the lowest free descriptor, with
// its offset at the beginning of the file. A file can only be open once.
func (table *OpenFileTable) Open(slot int) (FileDescriptor, error) {
	if table.IsOpen(slot) {
		return -1, errors.ErrBusy.WithMessage(
			fmt.Sprintf("file in directory slot %d is already open", slot))
	}

	for i := range table.files {
		if !table.files[i].inUse {
			table.files[i] = openFile{slot: slot, inUse: true}
			return FileDescriptor(i), nil
		}
	}
	return -1, errors.ErrTooManyOpenFiles.WithMessage(
		fmt.Sprintf("all %d file descriptors are in use", MaxOpenFiles))
}

// Close releases `fd`.
func (table *OpenFileTable) Close(fd FileDescriptor) error {
	if !table.isValidDescriptor(fd) {
		return makeBadDescriptorError(fd)
	}
	table.files[fd] = openFile{}
	return nil
}

// get returns the state of an open descriptor. The pointer stays valid until
// the descriptor is closed.
func (table *OpenFileTable) get(fd FileDescriptor) (*openFile, error) {
	if !table.isValidDescriptor(fd) {
		return nil, makeBadDescriptorError(fd)
	}
	return &table.files[fd], nil
}

// Reset closes every descriptor.
func (table *OpenFileTable) Reset() {
	table.files = [MaxOpenFiles]openFile{}
}
