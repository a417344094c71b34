package ecsfs

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/boljen/go-bitmap"
	"github.com/dargueta/ecsfs/errors"
	c "github.com/dargueta/ecsfs/file_systems/common"
	"github.com/dargueta/ecsfs/file_systems/common/blockdevice"
	"github.com/noxer/bytewriter"
)

// MaxFiles is the number of slots in the root directory.
const MaxFiles = 128

// FilenameFieldSize is the size of the on-disk filename field, including the
// null terminator.
const FilenameFieldSize = 16

// MaxFilenameLength is the longest filename allowed, in bytes.
const MaxFilenameLength = FilenameFieldSize - 1

// DirentSize is the size of one on-disk directory record.
const DirentSize = 32

type rawDirent struct {
	Name       [FilenameFieldSize]byte
	Size       uint32
	FirstBlock uint16
	Reserved   [10]byte
}

// DirectoryEntry is one slot of the root directory. An empty name means the
// slot is free.
type DirectoryEntry struct {
	Name       string
	Size       uint32
	FirstBlock c.DataBlock
}

// IsFree reports whether the slot holds no file.
func (dirent *DirectoryEntry) IsFree() bool {
	return dirent.Name == ""
}

// HasData reports whether any data block has been allocated to the file.
func (dirent *DirectoryEntry) HasData() bool {
	return dirent.FirstBlock != c.InvalidDataBlock
}

// FileInfo is a read-only snapshot of a live directory entry.
type FileInfo struct {
	// Slot is the index of the entry in the directory table.
	Slot       int
	Name       string
	Size       uint32
	FirstBlock c.DataBlock
}

// HasData reports whether any data block has been allocated to the file.
func (info FileInfo) HasData() bool {
	return info.FirstBlock != c.InvalidDataBlock
}

// DirectoryTable is the in-memory mirror of the root directory block.
//
// The raw block read at mount time is kept around and only the records for
// slots modified since then are re-encoded when flushing, so padding and stale
// bytes in untouched slots survive a mount/unmount cycle unchanged.
type DirectoryTable struct {
	entries    [MaxFiles]DirectoryEntry
	raw        []byte
	dirtySlots bitmap.Bitmap
}

// NewDirectoryTable creates an empty directory.
func NewDirectoryTable() *DirectoryTable {
	table := &DirectoryTable{
		raw:        make([]byte, blockdevice.BlockSize),
		dirtySlots: bitmap.New(MaxFiles),
	}
	for i := range table.entries {
		table.clearSlot(i)
	}
	return table
}

// decodeDirectoryTable parses the root directory block. `block` is copied.
func decodeDirectoryTable(block []byte) (*DirectoryTable, error) {
	if len(block) < MaxFiles*DirentSize {
		return nil, errors.ErrFileSystemCorrupted.WithMessage(
			fmt.Sprintf(
				"directory block is %d bytes, need %d",
				len(block),
				MaxFiles*DirentSize,
			),
		)
	}

	table := &DirectoryTable{
		raw:        make([]byte, len(block)),
		dirtySlots: bitmap.New(MaxFiles),
	}
	copy(table.raw, block)

	reader := bytes.NewReader(block)
	for i := range table.entries {
		var raw rawDirent
		err := binary.Read(reader, binary.LittleEndian, &raw)
		if err != nil {
			return nil, errors.ErrIOFailed.Wrap(err)
		}

		nameLength := bytes.IndexByte(raw.Name[:], 0)
		if nameLength < 0 {
			nameLength = FilenameFieldSize
		}

		table.entries[i] = DirectoryEntry{
			Name:       string(raw.Name[:nameLength]),
			Size:       raw.Size,
			FirstBlock: c.DataBlock(raw.FirstBlock),
		}
	}
	return table, nil
}

// encodeInto writes every modified slot into the cached raw block, copies it to
// `block`, and marks all slots clean.
func (table *DirectoryTable) encodeInto(block []byte) error {
	for i := range table.entries {
		if !table.dirtySlots.Get(i) {
			continue
		}

		dirent := &table.entries[i]
		start := i * DirentSize

		raw := rawDirent{
			Size:       dirent.Size,
			FirstBlock: uint16(dirent.FirstBlock),
		}
		copy(raw.Name[:], dirent.Name)
		// The reserved bytes are never interpreted, so carry over what's there.
		copy(raw.Reserved[:], table.raw[start+22:start+DirentSize])

		writer := bytewriter.New(table.raw[start : start+DirentSize])
		err := binary.Write(writer, binary.LittleEndian, &raw)
		if err != nil {
			return errors.ErrIOFailed.Wrap(err)
		}
	}

	copy(block, table.raw)
	table.dirtySlots = bitmap.New(MaxFiles)
	return nil
}

// ValidateFilename checks that `name` can be stored in a directory entry.
func ValidateFilename(name string) error {
	if name == "" {
		return errors.ErrInvalidArgument.WithMessage("filename can't be empty")
	}
	if len(name) > MaxFilenameLength {
		return errors.ErrNameTooLong.WithMessage(
			fmt.Sprintf(
				"filename can be at most %d bytes, got %d: %q",
				MaxFilenameLength,
				len(name),
				name,
			),
		)
	}
	if strings.IndexByte(name, 0) >= 0 {
		return errors.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("filename can't contain null bytes: %q", name))
	}
	return nil
}

func (table *DirectoryTable) markDirty(slot int) {
	table.dirtySlots.Set(slot, true)
}

func (table *DirectoryTable) clearSlot(slot int) {
	table.entries[slot] = DirectoryEntry{FirstBlock: c.InvalidDataBlock}
	table.markDirty(slot)
}

// entry returns a pointer to the entry in slot `slot`. Callers that modify the
// entry must call markDirty.
func (table *DirectoryTable) entry(slot int) *DirectoryEntry {
	return &table.entries[slot]
}

// Find returns the slot holding the file named `name`, or -1 and an error with
// code [errors.ENOENT]. Names that could never be stored fail the same way
// [ValidateFilename] does.
func (table *DirectoryTable) Find(name string) (int, error) {
	err := ValidateFilename(name)
	if err != nil {
		return -1, err
	}

	for i := range table.entries {
		if table.entries[i].Name == name {
			return i, nil
		}
	}
	return -1, errors.ErrNotFound.WithMessage(fmt.Sprintf("no file named %q", name))
}

// Create adds an empty file in the lowest-numbered free slot and returns the
// slot.
func (table *DirectoryTable) Create(name string) (int, error) {
	err := ValidateFilename(name)
	if err != nil {
		return -1, err
	}

	freeSlot := -1
	for i := range table.entries {
		if table.entries[i].Name == name {
			return -1, errors.ErrExists.WithMessage(
				fmt.Sprintf("a file named %q already exists", name))
		}
		if freeSlot < 0 && table.entries[i].IsFree() {
			freeSlot = i
		}
	}

	if freeSlot < 0 {
		return -1, errors.ErrNoSpaceOnDevice.WithMessage(
			fmt.Sprintf("root directory is full (%d files)", MaxFiles))
	}

	table.entries[freeSlot] = DirectoryEntry{
		Name:       name,
		Size:       0,
		FirstBlock: c.InvalidDataBlock,
	}
	table.markDirty(freeSlot)
	return freeSlot, nil
}

// Delete removes the file in `slot`, returning its blocks to `fat`. The slot
// becomes free; other entries don't move.
func (table *DirectoryTable) Delete(slot int, fat *AllocationTable) {
	dirent := table.entry(slot)
	if dirent.HasData() {
		fat.ReleaseChain(dirent.FirstBlock)
	}
	table.clearSlot(slot)
}

// Rename changes the name of the file in `slot` to `newName`.
func (table *DirectoryTable) Rename(slot int, newName string) error {
	err := ValidateFilename(newName)
	if err != nil {
		return err
	}

	existing, err := table.Find(newName)
	if err == nil {
		if existing == slot {
			return nil
		}
		return errors.ErrExists.WithMessage(
			fmt.Sprintf("a file named %q already exists", newName))
	}

	table.entries[slot].Name = newName
	table.markDirty(slot)
	return nil
}

// List returns every live entry in slot order.
func (table *DirectoryTable) List() []FileInfo {
	result := make([]FileInfo, 0, MaxFiles)
	for i := range table.entries {
		dirent := &table.entries[i]
		if dirent.IsFree() {
			continue
		}
		result = append(result, FileInfo{
			Slot:       i,
			Name:       dirent.Name,
			Size:       dirent.Size,
			FirstBlock: dirent.FirstBlock,
		})
	}
	return result
}

// UsedCount returns the number of slots holding a file.
func (table *DirectoryTable) UsedCount() uint {
	count := uint(0)
	for i := range table.entries {
		if !table.entries[i].IsFree() {
			count++
		}
	}
	return count
}
