package ecsfs

import (
	"fmt"

	"github.com/boljen/go-bitmap"
	"github.com/dargueta/ecsfs/errors"
	"github.com/dargueta/ecsfs/file_systems/common/blockdevice"
	"github.com/hashicorp/go-multierror"
)

// Check looks for inconsistencies between the directory and the allocation
// table without modifying anything. It returns nil if the volume is clean, or
// an error listing every problem found. Each problem has code
// [errors.EUCLEAN].
//
// Problems detected:
//   - a file's first block is outside the data region
//   - a nonempty file with no data blocks
//   - a chain that loops back on itself
//   - a block belonging to more than one file
//   - a chain running into a free or out-of-range block
//   - a chain with fewer blocks than the file size needs
//   - an allocated block that no file uses
func (volume *Volume) Check() error {
	volume.mutex.Lock()
	defer volume.mutex.Unlock()

	err := volume.checkMounted()
	if err != nil {
		return err
	}

	var result *multierror.Error
	report := func(format string, args ...interface{}) {
		result = multierror.Append(
			result, errors.ErrFileSystemCorrupted.WithMessage(fmt.Sprintf(format, args...)))
	}

	totalBlocks := int(volume.fat.Len())
	owners := make([]string, totalBlocks)
	claimed := bitmap.New(totalBlocks)
	// The reserved entry never belongs to a file.
	claimed.Set(0, true)
	owners[0] = "(reserved)"

	for _, file := range volume.directory.List() {
		if !file.HasData() {
			if file.Size > 0 {
				report("%q has size %d but no data blocks", file.Name, file.Size)
			}
			continue
		}

		if !volume.fat.isValidBlock(file.FirstBlock) {
			report(
				"%q starts at block %d, outside the data region [0, %d)",
				file.Name,
				file.FirstBlock,
				totalBlocks,
			)
			continue
		}

		visited := bitmap.New(totalBlocks)
		chainLength := uint(0)
		current := file.FirstBlock

	walk:
		for {
			if visited.Get(int(current)) {
				report("%q has a cycle at block %d", file.Name, current)
				break
			}
			if claimed.Get(int(current)) {
				report(
					"%q and %s both use block %d",
					file.Name,
					owners[current],
					current,
				)
				break
			}

			visited.Set(int(current), true)
			claimed.Set(int(current), true)
			owners[current] = fmt.Sprintf("%q", file.Name)
			chainLength++

			entry := volume.fat.entries[current]
			switch entry.Kind {
			case EntryEndOfChain:
				break walk
			case EntryFree:
				report("%q uses block %d, which is marked free", file.Name, current)
				break walk
			}

			if !volume.fat.isValidBlock(entry.Next) {
				report(
					"%q links block %d to %d, outside the data region",
					file.Name,
					current,
					entry.Next,
				)
				break
			}
			current = entry.Next
		}

		blocksNeeded := (uint(file.Size) + blockdevice.BlockSize - 1) / blockdevice.BlockSize
		if chainLength < blocksNeeded {
			report(
				"%q is %d bytes and needs %d blocks, but its chain has %d",
				file.Name,
				file.Size,
				blocksNeeded,
				chainLength,
			)
		}
	}

	for i := 1; i < totalBlocks; i++ {
		if volume.fat.entries[i].Kind != EntryFree && !claimed.Get(i) {
			report("block %d is allocated but not used by any file", i)
		}
	}

	return result.ErrorOrNil()
}
