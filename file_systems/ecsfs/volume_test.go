package ecsfs_test

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/dargueta/ecsfs/errors"
	"github.com/dargueta/ecsfs/file_systems/common/blockdevice"
	"github.com/dargueta/ecsfs/file_systems/ecsfs"
	dt "github.com/dargueta/ecsfs/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVolume__NotMounted(t *testing.T) {
	volume := ecsfs.New(ecsfs.Options{})
	assert.False(t, volume.IsMounted())

	_, err := volume.Info()
	assert.ErrorIs(t, err, errors.ErrNotMounted)
	assert.ErrorIs(t, volume.Create("a"), errors.ErrNotMounted)
	assert.ErrorIs(t, volume.Delete("a"), errors.ErrNotMounted)
	_, err = volume.List()
	assert.ErrorIs(t, err, errors.ErrNotMounted)
	_, err = volume.Open("a")
	assert.ErrorIs(t, err, errors.ErrNotMounted)
	_, err = volume.Read(0, make([]byte, 1))
	assert.ErrorIs(t, err, errors.ErrNotMounted)
	_, err = volume.Write(0, []byte{1})
	assert.ErrorIs(t, err, errors.ErrNotMounted)
	assert.ErrorIs(t, volume.Unmount(), errors.ErrNotMounted)
	assert.ErrorIs(t, volume.Check(), errors.ErrNotMounted)
}

func TestVolume__Info(t *testing.T) {
	volume, _ := dt.MountFresh(64, t)

	info, err := volume.Info()
	require.NoError(t, err)
	assert.Equal(
		t,
		ecsfs.VolumeInfo{
			TotalBlocks:        64,
			FATBlocks:          1,
			RootDirectoryBlock: 2,
			DataStart:          3,
			DataBlocks:         61,
			FreeDataBlocks:     60,
			UsedFiles:          0,
			MaxFiles:           ecsfs.MaxFiles,
			BlockSize:          blockdevice.BlockSize,
		},
		info,
	)

	require.NoError(t, volume.Create("x"))
	info, err = volume.Info()
	require.NoError(t, err)
	assert.EqualValues(t, 1, info.UsedFiles)
}

// Mounting and unmounting without changing anything must leave the image
// byte-for-byte identical, including padding nothing interprets.
func TestVolume__MountUnmountIsIdentity(t *testing.T) {
	image := dt.CreateFormattedImage(64, t)
	garbage := dt.RandomBytes(blockdevice.BlockSize, t)

	// Superblock padding, FAT padding after the 61 entries, and the reserved
	// bytes of every directory slot.
	copy(image[17:blockdevice.BlockSize], garbage)
	copy(image[blockdevice.BlockSize+61*2:2*blockdevice.BlockSize], garbage)
	for slot := 0; slot < ecsfs.MaxFiles; slot++ {
		start := 2*blockdevice.BlockSize + slot*ecsfs.DirentSize
		copy(image[start+22:start+ecsfs.DirentSize], garbage[slot:])
	}

	original := make([]byte, len(image))
	copy(original, image)

	volume, _ := dt.MountImage(image, t)
	require.NoError(t, volume.Unmount())
	assert.False(t, volume.IsMounted())
	assert.Equal(t, original, image)
}

func TestVolume__DataSurvivesRemount(t *testing.T) {
	volume, image := dt.MountFresh(64, t)
	data := dt.RandomBytes(10000, t)

	require.NoError(t, volume.WriteFile("keep", data))
	require.NoError(t, volume.Unmount())

	_, err := volume.List()
	assert.ErrorIs(t, err, errors.ErrNotMounted)

	require.NoError(t, volume.Mount(blockdevice.NewMemoryFromBytes(image)))
	contents, err := volume.ReadFile("keep")
	require.NoError(t, err)
	assert.Equal(t, data, contents)
	require.NoError(t, volume.Unmount())
}

func TestMountImage__File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	require.NoError(t, ecsfs.FormatImage(path, 32))

	volume, err := ecsfs.MountImage(path, ecsfs.Options{})
	require.NoError(t, err)
	require.NoError(t, volume.WriteFile("hello.txt", []byte("hello, world")))
	require.NoError(t, volume.Unmount())

	volume, err = ecsfs.MountImage(path, ecsfs.Options{})
	require.NoError(t, err)
	contents, err := volume.ReadFile("hello.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello, world", string(contents))
	require.NoError(t, volume.Unmount())
}

func TestMountImage__MissingFile(t *testing.T) {
	_, err := ecsfs.MountImage(filepath.Join(t.TempDir(), "nope.img"), ecsfs.Options{})
	assert.ErrorIs(t, err, errors.ErrNoDevice)
}

func TestVolume__Mount__BadSignature(t *testing.T) {
	device := blockdevice.NewMemoryFromBytes(dt.CreateRandomImage(16, t))
	volume := ecsfs.New(ecsfs.Options{})

	err := volume.Mount(device)
	assert.ErrorIs(t, err, errors.ErrInvalidFileSystem)
	assert.False(t, volume.IsMounted())

	_, err = volume.Info()
	assert.ErrorIs(t, err, errors.ErrNotMounted)

	err = device.ReadBlock(0, make([]byte, blockdevice.BlockSize))
	assert.ErrorIs(t, err, errors.ErrFileDescriptorBadState, "device should be closed")
}

func TestVolume__Mount__SizeMismatch(t *testing.T) {
	image := dt.CreateFormattedImage(16, t)
	image = append(image, make([]byte, blockdevice.BlockSize)...)

	volume := ecsfs.New(ecsfs.Options{})
	err := volume.Mount(blockdevice.NewMemoryFromBytes(image))
	assert.ErrorIs(t, err, errors.ErrFileSystemCorrupted)
	assert.False(t, volume.IsMounted())
}

func TestVolume__Mount__ReservedEntryCorrupt(t *testing.T) {
	image := dt.CreateFormattedImage(16, t)
	image[blockdevice.BlockSize] = 0
	image[blockdevice.BlockSize+1] = 0

	volume := ecsfs.New(ecsfs.Options{})
	err := volume.Mount(blockdevice.NewMemoryFromBytes(image))
	assert.ErrorIs(t, err, errors.ErrFileSystemCorrupted)
}

// A failed mount on an already-mounted volume must not disturb the mounted one.
func TestVolume__Mount__AlreadyMounted(t *testing.T) {
	volume, _ := dt.MountFresh(16, t)
	require.NoError(t, volume.Create("a"))

	other := blockdevice.NewMemoryFromBytes(dt.CreateFormattedImage(16, t))
	err := volume.Mount(other)
	assert.ErrorIs(t, err, errors.ErrBusy)

	_, err = volume.Lookup("a")
	assert.NoError(t, err)
}

func TestVolume__Unmount__FilesOpen(t *testing.T) {
	volume, _ := dt.MountFresh(16, t)
	require.NoError(t, volume.Create("a"))
	fd, err := volume.Open("a")
	require.NoError(t, err)

	assert.ErrorIs(t, volume.Unmount(), errors.ErrBusy)
	assert.True(t, volume.IsMounted())

	require.NoError(t, volume.Close(fd))
	require.NoError(t, volume.Unmount())
	assert.False(t, volume.IsMounted())
}

func TestVolume__Sync(t *testing.T) {
	volume, image := dt.MountFresh(16, t)
	require.NoError(t, volume.Create("synced"))
	require.NoError(t, volume.Sync())

	rootStart := 2 * blockdevice.BlockSize
	assert.Equal(t, "synced\x00", string(image[rootStart:rootStart+7]))
}

func TestVolume__CreateErrors(t *testing.T) {
	volume, _ := dt.MountFresh(16, t)

	require.NoError(t, volume.Create("dup"))
	assert.ErrorIs(t, volume.Create("dup"), errors.ErrExists)
	assert.ErrorIs(t, volume.Create(""), errors.ErrInvalidArgument)
	assert.ErrorIs(t, volume.Create("a-name-that-is-too-long"), errors.ErrNameTooLong)
}

func TestVolume__DirectoryFull(t *testing.T) {
	volume, _ := dt.MountFresh(16, t)
	for i := 0; i < ecsfs.MaxFiles; i++ {
		require.NoError(t, volume.Create(fmt.Sprintf("file%03d", i)))
	}
	assert.ErrorIs(t, volume.Create("overflow"), errors.ErrNoSpaceOnDevice)

	require.NoError(t, volume.Delete("file050"))
	require.NoError(t, volume.Create("overflow"))

	info, err := volume.Lookup("overflow")
	require.NoError(t, err)
	assert.Equal(t, 50, info.Slot)
}

func TestVolume__Delete(t *testing.T) {
	volume, _ := dt.MountFresh(64, t)
	require.NoError(t, volume.WriteFile("big", dt.RandomBytes(10000, t)))

	info, err := volume.Info()
	require.NoError(t, err)
	assert.EqualValues(t, 57, info.FreeDataBlocks, "10000 bytes should take three blocks")

	require.NoError(t, volume.Delete("big"))
	info, err = volume.Info()
	require.NoError(t, err)
	assert.EqualValues(t, 60, info.FreeDataBlocks)
	assert.EqualValues(t, 0, info.UsedFiles)

	assert.ErrorIs(t, volume.Delete("big"), errors.ErrNotFound)
}

func TestVolume__OpenExclusive(t *testing.T) {
	volume, _ := dt.MountFresh(16, t)
	require.NoError(t, volume.Create("a"))

	fd, err := volume.Open("a")
	require.NoError(t, err)

	_, err = volume.Open("a")
	assert.ErrorIs(t, err, errors.ErrBusy)
	assert.ErrorIs(t, volume.Delete("a"), errors.ErrBusy)
	assert.ErrorIs(t, volume.Rename("a", "b"), errors.ErrBusy)

	require.NoError(t, volume.Close(fd))
	assert.NoError(t, volume.Delete("a"))
}

func TestVolume__OpenMissing(t *testing.T) {
	volume, _ := dt.MountFresh(16, t)
	_, err := volume.Open("ghost")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestVolume__TooManyOpen(t *testing.T) {
	volume, _ := dt.MountFresh(16, t)

	for i := 0; i <= ecsfs.MaxOpenFiles; i++ {
		require.NoError(t, volume.Create(fmt.Sprintf("f%d", i)))
	}
	for i := 0; i < ecsfs.MaxOpenFiles; i++ {
		fd, err := volume.Open(fmt.Sprintf("f%d", i))
		require.NoError(t, err)
		assert.EqualValues(t, i, fd)
	}

	_, err := volume.Open(fmt.Sprintf("f%d", ecsfs.MaxOpenFiles))
	assert.ErrorIs(t, err, errors.ErrTooManyOpenFiles)

	require.NoError(t, volume.Close(3))
	fd, err := volume.Open(fmt.Sprintf("f%d", ecsfs.MaxOpenFiles))
	require.NoError(t, err)
	assert.EqualValues(t, 3, fd)
}

func TestVolume__Rename(t *testing.T) {
	volume, _ := dt.MountFresh(16, t)
	require.NoError(t, volume.WriteFile("old", []byte("contents")))
	require.NoError(t, volume.Create("other"))

	require.NoError(t, volume.Rename("old", "new"))
	_, err := volume.Lookup("old")
	assert.ErrorIs(t, err, errors.ErrNotFound)

	info, err := volume.Lookup("new")
	require.NoError(t, err)
	assert.Equal(t, 0, info.Slot)
	assert.EqualValues(t, 8, info.Size)

	assert.ErrorIs(t, volume.Rename("new", "other"), errors.ErrExists)
	assert.ErrorIs(t, volume.Rename("missing", "x"), errors.ErrNotFound)
	assert.ErrorIs(t, volume.Rename("new", "0123456789abcdef"), errors.ErrNameTooLong)
}

func TestVolume__BadDescriptor(t *testing.T) {
	volume, _ := dt.MountFresh(16, t)

	assert.ErrorIs(t, volume.Close(0), errors.ErrInvalidFileDescriptor)
	_, err := volume.Stat(-1)
	assert.ErrorIs(t, err, errors.ErrInvalidFileDescriptor)
	assert.ErrorIs(t, volume.Seek(ecsfs.MaxOpenFiles, 0), errors.ErrInvalidFileDescriptor)
	_, err = volume.Tell(4)
	assert.ErrorIs(t, err, errors.ErrInvalidFileDescriptor)
	_, err = volume.Read(2, make([]byte, 10))
	assert.ErrorIs(t, err, errors.ErrInvalidFileDescriptor)
	_, err = volume.Write(2, []byte("x"))
	assert.ErrorIs(t, err, errors.ErrInvalidFileDescriptor)
}

// An image must still mount and hold the same files after a trip through the
// image archiver.
func TestVolume__SurvivesCompression(t *testing.T) {
	volume, image := dt.MountFresh(64, t)
	data := dt.RandomBytes(5000, t)
	require.NoError(t, volume.WriteFile("archived", data))
	require.NoError(t, volume.Unmount())

	compressed := dt.CompressImage(image, t)

	restored := dt.LoadCompressedImage(compressed, 64, t)
	volume, _ = dt.MountImage(restored, t)
	contents, err := volume.ReadFile("archived")
	require.NoError(t, err)
	assert.Equal(t, data, contents)
	assert.NoError(t, volume.Check())
}

// Names that can't exist are reported as invalid, not as missing.
func TestVolume__NameTooLong(t *testing.T) {
	volume, _ := dt.MountFresh(16, t)
	name := "0123456789abcdef"

	_, err := volume.Open(name)
	assert.ErrorIs(t, err, errors.ErrNameTooLong)
	assert.ErrorIs(t, volume.Delete(name), errors.ErrNameTooLong)
	_, err = volume.Lookup(name)
	assert.ErrorIs(t, err, errors.ErrNameTooLong)
	_, err = volume.ReadFile(name)
	assert.ErrorIs(t, err, errors.ErrNameTooLong)
}
