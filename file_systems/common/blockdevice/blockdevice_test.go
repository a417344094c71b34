package blockdevice_test

import (
	"bytes"
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/dargueta/ecsfs/errors"
	c "github.com/dargueta/ecsfs/file_systems/common"
	"github.com/dargueta/ecsfs/file_systems/common/blockdevice"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Write to a block and then read back that same block. You should always get
// back what you wrote.
func TestStreamDevice__Write__Basic(t *testing.T) {
	device := blockdevice.NewMemory(8)
	writeBuffer := make([]byte, blockdevice.BlockSize)
	readBuffer := make([]byte, blockdevice.BlockSize)

	for i := uint(0); i < device.BlockCount(); i++ {
		rand.Read(writeBuffer)
		require.NoError(t, device.WriteBlock(c.PhysicalBlock(i), writeBuffer))
		require.NoError(t, device.ReadBlock(c.PhysicalBlock(i), readBuffer))

		assert.Equalf(
			t, writeBuffer, readBuffer, "wrote to block %d but read back different data", i)
	}
}

// Writes through the device must land in the backing slice at the right offset.
func TestStreamDevice__Write__ModifiesBackingBytes(t *testing.T) {
	image := make([]byte, 4*blockdevice.BlockSize)
	device := blockdevice.NewMemoryFromBytes(image)
	require.EqualValues(t, 4, device.BlockCount())

	block := bytes.Repeat([]byte{0xA5}, blockdevice.BlockSize)
	require.NoError(t, device.WriteBlock(2, block))

	assert.Equal(t, block, image[2*blockdevice.BlockSize:3*blockdevice.BlockSize])
	assert.Equal(
		t,
		make([]byte, blockdevice.BlockSize),
		image[3*blockdevice.BlockSize:],
		"write spilled into the following block")
}

func TestStreamDevice__OutOfRangeFails(t *testing.T) {
	device := blockdevice.NewMemory(4)
	buffer := make([]byte, blockdevice.BlockSize)

	err := device.ReadBlock(4, buffer)
	assert.ErrorIs(t, err, errors.ErrInvalidArgument)

	err = device.WriteBlock(4, buffer)
	assert.ErrorIs(t, err, errors.ErrInvalidArgument)
}

func TestStreamDevice__WrongBufferSizeFails(t *testing.T) {
	device := blockdevice.NewMemory(4)

	err := device.ReadBlock(0, make([]byte, blockdevice.BlockSize-1))
	assert.ErrorIs(t, err, errors.ErrInvalidArgument)

	err = device.WriteBlock(0, make([]byte, blockdevice.BlockSize+1))
	assert.ErrorIs(t, err, errors.ErrInvalidArgument)
}

func TestStreamDevice__UseAfterCloseFails(t *testing.T) {
	device := blockdevice.NewMemory(2)
	require.NoError(t, device.Close())

	err := device.ReadBlock(0, make([]byte, blockdevice.BlockSize))
	assert.ErrorIs(t, err, errors.ErrFileDescriptorBadState)
	assert.Error(t, device.Close(), "closing twice should fail")
}

func TestStreamDevice__CreateAndOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "volume.img")

	device, err := blockdevice.Create(path, 6)
	require.NoError(t, err)
	assert.EqualValues(t, 6, device.BlockCount())

	block := bytes.Repeat([]byte{'Q'}, blockdevice.BlockSize)
	require.NoError(t, device.WriteBlock(5, block))
	require.NoError(t, device.Close())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.EqualValues(t, 6*blockdevice.BlockSize, info.Size())

	reopened, err := blockdevice.Open(path)
	require.NoError(t, err)
	defer reopened.Close()
	assert.EqualValues(t, 6, reopened.BlockCount())

	readBuffer := make([]byte, blockdevice.BlockSize)
	require.NoError(t, reopened.ReadBlock(5, readBuffer))
	assert.Equal(t, block, readBuffer)
}

func TestStreamDevice__OpenMissingFileFails(t *testing.T) {
	_, err := blockdevice.Open(filepath.Join(t.TempDir(), "nope.img"))
	assert.ErrorIs(t, err, errors.ErrNoDevice)
}
