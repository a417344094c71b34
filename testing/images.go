package testing

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/dargueta/ecsfs/file_systems/common/blockdevice"
	"github.com/dargueta/ecsfs/file_systems/ecsfs"
	"github.com/dargueta/ecsfs/utilities/compression"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

// CreateRandomImage creates an image with the given number of blocks, filled with
// random bytes. It is guaranteed to either return a valid slice or fail the test
// and abort.
func CreateRandomImage(totalBlocks uint, t *testing.T) []byte {
	return RandomBytes(totalBlocks*blockdevice.BlockSize, t)
}

// RandomBytes returns `size` random bytes, failing the test if it can't.
func RandomBytes(size uint, t *testing.T) []byte {
	data := make([]byte, size)
	_, err := rand.Read(data)
	require.NoErrorf(t, err, "failed to generate %d random bytes", size)
	return data
}

// CreateFormattedImage formats an image of `totalBlocks` blocks and returns the
// backing bytes. The data region is filled with random garbage, so tests relying
// on unwritten data being zero will fail.
func CreateFormattedImage(totalBlocks uint, t *testing.T) []byte {
	image := CreateRandomImage(totalBlocks, t)
	device := blockdevice.NewMemoryFromBytes(image)

	err := ecsfs.Format(device)
	require.NoErrorf(t, err, "failed to format %d-block image", totalBlocks)
	require.NoError(t, device.Close())
	return image
}

// NewTestLogger creates a logger that discards its output but records every
// entry, at all levels, in the returned hook.
func NewTestLogger() (*logrus.Logger, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return logger, hook
}

// MountImage mounts `image` in place on a new volume. Writes to the volume
// modify `image`.
func MountImage(image []byte, t *testing.T) (*ecsfs.Volume, *test.Hook) {
	logger, hook := NewTestLogger()
	volume := ecsfs.New(ecsfs.Options{Logger: logger})

	err := volume.Mount(blockdevice.NewMemoryFromBytes(image))
	require.NoError(t, err, "failed to mount image")
	return volume, hook
}

// MountFresh formats an image of `totalBlocks` blocks and mounts it. The image is
// returned so tests can inspect what was written to it.
func MountFresh(totalBlocks uint, t *testing.T) (*ecsfs.Volume, []byte) {
	image := CreateFormattedImage(totalBlocks, t)
	volume, _ := MountImage(image, t)
	return volume, image
}

// LoadCompressedImage takes an image compressed with
// [compression.CompressImage] and returns the raw bytes, checking that it's
// exactly `totalBlocks` blocks.
func LoadCompressedImage(compressedImage []byte, totalBlocks uint, t *testing.T) []byte {
	require.Greater(t, len(compressedImage), 0, "compressed image is empty")

	image, err := compression.DecompressImageToBytes(bytes.NewReader(compressedImage))
	require.NoError(t, err)
	require.EqualValues(
		t,
		totalBlocks*blockdevice.BlockSize,
		len(image),
		"uncompressed image is wrong size",
	)
	return image
}

// CompressImage is the inverse of [LoadCompressedImage].
func CompressImage(image []byte, t *testing.T) []byte {
	output := bytes.Buffer{}
	_, err := compression.CompressImage(bytes.NewReader(image), &output)
	require.NoError(t, err)
	return output.Bytes()
}
