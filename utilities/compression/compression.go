package compression

import (
	"bytes"
	"compress/gzip"
	"io"
)

// CompressImage reads an entire image from `input` and writes it to `output`
// encoded with RLE8 and then gzip. It returns the number of compressed bytes
// written.
func CompressImage(input io.Reader, output io.Writer) (int64, error) {
	raw, err := io.ReadAll(input)
	if err != nil {
		return 0, err
	}

	counter := &countingWriter{w: output}
	// Images compress extremely well, so the extra time for the best level is
	// barely noticeable.
	gzWriter, err := gzip.NewWriterLevel(counter, gzip.BestCompression)
	if err != nil {
		return 0, err
	}

	_, err = gzWriter.Write(EncodeRLE8(raw))
	if err != nil {
		gzWriter.Close()
		return counter.n, err
	}

	err = gzWriter.Close()
	return counter.n, err
}

// DecompressImage reverses [CompressImage], writing the raw image to `output`.
// It returns the size of the raw image.
func DecompressImage(input io.Reader, output io.Writer) (int64, error) {
	raw, err := DecompressImageToBytes(input)
	if err != nil {
		return 0, err
	}

	if len(raw) == 0 {
		return 0, nil
	}

	n, err := output.Write(raw)
	return int64(n), err
}

// DecompressImageToBytes is like [DecompressImage] but returns the raw image in
// a new slice.
func DecompressImageToBytes(input io.Reader) ([]byte, error) {
	gzReader, err := gzip.NewReader(input)
	if err != nil {
		return nil, err
	}
	defer gzReader.Close()

	encoded := bytes.Buffer{}
	_, err = encoded.ReadFrom(gzReader)
	if err != nil {
		return nil, err
	}
	return DecodeRLE8(encoded.Bytes())
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}
