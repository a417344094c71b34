package compression

import (
	"fmt"
	"io"
)

// maxGroupLength is the longest run one RLE8 group can hold.
const maxGroupLength = 257

// EncodeRLE8 returns the RLE8 encoding of `data`.
func EncodeRLE8(data []byte) []byte {
	output := make([]byte, 0, len(data)/2+16)

	for i := 0; i < len(data); {
		value := data[i]
		runEnd := i + 1
		for runEnd < len(data) && data[runEnd] == value && runEnd-i < maxGroupLength {
			runEnd++
		}

		runLength := runEnd - i
		if runLength == 1 {
			output = append(output, value)
		} else {
			output = append(output, value, value, byte(runLength-2))
		}
		i = runEnd
	}
	return output
}

// DecodeRLE8 expands RLE8-encoded `data`. It fails if the data ends right after
// a pair of identical bytes, where the count byte should be.
func DecodeRLE8(data []byte) ([]byte, error) {
	output := make([]byte, 0, len(data)*2)

	for i := 0; i < len(data); {
		value := data[i]
		if i+1 >= len(data) || data[i+1] != value {
			output = append(output, value)
			i++
			continue
		}

		if i+2 >= len(data) {
			return output, fmt.Errorf(
				"%w: missing count after two %#02x bytes at offset %d",
				io.ErrUnexpectedEOF,
				value,
				i,
			)
		}

		runLength := int(data[i+2]) + 2
		for j := 0; j < runLength; j++ {
			output = append(output, value)
		}
		i += 3
	}
	return output, nil
}
