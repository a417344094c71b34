// Package compression shrinks volume images for storage and transfer.
//
// A freshly formatted volume is almost entirely null bytes, and even a busy one
// has long zero-filled tails at the end of most blocks. Images are first
// run-length encoded with RLE8 and then gzipped, which does much better than
// either step alone on data like this.
//
// RLE8 is the scheme used by BMP files. A byte that occurs once is written as
// is. A run of N >= 2 copies of byte B is written as B twice followed by a
// count byte holding N-2, so one group covers at most 257 copies. Longer runs
// are split into several groups:
//
//	input:   A  B B B B B B  C C
//	output:  A  B B 4        C C 0
//
// A run of exactly two costs three bytes, but those are rare in block images.
package compression
