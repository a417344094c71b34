// Package ecsfs implements the ECS150 file system, a small FAT-style file system
// with a single flat root directory.
//
// A volume is laid out in 4 KiB blocks:
//
//	block 0                superblock
//	blocks 1 ... F         allocation table, one 16-bit entry per data block
//	block F+1              root directory, 128 records of 32 bytes
//	blocks F+2 ...         data region
//
// All integers are little-endian. In the allocation table 0 means the block is
// free and 0xFFFF marks the last block of a file; anything else is the index of
// the next block. Entry 0 is reserved and never part of a file.
//
// A [Volume] loads the superblock, allocation table, and directory into memory
// when mounted, works on those copies, and writes them back on [Volume.Sync]
// or [Volume.Unmount]. File data is read and written directly on the device.
package ecsfs
