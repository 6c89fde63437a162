// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package eventloop

// Padding sizes for FastState, verified by TestSizeOf.
const (
	// sizeOfCacheLine covers the 128 byte lines of Apple Silicon and other
	// ARM64, as well as the 64 byte lines of x86-64.
	sizeOfCacheLine = 128

	sizeOfAtomicUint64 = 8
)
