// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build !linux && !darwin

package eventloop

const (
	efdCloexec  = 0
	efdNonblock = 0
)

func createWakeFd(uint, int) (int, int, error) {
	return -1, -1, ErrUnsupportedPlatform
}
