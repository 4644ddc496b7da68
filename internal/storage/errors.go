package storage

import "errors"

// Errors returned by every store implementation.
var (
	// ErrNotFound is returned for an investor, round or record that was never written.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when a purchase or claim id is written twice.
	// Purchase and claim histories are never rewritten.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidInput is returned for arguments a store cannot persist,
	// such as an unknown round or a negative amount.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConflict is returned when a compare-and-set update finds a value
	// other than the expected one. The caller should re-read and retry.
	ErrConflict = errors.New("conflict: stored value changed concurrently")
)
