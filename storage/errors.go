package storage

import (
	"fmt"
)

// ErrorCode represents different types of storage errors
type ErrorCode int

const (
	// Generic errors
	ErrCodeUnknown ErrorCode = iota
	ErrCodeInternal

	// Buffer pool errors
	ErrCodeOutOfFrames
	ErrCodePageNotResident
	ErrCodePinUnderflow
	ErrCodePagePinned
	ErrCodeInvalidPageID

	// Disk errors
	ErrCodeDiskReadFailed
	ErrCodeDiskWriteFailed
	ErrCodeFileNotFound

	// WAL errors
	ErrCodeLogCorrupted
)

// StorageError represents a storage engine error with context
type StorageError struct {
	Code    ErrorCode
	Message string
	Op      string // Operation that failed
	Err     error  // Underlying error (if any)
}

// Error implements the error interface
func (e *StorageError) Error() string {
	if e.Op != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
		}
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *StorageError) Unwrap() error {
	return e.Err
}

// Is checks if the error matches a specific error code
func (e *StorageError) Is(target error) bool {
	if t, ok := target.(*StorageError); ok {
		return e.Code == t.Code
	}
	return false
}

// NewStorageError creates a new storage error
func NewStorageError(code ErrorCode, op, message string, err error) *StorageError {
	return &StorageError{
		Code:    code,
		Message: message,
		Op:      op,
		Err:     err,
	}
}

// Helper functions for common errors

func ErrOutOfFrames(op string) *StorageError {
	return NewStorageError(
		ErrCodeOutOfFrames,
		op,
		"all frames are pinned and the free list is empty",
		nil,
	)
}

func ErrPageNotResident(op string, pageID uint32) *StorageError {
	return NewStorageError(
		ErrCodePageNotResident,
		op,
		fmt.Sprintf("page %d is not resident in the buffer pool", pageID),
		nil,
	)
}

func ErrPagePinned(op string, pageID uint32, pinCount int32) *StorageError {
	return NewStorageError(
		ErrCodePagePinned,
		op,
		fmt.Sprintf("page %d is pinned (pin count: %d)", pageID, pinCount),
		nil,
	)
}

func ErrInvalidPageID(op string, pageID uint32) *StorageError {
	return NewStorageError(
		ErrCodeInvalidPageID,
		op,
		fmt.Sprintf("invalid page id %d", pageID),
		nil,
	)
}

func ErrDiskRead(op string, pageID uint32, err error) *StorageError {
	return NewStorageError(
		ErrCodeDiskReadFailed,
		op,
		fmt.Sprintf("failed to read page %d", pageID),
		err,
	)
}

func ErrDiskWrite(op string, pageID uint32, err error) *StorageError {
	return NewStorageError(
		ErrCodeDiskWriteFailed,
		op,
		fmt.Sprintf("failed to write page %d", pageID),
		err,
	)
}

func ErrLogCorrupted(op string, lsn uint64) *StorageError {
	return NewStorageError(
		ErrCodeLogCorrupted,
		op,
		fmt.Sprintf("log corrupted at LSN %d", lsn),
		nil,
	)
}

// IsErrorCode checks if an error has a specific error code
func IsErrorCode(err error, code ErrorCode) bool {
	if se, ok := err.(*StorageError); ok {
		return se.Code == code
	}
	return false
}

// GetErrorCode returns the error code from an error, or ErrCodeUnknown
func GetErrorCode(err error) ErrorCode {
	if se, ok := err.(*StorageError); ok {
		return se.Code
	}
	return ErrCodeUnknown
}
