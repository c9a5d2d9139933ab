package storage

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
)

// LogType represents the type of log record
type LogType byte

const (
	LogInsert LogType = iota
	LogDelete
	LogUpdate
	LogCommit
	LogAbort
	LogCheckpoint
)

// String returns string representation of LogType
func (lt LogType) String() string {
	switch lt {
	case LogInsert:
		return "INSERT"
	case LogDelete:
		return "DELETE"
	case LogUpdate:
		return "UPDATE"
	case LogCommit:
		return "COMMIT"
	case LogAbort:
		return "ABORT"
	case LogCheckpoint:
		return "CHECKPOINT"
	default:
		return "UNKNOWN"
	}
}

// LogRecord represents a single WAL entry
type LogRecord struct {
	LSN        uint64  // Log sequence number (unique, monotonic)
	PrevLSN    uint64  // Previous LSN for this transaction
	TxnID      uint64  // Transaction ID
	Type       LogType // Type of operation
	PageID     uint32  // Affected page
	Offset     uint16  // Offset within page
	BeforeData []byte  // Old value (for UNDO)
	AfterData  []byte  // New value (for REDO)
}

const logRecordFixedSize = 31 // LSN(8) + PrevLSN(8) + TxnID(8) + Type(1) + PageID(4) + Offset(2)

// Serialize converts a LogRecord to bytes.
// Format: LSN(8) | PrevLSN(8) | TxnID(8) | Type(1) | PageID(4) | Offset(2) |
// BeforeDataLen(2) | BeforeData | AfterDataLen(2) | AfterData
func (lr *LogRecord) Serialize() []byte {
	beforeLen := len(lr.BeforeData)
	afterLen := len(lr.AfterData)
	size := logRecordFixedSize + 2 + beforeLen + 2 + afterLen

	buf := make([]byte, size)
	offset := 0

	binary.LittleEndian.PutUint64(buf[offset:], lr.LSN)
	offset += 8
	binary.LittleEndian.PutUint64(buf[offset:], lr.PrevLSN)
	offset += 8
	binary.LittleEndian.PutUint64(buf[offset:], lr.TxnID)
	offset += 8
	buf[offset] = byte(lr.Type)
	offset++
	binary.LittleEndian.PutUint32(buf[offset:], lr.PageID)
	offset += 4
	binary.LittleEndian.PutUint16(buf[offset:], lr.Offset)
	offset += 2

	binary.LittleEndian.PutUint16(buf[offset:], uint16(beforeLen))
	offset += 2
	if beforeLen > 0 {
		copy(buf[offset:], lr.BeforeData)
		offset += beforeLen
	}

	binary.LittleEndian.PutUint16(buf[offset:], uint16(afterLen))
	offset += 2
	if afterLen > 0 {
		copy(buf[offset:], lr.AfterData)
	}

	return buf
}

// DeserializeLogRecord parses a LogRecord from bytes
func DeserializeLogRecord(buf []byte) (*LogRecord, error) {
	if len(buf) < logRecordFixedSize+4 {
		return nil, fmt.Errorf("log record too short: %d bytes", len(buf))
	}

	lr := &LogRecord{}
	offset := 0

	lr.LSN = binary.LittleEndian.Uint64(buf[offset:])
	offset += 8
	lr.PrevLSN = binary.LittleEndian.Uint64(buf[offset:])
	offset += 8
	lr.TxnID = binary.LittleEndian.Uint64(buf[offset:])
	offset += 8
	lr.Type = LogType(buf[offset])
	offset++
	lr.PageID = binary.LittleEndian.Uint32(buf[offset:])
	offset += 4
	lr.Offset = binary.LittleEndian.Uint16(buf[offset:])
	offset += 2

	beforeLen := int(binary.LittleEndian.Uint16(buf[offset:]))
	offset += 2
	if offset+beforeLen+2 > len(buf) {
		return nil, fmt.Errorf("log record truncated in before-data")
	}
	if beforeLen > 0 {
		lr.BeforeData = make([]byte, beforeLen)
		copy(lr.BeforeData, buf[offset:offset+beforeLen])
		offset += beforeLen
	}

	afterLen := int(binary.LittleEndian.Uint16(buf[offset:]))
	offset += 2
	if offset+afterLen > len(buf) {
		return nil, fmt.Errorf("log record truncated in after-data")
	}
	if afterLen > 0 {
		lr.AfterData = make([]byte, afterLen)
		copy(lr.AfterData, buf[offset:offset+afterLen])
	}

	return lr, nil
}

// On-disk framing of one record:
// [0-3]: frame length (bytes following this field)
// [4]:   compression flag (0 = raw record, 1 = compressed block)
// [5+]:  record body
const (
	logFrameRaw        byte = 0
	logFrameCompressed byte = 1
)

// LogManager is an append-only write-ahead log. Records are assigned
// monotonic LSNs on append and buffered; Flush pushes the buffer through
// to the file and fsyncs, so a returned Flush means every appended record
// is on disk. Payloads are optionally compressed per the configured
// algorithm.
type LogManager struct {
	file        *os.File
	writer      *bufio.Writer
	nextLSN     uint64
	flushedLSN  uint64 // highest LSN guaranteed durable
	compression CompressionType
	metrics     *Metrics // optional, shared with the buffer pool
	mutex       sync.Mutex
}

// NewLogManager creates an uncompressed log manager on the given file
func NewLogManager(fileName string) (*LogManager, error) {
	return NewLogManagerWithCompression(fileName, "none")
}

// NewLogManagerWithCompression creates a log manager whose record
// payloads are compressed with the given algorithm (none, snappy, lz4)
func NewLogManagerWithCompression(fileName string, alg string) (*LogManager, error) {
	compression, err := CompressionTypeFromString(alg)
	if err != nil {
		return nil, err
	}

	file, err := os.OpenFile(fileName, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open/create log file %s: %w", fileName, err)
	}

	lm := &LogManager{
		file:        file,
		writer:      bufio.NewWriter(file),
		nextLSN:     1,
		compression: compression,
	}

	// Resume LSN assignment after any existing records
	records, err := lm.readAllLocked()
	if err != nil {
		file.Close()
		return nil, err
	}
	if len(records) > 0 {
		last := records[len(records)-1].LSN
		lm.nextLSN = last + 1
		lm.flushedLSN = last
	}

	return lm, nil
}

// SetMetrics attaches a metrics tracker; the buffer pool shares its own
// when the log manager is wired in
func (lm *LogManager) SetMetrics(metrics *Metrics) {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()
	lm.metrics = metrics
}

// Append assigns the record an LSN and buffers it for writing. The record
// is durable only after the next Flush.
func (lm *LogManager) Append(record *LogRecord) (uint64, error) {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()

	record.LSN = lm.nextLSN

	body := record.Serialize()
	flag := logFrameRaw
	if lm.compression != CompressionNone {
		compressed, err := CompressBlock(body, lm.compression)
		if err != nil {
			return 0, fmt.Errorf("failed to compress log record: %w", err)
		}
		body = compressed
		flag = logFrameCompressed
	}

	var header [5]byte
	binary.LittleEndian.PutUint32(header[0:4], uint32(1+len(body)))
	header[4] = flag

	if _, err := lm.writer.Write(header[:]); err != nil {
		return 0, fmt.Errorf("failed to append log record: %w", err)
	}
	if _, err := lm.writer.Write(body); err != nil {
		return 0, fmt.Errorf("failed to append log record: %w", err)
	}

	lm.nextLSN++
	if lm.metrics != nil {
		lm.metrics.RecordLogAppend()
	}

	return record.LSN, nil
}

// Flush pushes buffered records to the file and fsyncs
func (lm *LogManager) Flush() error {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()

	if err := lm.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush log buffer: %w", err)
	}
	if err := lm.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync log file: %w", err)
	}

	lm.flushedLSN = lm.nextLSN - 1
	if lm.metrics != nil {
		lm.metrics.RecordLogFlush()
	}

	return nil
}

// GetFlushedLSN returns the highest LSN guaranteed to be on disk
func (lm *LogManager) GetFlushedLSN() uint64 {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()
	return lm.flushedLSN
}

// GetNextLSN returns the LSN the next appended record will receive
func (lm *LogManager) GetNextLSN() uint64 {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()
	return lm.nextLSN
}

// ReadAll returns every record that has reached the log file, in LSN
// order. Records still held in the append buffer are not visible; after a
// Flush every appended record is.
func (lm *LogManager) ReadAll() ([]*LogRecord, error) {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()
	return lm.readAllLocked()
}

// readAllLocked scans the log file from the start. Caller holds lm.mutex.
func (lm *LogManager) readAllLocked() ([]*LogRecord, error) {
	reader, err := os.Open(lm.file.Name())
	if err != nil {
		return nil, fmt.Errorf("failed to open log file for reading: %w", err)
	}
	defer reader.Close()

	br := bufio.NewReader(reader)
	records := make([]*LogRecord, 0)

	for {
		// LSN the next record in the file is expected to carry
		atLSN := uint64(1)
		if n := len(records); n > 0 {
			atLSN = records[n-1].LSN + 1
		}

		var lenBuf [4]byte
		if _, err := io.ReadFull(br, lenBuf[:]); err != nil {
			if err == io.EOF {
				break
			}
			return nil, ErrLogCorrupted("LogManager.ReadAll", atLSN)
		}

		frameLen := binary.LittleEndian.Uint32(lenBuf[:])
		if frameLen < 1 {
			return nil, ErrLogCorrupted("LogManager.ReadAll", atLSN)
		}

		frame := make([]byte, frameLen)
		if _, err := io.ReadFull(br, frame); err != nil {
			return nil, ErrLogCorrupted("LogManager.ReadAll", atLSN)
		}

		body := frame[1:]
		if frame[0] == logFrameCompressed {
			body, err = DecompressBlock(body)
			if err != nil {
				return nil, ErrLogCorrupted("LogManager.ReadAll", atLSN)
			}
		}

		record, err := DeserializeLogRecord(body)
		if err != nil {
			return nil, ErrLogCorrupted("LogManager.ReadAll", atLSN)
		}

		records = append(records, record)
	}

	return records, nil
}

// Close flushes any buffered records and closes the log file
func (lm *LogManager) Close() error {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()

	if err := lm.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush log buffer on close: %w", err)
	}
	if err := lm.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync log file on close: %w", err)
	}
	lm.flushedLSN = lm.nextLSN - 1

	return lm.file.Close()
}
