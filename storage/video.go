package storage

import (
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// VideoWriter streams one camera's frames into a side-car file, bypassing
// the tabular container, plus a parallel index file mapping
// (frame_no, reference_ts_ns, device_pts).
type VideoWriter struct {
	mu sync.Mutex
	frameFile *os.File
	indexFile *os.File
	frameNo uint64
}

// NewVideoWriter creates the <stream>.video and <stream>.index files
// under root.
func NewVideoWriter(root, streamID string) (*VideoWriter, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	ff, err := os.OpenFile(filepath.Join(root, streamID+".video"), os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	idx, err := os.OpenFile(filepath.Join(root, streamID+".index"), os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0o644)
	if err != nil {
		ff.Close()
		return nil, err
	}
	return &VideoWriter{frameFile: ff, indexFile: idx}, nil
}

// WriteFrame appends one length-prefixed raw frame and its index row.
func (v *VideoWriter) WriteFrame(referenceTSNS, devicePTS int64, frame []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	var lenHdr [4]byte
	binary.BigEndian.PutUint32(lenHdr[:], uint32(len(frame)))
	if _, err := v.frameFile.Write(lenHdr[:]); err != nil {
		return err
	}
	if _, err := v.frameFile.Write(frame); err != nil {
		return err
	}

	var row [24]byte
	binary.BigEndian.PutUint64(row[0:8], v.frameNo)
	binary.BigEndian.PutUint64(row[8:16], uint64(referenceTSNS))
	binary.BigEndian.PutUint64(row[16:24], uint64(devicePTS))
	if _, err := v.indexFile.Write(row[:]); err != nil {
		return err
	}
	v.frameNo++
	return nil
}

func (v *VideoWriter) Sync() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.frameFile.Sync(); err != nil {
		return err
	}
	return v.indexFile.Sync()
}

func (v *VideoWriter) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	err1 := v.frameFile.Close()
	err2 := v.indexFile.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// IndexRow is one decoded row of a video index file.
type IndexRow struct {
	FrameNo uint64
	ReferenceTSNS int64
	DevicePTS int64
}

// ReadIndex decodes every row of a <stream>.index file, used by tests
// exercising invariant 7's round-trip property for video streams.
func ReadIndex(path string) ([]IndexRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var rows []IndexRow
	for {
		var row [24]byte
		_, err := io.ReadFull(f, row[:])
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, IndexRow{
				FrameNo: binary.BigEndian.Uint64(row[0:8]),
				ReferenceTSNS: int64(binary.BigEndian.Uint64(row[8:16])),
				DevicePTS: int64(binary.BigEndian.Uint64(row[16:24])),
			})
	}
	return rows, nil
}
