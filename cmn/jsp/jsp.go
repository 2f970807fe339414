// Package jsp provides versioned, checksum-guarded JSON persistence for
// small metadata records (session descriptors, storage container headers):
// every record is length-prefixed, xxhash-checksummed, and
// carries an explicit format version so a reader can reject a record
// written by an incompatible future version instead of silently
// misinterpreting it.
/*
 * Copyright (c) 2024, HERMES authors. All rights reserved.
 */
package jsp

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/hermes-sensorfusion/hermes/cmn/cos"
	jsoniter "github.com/json-iterator/go"
)

const currentVersion = 1

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Save encodes v as JSON, wraps it in {version, length, checksum, body},
// and writes the framed record to w.
func Save(w io.Writer, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var hdr [16]byte
	binary.BigEndian.PutUint32(hdr[0:4], currentVersion)
	binary.BigEndian.PutUint32(hdr[4:8], uint32(len(body)))
	binary.BigEndian.PutUint64(hdr[8:16], cos.Checksum64(body))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

// Load reads a record written by Save into v, verifying its checksum and
// rejecting a version newer than this reader understands.
func Load(r io.Reader, v any) error {
	var hdr [16]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return err
	}
	version := binary.BigEndian.Uint32(hdr[0:4])
	if version > currentVersion {
		return fmt.Errorf("jsp: record version %d is newer than supported version %d", version, currentVersion)
	}
	size := binary.BigEndian.Uint32(hdr[4:8])
	wantSum := binary.BigEndian.Uint64(hdr[8:16])
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return err
	}
	if gotSum := cos.Checksum64(body); gotSum != wantSum {
		return fmt.Errorf("jsp: checksum mismatch: got %x, want %x", gotSum, wantSum)
	}
	return json.Unmarshal(body, v)
}
