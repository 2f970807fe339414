package transport

import (
	"encoding/binary"
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// WriteControlMsg writes one length-prefixed jsoniter-encoded control
// frame.
func WriteControlMsg(w io.Writer, msg *ControlMsg) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return writeFrame(w, b)
}

// ReadControlMsg reads one control frame written by WriteControlMsg.
func ReadControlMsg(r io.Reader) (*ControlMsg, error) {
	b, err := readFrame(r)
	if err != nil {
		return nil, err
	}
	msg := &ControlMsg{}
	if err := json.Unmarshal(b, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// WriteDataFrame writes one data-plane frame using a fixed binary
// header: topic length+bytes, publisher_id
// length+bytes, seq uint64, reference_ts_ns int64, payload_len uint32,
// payload_bytes.
func WriteDataFrame(w io.Writer, f *DataFrame) error {
	var buf []byte
	buf = appendString(buf, f.Topic)
	buf = appendString(buf, f.PublisherID)
	var tail [20]byte
	binary.BigEndian.PutUint64(tail[0:8], f.Seq)
	binary.BigEndian.PutUint64(tail[8:16], uint64(f.ReferenceTSNS))
	binary.BigEndian.PutUint32(tail[16:20], uint32(len(f.Payload)))
	buf = append(buf, tail[:]...)
	buf = append(buf, f.Payload...)
	return writeFrame(w, buf)
}

// ReadDataFrame reads one frame written by WriteDataFrame.
func ReadDataFrame(r io.Reader) (*DataFrame, error) {
	raw, err := readFrame(r)
	if err != nil {
		return nil, err
	}
	off := 0
	topic, off, err := takeString(raw, off)
	if err != nil {
		return nil, err
	}
	pubID, off, err := takeString(raw, off)
	if err != nil {
		return nil, err
	}
	if off+20 > len(raw) {
		return nil, fmt.Errorf("transport: truncated data frame tail")
	}
	seq := binary.BigEndian.Uint64(raw[off: off+8])
	refTS := int64(binary.BigEndian.Uint64(raw[off+8: off+16]))
	plen := binary.BigEndian.Uint32(raw[off+16: off+20])
	off += 20
	if off+int(plen) > len(raw) {
		return nil, fmt.Errorf("transport: truncated data frame payload")
	}
	payload := raw[off: off+int(plen)]
	return &DataFrame{Topic: topic, PublisherID: pubID, Seq: seq, ReferenceTSNS: refTS, Payload: payload}, nil
}

func appendString(buf []byte, s string) []byte {
	var l [4]byte
	binary.BigEndian.PutUint32(l[:], uint32(len(s)))
	buf = append(buf, l[:]...)
	return append(buf, s...)
}

func takeString(raw []byte, off int) (string, int, error) {
	if off+4 > len(raw) {
		return "", 0, fmt.Errorf("transport: truncated string length")
	}
	l := int(binary.BigEndian.Uint32(raw[off: off+4]))
	off += 4
	if off+l > len(raw) {
		return "", 0, fmt.Errorf("transport: truncated string body")
	}
	return string(raw[off: off+l]), off + l, nil
}

// writeFrame issues the length prefix and body as a single Write, so
// concurrent senders on one net.Conn (a peer's control link is written
// from several Broker goroutines) never interleave partial frames.
func writeFrame(w io.Writer, body []byte) error {
	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame[:4], uint32(len(body)))
	copy(frame[4:], body)
	_, err := w.Write(frame)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(hdr[:])
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}
