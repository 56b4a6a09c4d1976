// Package dump implements the optional per-link traffic recording
// described in spec §6: one file per link, a length-implicit
// concatenation of CBOR-encoded records, each holding a UTC timestamp
// and a deflate-compressed copy of the forwarded payload.
package dump

import (
	"bytes"
	"compress/flate"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// deflateLevel matches spec §6: "compression level 6".
const deflateLevel = 6

// Record is one recorded message: when it was forwarded, and its
// original (pre-compression) payload. On disk, Data is deflate-
// compressed; Write and ReadAll handle that conversion so no caller
// ever sees the compressed bytes directly.
type Record struct {
	Timestamp time.Time `cbor:"timestamp"`
	Data      []byte    `cbor:"data"`
}

// Recorder appends records to a single link's dump file. It is safe to
// use from only one goroutine at a time (the link forwarding loop that
// owns it).
type Recorder struct {
	file *os.File
	enc  *cbor.Encoder
}

// NewRecorder opens (creating if necessary) the dump file at path for
// append and returns a Recorder ready to write records to it. Per spec
// §6, the conventional path is "<source>_<dest>.dat".
func NewRecorder(path string) (*Recorder, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening dump file %q: %w", path, err)
	}
	return &Recorder{file: f, enc: cbor.NewEncoder(f)}, nil
}

// Write deflate-compresses payload, stamps it with the current UTC
// time, and appends the encoded record to the dump file.
func (r *Recorder) Write(payload []byte) error {
	compressed, err := deflateCompress(payload)
	if err != nil {
		return fmt.Errorf("compressing dump payload: %w", err)
	}
	rec := Record{Timestamp: time.Now().UTC(), Data: compressed}
	if err := r.enc.Encode(rec); err != nil {
		return fmt.Errorf("encoding dump record: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying file.
func (r *Recorder) Close() error {
	return r.file.Close()
}

// ReadAll decodes every record in a dump file, in order, decompressing
// each payload. Used by tests asserting spec §8 invariant 7 (dump
// round-trip fidelity).
func ReadAll(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening dump file %q: %w", path, err)
	}
	defer f.Close()

	dec := cbor.NewDecoder(f)
	var records []Record
	for {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("decoding dump record: %w", err)
		}
		data, err := deflateDecompress(rec.Data)
		if err != nil {
			return nil, fmt.Errorf("decompressing dump payload: %w", err)
		}
		records = append(records, Record{Timestamp: rec.Timestamp, Data: data})
	}
	return records, nil
}

func deflateCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, deflateLevel)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func deflateDecompress(data []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()
	return io.ReadAll(r)
}
