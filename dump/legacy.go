package dump

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// LegacyRecord is the variant dump format produced by the standalone
// record/replay plug (spec §6): instead of a structured {timestamp,
// data} mapping, the deflate-compressed blob itself holds
// {seconds_since_epoch(8 LE), nanos(4 LE), payload...}. Both formats
// are a concatenation of self-delimited CBOR items; here each item is a
// CBOR byte string holding the compressed blob, where the structured
// format writes a {timestamp, data} map per record.
type LegacyRecord struct {
	Timestamp time.Time
	Data      []byte
}

// ReadAllLegacy decodes a dump file written by the standalone
// record/replay plug, for interoperability with dumps this spec's §6
// mentions but does not itself produce.
func ReadAllLegacy(path string) ([]LegacyRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening legacy dump file %q: %w", path, err)
	}
	defer f.Close()

	dec := cbor.NewDecoder(f)
	var records []LegacyRecord
	for {
		var compressed []byte
		if err := dec.Decode(&compressed); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("decoding legacy dump record: %w", err)
		}
		inner, err := deflateDecompress(compressed)
		if err != nil {
			return nil, fmt.Errorf("decompressing legacy dump payload: %w", err)
		}
		rec, err := decodeLegacyInner(inner)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func decodeLegacyInner(inner []byte) (LegacyRecord, error) {
	if len(inner) < 12 {
		return LegacyRecord{}, fmt.Errorf("legacy dump record too short: %d bytes", len(inner))
	}
	r := bytes.NewReader(inner)
	var secs uint64
	var nanos uint32
	if err := binary.Read(r, binary.LittleEndian, &secs); err != nil {
		return LegacyRecord{}, err
	}
	if err := binary.Read(r, binary.LittleEndian, &nanos); err != nil {
		return LegacyRecord{}, err
	}
	payload, err := io.ReadAll(r)
	if err != nil {
		return LegacyRecord{}, err
	}
	return LegacyRecord{
		Timestamp: time.Unix(int64(secs), int64(nanos)).UTC(),
		Data:      payload,
	}, nil
}
