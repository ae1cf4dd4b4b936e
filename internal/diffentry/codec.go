package diffentry

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/multiformats/go-varint"
	"github.com/saworbit/zfsbackup/internal/backuperr"
)

// Fixed single-byte tags for the canonical record schema. These values are
// part of the on-disk/on-wire format and must never be renumbered once a
// part has been uploaded with them.
const (
	kindRegularFile byte = 0
	kindDirectory   byte = 1

	changeRemoved  byte = 0
	changeCreated  byte = 1
	changeModified byte = 2
	changeRenamed  byte = 3

	metaAbsent byte = 0
	metaPresent byte = 1

	timeAbsent  byte = 0
	timePresent byte = 1
)

// EncodeRecord produces the canonical, self-describing binary encoding of a
// resolved diff entry: a fixed-schema serialization, stable across versions,
// with every variable-length field prefixed by a canonical varint length.
// This is record_bytes; the caller is responsible for prefixing the result
// with varint(len(record_bytes)) before writing it to the upload stream.
func EncodeRecord(e Resolved) ([]byte, error) {
	var buf bytes.Buffer

	writeVarintBytes(&buf, []byte(e.Path))

	var kindByte byte
	switch e.Kind {
	case RegularFile:
		kindByte = kindRegularFile
	case Directory:
		kindByte = kindDirectory
	default:
		return nil, fmt.Errorf("%w: unknown file kind %v", backuperr.ErrEncodeFailed, e.Kind)
	}
	buf.WriteByte(kindByte)

	var changeByte byte
	switch e.Change.Kind {
	case Removed:
		changeByte = changeRemoved
	case Created:
		changeByte = changeCreated
	case Modified:
		changeByte = changeModified
	case Renamed:
		changeByte = changeRenamed
	default:
		return nil, fmt.Errorf("%w: unknown change kind %v", backuperr.ErrEncodeFailed, e.Change.Kind)
	}
	buf.WriteByte(changeByte)
	writeVarintBytes(&buf, []byte(e.Change.RenameTo))

	if e.Change.Content == nil {
		buf.WriteByte(metaAbsent)
	} else {
		buf.WriteByte(metaPresent)
		meta := e.Change.Content
		buf.Write(varint.ToUvarint(meta.Len))
		writeOptionalTime(&buf, meta.Mtime)
		writeOptionalTime(&buf, meta.Atime)
		writeOptionalTime(&buf, meta.Ctime)
	}

	return buf.Bytes(), nil
}

func writeVarintBytes(buf *bytes.Buffer, b []byte) {
	buf.Write(varint.ToUvarint(uint64(len(b))))
	buf.Write(b)
}

func writeOptionalTime(buf *bytes.Buffer, t *int64) {
	if t == nil {
		buf.WriteByte(timeAbsent)
		return
	}
	buf.WriteByte(timePresent)
	buf.Write(varint.ToUvarint(zigzagEncode(*t)))
}

// zigzagEncode maps a signed int64 to an unsigned value so negative unix
// timestamps (before 1970) can still be carried by the unsigned varint
// encoding without a sign-extension ambiguity.
func zigzagEncode(v int64) uint64 {
	return uint64((v << 1) ^ (v >> 63))
}

func zigzagDecode(v uint64) int64 {
	return int64(v>>1) ^ -int64(v&1)
}

// DecodeRecord parses the canonical record_bytes produced by EncodeRecord.
func DecodeRecord(record []byte) (Resolved, error) {
	r := bytes.NewReader(record)

	path, err := readVarintBytes(r)
	if err != nil {
		return Resolved{}, fmt.Errorf("%w: path: %v", backuperr.ErrHotMetadataCorrupt, err)
	}

	kindByte, err := r.ReadByte()
	if err != nil {
		return Resolved{}, fmt.Errorf("%w: kind: %v", backuperr.ErrHotMetadataCorrupt, err)
	}
	var kind FileKind
	switch kindByte {
	case kindRegularFile:
		kind = RegularFile
	case kindDirectory:
		kind = Directory
	default:
		return Resolved{}, fmt.Errorf("%w: unrecognized kind byte %d", backuperr.ErrHotMetadataCorrupt, kindByte)
	}

	changeByte, err := r.ReadByte()
	if err != nil {
		return Resolved{}, fmt.Errorf("%w: change: %v", backuperr.ErrHotMetadataCorrupt, err)
	}
	var changeKind ChangeKind
	switch changeByte {
	case changeRemoved:
		changeKind = Removed
	case changeCreated:
		changeKind = Created
	case changeModified:
		changeKind = Modified
	case changeRenamed:
		changeKind = Renamed
	default:
		return Resolved{}, fmt.Errorf("%w: unrecognized change byte %d", backuperr.ErrHotMetadataCorrupt, changeByte)
	}

	renameTo, err := readVarintBytes(r)
	if err != nil {
		return Resolved{}, fmt.Errorf("%w: rename target: %v", backuperr.ErrHotMetadataCorrupt, err)
	}

	metaFlag, err := r.ReadByte()
	if err != nil {
		return Resolved{}, fmt.Errorf("%w: metadata flag: %v", backuperr.ErrHotMetadataCorrupt, err)
	}

	var content *FileMetadata
	switch metaFlag {
	case metaAbsent:
		content = nil
	case metaPresent:
		length, err := varint.ReadUvarint(byteReader{r})
		if err != nil {
			return Resolved{}, fmt.Errorf("%w: length: %v", backuperr.ErrHotMetadataCorrupt, err)
		}
		mtime, err := readOptionalTime(r)
		if err != nil {
			return Resolved{}, fmt.Errorf("%w: mtime: %v", backuperr.ErrHotMetadataCorrupt, err)
		}
		atime, err := readOptionalTime(r)
		if err != nil {
			return Resolved{}, fmt.Errorf("%w: atime: %v", backuperr.ErrHotMetadataCorrupt, err)
		}
		ctime, err := readOptionalTime(r)
		if err != nil {
			return Resolved{}, fmt.Errorf("%w: ctime: %v", backuperr.ErrHotMetadataCorrupt, err)
		}
		content = &FileMetadata{Len: length, Mtime: mtime, Atime: atime, Ctime: ctime}
	default:
		return Resolved{}, fmt.Errorf("%w: unrecognized metadata flag %d", backuperr.ErrHotMetadataCorrupt, metaFlag)
	}

	return Resolved{
		Path: string(path),
		Kind: kind,
		Change: Change[*FileMetadata]{
			Kind:     changeKind,
			Content:  content,
			RenameTo: string(renameTo),
		},
	}, nil
}

func readVarintBytes(r *bytes.Reader) ([]byte, error) {
	n, err := varint.ReadUvarint(byteReader{r})
	if err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func readOptionalTime(r *bytes.Reader) (*int64, error) {
	flag, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if flag == timeAbsent {
		return nil, nil
	}
	v, err := varint.ReadUvarint(byteReader{r})
	if err != nil {
		return nil, err
	}
	t := zigzagDecode(v)
	return &t, nil
}

// byteReader adapts *bytes.Reader (already io.ByteReader) through a named
// type so call sites read clearly as "a varint source", independent of the
// concrete buffer type.
type byteReader struct {
	r *bytes.Reader
}

func (b byteReader) ReadByte() (byte, error) { return b.r.ReadByte() }

// WriteFramedRecord writes varint(len(record)) ‖ record ‖ optional body to w,
// the unit the upload stream concatenates one per diff entry.
func WriteFramedRecord(w io.Writer, record []byte, body io.Reader) (int64, error) {
	var written int64

	lenPrefix := varint.ToUvarint(uint64(len(record)))
	n, err := w.Write(lenPrefix)
	written += int64(n)
	if err != nil {
		return written, fmt.Errorf("%w: writing length prefix: %v", backuperr.ErrStreamIO, err)
	}

	n, err = w.Write(record)
	written += int64(n)
	if err != nil {
		return written, fmt.Errorf("%w: writing record: %v", backuperr.ErrStreamIO, err)
	}

	if body != nil {
		copied, err := io.Copy(w, body)
		written += copied
		if err != nil {
			return written, fmt.Errorf("%w: writing body: %v", backuperr.ErrStreamIO, err)
		}
	}

	return written, nil
}

// ReadFramedRecord reads one varint-prefixed record from r and returns its
// decoded entry and, separately, nothing more — callers that must stream the
// optional file body instead of buffering it should read the varint and
// record with ReadRecordHeader and then copy exactly Content.Len bytes
// themselves.
func ReadFramedRecord(r *bufio.Reader) (Resolved, error) {
	record, err := ReadRecordHeader(r)
	if err != nil {
		return Resolved{}, err
	}
	return DecodeRecord(record)
}

// ReadRecordHeader reads and returns the raw record_bytes (without decoding
// them), leaving the reader positioned at the start of the optional body
// that follows for entries with Created/Modified regular-file content.
func ReadRecordHeader(r *bufio.Reader) ([]byte, error) {
	length, err := varint.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("%w: reading length prefix: %v", backuperr.ErrStreamIO, err)
	}
	record := make([]byte, length)
	if _, err := io.ReadFull(r, record); err != nil {
		return nil, fmt.Errorf("%w: reading record body: %v", backuperr.ErrStreamIO, err)
	}
	return record, nil
}
