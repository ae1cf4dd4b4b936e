package diffentry

import (
	"bufio"
	"bytes"
	"strings"
	"testing"
)

func ptrInt64(v int64) *int64 { return &v }

func TestEncodeDecodeRecordRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		entry Resolved
	}{
		{
			name: "created regular file with full metadata",
			entry: Resolved{
				Path: "a.txt",
				Kind: RegularFile,
				Change: Change[*FileMetadata]{
					Kind: Created,
					Content: &FileMetadata{
						Len:   11,
						Mtime: ptrInt64(1700000000000000000),
						Atime: ptrInt64(1700000000000000000),
						Ctime: ptrInt64(1700000000000000000),
					},
				},
			},
		},
		{
			name: "created directory, no metadata",
			entry: Resolved{
				Path:   "sub",
				Kind:   Directory,
				Change: Change[*FileMetadata]{Kind: Created},
			},
		},
		{
			name: "removed file, no metadata",
			entry: Resolved{
				Path:   "gone.txt",
				Kind:   RegularFile,
				Change: Change[*FileMetadata]{Kind: Removed},
			},
		},
		{
			name: "renamed file",
			entry: Resolved{
				Path:   "old.txt",
				Kind:   RegularFile,
				Change: Change[*FileMetadata]{Kind: Renamed, RenameTo: "new.txt"},
			},
		},
		{
			name: "modified file with partial (nil) timestamps",
			entry: Resolved{
				Path: "b.txt",
				Kind: RegularFile,
				Change: Change[*FileMetadata]{
					Kind:    Modified,
					Content: &FileMetadata{Len: 0},
				},
			},
		},
		{
			name: "pre-epoch modification time",
			entry: Resolved{
				Path: "ancient.txt",
				Kind: RegularFile,
				Change: Change[*FileMetadata]{
					Kind:    Modified,
					Content: &FileMetadata{Len: 5, Mtime: ptrInt64(-31536000000000000)},
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			record, err := EncodeRecord(tt.entry)
			if err != nil {
				t.Fatalf("EncodeRecord() error = %v", err)
			}
			got, err := DecodeRecord(record)
			if err != nil {
				t.Fatalf("DecodeRecord() error = %v", err)
			}
			assertResolvedEqual(t, got, tt.entry)
		})
	}
}

func assertResolvedEqual(t *testing.T, got, want Resolved) {
	t.Helper()
	if got.Path != want.Path || got.Kind != want.Kind {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	if got.Change.Kind != want.Change.Kind || got.Change.RenameTo != want.Change.RenameTo {
		t.Fatalf("got change %+v, want %+v", got.Change, want.Change)
	}
	if (got.Change.Content == nil) != (want.Change.Content == nil) {
		t.Fatalf("metadata presence mismatch: got %v, want %v", got.Change.Content, want.Change.Content)
	}
	if got.Change.Content == nil {
		return
	}
	gm, wm := got.Change.Content, want.Change.Content
	if gm.Len != wm.Len {
		t.Errorf("Len = %d, want %d", gm.Len, wm.Len)
	}
	assertOptionalTimeEqual(t, "Mtime", gm.Mtime, wm.Mtime)
	assertOptionalTimeEqual(t, "Atime", gm.Atime, wm.Atime)
	assertOptionalTimeEqual(t, "Ctime", gm.Ctime, wm.Ctime)
}

func assertOptionalTimeEqual(t *testing.T, field string, got, want *int64) {
	t.Helper()
	if (got == nil) != (want == nil) {
		t.Fatalf("%s presence mismatch: got %v, want %v", field, got, want)
	}
	if got != nil && *got != *want {
		t.Errorf("%s = %d, want %d", field, *got, *want)
	}
}

func TestWriteAndReadFramedRecord(t *testing.T) {
	entry := Resolved{
		Path: "a.txt",
		Kind: RegularFile,
		Change: Change[*FileMetadata]{
			Kind:    Created,
			Content: &FileMetadata{Len: 11},
		},
	}
	record, err := EncodeRecord(entry)
	if err != nil {
		t.Fatalf("EncodeRecord() error = %v", err)
	}

	var buf bytes.Buffer
	n, err := WriteFramedRecord(&buf, record, strings.NewReader("hello world"))
	if err != nil {
		t.Fatalf("WriteFramedRecord() error = %v", err)
	}
	if n != int64(buf.Len()) {
		t.Fatalf("WriteFramedRecord() reported %d bytes, buffer holds %d", n, buf.Len())
	}

	r := bufio.NewReader(&buf)
	header, err := ReadRecordHeader(r)
	if err != nil {
		t.Fatalf("ReadRecordHeader() error = %v", err)
	}
	if !bytes.Equal(header, record) {
		t.Fatalf("ReadRecordHeader() = %x, want %x", header, record)
	}

	body := make([]byte, 11)
	if _, err := bufReadFull(r, body); err != nil {
		t.Fatalf("reading body: %v", err)
	}
	if string(body) != "hello world" {
		t.Fatalf("body = %q, want %q", body, "hello world")
	}
}

func bufReadFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func TestZigzagRoundTrip(t *testing.T) {
	values := []int64{0, 1, -1, 127, -127, 1 << 40, -(1 << 40)}
	for _, v := range values {
		got := zigzagDecode(zigzagEncode(v))
		if got != v {
			t.Errorf("zigzag round trip for %d = %d", v, got)
		}
	}
}
