package diffentry

import (
	"errors"
	"strings"
	"testing"

	"github.com/saworbit/zfsbackup/internal/backuperr"
)

func TestParseLines(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Raw
	}{
		{
			name: "created file",
			line: "+\tF\t/mnt/long-term-files/created_after_snapshot_0.txt",
			want: Raw{
				Path:   "/mnt/long-term-files/created_after_snapshot_0.txt",
				Kind:   RegularFile,
				Change: Change[Unit]{Kind: Created},
			},
		},
		{
			name: "modified directory",
			line: "M\t/\t/mnt/long-term-files/",
			want: Raw{
				Path:   "/mnt/long-term-files/",
				Kind:   Directory,
				Change: Change[Unit]{Kind: Modified},
			},
		},
		{
			name: "renamed file with spaces",
			line: "R\tF\t/mnt/long-term-files/file with spaces.txt\t/mnt/long-term-files/moved after snapshot 2.txt",
			want: Raw{
				Path: "/mnt/long-term-files/file with spaces.txt",
				Kind: RegularFile,
				Change: Change[Unit]{
					Kind:     Renamed,
					RenameTo: "/mnt/long-term-files/moved after snapshot 2.txt",
				},
			},
		},
		{
			name: "created folder",
			line: "+\t/\t/mnt/long-term-files/folder",
			want: Raw{
				Path:   "/mnt/long-term-files/folder",
				Kind:   Directory,
				Change: Change[Unit]{Kind: Created},
			},
		},
		{
			name: "removed file",
			line: "-\tF\t/mnt/long-term-files/gone.txt",
			want: Raw{
				Path:   "/mnt/long-term-files/gone.txt",
				Kind:   RegularFile,
				Change: Change[Unit]{Kind: Removed},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLines(strings.NewReader(tt.line))
			if err != nil {
				t.Fatalf("ParseLines() error = %v", err)
			}
			if len(got) != 1 {
				t.Fatalf("ParseLines() returned %d entries, want 1", len(got))
			}
			if got[0] != tt.want {
				t.Errorf("ParseLines() = %+v, want %+v", got[0], tt.want)
			}
		})
	}
}

func TestParseLinesSkipsXattrdir(t *testing.T) {
	input := "M\t/\t/mnt/long-term-files/file.txt/<xattrdir>\n" +
		"+\tF\t/mnt/long-term-files/created_after_snapshot_0.txt\n"

	got, err := ParseLines(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseLines() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("ParseLines() returned %d entries, want 1 (xattrdir line should be skipped)", len(got))
	}
	if got[0].Path != "/mnt/long-term-files/created_after_snapshot_0.txt" {
		t.Errorf("unexpected surviving entry: %+v", got[0])
	}
}

func TestParseLinesSkipsXattrdirFolderEntries(t *testing.T) {
	input := "+\t/\t/mnt/long-term-files/folder/<xattrdir>\n" +
		"+\tF\t/mnt/long-term-files/folder/<xattrdir>/system.posix_acl_default\n" +
		"+\t/\t/mnt/long-term-files/folder\n"

	got, err := ParseLines(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseLines() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("ParseLines() returned %d entries, want 1 (both xattrdir lines skipped): %+v", len(got), got)
	}
	if got[0].Path != "/mnt/long-term-files/folder" {
		t.Errorf("unexpected surviving entry: %+v", got[0])
	}
}

func TestParseLinesMultipleLines(t *testing.T) {
	input := strings.Join([]string{
		"+\tF\t/mnt/long-term-files/a.txt",
		"-\tF\t/mnt/long-term-files/b.txt",
		"M\tF\t/mnt/long-term-files/c.txt",
	}, "\n")

	got, err := ParseLines(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseLines() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("ParseLines() returned %d entries, want 3", len(got))
	}
}

func TestParseLinesBadFormat(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"too few columns", "+\tF"},
		{"unrecognized change marker", "X\tF\t/mnt/foo.txt"},
		{"unrecognized kind marker", "+\tD\t/mnt/foo.txt"},
		{"rename missing target", "R\tF\t/mnt/foo.txt"},
		{"rename with empty target", "R\tF\t/mnt/foo.txt\t"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseLines(strings.NewReader(tt.line))
			if !errors.Is(err, backuperr.ErrBadDiffFormat) {
				t.Fatalf("ParseLines() error = %v, want ErrBadDiffFormat", err)
			}
		})
	}
}

func TestRelativeToMount(t *testing.T) {
	entries := []Raw{
		{Path: "/mnt/long-term-files/a.txt", Kind: RegularFile, Change: Change[Unit]{Kind: Created}},
		{
			Path: "/mnt/long-term-files/old.txt", Kind: RegularFile,
			Change: Change[Unit]{Kind: Renamed, RenameTo: "/mnt/long-term-files/new.txt"},
		},
	}

	got, err := RelativeToMount(entries, "/mnt/long-term-files")
	if err != nil {
		t.Fatalf("RelativeToMount() error = %v", err)
	}
	if got[0].Path != "a.txt" {
		t.Errorf("got path %q, want %q", got[0].Path, "a.txt")
	}
	if got[1].Path != "old.txt" || got[1].Change.RenameTo != "new.txt" {
		t.Errorf("got %+v", got[1])
	}
}

func TestRelativeToMountEscapes(t *testing.T) {
	entries := []Raw{
		{Path: "/other/mount/a.txt", Kind: RegularFile, Change: Change[Unit]{Kind: Created}},
	}

	_, err := RelativeToMount(entries, "/mnt/long-term-files")
	if !errors.Is(err, backuperr.ErrPathEscapesMount) {
		t.Fatalf("RelativeToMount() error = %v, want ErrPathEscapesMount", err)
	}
}

func TestRelativeToMountRenameEscapes(t *testing.T) {
	entries := []Raw{
		{
			Path: "/mnt/long-term-files/old.txt", Kind: RegularFile,
			Change: Change[Unit]{Kind: Renamed, RenameTo: "/elsewhere/new.txt"},
		},
	}

	_, err := RelativeToMount(entries, "/mnt/long-term-files")
	if !errors.Is(err, backuperr.ErrPathEscapesMount) {
		t.Fatalf("RelativeToMount() error = %v, want ErrPathEscapesMount", err)
	}
}
