package main

import (
	"reflect"
	"testing"
	"unicode/utf8"

	"github.com/tangthinker/watchman/internal/backup"
)

func TestJobFlagsApplyOnlySetFlags(t *testing.T) {
	cur := backup.Draft{
		SourcePath:     "/src",
		DestPath:       "/dst",
		PeriodHours:    12,
		SkipExtensions: []string{"log"},
		SkipFolders:    []string{".git"},
		ArchiveEnabled: true,
	}

	f := newJobFlags("edit")
	if err := f.fs.Parse([]string{"-period", "3", "-skip", "node_modules  build", "7"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	d := cur
	f.apply(&d)

	if d.PeriodHours != 3 {
		t.Fatalf("period = %d", d.PeriodHours)
	}
	if !reflect.DeepEqual(d.SkipFolders, []string{"node_modules", "build"}) {
		t.Fatalf("folders = %q", d.SkipFolders)
	}
	if d.DestPath != "/dst" || !d.ArchiveEnabled || !reflect.DeepEqual(d.SkipExtensions, []string{"log"}) {
		t.Fatalf("unset flags changed the draft: %+v", d)
	}
	if f.fs.Arg(0) != "7" {
		t.Fatalf("arg = %q", f.fs.Arg(0))
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"/very/long/path/to/folder", 10, "/very/l..."},
		{"/文档/照片", 6, "/文档/照片"},
		{"/数据/备份/照片/二〇二五", 8, "/数据/备..."},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
		if got := truncate(tt.in, tt.n); !utf8.ValidString(got) {
			t.Errorf("truncate(%q, %d) produced invalid UTF-8", tt.in, tt.n)
		}
	}
}
