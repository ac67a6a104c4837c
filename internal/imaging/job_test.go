package imaging

import (
	"errors"
	"strings"
	"testing"
)

func TestParseFormat(t *testing.T) {
	cases := []struct {
		in   string
		want Format
	}{
		{"img", FormatRaw},
		{"raw", FormatRaw},
		{"RAW", FormatRaw},
		{" qcow2 ", FormatQCOW2},
		{"vhd", FormatVHD},
		{"VMDK", FormatVMDK},
		{"iso", FormatISO},
	}
	for _, tc := range cases {
		got, err := ParseFormat(tc.in)
		if err != nil {
			t.Errorf("ParseFormat(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseFormat(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestParseFormatRejectsUnknown(t *testing.T) {
	_, err := ParseFormat("ntfs")
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if !strings.Contains(vErr.Msg, "supported:") {
		t.Fatalf("error should list supported formats: %v", vErr)
	}
}

func TestFormatCapabilities(t *testing.T) {
	cases := []struct {
		f          Format
		sparse     bool
		compress   bool
		raw        bool
		toolFormat string
	}{
		{FormatRaw, false, false, true, "raw"},
		{FormatISO, false, false, true, "raw"},
		{FormatVHD, true, false, false, "vhd"},
		{FormatVMDK, true, true, false, "vmdk"},
		{FormatQCOW2, true, true, false, "qcow2"},
	}
	for _, tc := range cases {
		if got := tc.f.SparseCapable(); got != tc.sparse {
			t.Errorf("%s SparseCapable = %v, want %v", tc.f, got, tc.sparse)
		}
		if got := tc.f.InlineCompressible(); got != tc.compress {
			t.Errorf("%s InlineCompressible = %v, want %v", tc.f, got, tc.compress)
		}
		if got := tc.f.RawLayout(); got != tc.raw {
			t.Errorf("%s RawLayout = %v, want %v", tc.f, got, tc.raw)
		}
		if got := tc.f.toolName(); got != tc.toolFormat {
			t.Errorf("%s toolName = %q, want %q", tc.f, got, tc.toolFormat)
		}
	}
}

func TestJobValidate(t *testing.T) {
	valid := Job{SourcePath: "/dev/sdb", DestPath: "/images/backup.qcow2", Format: FormatQCOW2}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid job rejected: %v", err)
	}

	cases := []struct {
		name  string
		job   Job
		field string
	}{
		{"empty source", Job{DestPath: "out.img", Format: FormatRaw}, "source"},
		{"empty destination", Job{SourcePath: "/dev/sdb", Format: FormatRaw}, "destination"},
		{"invalid filename chars", Job{SourcePath: "/dev/sdb", DestPath: "/images/what?.img", Format: FormatRaw}, "destination"},
		{"angle brackets", Job{SourcePath: "/dev/sdb", DestPath: "<out>.img", Format: FormatRaw}, "destination"},
		{"bad format", Job{SourcePath: "/dev/sdb", DestPath: "out.xyz", Format: Format("xyz")}, "format"},
		{"negative buffer", Job{SourcePath: "/dev/sdb", DestPath: "out.img", Format: FormatRaw, BufferSize: -1}, "buffer_size"},
		{"oversized buffer", Job{SourcePath: "/dev/sdb", DestPath: "out.img", Format: FormatRaw, BufferSize: maxBufferSize + 1}, "buffer_size"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.job.Validate()
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if vErr.Field != tc.field {
				t.Fatalf("expected field %q, got %q (%v)", tc.field, vErr.Field, vErr)
			}
		})
	}
}

func TestJobBufferSizeDefault(t *testing.T) {
	if got := (Job{}).bufferSize(); got != defaultBufferSize {
		t.Fatalf("zero BufferSize should select the default, got %d", got)
	}
	if got := (Job{BufferSize: 4096}).bufferSize(); got != 4096 {
		t.Fatalf("explicit BufferSize ignored, got %d", got)
	}
}
