package files

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func write(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestDetect(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	tests := []struct {
		name    string
		data    []byte
		want    Container
		wantErr bool
	}{
		{"clip.ivf", []byte("DKIF\x00\x00"), IVF, false},
		{"voice.OPUS", []byte("OggS\x00"), Ogg, false},
		{"stream.264", []byte{0, 0, 0, 1, 0x67}, H264, false},
		{"short.h264", []byte{0, 0, 1, 0x65}, H264, false},
		{"fake.ivf", []byte("RIFF...."), "", true},
		{"movie.mp4", []byte("....ftyp"), "", true},
	}
	for _, tt := range tests {
		path := write(t, dir, tt.name, tt.data)
		got, err := Detect(path)
		if tt.wantErr {
			if !errors.Is(err, ErrUnsupported) {
				t.Errorf("Detect(%s) err = %v, want ErrUnsupported", tt.name, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("Detect(%s) = %q, %v; want %q", tt.name, got, err, tt.want)
		}
	}
}

func TestValidateMedia(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	video := write(t, dir, "a.ivf", []byte("DKIF0000"))
	audio := write(t, dir, "b.ogg", []byte("OggS0000"))
	video2 := write(t, dir, "c.h264", []byte{0, 0, 0, 1, 9})

	got, err := ValidateMedia([]string{video, audio})
	if err != nil {
		t.Fatalf("ValidateMedia: %v", err)
	}
	if len(got) != 2 || got[0].Container != IVF || got[1].Container.Kind() != "audio" {
		t.Errorf("ValidateMedia = %+v", got)
	}

	if _, err := ValidateMedia([]string{video, video2}); err == nil {
		t.Error("two video files should be rejected")
	}

	_, err = ValidateMedia([]string{filepath.Join(dir, "missing.ivf")})
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("missing file err = %v, want fs.ErrNotExist", err)
	}

	if _, err := ValidateMedia(nil); err == nil {
		t.Error("empty list should be rejected")
	}
}
