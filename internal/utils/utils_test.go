package utils

import (
	"testing"
	"time"
)

func TestFormatSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   int64
		want string
	}{
		{512, "512 B"},
		{2048, "2.00 KB"},
		{5 * 1024 * 1024, "5.00 MB"},
		{3 * 1024 * 1024 * 1024, "3.00 GB"},
	}
	for _, tt := range tests {
		if got := FormatSize(tt.in); got != tt.want {
			t.Errorf("FormatSize(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatTimeDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   time.Duration
		want string
	}{
		{300 * time.Millisecond, "<1s"},
		{42 * time.Second, "42s"},
		{3*time.Minute + 5*time.Second, "3m 5s"},
		{2*time.Hour + 1*time.Minute, "2h 1m 0s"},
	}
	for _, tt := range tests {
		if got := FormatTimeDuration(tt.in); got != tt.want {
			t.Errorf("FormatTimeDuration(%s) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTruncateString(t *testing.T) {
	t.Parallel()

	if got := TruncateString("short", 10); got != "short" {
		t.Errorf("got %q", got)
	}
	if got := TruncateString("a-rather-long-name.ivf", 10); got != "a-rathe..." {
		t.Errorf("got %q, want a-rathe...", got)
	}
	if got := TruncateString("abcdef", 2); got != "ab" {
		t.Errorf("got %q, want ab", got)
	}
	if got := ShortID("0b7e6c1a-8f2d-4c5e-9a3b-1d2e3f4a5b6c"); got != "0b7e6c1a" {
		t.Errorf("ShortID = %q", got)
	}
}
