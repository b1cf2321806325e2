package files

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Container is a media file format the broker can play from.
type Container string

const (
	IVF  Container = "ivf"
	Ogg  Container = "ogg"
	H264 Container = "h264"
)

// Kind is the media kind a container carries.
func (c Container) Kind() string {
	if c == Ogg {
		return "audio"
	}
	return "video"
}

// ErrUnsupported reports a file whose extension or header is not playable.
var ErrUnsupported = errors.New("unsupported media container")

var extensions = map[string]Container{
	".ivf":  IVF,
	".ogg":  Ogg,
	".opus": Ogg,
	".h264": H264,
	".264":  H264,
}

// MediaFile holds information about a file to play from
type MediaFile struct {
	// Path is the absolute path to the file
	Path string

	// Name is the filename (without directory)
	Name string

	// Size is the file size in bytes
	Size int64

	// Container is the detected file format
	Container Container
}

// ValidateMedia checks that every path exists, is readable and holds a known
// container, and that no media kind is given twice.
// A missing file yields an error matching fs.ErrNotExist.
func ValidateMedia(paths []string) ([]MediaFile, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no files specified")
	}

	var (
		media []MediaFile
		errs  []error
		kinds = make(map[string]string)
	)
	for _, path := range paths {
		f, err := validateSingleFile(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		kind := f.Container.Kind()
		if prev, dup := kinds[kind]; dup {
			errs = append(errs, fmt.Errorf("%s: second %s file, already playing %s", path, kind, prev))
			continue
		}
		kinds[kind] = path
		media = append(media, f)
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("file validation failed: %w", errors.Join(errs...))
	}
	return media, nil
}

// validateSingleFile checks a single file and returns its info
func validateSingleFile(path string) (MediaFile, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return MediaFile{}, fmt.Errorf("%s: failed to get absolute path: %w", path, err)
	}

	stat, err := os.Stat(absPath)
	if err != nil {
		return MediaFile{}, fmt.Errorf("%s: %w", path, err)
	}
	if stat.IsDir() {
		return MediaFile{}, fmt.Errorf("%s: is a directory", path)
	}
	if stat.Size() == 0 {
		return MediaFile{}, fmt.Errorf("%s: file is empty", path)
	}

	container, err := Detect(absPath)
	if err != nil {
		return MediaFile{}, fmt.Errorf("%s: %w", path, err)
	}

	return MediaFile{
		Path:      absPath,
		Name:      filepath.Base(absPath),
		Size:      stat.Size(),
		Container: container,
	}, nil
}

// Detect identifies the container of path from its extension and confirms
// it against the file's leading bytes.
func Detect(path string) (Container, error) {
	container, ok := extensions[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return "", fmt.Errorf("%w: extension %q", ErrUnsupported, filepath.Ext(path))
	}

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	head := make([]byte, 4)
	if _, err := io.ReadFull(f, head); err != nil {
		return "", fmt.Errorf("%w: short header", ErrUnsupported)
	}
	if !matchesMagic(container, head) {
		return "", fmt.Errorf("%w: %s header mismatch", ErrUnsupported, container)
	}
	return container, nil
}

func matchesMagic(c Container, head []byte) bool {
	switch c {
	case IVF:
		return bytes.Equal(head, []byte("DKIF"))
	case Ogg:
		return bytes.Equal(head, []byte("OggS"))
	case H264:
		return bytes.HasPrefix(head, []byte{0, 0, 1}) || bytes.Equal(head, []byte{0, 0, 0, 1})
	}
	return false
}
