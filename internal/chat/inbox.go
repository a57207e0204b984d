package chat

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Inbox writes received files into a directory.
type Inbox struct {
	dir string
}

// NewInbox returns an inbox rooted at dir. The directory is created on the
// first save.
func NewInbox(dir string) *Inbox {
	return &Inbox{dir: dir}
}

// Dir returns the output directory.
func (in *Inbox) Dir() string {
	return in.dir
}

// Save stores a FILE payload and returns the path written. Payloads without a
// valid envelope are kept whole as file-<id>.bin. Existing files are never
// overwritten; a numeric suffix is added instead.
func (in *Inbox) Save(id uint32, payload []byte) (string, int, error) {
	name, data, ok := UnwrapFile(payload)
	if !ok {
		name, data = fmt.Sprintf("file-%d.bin", id), payload
	}

	if err := os.MkdirAll(in.dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("failed to create %s: %w", in.dir, err)
	}

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 0; ; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s-%d%s", stem, i, ext)
		}
		path := filepath.Join(in.dir, candidate)

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", 0, fmt.Errorf("failed to save %s: %w", path, err)
		}

		_, werr := f.Write(data)
		cerr := f.Close()
		if err := errors.Join(werr, cerr); err != nil {
			return "", 0, fmt.Errorf("failed to save %s: %w", path, err)
		}
		return path, len(data), nil
	}
}
