package calibration

import (
	"bytes"
	"os"
	"path/filepath"

	pkgerrors "github.com/pkg/errors"
)

// WriteFile stores doc at path in the format chosen by its extension. The
// file is replaced atomically so a reader never sees half a document.
func WriteFile(path string, doc Document) error {
	var buf bytes.Buffer
	if err := Encode(&buf, doc, FormatForPath(path)); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return pkgerrors.Wrapf(err, "failed to create directory %s", dir)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to create temporary file in %s", dir)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		return pkgerrors.Wrapf(err, "failed to write %s", tmp.Name())
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return pkgerrors.Wrapf(err, "failed to sync %s", tmp.Name())
	}
	if err := tmp.Close(); err != nil {
		return pkgerrors.Wrapf(err, "failed to close %s", tmp.Name())
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return pkgerrors.Wrapf(err, "failed to chmod %s", tmp.Name())
	}
	return pkgerrors.Wrapf(os.Rename(tmp.Name(), path), "failed to replace %s", path)
}

// ReadFile decodes the document stored at path.
func ReadFile(path string) (Document, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Document{}, pkgerrors.Wrapf(err, "failed to read calibration file %s", path)
	}
	return Decode(b, FormatForPath(path))
}
