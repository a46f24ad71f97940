package repository

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/matins/pkg/model"
)

const (
	dirPerm         = 0o755
	filePerm        = 0o644
	backupStampFmt  = "20060102T150405.000"
	writeProbeToken = ".writable-*"
)

// ioError tags err as a storage I/O failure so callers can match model.ErrStorageIO
func ioError(err error, msg string, opts ...goerr.Option) error {
	return goerr.Wrap(errors.Join(model.ErrStorageIO, err), msg, opts...)
}

// readFile returns the file content, or ok=false when the file does not exist
func readFile(path string) ([]byte, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, ioError(err, "failed to read file", goerr.V("path", path))
	}
	return data, true, nil
}

// writeJSONAtomic encodes v and replaces path through a temporary file in the same
// directory, so readers never observe a partially written file.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return goerr.Wrap(err, "failed to encode json", goerr.V("path", path))
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return ioError(err, "failed to create directory", goerr.V("dir", dir))
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return ioError(err, "failed to create temp file", goerr.V("path", path))
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		return ioError(err, "failed to write temp file", goerr.V("path", tmpPath))
	}
	if err := tmp.Chmod(filePerm); err != nil {
		return ioError(err, "failed to chmod temp file", goerr.V("path", tmpPath))
	}
	if err := tmp.Close(); err != nil {
		return ioError(err, "failed to close temp file", goerr.V("path", tmpPath))
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return ioError(err, "failed to replace file", goerr.V("path", path))
	}
	return nil
}

// backupFile copies data next to path with a timestamp suffix and returns the
// backup path
func backupFile(path string, data []byte, now time.Time) (string, error) {
	backup := path + ".backup." + now.Format(backupStampFmt)
	if err := os.WriteFile(backup, data, filePerm); err != nil {
		return "", ioError(err, "failed to write backup file", goerr.V("path", backup))
	}
	return backup, nil
}

func isBlank(data []byte) bool {
	return len(bytes.TrimSpace(data)) == 0
}

// EnsureWritable creates dir when needed and proves that files can be created in
// it. It is meant for startup, where failure is fatal.
func EnsureWritable(dir string) error {
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return ioError(err, "failed to create directory", goerr.V("dir", dir))
	}

	probe, err := os.CreateTemp(dir, writeProbeToken)
	if err != nil {
		return ioError(err, "directory is not writable", goerr.V("dir", dir))
	}
	name := probe.Name()
	_ = probe.Close()

	if _, err := os.ReadFile(name); err != nil {
		_ = os.Remove(name)
		return ioError(err, "directory is not readable", goerr.V("dir", dir))
	}
	if err := os.Remove(name); err != nil {
		return ioError(err, "failed to remove probe file", goerr.V("path", name))
	}
	return nil
}
