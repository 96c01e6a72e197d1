// Dropwatch
// Copyright (c) 2025, DCSO GmbH

// Package archive opens drops and splits their contents into per-device
// groups. Only entry names, sizes and directory flags are needed for the
// structural analysis; contents are read on demand through a Source.
package archive

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/spf13/afero"
)

var (
	// ErrEncrypted is returned when an archive has encrypted entries.
	ErrEncrypted = errors.New("archive is encrypted")
	// ErrCorrupt is returned when an archive cannot be read at all.
	ErrCorrupt = errors.New("archive is corrupt")
	// ErrNoEntries is returned for drops without a single valid member.
	ErrNoEntries = errors.New("archive has no valid entries")
)

// Entry is a single member of an archive.
type Entry struct {
	// Name is the slash separated path as stored in the archive.
	Name     string
	Size     int64
	IsDir    bool
	Modified time.Time

	index int
}

// Source gives access to the members of an opened drop.
type Source interface {
	Name() string
	Entries() []Entry
	Open(e Entry) (io.ReadCloser, error)
	Close() error
}

// ZipSource reads a ZIP file.
type ZipSource struct {
	name    string
	file    afero.File
	reader  *zip.Reader
	entries []Entry
}

// OpenZip opens the ZIP file at p. It returns ErrEncrypted if any file
// entry is encrypted and an error wrapping ErrCorrupt if p is not a
// readable ZIP.
func OpenZip(fs afero.Fs, p string) (*ZipSource, error) {
	f, err := fs.Open(p)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	zr, err := zip.NewReader(f, fi.Size())
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		f.Close()
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	zr.RegisterDecompressor(zstd.ZipMethodWinZip, zstd.ZipDecompressor())

	zs := &ZipSource{
		name:   filepath.Base(p),
		file:   f,
		reader: zr,
	}
	for i, zf := range zr.File {
		isDir := strings.HasSuffix(zf.Name, "/") || strings.HasSuffix(zf.Name, "\\") || zf.FileInfo().IsDir()
		if !isDir && zf.Flags&0x1 != 0 {
			f.Close()
			return nil, ErrEncrypted
		}
		zs.entries = append(zs.entries, Entry{
			Name:     zf.Name,
			Size:     int64(zf.UncompressedSize64),
			IsDir:    isDir,
			Modified: zf.Modified,
			index:    i,
		})
	}
	return zs, nil
}

// IsEncryptedZip reports whether the first file entry of a ZIP carries the
// encryption flag. Unreadable files are reported as not encrypted.
func IsEncryptedZip(fs afero.Fs, p string) bool {
	f, err := fs.Open(p)
	if err != nil {
		return false
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	zr, err := zip.NewReader(f, fi.Size())
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return false
	}
	for _, zf := range zr.File {
		if strings.HasSuffix(zf.Name, "/") || zf.FileInfo().IsDir() {
			continue
		}
		return zf.Flags&0x1 != 0
	}
	return false
}

// Name returns the archive file name.
func (z *ZipSource) Name() string { return z.name }

// Entries returns all members in archive order.
func (z *ZipSource) Entries() []Entry { return z.entries }

// Open returns a reader for the contents of e.
func (z *ZipSource) Open(e Entry) (io.ReadCloser, error) {
	if e.index < 0 || e.index >= len(z.reader.File) {
		return nil, fmt.Errorf("no such entry: %s", e.Name)
	}
	return z.reader.File[e.index].Open()
}

// Close releases the underlying file.
func (z *ZipSource) Close() error {
	return z.file.Close()
}

// DirSource presents an extracted directory as a drop.
type DirSource struct {
	name    string
	root    string
	fs      afero.Fs
	entries []Entry
}

// OpenDir walks root and returns a Source named name.
func OpenDir(fs afero.Fs, root, name string) (*DirSource, error) {
	ds := &DirSource{name: name, root: root, fs: fs}
	err := afero.Walk(fs, root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		ds.entries = append(ds.entries, Entry{
			Name:     filepath.ToSlash(rel),
			Size:     info.Size(),
			IsDir:    info.IsDir(),
			Modified: info.ModTime(),
			index:    -1,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	sort.Slice(ds.entries, func(i, j int) bool {
		return ds.entries[i].Name < ds.entries[j].Name
	})
	return ds, nil
}

// Name returns the drop name.
func (d *DirSource) Name() string { return d.name }

// Entries returns all members in path order.
func (d *DirSource) Entries() []Entry { return d.entries }

// Open returns a reader for the contents of e.
func (d *DirSource) Open(e Entry) (io.ReadCloser, error) {
	return d.fs.Open(filepath.Join(d.root, filepath.FromSlash(path.Clean(e.Name))))
}

// Close is a no-op.
func (d *DirSource) Close() error { return nil }

// ReadEntry reads at most limit bytes of e. The boolean is false if the
// entry was longer than limit.
func ReadEntry(src Source, e Entry, limit int64) ([]byte, bool, error) {
	rc, err := src.Open(e)
	if err != nil {
		return nil, false, err
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, limit+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(data)) > limit {
		return data[:limit], false, nil
	}
	return data, true, nil
}
