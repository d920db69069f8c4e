/*
Package tarball packs files and directories into a single tar stream and
unpacks it again.

Every input is stored under its base name; directories are walked in
lexical order and stored with their relative structure, so the top-level
names of an archive are exactly the base names of the packed inputs.
Symlinks are stored as they are and never dereferenced.
*/
package tarball

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

var (
	// ErrCorrupt is returned for streams that are not a well formed
	// archive written by Pack.
	ErrCorrupt = errors.New("archive is corrupt")
	// ErrDuplicateName is returned when two inputs share a base name and
	// would collide inside the archive.
	ErrDuplicateName = errors.New("inputs share the same name")
)

// Kind is the type of an archive entry.
type Kind int

const (
	File Kind = iota
	Dir
	Symlink
)

func (k Kind) String() string {
	switch k {
	case Dir:
		return "directory"
	case Symlink:
		return "symlink"
	}
	return "file"
}

// Entry describes one member of an archive.
type Entry struct {
	Name string // slash separated, relative, without trailing slash
	Kind Kind
	Size int64
	Mode fs.FileMode
}

// Index lists the members of an archive in stream order.
type Index struct {
	Entries []Entry
	// Top holds one entry per top-level name, in order of first
	// appearance. A directory that is only implied by its children is
	// reported as Dir.
	Top []Entry
}

// CheckNames reports inputs that would share a top-level name.
func CheckNames(inputs []string) error {
	seen := make(map[string]string, len(inputs))
	for _, in := range inputs {
		base := filepath.Base(in)
		if prev, ok := seen[base]; ok {
			return fmt.Errorf("%w: %s and %s", ErrDuplicateName, prev, in)
		}
		seen[base] = in
	}
	return nil
}

// Pack writes the given inputs to w as a tar stream.
func Pack(w io.Writer, inputs []string) error {
	if err := CheckNames(inputs); err != nil {
		return err
	}

	tw := tar.NewWriter(w)
	for _, in := range inputs {
		if err := packOne(tw, in); err != nil {
			return err
		}
	}
	return tw.Close()
}

// packOne walks src and writes each file found to the tar writer.
func packOne(tw *tar.Writer, src string) error {
	src = filepath.Clean(src)
	base := filepath.Base(src)

	return filepath.WalkDir(src, func(file string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		fi, err := os.Lstat(file)
		if err != nil {
			return err
		}

		// We include symlinks as is and won't dereference them.
		var link string
		if fi.Mode()&fs.ModeSymlink != 0 {
			if link, err = os.Readlink(file); err != nil {
				return err
			}
		} else if !fi.Mode().IsRegular() && !fi.IsDir() {
			return fmt.Errorf("cannot archive %s: unsupported file type %s", file, fi.Mode().Type())
		}

		header, err := tar.FileInfoHeader(fi, link)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, file)
		if err != nil {
			return err
		}
		name := base
		if rel != "." {
			name = path.Join(filepath.ToSlash(base), filepath.ToSlash(rel))
		}
		if fi.IsDir() {
			name += "/"
		}
		header.Name = name

		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if !fi.Mode().IsRegular() {
			return nil
		}

		f, err := os.Open(file)
		if err != nil {
			return err
		}
		_, err = io.Copy(tw, f)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		return err
	})
}

// Inspect reads the whole stream and reports its members. Any structural
// problem is reported as ErrCorrupt.
func Inspect(r io.Reader) (*Index, error) {
	idx := &Index{}
	tops := make(map[string]int)
	err := walk(r, func(h *tar.Header, name string, e Entry, _ io.Reader) error {
		idx.Entries = append(idx.Entries, e)
		top, _, nested := strings.Cut(name, "/")
		kind := e.Kind
		if nested {
			kind = Dir
		}
		if i, ok := tops[top]; ok {
			if idx.Top[i].Kind != Dir || kind != Dir {
				return fmt.Errorf("%w: %s appears more than once", ErrCorrupt, top)
			}
			return nil
		}
		tops[top] = len(idx.Top)
		topEntry := Entry{Name: top, Kind: kind, Mode: fs.ModeDir | 0o755}
		if !nested {
			topEntry = e
		}
		idx.Top = append(idx.Top, topEntry)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(idx.Entries) == 0 {
		return nil, fmt.Errorf("%w: no entries", ErrCorrupt)
	}
	return idx, nil
}

// Unpack reads the stream and recreates its members below dst, which must
// be an existing directory. Files that already exist are not overwritten.
func Unpack(r io.Reader, dst string) error {
	type dirMode struct {
		path string
		h    *tar.Header
	}
	var dirs []dirMode

	err := walk(r, func(h *tar.Header, name string, e Entry, content io.Reader) error {
		target := filepath.Join(dst, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(target), 0o700); err != nil {
			return err
		}

		switch e.Kind {
		case Dir:
			if err := os.Mkdir(target, 0o700); err != nil && !errors.Is(err, fs.ErrExist) {
				return err
			}
			// Permissions are applied last so read-only directories
			// can still be filled.
			dirs = append(dirs, dirMode{target, h})
		case Symlink:
			if err := os.Symlink(h.Linkname, target); err != nil {
				return err
			}
		case File:
			f, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, e.Mode.Perm())
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, content); err != nil {
				f.Close()
				return fmt.Errorf("%w: %v", ErrCorrupt, err)
			}
			if err := f.Close(); err != nil {
				return err
			}
			// The umask may have masked bits away on create.
			if err := os.Chmod(target, e.Mode.Perm()); err != nil {
				return err
			}
			if err := restoreTimes(target, h); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Deepest first, so a parent's mode never blocks its children.
	sort.Slice(dirs, func(i, j int) bool { return len(dirs[i].path) > len(dirs[j].path) })
	for _, d := range dirs {
		if err := os.Chmod(d.path, fs.FileMode(d.h.Mode).Perm()); err != nil {
			return err
		}
		if err := restoreTimes(d.path, d.h); err != nil {
			return err
		}
	}
	return nil
}

func restoreTimes(target string, h *tar.Header) error {
	if h.ModTime.IsZero() {
		return nil
	}
	atime := h.AccessTime
	if atime.IsZero() {
		atime = h.ModTime
	}
	return os.Chtimes(target, atime, h.ModTime)
}

// walk iterates over a tar stream, validating each header before fn sees
// it: names must be clean, relative, unique and must not pass through a
// file or symlink.
func walk(r io.Reader, fn func(h *tar.Header, name string, e Entry, content io.Reader) error) error {
	tr := tar.NewReader(r)
	leaves := make(map[string]bool) // files and symlinks
	seen := make(map[string]bool)
	for {
		h, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCorrupt, err)
		}

		name := strings.TrimSuffix(h.Name, "/")
		if err := checkName(name); err != nil {
			return err
		}
		if seen[name] {
			return fmt.Errorf("%w: duplicate entry %s", ErrCorrupt, name)
		}
		seen[name] = true
		for dir := path.Dir(name); dir != "."; dir = path.Dir(dir) {
			if leaves[dir] {
				return fmt.Errorf("%w: %s is below non-directory %s", ErrCorrupt, name, dir)
			}
		}

		e := Entry{Name: name, Size: h.Size, Mode: h.FileInfo().Mode()}
		switch h.Typeflag {
		case tar.TypeDir:
			e.Kind = Dir
		case tar.TypeSymlink:
			e.Kind = Symlink
			leaves[name] = true
		case tar.TypeReg:
			e.Kind = File
			leaves[name] = true
		default:
			return fmt.Errorf("%w: %s has unsupported type %q", ErrCorrupt, name, h.Typeflag)
		}
		if err := fn(h, name, e, tr); err != nil {
			return err
		}
	}
}

func checkName(name string) error {
	if name == "" || path.IsAbs(name) || path.Clean(name) != name || strings.Contains(name, `\`) {
		return fmt.Errorf("%w: invalid entry name %q", ErrCorrupt, name)
	}
	for _, part := range strings.Split(name, "/") {
		if part == ".." || part == "." {
			return fmt.Errorf("%w: entry %q escapes the archive", ErrCorrupt, name)
		}
	}
	return nil
}
