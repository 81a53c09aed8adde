package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrNetworkFilesystem means the journal would live on a mount where
	// SQLite's file locks cannot be trusted.
	ErrNetworkFilesystem = errors.New("journal path is on a network filesystem")
	// ErrNotWritable means the directory that would hold the journal rejects
	// new files.
	ErrNotWritable = errors.New("journal directory is not writable")

	errNoFSType = errors.New("filesystem type unavailable on this platform")
)

// Shared mounts where SQLite WAL and POSIX locks misbehave.
var sharedMounts = map[string]bool{
	"9p":     true,
	"afpfs":  true,
	"cifs":   true,
	"nfs":    true,
	"smb2":   true,
	"smbfs":  true,
	"webdav": true,
}

// Location describes where a journal file would be created.
type Location struct {
	Path   string // absolute journal path
	Anchor string // nearest directory that already exists
	FSType string // empty when the platform cannot tell
}

// CheckLocation rejects journal paths on shared mounts and directories the
// process cannot write to. Missing parent directories are fine; OpenSQLite
// creates them.
func CheckLocation(path string) (*Location, error) {
	return checkLocation(path, fsTypeOf)
}

func checkLocation(path string, fsType func(string) (string, error)) (*Location, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve journal path %q: %w", path, err)
	}
	anchor, err := existingAncestor(filepath.Dir(abs))
	if err != nil {
		return nil, err
	}
	loc := &Location{Path: abs, Anchor: anchor}

	kind, err := fsType(anchor)
	switch {
	case errors.Is(err, errNoFSType):
	case err != nil:
		return loc, fmt.Errorf("inspect filesystem of %s: %w", anchor, err)
	default:
		loc.FSType = kind
	}

	if sharedMounts[strings.ToLower(strings.TrimSpace(loc.FSType))] {
		return loc, fmt.Errorf("%w: %s is on %s; move journal.path to local disk or set it empty to disable the journal",
			ErrNetworkFilesystem, abs, loc.FSType)
	}

	if err := probeWritable(anchor); err != nil {
		return loc, fmt.Errorf("%w: %s: %v", ErrNotWritable, anchor, err)
	}
	return loc, nil
}

// existingAncestor walks up from dir to the first directory that exists.
func existingAncestor(dir string) (string, error) {
	for {
		info, err := os.Stat(dir)
		switch {
		case err == nil && info.IsDir():
			return dir, nil
		case err == nil:
			return "", fmt.Errorf("%s exists and is not a directory", dir)
		case !errors.Is(err, os.ErrNotExist):
			return "", fmt.Errorf("stat %s: %w", dir, err)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no existing directory above %s", dir)
		}
		dir = parent
	}
}

func probeWritable(dir string) error {
	f, err := os.CreateTemp(dir, ".pollbridge-probe-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}
