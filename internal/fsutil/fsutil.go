package fsutil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

var fitsExts = map[string]struct{}{
	".fits": {},
	".fit":  {},
	".fts":  {},
}

var rasterExts = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".tif":  {},
	".tiff": {},
	".bmp":  {},
	".gif":  {},
	".webp": {},
}

// IsFITSFile checks whether a path has a FITS container extension.
func IsFITSFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	_, ok := fitsExts[ext]
	return ok
}

// IsRasterFile checks whether a path looks like a plain raster image.
func IsRasterFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	_, ok := rasterExts[ext]
	return ok
}

// FileExists reports whether path exists and is a regular file.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// DirIsEmpty reports whether path is an empty directory. A missing
// directory counts as empty.
func DirIsEmpty(path string) (bool, error) {
	entries, err := os.ReadDir(path)
	if os.IsNotExist(err) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return len(entries) == 0, nil
}

// CopyFile copies src to dst, creating dst's directory if needed.
func CopyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// HostOwnership carries the uid/gid that output files should be given so
// they remain usable on the host side of a bind mount. When the aligner
// runs outside a container the env vars are unset and no chown happens.
type HostOwnership struct {
	UID int
	GID int
	set bool
}

const (
	hostUIDEnv = "SKYALIGN_HOST_UID"
	hostGIDEnv = "SKYALIGN_HOST_GID"
)

// OwnershipFromEnv reads the host identity from the environment. Both
// variables must be present and numeric, otherwise the process identity
// is kept as-is.
func OwnershipFromEnv() HostOwnership {
	uidStr, okU := os.LookupEnv(hostUIDEnv)
	gidStr, okG := os.LookupEnv(hostGIDEnv)
	if !okU || !okG {
		return HostOwnership{}
	}
	uid, errU := strconv.Atoi(uidStr)
	gid, errG := strconv.Atoi(gidStr)
	if errU != nil || errG != nil {
		return HostOwnership{}
	}
	return HostOwnership{UID: uid, GID: gid, set: true}
}

// Apply chowns path (and, for directories, everything beneath it) to the
// host identity. A no-op when no identity was propagated.
func (h HostOwnership) Apply(path string) error {
	if !h.set {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return os.Chown(path, h.UID, h.GID)
	}
	return filepath.WalkDir(path, func(p string, _ os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := os.Chown(p, h.UID, h.GID); err != nil {
			return fmt.Errorf("chown %s: %w", p, err)
		}
		return nil
	})
}

// IsSet reports whether a host identity was propagated.
func (h HostOwnership) IsSet() bool { return h.set }
