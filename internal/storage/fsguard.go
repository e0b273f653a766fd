package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// SQLite relies on POSIX locks that these filesystems do not honour.
var remoteFilesystems = []string{"afpfs", "cifs", "nfs", "nfs4", "smb2", "smbfs", "webdav"}

// RemoteFSError reports a state database placed on a network mount.
type RemoteFSError struct {
	Path   string
	FSType string
}

func (e *RemoteFSError) Error() string {
	return fmt.Sprintf("state database %q is on a %s mount; set state.path to a local disk", e.Path, e.FSType)
}

// fsTyper names the filesystem holding an existing path.
type fsTyper func(path string) (string, error)

// guardLocalDisk returns a *RemoteFSError when path would live on a network
// mount. Any other error means the type could not be read.
func guardLocalDisk(path string, typeOf fsTyper) error {
	existing, err := closestExisting(path)
	if err != nil {
		return err
	}
	fsType, err := typeOf(existing)
	if err != nil {
		return fmt.Errorf("read filesystem type of %q: %w", existing, err)
	}
	if isRemoteFS(fsType) {
		return &RemoteFSError{Path: path, FSType: fsType}
	}
	return nil
}

// closestExisting walks up from path to the first component that exists.
func closestExisting(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", path, err)
	}
	for dir := abs; ; dir = filepath.Dir(dir) {
		_, err := os.Stat(dir)
		switch {
		case err == nil:
			return dir, nil
		case !errors.Is(err, os.ErrNotExist):
			return "", err
		case dir == filepath.Dir(dir):
			return "", fmt.Errorf("no existing ancestor of %q", abs)
		}
	}
}

func isRemoteFS(fsType string) bool {
	return slices.Contains(remoteFilesystems, strings.ToLower(strings.TrimSpace(fsType)))
}
