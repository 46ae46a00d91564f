package reader

import (
	"os"
	"syscall"
)

// inodeOf extracts the inode from fi via its platform-specific Sys() value.
// On platforms whose os.FileInfo.Sys() isn't a *syscall.Stat_t (Windows),
// the type assertion fails and nil is returned, which callers treat as
// "inode unknown" rather than "inode changed" — matching the reference
// implementation's #[cfg(not(unix))] fallback without needing a build tag.
func inodeOf(fi os.FileInfo) *uint64 {
	return Inode(fi)
}

// Inode extracts the inode from fi via its platform-specific Sys() value,
// returning nil where the platform doesn't expose one. Exported so other
// packages (bookmark validation) can apply the same identity check.
func Inode(fi os.FileInfo) *uint64 {
	if fi == nil {
		return nil
	}
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return nil
	}
	ino := uint64(st.Ino)
	return &ino
}
