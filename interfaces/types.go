package interfaces

import (
	"strings"
)

// StoreType identifies the kind of store managing a URI scheme.
type StoreType string

const (
	// ClasspathType serves embedded resources registered as fs.FS.
	ClasspathType StoreType = "classpath"
	// FileType serves the local file system.
	FileType StoreType = "file"
	// HTTPType serves plain HTTP resources (read-only).
	HTTPType StoreType = "http"
	// HTTPSType serves HTTP over TLS resources (read-only).
	HTTPSType StoreType = "https"
	// FTPType serves FTP resources (read-only).
	FTPType StoreType = "ftp"
	// SFTPType serves SSH file transfer resources (read-only).
	SFTPType StoreType = "sftp"
	// WebappType serves files below the web application root (read-only).
	WebappType StoreType = "webapp"
	// JDBCType persists resources as blobs in a SQL database.
	JDBCType StoreType = "jdbc"
	// JPAType persists resources as blobs in a named persistence unit.
	JPAType StoreType = "jpa"
	// MemoryType keeps resources in process memory.
	MemoryType StoreType = "memory"
)

// BuiltinStoreTypes lists the store types known without registration.
var BuiltinStoreTypes = []StoreType{
	ClasspathType,
	FileType,
	HTTPType,
	HTTPSType,
	FTPType,
	SFTPType,
	WebappType,
	JDBCType,
	JPAType,
	MemoryType,
}

// String returns the scheme name.
func (t StoreType) String() string {
	return string(t)
}

// IsBuiltin reports whether t is one of the built-in store types.
func (t StoreType) IsBuiltin() bool {
	for _, b := range BuiltinStoreTypes {
		if b == t {
			return true
		}
	}
	return false
}

// SchemeOf returns the lower-cased scheme of uri, the text before the first
// colon. It returns false when uri has no scheme segment.
func SchemeOf(uri string) (string, bool) {
	idx := strings.Index(uri, ":")
	if idx <= 0 {
		return "", false
	}
	scheme := uri[:idx]
	for i, c := range scheme {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case i > 0 && (c >= '0' && c <= '9' || c == '+' || c == '-' || c == '.'):
		default:
			return "", false
		}
	}
	return strings.ToLower(scheme), true
}
