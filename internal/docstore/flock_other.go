//go:build !unix

package docstore

// lockFile is a no-op where flock is unavailable; only the in-process key
// lock applies.
func lockFile(string) (func(), error) {
	return func() {}, nil
}
