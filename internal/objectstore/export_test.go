package objectstore

import "io/fs"

// SetStatFile replaces the stat call LocalStore uses to describe artifacts.
func SetStatFile(s *LocalStore, stat func(name string) (fs.FileInfo, error)) {
	s.statFile = stat
}
