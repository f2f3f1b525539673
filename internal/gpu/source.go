package gpu

import (
	"github.com/gogpu/shaderprobe"
	"github.com/gogpu/shaderprobe/internal/library"
)

// Source is where the executor loads its shader library from.
type Source struct {
	name string
	load func() (*library.Library, error)
}

// DefaultSource compiles the embedded default library in-process.
func DefaultSource() Source {
	return Source{name: library.DefaultName, load: library.Default}
}

// ArchiveSource loads the portable library the harvester wrote next to
// archive, at archive + suffix.
func ArchiveSource(archive shaderprobe.ArchivePath, suffix string) Source {
	path := archive.Derive(suffix)
	return Source{name: path, load: func() (*library.Library, error) { return library.LoadFile(path) }}
}

// LibrarySource wraps an already compiled library.
func LibrarySource(lib *library.Library) Source {
	return Source{name: lib.Name(), load: func() (*library.Library, error) { return lib, nil }}
}

func (s Source) String() string { return s.name }
