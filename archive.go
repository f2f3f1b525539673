package shaderprobe

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ArchivePath is the single hand-off point between the harvester and every
// downstream stage. It is generated once per run and never deleted by
// shaderprobe; the OS temp directory cleanup owns it.
type ArchivePath string

// archiveSuffixLen is the number of random hex digits in a generated path.
const archiveSuffixLen = 12

// NewArchivePath returns a fresh archive location under dir (os.TempDir if
// empty). The file name carries a random 12-hex-digit suffix so concurrent
// invocations never collide.
func NewArchivePath(dir string) ArchivePath {
	if dir == "" {
		dir = os.TempDir()
	}
	id := uuid.New()
	// The first 12 hex digits of a v4 UUID are all random; the version
	// nibble comes after them.
	hex := strings.ReplaceAll(id.String(), "-", "")
	return ArchivePath(filepath.Join(dir, fmt.Sprintf("shaderprobe-%s", strings.ToUpper(hex[:archiveSuffixLen]))))
}

// String returns the filesystem path.
func (p ArchivePath) String() string { return string(p) }

// Derive returns the path with suffix appended, e.g. "-thin" for the
// single-architecture binary or ".spv" for the portable library.
func (p ArchivePath) Derive(suffix string) string { return string(p) + suffix }

// ArchitectureSlice identifies one GPU instruction-set family inside a
// multi-architecture archive, e.g. "applegpu_g13g".
type ArchitectureSlice string

// ShaderSymbol is one entry stub found in a thinned binary's symbol table.
type ShaderSymbol struct {
	// Address is the hex address exactly as printed by the symbol dump,
	// without a 0x prefix.
	Address string
	// RawName is the symbol name as printed by the symbol dump.
	RawName string
	// DisplayName is the human-readable header, "Shader: " + RawName.
	DisplayName string
}

// DisplayPrefix is prepended to a raw symbol to form its display name.
const DisplayPrefix = "Shader: "

// NewShaderSymbol derives the display name for a raw symbol.
func NewShaderSymbol(address, raw string) ShaderSymbol {
	return ShaderSymbol{
		Address:     address,
		RawName:     raw,
		DisplayName: DisplayPrefix + raw,
	}
}

// Offset returns the address as a 0x-prefixed byte offset for the
// disassembler.
func (s ShaderSymbol) Offset() string { return "0x" + s.Address }
