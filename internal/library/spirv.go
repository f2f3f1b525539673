package library

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gogpu/naga/ir"
)

const (
	spirvMagic       = 0x07230203
	spirvHeaderWords = 5

	opEntryPoint = 15

	execModelVertex    = 0
	execModelFragment  = 4
	execModelGLCompute = 5
)

func wordsFromBytes(data []byte) ([]uint32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("spirv: length %d is not a multiple of 4", len(data))
	}
	words := make([]uint32, len(data)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(data[4*i:])
	}
	return words, nil
}

// scanEntryPoints walks the instruction stream and collects every
// OpEntryPoint with a vertex, fragment or compute execution model.
func scanEntryPoints(words []uint32) ([]Entry, error) {
	if len(words) < spirvHeaderWords {
		return nil, errors.New("spirv: module shorter than header")
	}
	if words[0] != spirvMagic {
		return nil, fmt.Errorf("spirv: bad magic %#08x", words[0])
	}

	var entries []Entry
	for i := spirvHeaderWords; i < len(words); {
		count := int(words[i] >> 16)
		op := words[i] & 0xFFFF
		if count == 0 || i+count > len(words) {
			return nil, fmt.Errorf("spirv: truncated instruction at word %d", i)
		}
		if op == opEntryPoint {
			if count < 4 {
				return nil, fmt.Errorf("spirv: short OpEntryPoint at word %d", i)
			}
			name := literalString(words[i+3 : i+count])
			switch words[i+1] {
			case execModelVertex:
				entries = append(entries, Entry{Name: name, Stage: ir.StageVertex})
			case execModelFragment:
				entries = append(entries, Entry{Name: name, Stage: ir.StageFragment})
			case execModelGLCompute:
				entries = append(entries, Entry{Name: name, Stage: ir.StageCompute})
			}
		}
		i += count
	}
	return entries, nil
}

// literalString decodes a nul-terminated SPIR-V literal packed into words.
func literalString(words []uint32) string {
	b := make([]byte, 0, 4*len(words))
	for _, w := range words {
		for shift := 0; shift < 32; shift += 8 {
			c := byte(w >> shift)
			if c == 0 {
				return string(b)
			}
			b = append(b, c)
		}
	}
	return string(b)
}
