package reward

import (
	"github.com/lithammer/shortuuid/v4"
)

const (
	// DefaultCodePrefix is prepended to every generated code.
	DefaultCodePrefix = "SPIN-"
	// codeAlphabet leaves out 0/O and 1/I so codes survive being read aloud.
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeLength   = 10
)

// Generator produces candidate code strings. Uniqueness is enforced by the
// store, which asks for a new candidate on collision.
type Generator interface {
	Generate() string
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func() string

// Generate calls f.
func (f GeneratorFunc) Generate() string {
	return f()
}

// CodeGenerator generates prefixed random codes from an unambiguous
// upper-case alphabet.
type CodeGenerator struct {
	prefix string
}

// NewCodeGenerator returns a CodeGenerator using the given prefix, or
// DefaultCodePrefix when prefix is empty.
func NewCodeGenerator(prefix string) *CodeGenerator {
	if prefix == "" {
		prefix = DefaultCodePrefix
	}
	return &CodeGenerator{prefix: NormalizeCode(prefix)}
}

// Generate returns the prefix followed by ten random characters.
func (g *CodeGenerator) Generate() string {
	id := shortuuid.NewWithAlphabet(codeAlphabet)
	if len(id) > codeLength {
		id = id[:codeLength]
	}
	return g.prefix + id
}
