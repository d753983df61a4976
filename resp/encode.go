package resp

// PrebuiltFrame is a command encoded once and reused verbatim, for commands
// known at build time (e.g. a fixed PING keepalive). It satisfies the same
// contract as Command.Encode: appending it never allocates per argument.
type PrebuiltFrame []byte

// Prebuild encodes c once into a PrebuiltFrame.
func Prebuild(c Command) PrebuiltFrame {
	return PrebuiltFrame(c.Encode(nil))
}

// Encode appends the prebuilt bytes to dst.
func (f PrebuiltFrame) Encode(dst []byte) []byte {
	return append(dst, f...)
}
