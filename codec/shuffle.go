package codec

// shuffle regroups the block byte-wise by significance: all first bytes
// of every element, then all second bytes, and so on. For slowly varying
// numeric data this clusters near-constant bytes into long runs the
// block compressor can exploit.
func shuffle(raw []byte, elemSize int) []byte {
	n := len(raw) / elemSize
	out := make([]byte, len(raw))
	for b := 0; b < elemSize; b++ {
		dst := out[b*n : (b+1)*n]
		for i := 0; i < n; i++ {
			dst[i] = raw[i*elemSize+b]
		}
	}
	return out
}

// unshuffle is the inverse of shuffle.
func unshuffle(shuffled []byte, elemSize int) []byte {
	n := len(shuffled) / elemSize
	out := make([]byte, len(shuffled))
	for b := 0; b < elemSize; b++ {
		src := shuffled[b*n : (b+1)*n]
		for i := 0; i < n; i++ {
			out[i*elemSize+b] = src[i]
		}
	}
	return out
}
