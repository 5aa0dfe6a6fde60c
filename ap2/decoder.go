package ap2

// Decoder turns one ADTS-framed AAC-ELD packet into interleaved
// signed 16-bit PCM. Decoding itself (and the lossless rate
// conversion downstream of it) is out of scope for this module; what
// matters here is that the pipeline has a single pluggable seam for
// it, matching the build-tag pattern used for optional codec support
// elsewhere.
type Decoder interface {
	Decode(adtsFrame []byte) ([]byte, error)
	SetDebug(on bool)
}
