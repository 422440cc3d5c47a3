package audio

// Encoding identifies the byte-level encoding of a frame
type Encoding string

const (
	EncodingMuLaw Encoding = "audio/x-mulaw"
	EncodingPCM16 Encoding = "audio/l16"
)

// Telephony and recognizer sample rates, fixed by the provider contracts
const (
	TelephonyRate  = 8000
	RecognizerRate = 16000
)

// Frame is a transient audio buffer tagged with its wire parameters.
// Frames are produced and consumed per ingestion/emission cycle and
// never persisted.
type Frame struct {
	Data       []byte
	Encoding   Encoding
	SampleRate int
	Channels   int
}

// NewMuLawFrame wraps raw telephony payload bytes
func NewMuLawFrame(data []byte) Frame {
	return Frame{Data: data, Encoding: EncodingMuLaw, SampleRate: TelephonyRate, Channels: 1}
}

// NewPCMFrame wraps 16-bit little-endian recognizer audio
func NewPCMFrame(data []byte) Frame {
	return Frame{Data: data, Encoding: EncodingPCM16, SampleRate: RecognizerRate, Channels: 1}
}
