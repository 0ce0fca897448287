package audio

const (
	MediaTypeWAV  = "audio/wav"
	MediaTypeMPEG = "audio/mpeg"
)

// Recording is one finished capture window. It is handed to exactly one turn
// and dropped afterwards; nothing keeps a reference to Data once the turn is
// over.
type Recording struct {
	Data      []byte
	MediaType string
	// FileName is the name used when the recording is uploaded as a file.
	FileName string
}

// Clip is a synthesized reply as returned by a speech synthesizer.
type Clip struct {
	Data      []byte
	MediaType string
}

func (c Clip) IsEmpty() bool { return len(c.Data) == 0 }
