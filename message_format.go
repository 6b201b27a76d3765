package signalr

import (
	"fmt"
)

const recordSeparatorCode = 0x1e

var mFormat MessageFormat

// MessageFormat frames hub protocol payloads with the record-separator
// terminator SignalR's text transports expect. It has no state; the
// receiver is kept only so call sites read the same as the teacher's.
type MessageFormat struct{}

func (f *MessageFormat) write(m string) string {
	return fmt.Sprintf("%s%s", m, string(recordSeparatorCode))
}

func (f *MessageFormat) parse(m []byte) []byte {
	if len(m) == 0 {
		return m
	}
	return m[:len(m)-1]
}
