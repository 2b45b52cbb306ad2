package encoding

import (
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// ToUTF8 repairs payloads produced by legacy publishers that encode text as Windows-1252
// (e.g. shop names like "Döner"). Valid UTF-8 input is returned unchanged
func ToUTF8(b []byte) []byte {
	if len(b) == 0 || utf8.Valid(b) {
		return b
	}

	decoded, err := charmap.Windows1252.NewDecoder().Bytes(b)
	if err != nil {
		// The JSON decoder rejects it downstream
		return b
	}

	return decoded
}
