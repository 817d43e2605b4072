package registry

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/starford/distwiki/internal/apperr"
)

// TitleSize is the on-chain width of a title.
const TitleSize = 32

// EncodeTitle returns the on-chain key for title: its UTF-8 bytes
// right-padded with zeros. A NUL byte would collide with the padding.
func EncodeTitle(title string) ([TitleSize]byte, error) {
	var out [TitleSize]byte
	if strings.IndexByte(title, 0) >= 0 {
		return out, fmt.Errorf("registry: title %q contains NUL: %w", title, apperr.ErrInvalidTitle)
	}
	if len(title) > TitleSize {
		return out, fmt.Errorf("registry: title %q is %d bytes, max %d: %w", title, len(title), TitleSize, apperr.ErrTitleTooLong)
	}
	copy(out[:], title)
	return out, nil
}

// DecodeTitle strips the zero padding from an on-chain title.
func DecodeTitle(raw [TitleSize]byte) string {
	return string(bytes.TrimRight(raw[:], "\x00"))
}
