package classfile

// DecodeModifiedUTF8 converts the modified UTF-8 bytes stored in a Utf8
// constant into UTF-16 code units. Malformed sequences decode byte-wise.
func DecodeModifiedUTF8(s string) []uint16 {
	out := make([]uint16, 0, len(s))
	for i := 0; i < len(s); {
		b := s[i]
		switch {
		case b&0x80 == 0:
			out = append(out, uint16(b))
			i++
		case b&0xE0 == 0xC0 && i+1 < len(s):
			out = append(out, uint16(b&0x1F)<<6|uint16(s[i+1]&0x3F))
			i += 2
		case b&0xF0 == 0xE0 && i+2 < len(s):
			out = append(out, uint16(b&0x0F)<<12|uint16(s[i+1]&0x3F)<<6|uint16(s[i+2]&0x3F))
			i += 3
		case b&0xF8 == 0xF0 && i+3 < len(s):
			// Standard 4-byte UTF-8 is not valid in class files but appears
			// in hand-built ones; split it into a surrogate pair.
			r := rune(b&0x07)<<18 | rune(s[i+1]&0x3F)<<12 | rune(s[i+2]&0x3F)<<6 | rune(s[i+3]&0x3F)
			r -= 0x10000
			out = append(out, uint16(0xD800+(r>>10)), uint16(0xDC00+(r&0x3FF)))
			i += 4
		default:
			out = append(out, uint16(b))
			i++
		}
	}
	return out
}

// EncodeModifiedUTF8 converts UTF-16 code units into the modified UTF-8
// form used by Utf8 constants: NUL is two bytes and supplementary
// characters are encoded as two three-byte surrogates.
func EncodeModifiedUTF8(units []uint16) string {
	buf := make([]byte, 0, len(units))
	for _, c := range units {
		switch {
		case c != 0 && c < 0x80:
			buf = append(buf, byte(c))
		case c < 0x800:
			buf = append(buf, byte(0xC0|c>>6), byte(0x80|c&0x3F))
		default:
			buf = append(buf, byte(0xE0|c>>12), byte(0x80|(c>>6)&0x3F), byte(0x80|c&0x3F))
		}
	}
	return string(buf)
}
