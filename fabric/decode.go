package fabric

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/unicode"
)

// DecodeResult describes how mailbox bytes were turned into text.
type DecodeResult struct {
	Text     string
	Encoding string
	Lossy    bool
}

// DecodeMailbox decodes mailbox file bytes with BOM and heuristic detection.
// Order:
//   - UTF-8 with BOM
//   - UTF-16 LE/BE (BOM)
//   - UTF-8 (strict)
//   - UTF-8 with replacement when the damage is small and content mostly ASCII
//   - UTF-16 heuristic via NUL ratio, LE then BE, strict then lossy
//   - GB18030
//   - Latin-1 (last resort)
//
// GB18030 can decode almost any byte stream, so the UTF-16 heuristics must
// run before it or UTF-16 sources turn into mojibake. NUL bytes are valid
// UTF-8, so NUL-heavy input skips both UTF-8 steps and goes to the UTF-16
// heuristic.
func DecodeMailbox(raw []byte) DecodeResult {
	if bytes.HasPrefix(raw, []byte{0xef, 0xbb, 0xbf}) {
		body := raw[3:]
		if utf8.Valid(body) {
			return DecodeResult{Text: string(body), Encoding: "utf-8-sig"}
		}
	}
	if bytes.HasPrefix(raw, []byte{0xff, 0xfe}) {
		if s, ok := decodeWith(unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM), raw); ok {
			return DecodeResult{Text: s, Encoding: "utf-16-le"}
		}
	}
	if bytes.HasPrefix(raw, []byte{0xfe, 0xff}) {
		if s, ok := decodeWith(unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM), raw); ok {
			return DecodeResult{Text: s, Encoding: "utf-16-be"}
		}
	}
	// Heuristic for UTF-16 without BOM: many NULs.
	nul := bytes.Count(raw, []byte{0})
	threshold := len(raw) / 8
	if threshold < 4 {
		threshold = 4
	}
	nulHeavy := nul > threshold

	if !nulHeavy && utf8.Valid(raw) {
		return DecodeResult{Text: string(raw), Encoding: "utf-8"}
	}

	// UTF-8 salvage: prefer a lightly damaged UTF-8 read over mojibake when
	// the content is mostly ASCII.
	salvage := strings.ToValidUTF8(string(raw), "�")
	rep := strings.Count(salvage, "�")
	if rep > 0 && !nulHeavy {
		runes := []rune(salvage)
		ascii := 0
		for _, r := range runes {
			if r < 128 {
				ascii++
			}
		}
		total := len(runes)
		if total == 0 {
			total = 1
		}
		if float64(rep)/float64(total) <= 0.02 && float64(ascii)/float64(total) >= 0.6 {
			return DecodeResult{Text: salvage, Encoding: "utf-8(replace)", Lossy: true}
		}
	}

	if nulHeavy {
		if s, ok := decodeWith(unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM), raw); ok {
			return DecodeResult{Text: s, Encoding: "utf-16-le"}
		}
		if s, ok := decodeWith(unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM), raw); ok {
			return DecodeResult{Text: s, Encoding: "utf-16-be"}
		}
		s, _ := lossyWith(unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM), raw)
		return DecodeResult{Text: s, Encoding: "utf-16-le(ignore)", Lossy: true}
	}

	if s, ok := decodeWith(simplifiedchinese.GB18030, raw); ok {
		return DecodeResult{Text: s, Encoding: "gb18030"}
	}

	s, _ := lossyWith(charmap.ISO8859_1, raw)
	return DecodeResult{Text: s, Encoding: "latin1(ignore)", Lossy: true}
}

// decodeWith decodes strictly: any replacement character that was not present
// in the source bytes means the decode failed.
func decodeWith(enc encoding.Encoding, raw []byte) (string, bool) {
	out, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return "", false
	}
	if bytes.ContainsRune(out, '�') && !bytes.Contains(raw, []byte("�")) {
		return "", false
	}
	return string(out), true
}

// lossyWith decodes best-effort, keeping replacement characters.
func lossyWith(enc encoding.Encoding, raw []byte) (string, bool) {
	out, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return string(raw), false
	}
	return string(out), true
}
