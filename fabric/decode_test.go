package fabric

import (
	"strings"
	"testing"

	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/unicode"
)

func TestDecodeMailbox_UTF8(t *testing.T) {
	res := DecodeMailbox([]byte("hello 世界"))
	if res.Text != "hello 世界" || res.Encoding != "utf-8" || res.Lossy {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestDecodeMailbox_UTF8BOM(t *testing.T) {
	raw := append([]byte{0xef, 0xbb, 0xbf}, []byte("payload")...)
	res := DecodeMailbox(raw)
	if res.Text != "payload" || res.Encoding != "utf-8-sig" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestDecodeMailbox_UTF16WithBOM(t *testing.T) {
	enc := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder()
	raw, err := enc.Bytes([]byte("message body"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	res := DecodeMailbox(raw)
	if res.Text != "message body" || res.Encoding != "utf-16-le" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestDecodeMailbox_UTF16NoBOM(t *testing.T) {
	// UTF-16 LE without a BOM: every ASCII char contributes a NUL, well
	// past the len/8 threshold. LE is preferred.
	enc := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder()
	raw, err := enc.Bytes([]byte("plain ascii content without bom"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	res := DecodeMailbox(raw)
	if res.Text != "plain ascii content without bom" {
		t.Fatalf("text mismatch: %+v", res)
	}
	if !strings.HasPrefix(res.Encoding, "utf-16-le") {
		t.Fatalf("expected utf-16-le, got %s", res.Encoding)
	}
}

func TestDecodeMailbox_GB18030(t *testing.T) {
	enc := simplifiedchinese.GB18030.NewEncoder()
	raw, err := enc.Bytes([]byte("进度：已完成"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	res := DecodeMailbox(raw)
	if res.Text != "进度：已完成" {
		t.Fatalf("text mismatch: %+v", res)
	}
	if res.Encoding != "gb18030" {
		t.Fatalf("expected gb18030, got %s", res.Encoding)
	}
}

func TestDecodeMailbox_UTF8Salvage(t *testing.T) {
	// Mostly-ASCII content with a single broken byte: salvage, flagged lossy.
	body := strings.Repeat("ascii line\n", 20) + "\xff" + strings.Repeat("more ascii\n", 20)
	res := DecodeMailbox([]byte(body))
	if !res.Lossy {
		t.Fatalf("expected lossy salvage, got %+v", res)
	}
	if res.Encoding != "utf-8(replace)" {
		t.Fatalf("expected utf-8(replace), got %s", res.Encoding)
	}
	if !strings.Contains(res.Text, "more ascii") {
		t.Fatalf("salvaged text lost content")
	}
}

func TestDecodeMailbox_Latin1LastResort(t *testing.T) {
	// Bytes that are invalid UTF-8, not NUL-heavy, and invalid GB18030.
	raw := []byte{0x80, 0x81, 0xfe, 0xfe, 0xff, 0xff}
	res := DecodeMailbox(raw)
	if !res.Lossy {
		t.Fatalf("expected lossy decode, got %+v", res)
	}
}
