package payload

import (
	"crypto/rand"
	"encoding/base64"
	"strings"
	"testing"
)

func newToken(t *testing.T) string {
	t.Helper()
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		t.Fatal(err)
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

func TestRoundTrip(t *testing.T) {
	tok := newToken(t)
	cases := []Payload{
		{MovieCode: "ab12cd34", Part: 1},
		{MovieCode: "ab12cd34", Part: 1, Quality: "720p"},
		{MovieCode: "ab12cd34", Part: 3, Quality: "1080p HEVC"},
		{MovieCode: "x", Part: 999, Quality: "4K"},
		{MovieCode: "ab12cd34", Part: 1, Quality: "720p", Token: tok},
		{MovieCode: "ab12cd34", Part: 12, Quality: "1080p x265 10bit", Token: tok},
		{MovieCode: "dune2021", Part: 2, Quality: "Кино 720", Token: tok},
	}
	for _, want := range cases {
		s, err := Encode(want)
		if err != nil {
			t.Fatalf("Encode(%+v): %v", want, err)
		}
		if len(s) > MaxLength {
			t.Fatalf("Encode(%+v) length %d > %d", want, len(s), MaxLength)
		}
		if !strings.HasPrefix(s, "0") {
			t.Errorf("Encode(%+v) = %q, want leading '0'", want, s)
		}
		for _, c := range s {
			if !strings.ContainsRune("ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_", c) {
				t.Fatalf("Encode(%+v) = %q contains %q", want, s, c)
			}
		}
		got, ok := Decode(s)
		if !ok {
			t.Fatalf("Decode(%q) failed", s)
		}
		if got != want {
			t.Errorf("Decode(Encode(%+v)) = %+v", want, got)
		}
		if got.HasToken() != (want.Token != "") {
			t.Errorf("HasToken mismatch for %+v", want)
		}
	}
}

func TestEncodeDefaultsPart(t *testing.T) {
	s, err := Encode(Payload{MovieCode: "abc"})
	if err != nil {
		t.Fatal(err)
	}
	got, ok := Decode(s)
	if !ok || got.Part != 1 {
		t.Fatalf("Decode = %+v, %v; want part 1", got, ok)
	}
}

func TestEncodeRejects(t *testing.T) {
	tests := []struct {
		name string
		p    Payload
		want error
	}{
		{"empty code", Payload{}, ErrInvalidCode},
		{"code with space", Payload{MovieCode: "a b"}, ErrInvalidCode},
		{"padded token", Payload{MovieCode: "abc", Token: "abc="}, ErrInvalidToken},
		{"bad token alphabet", Payload{MovieCode: "abc", Token: "a+b/"}, ErrInvalidToken},
		{"quality too long", Payload{MovieCode: "abcdefgh", Quality: strings.Repeat("q", 30), Token: newToken(t)}, ErrTooLong},
		{"part too large", Payload{MovieCode: "abc", Part: 1000}, ErrTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Encode(tt.p); err != tt.want {
				t.Errorf("Encode() err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDecodeMalformed(t *testing.T) {
	valid, err := Encode(Payload{MovieCode: "ab12cd34", Part: 2, Quality: "720p", Token: newToken(t)})
	if err != nil {
		t.Fatal(err)
	}
	raw, _ := base64.RawURLEncoding.DecodeString(valid)
	reencode := func(b []byte) string { return base64.RawURLEncoding.EncodeToString(b) }

	inputs := map[string]string{
		"empty":            "",
		"control keyword":  "connect",
		"admin":            "admin_panel",
		"plain code":       "ab12cd34",
		"not base64":       "!!!!",
		"padding":          valid + "==",
		"too long":         strings.Repeat("0", 65),
		"truncated":        valid[:5],
		"wrong header":     reencode(append([]byte{0x10}, raw[1:]...)),
		"reserved flag":    reencode(append([]byte{0xD2}, raw[1:]...)),
		"huge code length": reencode([]byte{0xD0, 0x01, 0x7F, 'a', 0x00}),
		"zero part":        reencode([]byte{0xD0, 0x00, 0x01, 'a', 0x00}),
		"empty code":       reencode([]byte{0xD0, 0x01, 0x00, 0x00, 0x00}),
		"bad code byte":    reencode([]byte{0xD0, 0x01, 0x01, '/', 0x00}),
		"bad utf8":         reencode([]byte{0xD0, 0x01, 0x01, 'a', 0x01, 0xFF}),
		"trailing bytes":   reencode([]byte{0xD0, 0x01, 0x01, 'a', 0x00, 0x42}),
		"token flag empty": reencode([]byte{0xD1, 0x01, 0x01, 'a', 0x00}),
		"non-minimal part": reencode([]byte{0xD0, 0x81, 0x00, 0x01, 'a', 0x00}),
		"varint overflow":  reencode([]byte{0xD0, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0x01}),
	}
	for name, in := range inputs {
		t.Run(name, func(t *testing.T) {
			p, ok := Decode(in)
			if ok || p.MovieCode != "" {
				t.Errorf("Decode(%q) = %+v, %v; want invalid", in, p, ok)
			}
		})
	}
}

func TestDecodeArbitraryInputNeverPanics(t *testing.T) {
	buf := make([]byte, 48)
	for i := 0; i < 2000; i++ {
		n := i % len(buf)
		if _, err := rand.Read(buf[:n]); err != nil {
			t.Fatal(err)
		}
		s := base64.RawURLEncoding.EncodeToString(buf[:n])
		if p, ok := Decode(s); ok && p.MovieCode == "" {
			t.Fatalf("Decode(%q) ok with empty code", s)
		}
	}
}

func FuzzDecode(f *testing.F) {
	f.Add("")
	f.Add("0AEIYWIxMmNkMzQA")
	f.Add("connect")
	f.Fuzz(func(t *testing.T, s string) {
		p, ok := Decode(s)
		if !ok {
			return
		}
		again, err := Encode(p)
		if err != nil {
			t.Fatalf("decoded %+v does not re-encode: %v", p, err)
		}
		if again != s {
			t.Fatalf("Encode(Decode(%q)) = %q", s, again)
		}
	})
}
