package payload

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"unicode/utf8"
)

// MaxLength is the Telegram ceiling for a /start deep-link parameter.
const MaxLength = 64

const (
	headerMask  = 0xFC
	headerValue = 0xD0 // first base64 character is always '0'
	flagToken   = 0x01

	maxPart     = 999
	maxFieldLen = 48
)

var (
	ErrInvalidToken = errors.New("payload: token is not canonical base64url")
	ErrInvalidCode  = errors.New("payload: invalid movie code")
	ErrTooLong      = errors.New("payload: encoded value exceeds 64 characters")
)

var enc = base64.RawURLEncoding.Strict()

type Payload struct {
	MovieCode string
	Part      int
	Quality   string
	Token     string
}

func (p Payload) HasToken() bool { return p.Token != "" }

func Encode(p Payload) (string, error) {
	if !validCode(p.MovieCode) {
		return "", ErrInvalidCode
	}
	part := p.Part
	if part < 1 {
		part = 1
	}
	if part > maxPart {
		return "", ErrTooLong
	}
	if len(p.Quality) > maxFieldLen || !utf8.ValidString(p.Quality) {
		return "", ErrTooLong
	}

	header := byte(headerValue)
	var tok []byte
	if p.Token != "" {
		b, err := enc.DecodeString(p.Token)
		if err != nil || len(b) == 0 || enc.EncodeToString(b) != p.Token {
			return "", ErrInvalidToken
		}
		tok = b
		header |= flagToken
	}

	buf := make([]byte, 0, 8+len(p.MovieCode)+len(p.Quality)+len(tok))
	buf = append(buf, header)
	buf = binary.AppendUvarint(buf, uint64(part))
	buf = binary.AppendUvarint(buf, uint64(len(p.MovieCode)))
	buf = append(buf, p.MovieCode...)
	buf = binary.AppendUvarint(buf, uint64(len(p.Quality)))
	buf = append(buf, p.Quality...)
	buf = append(buf, tok...)

	out := enc.EncodeToString(buf)
	if len(out) > MaxLength {
		return "", ErrTooLong
	}
	return out, nil
}

// Decode never fails loudly: anything that is not a well-formed payload
// yields the zero Payload and false.
func Decode(s string) (Payload, bool) {
	if s == "" || len(s) > MaxLength {
		return Payload{}, false
	}
	b, err := enc.DecodeString(s)
	if err != nil || len(b) < 4 {
		return Payload{}, false
	}
	header := b[0]
	if header&headerMask != headerValue {
		return Payload{}, false
	}
	if header&^(headerMask|flagToken) != 0 {
		return Payload{}, false
	}
	r := reader{buf: b[1:]}

	part, ok := r.uvarint()
	if !ok || part < 1 || part > maxPart {
		return Payload{}, false
	}
	code, ok := r.field()
	if !ok || !validCode(code) {
		return Payload{}, false
	}
	quality, ok := r.field()
	if !ok || !utf8.ValidString(quality) {
		return Payload{}, false
	}

	p := Payload{MovieCode: code, Part: int(part), Quality: quality}
	rest := r.buf
	if header&flagToken != 0 {
		if len(rest) == 0 {
			return Payload{}, false
		}
		p.Token = enc.EncodeToString(rest)
	} else if len(rest) != 0 {
		return Payload{}, false
	}
	return p, true
}

type reader struct {
	buf []byte
}

func (r *reader) uvarint() (uint64, bool) {
	v, n := binary.Uvarint(r.buf)
	if n <= 0 {
		return 0, false
	}
	// reject non-minimal encodings so every payload has exactly one spelling
	var tmp [binary.MaxVarintLen64]byte
	if binary.PutUvarint(tmp[:], v) != n {
		return 0, false
	}
	r.buf = r.buf[n:]
	return v, true
}

func (r *reader) field() (string, bool) {
	n, ok := r.uvarint()
	if !ok || n > maxFieldLen || n > uint64(len(r.buf)) {
		return "", false
	}
	s := string(r.buf[:n])
	r.buf = r.buf[n:]
	return s, true
}

func validCode(code string) bool {
	if code == "" || len(code) > 32 {
		return false
	}
	for i := 0; i < len(code); i++ {
		c := code[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '-':
		default:
			return false
		}
	}
	return true
}
