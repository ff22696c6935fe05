package storage

import (
	"crypto/rand"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/text/cases"
)

const (
	KindVideo    = "video"
	KindDocument = "document"

	CodeLength      = 8
	MaxQualityLabel = 20
	MaxParts        = 99
)

var ErrInvalidMovie = errors.New("invalid movie record")

type QualityFile struct {
	FileID string `bson:"file_id"`
	Size   string `bson:"size,omitempty"`
	Kind   string `bson:"kind,omitempty"`
}

type PartData struct {
	Qualities map[string]QualityFile `bson:"qualities"`
}

type Movie struct {
	ID              primitive.ObjectID     `bson:"_id,omitempty"`
	Code            string                 `bson:"code"`
	Title           string                 `bson:"title"`
	NormalizedTitle string                 `bson:"normalized_title"`
	Parts           int                    `bson:"parts"`
	Qualities       map[string]QualityFile `bson:"qualities"`
	PartsData       map[string]PartData    `bson:"parts_data,omitempty"`
	CreatedAt       time.Time              `bson:"created_at"`
	UpdatedAt       time.Time              `bson:"updated_at"`
}

type User struct {
	ID        int64     `bson:"_id"`
	Username  string    `bson:"username,omitempty"`
	FirstSeen time.Time `bson:"first_seen"`
	LastSeen  time.Time `bson:"last_seen"`
}

func PartKey(part int) string { return "part_" + strconv.Itoa(part) }

// QualitiesFor returns the quality map holding files for part. Part 1 (and
// any part of a single-part movie) lives in the top-level map.
func (m *Movie) QualitiesFor(part int) (map[string]QualityFile, bool) {
	if m == nil {
		return nil, false
	}
	if part > 1 && m.PartsData != nil {
		pd, ok := m.PartsData[PartKey(part)]
		if !ok {
			return nil, false
		}
		return pd.Qualities, true
	}
	return m.Qualities, true
}

// QualityLabels lists the labels for part, lowest resolution first.
func (m *Movie) QualityLabels(part int) []string {
	qs, _ := m.QualitiesFor(part)
	out := make([]string, 0, len(qs))
	for q := range qs {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool {
		ri, rj := resolution(out[i]), resolution(out[j])
		if ri != rj {
			return ri < rj
		}
		return out[i] < out[j]
	})
	return out
}

func (m *Movie) PartCount() int {
	if m == nil || m.Parts < 1 {
		return 1
	}
	return m.Parts
}

// SetQuality stores file under part/label, growing Parts when needed.
func (m *Movie) SetQuality(part int, label string, file QualityFile) {
	if part < 1 {
		part = 1
	}
	if part == 1 {
		if m.Qualities == nil {
			m.Qualities = map[string]QualityFile{}
		}
		m.Qualities[label] = file
	} else {
		if m.PartsData == nil {
			m.PartsData = map[string]PartData{}
		}
		pd := m.PartsData[PartKey(part)]
		if pd.Qualities == nil {
			pd.Qualities = map[string]QualityFile{}
		}
		pd.Qualities[label] = file
		m.PartsData[PartKey(part)] = pd
	}
	if part > m.Parts {
		m.Parts = part
	}
}

// RemoveQuality drops label from every part. Reports whether anything changed.
func (m *Movie) RemoveQuality(label string) bool {
	removed := false
	if _, ok := m.Qualities[label]; ok {
		delete(m.Qualities, label)
		removed = true
	}
	for k, pd := range m.PartsData {
		if _, ok := pd.Qualities[label]; ok {
			delete(pd.Qualities, label)
			m.PartsData[k] = pd
			removed = true
		}
	}
	return removed
}

func (m *Movie) Validate() error {
	if m == nil {
		return ErrInvalidMovie
	}
	if strings.TrimSpace(m.Code) == "" {
		return fmt.Errorf("%w: empty code", ErrInvalidMovie)
	}
	if strings.TrimSpace(m.Title) == "" {
		return fmt.Errorf("%w: %s: empty title", ErrInvalidMovie, m.Code)
	}
	if m.Parts < 1 || m.Parts > MaxParts {
		return fmt.Errorf("%w: %s: parts=%d", ErrInvalidMovie, m.Code, m.Parts)
	}
	check := func(where string, qs map[string]QualityFile) error {
		for label, f := range qs {
			if label == "" || len(label) > MaxQualityLabel {
				return fmt.Errorf("%w: %s: bad quality label %q in %s", ErrInvalidMovie, m.Code, label, where)
			}
			if f.FileID == "" {
				return fmt.Errorf("%w: %s: %s/%s has no file_id", ErrInvalidMovie, m.Code, where, label)
			}
		}
		return nil
	}
	if err := check("qualities", m.Qualities); err != nil {
		return err
	}
	for k, pd := range m.PartsData {
		if err := check(k, pd.Qualities); err != nil {
			return err
		}
	}
	return nil
}

var fold = cases.Fold()

// NormalizeName folds case and collapses whitespace for title matching.
func NormalizeName(s string) string {
	s = fold.String(s)
	s = strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) && r != '\'' && r != '&' {
			return ' '
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

const codeAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

func NewCode() (string, error) {
	b := make([]byte, CodeLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = codeAlphabet[int(b[i])%len(codeAlphabet)]
	}
	return string(b), nil
}

func resolution(label string) int {
	l := strings.ToLower(strings.TrimSpace(label))
	n := 0
	i := 0
	for ; i < len(l) && l[i] >= '0' && l[i] <= '9'; i++ {
		n = n*10 + int(l[i]-'0')
	}
	if i < len(l) && l[i] == 'k' {
		n *= 540
	}
	if i == 0 {
		return 1 << 30
	}
	return n
}
