package ctc

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"
)

// IgnoreIndex marks decoder padding. Decode skips it.
const IgnoreIndex = -1

// ErrMappingLoad reports a character mapping artifact that cannot be used.
var ErrMappingLoad = errors.New("failed to load character mapping")

// CharacterMap is the index <-> character table of a classifier. The blank
// class sits one past the last character. A CharacterMap is never modified
// after construction and may be shared freely.
type CharacterMap struct {
	chars []string
	index map[string]int
}

// mappingArtifact is the label encoder as dumped to JSON.
type mappingArtifact struct {
	NumToChar map[string]string `json:"num_to_char"`
	CharToNum map[string]int    `json:"char_to_num"`
}

// NewCharacterMap builds a map from an ordered alphabet: chars[i] gets index i.
func NewCharacterMap(chars []string) (*CharacterMap, error) {
	if len(chars) == 0 {
		return nil, fmt.Errorf("%w: empty alphabet", ErrMappingLoad)
	}
	m := &CharacterMap{
		chars: make([]string, len(chars)),
		index: make(map[string]int, len(chars)),
	}
	for i, ch := range chars {
		if ch == "" {
			return nil, fmt.Errorf("%w: empty character at index %d", ErrMappingLoad, i)
		}
		if prev, dup := m.index[ch]; dup {
			return nil, fmt.Errorf("%w: character %q at indices %d and %d", ErrMappingLoad, ch, prev, i)
		}
		m.chars[i] = ch
		m.index[ch] = i
	}
	return m, nil
}

// LoadCharacterMap reads a JSON artifact of the form
//
//	{"num_to_char": {"0": "A", "1": "B"}, "char_to_num": {"A": 0, "B": 1}}
//
// num_to_char is required and must cover 0..n-1. char_to_num is optional
// but has to agree with num_to_char when present.
func LoadCharacterMap(r io.Reader) (*CharacterMap, error) {
	var a mappingArtifact
	if err := json.NewDecoder(r).Decode(&a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMappingLoad, err)
	}
	if len(a.NumToChar) == 0 {
		return nil, fmt.Errorf("%w: missing num_to_char table", ErrMappingLoad)
	}

	chars := make([]string, len(a.NumToChar))
	seen := make([]bool, len(a.NumToChar))
	for k, ch := range a.NumToChar {
		i, err := strconv.Atoi(strings.TrimSpace(k))
		if err != nil {
			return nil, fmt.Errorf("%w: bad index %q", ErrMappingLoad, k)
		}
		if i < 0 || i >= len(chars) || seen[i] {
			return nil, fmt.Errorf("%w: indices are not 0..%d (got %d)", ErrMappingLoad, len(chars)-1, i)
		}
		chars[i] = ch
		seen[i] = true
	}

	m, err := NewCharacterMap(chars)
	if err != nil {
		return nil, err
	}

	if a.CharToNum != nil {
		if len(a.CharToNum) != len(chars) {
			return nil, fmt.Errorf("%w: char_to_num has %d entries, num_to_char %d", ErrMappingLoad, len(a.CharToNum), len(chars))
		}
		for ch, i := range a.CharToNum {
			if j, ok := m.index[ch]; !ok || j != i {
				return nil, fmt.Errorf("%w: char_to_num[%q] = %d disagrees with num_to_char", ErrMappingLoad, ch, i)
			}
		}
	}
	return m, nil
}

// LoadCharacterMapFile is LoadCharacterMap over a file.
func LoadCharacterMapFile(path string) (*CharacterMap, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMappingLoad, err)
	}
	defer f.Close()
	return LoadCharacterMap(f)
}

// Len returns the number of real characters.
func (m *CharacterMap) Len() int { return len(m.chars) }

// BlankIndex returns the CTC blank class, always Len().
func (m *CharacterMap) BlankIndex() int { return len(m.chars) }

// Char returns the character for index i.
func (m *CharacterMap) Char(i int) (string, bool) {
	if i < 0 || i >= len(m.chars) {
		return "", false
	}
	return m.chars[i], true
}

// Index returns the index of ch.
func (m *CharacterMap) Index(ch string) (int, bool) {
	i, ok := m.index[ch]
	return i, ok
}

// Chars returns a copy of the alphabet in index order.
func (m *CharacterMap) Chars() []string {
	out := make([]string, len(m.chars))
	copy(out, m.chars)
	return out
}

// Decode maps indices to text. IgnoreIndex is skipped and indices outside the
// alphabet, the blank included, contribute nothing.
func (m *CharacterMap) Decode(indices []int) string {
	var b strings.Builder
	for _, i := range indices {
		if i == IgnoreIndex {
			continue
		}
		ch, _ := m.Char(i)
		b.WriteString(ch)
	}
	return b.String()
}

// Encode maps text back to indices, matching the longest alphabet entry at
// each position.
func (m *CharacterMap) Encode(text string) ([]int, error) {
	maxLen := 0
	for _, ch := range m.chars {
		if len(ch) > maxLen {
			maxLen = len(ch)
		}
	}
	out := make([]int, 0, len(text))
	for pos := 0; pos < len(text); {
		matched := false
		for n := min(maxLen, len(text)-pos); n > 0; n-- {
			if i, ok := m.index[text[pos:pos+n]]; ok {
				out = append(out, i)
				pos += n
				matched = true
				break
			}
		}
		if !matched {
			r, _ := utf8.DecodeRuneInString(text[pos:])
			return nil, fmt.Errorf("character %q at byte %d is not in the alphabet", r, pos)
		}
	}
	return out, nil
}

// MarshalJSON writes the map in the artifact format plus the blank index.
func (m *CharacterMap) MarshalJSON() ([]byte, error) {
	numToChar := make(map[string]string, len(m.chars))
	for i, ch := range m.chars {
		numToChar[strconv.Itoa(i)] = ch
	}
	return json.Marshal(struct {
		NumToChar  map[string]string `json:"num_to_char"`
		CharToNum  map[string]int    `json:"char_to_num"`
		BlankIndex int               `json:"blank_index"`
	}{numToChar, m.index, m.BlankIndex()})
}
