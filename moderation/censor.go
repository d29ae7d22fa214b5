// Package moderation masks configured words in chat bodies before they are
// persisted or delivered. It never rejects a message.
package moderation

import (
	"bufio"
	"io/fs"
	"path"
	"strings"
	"unicode"

	goahocorasick "github.com/anknown/ahocorasick"
	"github.com/samber/lo"
)

// Censor matches a normalized view of the text against an Aho-Corasick
// automaton and masks the matched spans in the original runes, so spacing
// and punctuation tricks do not defeat the wordlist.
type Censor struct {
	matcher     *goahocorasick.Machine
	replacement rune
}

func NewCensor(words []string, replacement rune) (*Censor, error) {
	patterns := make([][]rune, 0, len(words))
	for _, word := range words {
		norm := normalize([]rune(word))
		if len(norm) > 0 {
			patterns = append(patterns, norm)
		}
	}

	m := new(goahocorasick.Machine)
	if err := m.Build(patterns); err != nil {
		return nil, err
	}
	return &Censor{matcher: m, replacement: replacement}, nil
}

// Clean returns the text with every matched span masked, plus the distinct
// normalized words that matched (for the moderation log).
func (c *Censor) Clean(text string) (string, []string) {
	orig := []rune(text)

	norm := make([]rune, 0, len(orig))
	origIdx := make([]int, 0, len(orig))
	for i, r := range orig {
		clean := unleet(r)
		if isNoise(clean) {
			continue
		}
		norm = append(norm, unicode.ToLower(clean))
		origIdx = append(origIdx, i)
	}
	if len(norm) == 0 {
		return text, nil
	}

	spans := c.matcher.MultiPatternSearch(norm, false)
	if len(spans) == 0 {
		return text, nil
	}

	var found []string
	for _, span := range spans {
		start := span.Pos
		end := start + len(span.Word)
		if start < 0 || end > len(origIdx) {
			continue
		}
		found = append(found, string(span.Word))
		for i := origIdx[start]; i <= origIdx[end-1]; i++ {
			orig[i] = c.replacement
		}
	}
	return string(orig), lo.Uniq(found)
}

// LoadWords reads one word per line from every .txt file under dir,
// returning the words and the language names (file basenames) loaded.
func LoadWords(fsys fs.FS, dir string) ([]string, []string, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, nil, err
	}

	var words, languages []string
	seen := make(map[string]struct{})
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".txt") {
			continue
		}
		languages = append(languages, strings.TrimSuffix(entry.Name(), ".txt"))

		f, err := fsys.Open(path.Join(dir, entry.Name()))
		if err != nil {
			return nil, nil, err
		}
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			word := strings.TrimSpace(scanner.Text())
			if word == "" || strings.HasPrefix(word, "#") {
				continue
			}
			if _, dup := seen[word]; dup {
				continue
			}
			seen[word] = struct{}{}
			words = append(words, word)
		}
		err = scanner.Err()
		_ = f.Close()
		if err != nil {
			return nil, nil, err
		}
	}
	return words, languages, nil
}

// normalize applies the same transformation used during matching: leet
// substitutions are undone, noise characters dropped, and the rest lowercased.
func normalize(runes []rune) []rune {
	norm := make([]rune, 0, len(runes))
	for _, r := range runes {
		clean := unleet(r)
		if isNoise(clean) {
			continue
		}
		norm = append(norm, unicode.ToLower(clean))
	}
	return norm
}

// unleet maps common digit substitutions back to letters.
func unleet(r rune) rune {
	switch r {
	case '4', '@':
		return 'a'
	case '3':
		return 'e'
	case '1', '!':
		return 'i'
	case '0':
		return 'o'
	case '5', '$':
		return 's'
	default:
		return r
	}
}

// isNoise identifies characters ignored during the matching phase.
func isNoise(r rune) bool {
	return unicode.IsPunct(r) || unicode.IsSpace(r) || unicode.IsSymbol(r)
}
