package backup

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrDuplicateSkip = errors.New("duplicate skip token")
	ErrEmptySkip     = errors.New("empty skip token")
	ErrInvalidSkip   = errors.New("skip token must not contain spaces or commas")
)

// SkipSet 是规范化后的跳过规则集合，保持插入顺序
type SkipSet []string

// NormalizeExtension turns "*.LOG", ".log" or "log" into "log".
func NormalizeExtension(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "*.")
	s = strings.TrimPrefix(s, ".")
	return strings.ToLower(s)
}

// NormalizeFolder lowercases and trims a folder name.
func NormalizeFolder(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// Add inserts an already-normalized token.
func (s *SkipSet) Add(token string) error {
	if token == "" {
		return ErrEmptySkip
	}
	if strings.ContainsAny(token, ", \t\r\n") {
		return fmt.Errorf("%w: %q", ErrInvalidSkip, token)
	}
	if s.Contains(token) {
		return fmt.Errorf("%w: %s", ErrDuplicateSkip, token)
	}
	*s = append(*s, strings.ToLower(token))
	return nil
}

// Contains reports a case-insensitive whole-token match.
func (s SkipSet) Contains(token string) bool {
	if token == "" {
		return false
	}
	for _, t := range s {
		if strings.EqualFold(t, token) {
			return true
		}
	}
	return false
}

func (s SkipSet) String() string {
	return strings.Join(s, " ")
}

func (s SkipSet) clone() SkipSet {
	if s == nil {
		return nil
	}
	return append(SkipSet(nil), s...)
}

// ParseExtensions builds a set from raw user tokens. Empty tokens are ignored;
// duplicates are left out and returned so the caller can warn about them.
func ParseExtensions(raw []string) (SkipSet, []string, error) {
	return parseSkip(raw, NormalizeExtension)
}

// ParseFolders is ParseExtensions for folder names.
func ParseFolders(raw []string) (SkipSet, []string, error) {
	return parseSkip(raw, NormalizeFolder)
}

func parseSkip(raw []string, normalize func(string) string) (SkipSet, []string, error) {
	var (
		set  SkipSet
		dups []string
	)
	for _, r := range raw {
		token := normalize(r)
		if token == "" {
			continue
		}
		if err := set.Add(token); err != nil {
			if errors.Is(err, ErrDuplicateSkip) {
				dups = append(dups, token)
				continue
			}
			return nil, nil, err
		}
	}
	return set, dups, nil
}
