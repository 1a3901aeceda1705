package backup

import "strings"

// Filter decides which entries a copy leaves out.
type Filter struct {
	Extensions SkipSet
	Folders    SkipSet
}

// SkipFile reports whether a file is excluded by its extension.
// Files without an extension are never skipped.
func (f Filter) SkipFile(name string) bool {
	ext := extension(name)
	if ext == "" {
		return false
	}
	return f.Extensions.Contains(ext)
}

// SkipFolder reports whether a folder and its subtree are excluded.
func (f Filter) SkipFolder(name string) bool {
	return f.Folders.Contains(name)
}

// extension returns the text after the last dot. A leading dot alone
// (".bashrc") does not start an extension.
func extension(name string) string {
	i := strings.LastIndexByte(name, '.')
	if i <= 0 {
		return ""
	}
	return name[i+1:]
}
