// Package gitignore implements gitignore pattern matching, as documented at
// https://git-scm.com/docs/gitignore, for the index walker (C2): a file the
// walker is about to index is skipped when it matches a .gitignore rule
// anywhere between the indexed root and the file itself.
//
// Features:
//   - Basic pattern matching (*.log, temp/)
//   - Wildcard patterns (*, ?, **)
//   - Rooted patterns (/build)
//   - Negation patterns (!important.log)
//   - Directory-only patterns (build/)
//   - Nested gitignore file support
//   - Thread-safe matching
//
// Usage:
//
//	m := gitignore.New()
//	m.AddPattern("*.log")
//	m.AddPattern("!important.log")
//	m.AddPattern("/build/")
//
//	if m.Match("error.log", false) {
//	    // File is ignored
//	}
//
// The walker keeps one Matcher per directory that owns a .gitignore file,
// loaded on first use via AddFromFile and cached for the life of an index run:
//
//	m.AddFromFile("/path/to/project/.gitignore", "")
//	m.AddFromFile("/path/to/project/src/.gitignore", "src")
package gitignore
