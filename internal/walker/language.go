package walker

import "strings"

// languageMap maps file extensions to the language tags used throughout the
// indexer, vector store identity, and chunker dispatch.
var languageMap = map[string]string{
	".go":    "go",
	".js":    "javascript",
	".jsx":   "javascript",
	".mjs":   "javascript",
	".ts":    "typescript",
	".tsx":   "typescript",
	".py":    "python",
	".pyw":   "python",
	".pyi":   "python",
	".rs":    "rust",
	".java":  "java",
	".kt":    "kotlin",
	".rb":    "ruby",
	".c":     "c",
	".h":     "c",
	".cc":    "cpp",
	".cpp":   "cpp",
	".hpp":   "cpp",
	".cs":    "csharp",
	".php":   "php",
	".swift": "swift",
	".scala": "scala",
	".sh":    "shell",
	".bash":  "shell",
	".sql":   "sql",
	".yaml":  "yaml",
	".yml":   "yaml",
	".json":  "json",
	".toml":  "toml",
	".md":    "markdown",
	".html":  "html",
	".htm":   "html",
	".css":   "css",
}

// DetectLanguage maps a file path to a language tag, "unknown" if not
// recognized.
func DetectLanguage(path string) string {
	lower := strings.ToLower(path)
	for ext, lang := range languageMap {
		if strings.HasSuffix(lower, ext) {
			return lang
		}
	}
	return "unknown"
}
