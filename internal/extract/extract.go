// Package extract recovers named source files from free-form model replies.
//
// The primary form is a filename line followed, after any blank lines, by a
// fenced block:
//
//	main.py
//	```python
//	print("hi")
//	```
//
// A line inside a block whose trimmed text is exactly the fence marker closes
// the block, so content that itself contains such a line is truncated there.
// The parser has no way to tell a nested fence from a closing one.
package extract

import (
	"fmt"
	"regexp"
	"strings"
)

// Fence is the code block delimiter.
const Fence = "```"

// DefaultExtension names placeholder files produced by the fallback pass.
const DefaultExtension = "py"

// maxFilenameLen bounds filename candidates; longer lines are prose.
const maxFilenameLen = 100

var (
	filenamePrefixes = []string{"FILENAME:", "File:", "Filename:", "##", "**"}

	validExtensions = []string{
		".py", ".js", ".ts", ".java", ".cpp", ".c", ".h", ".html", ".css",
		".json", ".yaml", ".yml", ".md", ".sh", ".bat", ".ps1", ".txt",
	}

	unsafeFilenameChars = regexp.MustCompile(`[:*?"<>|]`)

	languageBlock = regexp.MustCompile("(?s)```(?:python|javascript|typescript|java|cpp|c|html|css|json|yaml|bash|shell|plaintext)?\n(.*?)```")

	anyBlock = regexp.MustCompile("(?s)```[^\n]*\n(.*?)```")
)

// Extract parses text into a file set. Later blocks for the same path replace
// earlier ones. When no filename/block pair is found, every non-empty fenced
// block becomes file_<n>.py, n being the block's 1-based position.
func Extract(text string) *Files {
	files := extractNamed(text)
	if files.Len() > 0 {
		return files
	}
	for idx, m := range languageBlock.FindAllStringSubmatch(text, -1) {
		code := strings.TrimSpace(m[1])
		if code == "" {
			continue
		}
		files.Set(fmt.Sprintf("file_%d.%s", idx+1, DefaultExtension), code)
	}
	return files
}

func extractNamed(text string) *Files {
	files := NewFiles()
	lines := strings.Split(text, "\n")

	for i := 0; i < len(lines); i++ {
		name, ok := filenameCandidate(strings.TrimSpace(lines[i]))
		if !ok {
			continue
		}

		j := i + 1
		for j < len(lines) && strings.TrimSpace(lines[j]) == "" {
			j++
		}
		if j >= len(lines) || !strings.HasPrefix(strings.TrimSpace(lines[j]), Fence) {
			continue
		}

		j++
		var code []string
		for j < len(lines) && strings.TrimSpace(lines[j]) != Fence {
			code = append(code, lines[j])
			j++
		}

		content := strings.Join(code, "\n")
		if strings.TrimSpace(content) == "" {
			continue
		}
		files.Set(Sanitize(name), content)
		i = j
	}
	return files
}

// filenameCandidate strips common decorations from line and reports whether
// what remains looks like a filename.
func filenameCandidate(line string) (string, bool) {
	clean := line
	for _, prefix := range filenamePrefixes {
		if strings.HasPrefix(strings.ToUpper(clean), strings.ToUpper(prefix)) {
			clean = strings.TrimSpace(clean[len(prefix):])
		}
	}
	clean = strings.Trim(clean, "*#: ")

	if clean == "" || strings.HasPrefix(clean, Fence) {
		return "", false
	}
	if strings.Contains(clean, " ") || len(clean) >= maxFilenameLen {
		return "", false
	}
	lower := strings.ToLower(clean)
	for _, ext := range validExtensions {
		if strings.HasSuffix(lower, ext) {
			return clean, true
		}
	}
	return "", false
}

// Sanitize removes characters that are not allowed in filenames on common
// filesystems.
func Sanitize(name string) string {
	return unsafeFilenameChars.ReplaceAllString(name, "")
}

// FirstBlock returns the trimmed inner text of the first fenced block with
// any language tag.
func FirstBlock(text string) (string, bool) {
	m := anyBlock.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	code := strings.TrimSpace(m[1])
	return code, code != ""
}

// Format renders files for inclusion in a prompt.
func Format(files *Files) string {
	if files.Len() == 0 {
		return "No code files available."
	}
	var sb strings.Builder
	files.Each(func(path, content string) {
		sb.WriteString(path)
		sb.WriteString("\n" + Fence + "\n")
		sb.WriteString(content)
		sb.WriteString("\n" + Fence + "\n\n")
	})
	return strings.TrimSuffix(sb.String(), "\n")
}
