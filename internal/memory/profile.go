package memory

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// UpsertProfileField sets "- key: value" under "## section" in PROFILE.md.
// The operation is idempotent: repeated calls leave exactly one line for
// the key in that section. The user_profile.md alias is kept in sync.
func (e *Engine) UpsertProfileField(section, key, value string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	section = strings.TrimSpace(section)
	key = strings.TrimSpace(key)
	if section == "" || key == "" {
		return fmt.Errorf("profile upsert needs section and key")
	}

	content := e.readFile(ProfileFile)
	updated := upsertSectionField(content, section, key, value)

	if err := e.writeFileAtomic(ProfileFile, []byte(updated)); err != nil {
		return err
	}
	e.syncProfileAliasLocked(updated)
	return nil
}

// ProfileFields parses PROFILE.md into section → key → value.
func (e *Engine) ProfileFields() map[string]map[string]string {
	out := map[string]map[string]string{}
	section := ""
	scanner := bufio.NewScanner(strings.NewReader(e.readFile(ProfileFile)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "## ") {
			section = strings.TrimSpace(strings.TrimPrefix(line, "## "))
			continue
		}
		if section == "" || !strings.HasPrefix(line, "- ") {
			continue
		}
		body := strings.TrimPrefix(line, "- ")
		if idx := strings.Index(body, ":"); idx > 0 {
			k := strings.TrimSpace(body[:idx])
			v := strings.TrimSpace(body[idx+1:])
			if out[section] == nil {
				out[section] = map[string]string{}
			}
			out[section][k] = v
		}
	}
	return out
}

// upsertSectionField rewrites the document, replacing or inserting the
// key line in the named section. Free prose between sections is kept.
func upsertSectionField(content, section, key, value string) string {
	lines := strings.Split(content, "\n")
	sectionHeader := "## " + section
	newLine := fmt.Sprintf("- %s: %s", key, value)

	sectionStart := -1
	sectionEnd := len(lines)
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if sectionStart == -1 {
			if trimmed == sectionHeader {
				sectionStart = i
			}
			continue
		}
		if strings.HasPrefix(trimmed, "## ") {
			sectionEnd = i
			break
		}
	}

	if sectionStart == -1 {
		// Append a new section at the end.
		doc := strings.TrimRight(content, "\n")
		if doc != "" {
			doc += "\n"
		}
		return doc + "\n" + sectionHeader + "\n\n" + newLine + "\n"
	}

	keyPrefix := "- " + key + ":"
	for i := sectionStart + 1; i < sectionEnd; i++ {
		if strings.HasPrefix(strings.TrimSpace(lines[i]), keyPrefix) {
			lines[i] = newLine
			return strings.Join(lines, "\n")
		}
	}

	// Insert before the next section, after the last content line.
	insertAt := sectionEnd
	for insertAt > sectionStart+1 && strings.TrimSpace(lines[insertAt-1]) == "" {
		insertAt--
	}
	out := make([]string, 0, len(lines)+1)
	out = append(out, lines[:insertAt]...)
	out = append(out, newLine)
	out = append(out, lines[insertAt:]...)
	return strings.Join(out, "\n")
}

// syncProfileAliasLocked keeps user_profile.md pointing at PROFILE.md:
// a symlink where the filesystem allows it, a content mirror otherwise.
func (e *Engine) syncProfileAliasLocked(content string) {
	alias := e.path(ProfileAliasFile)

	if target, err := os.Readlink(alias); err == nil && target == ProfileFile {
		return
	}

	os.Remove(alias)
	if err := os.Symlink(ProfileFile, alias); err == nil {
		return
	}
	// Symlinks unavailable (some filesystems): mirror the content.
	_ = os.WriteFile(alias, []byte(content), 0o644)
}
