// SPDX-License-Identifier: GPL-2.0-only

package executor

import "strings"

// Redact strips lines that would leak credentials from command output
// before it reaches logs or error messages: sudo password prompts and any
// line containing the secret itself.
func Redact(text, secret string) string {
	if text == "" {
		return ""
	}
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.Contains(line, "[sudo] password for") {
			continue
		}
		if secret != "" && strings.Contains(line, secret) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}
