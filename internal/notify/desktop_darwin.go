//go:build darwin

package notify

import "strconv"

const toolName = "osascript"

func toolArgs(title, body string) []string {
	script := "display notification " + strconv.Quote(body) + " with title " + strconv.Quote(title)
	return []string{"-e", script}
}
