//go:build !darwin

package notify

const toolName = "notify-send"

func toolArgs(title, body string) []string {
	return []string{"--app-name=PageDoctor", title, body}
}
