package agent

import (
	"sort"
	"strings"
)

// Formatter rewrites a user message into the prompt sent to the agent.
// Only the prompt is affected; session history keeps the original message.
type Formatter func(message, userID string, metadata map[string]string) string

// SimpleFormatter prefixes the message with the user id
func SimpleFormatter(message, userID string, _ map[string]string) string {
	return "[user " + userID + "] " + message
}

// IMessageFormatter adds an iMessage context header
func IMessageFormatter(message, userID string, _ map[string]string) string {
	return "# The following is an iMessage message from user id " + userID + "\n" + message
}

// FeishuFormatter adds a Feishu context prefix on the same line
func FeishuFormatter(message, userID string, _ map[string]string) string {
	return "The following is a Feishu message from user_id=" + userID + ": " + message
}

// PlatformFormatter names the platform taken from metadata["source"]
func PlatformFormatter(message, userID string, metadata map[string]string) string {
	source := metadata["source"]
	if source == "" {
		source = "unknown platform"
	}
	return "# The following is a " + source + " message from user id " + userID + "\n" + message
}

// DetailedFormatter renders a context block with whatever of source,
// username and timestamp the metadata carries.
func DetailedFormatter(message, userID string, metadata map[string]string) string {
	lines := []string{"# Message context"}
	if v, ok := metadata["source"]; ok {
		lines = append(lines, "- Platform: "+v)
	}
	lines = append(lines, "- User ID: "+userID)
	if v, ok := metadata["username"]; ok {
		lines = append(lines, "- Display name: "+v)
	}
	if v, ok := metadata["timestamp"]; ok {
		lines = append(lines, "- Time: "+v)
	}
	lines = append(lines, "", "User message:", message)
	return strings.Join(lines, "\n")
}

var formatters = map[string]Formatter{
	"simple":   SimpleFormatter,
	"imessage": IMessageFormatter,
	"feishu":   FeishuFormatter,
	"platform": PlatformFormatter,
	"detailed": DetailedFormatter,
}

// FormatterByName returns a preset formatter
func FormatterByName(name string) (Formatter, bool) {
	f, ok := formatters[strings.ToLower(strings.TrimSpace(name))]
	return f, ok
}

// FormatterNames lists the preset names in sorted order
func FormatterNames() []string {
	names := make([]string, 0, len(formatters))
	for name := range formatters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TemplateFormatter builds a formatter from a template with {message},
// {user_id}, {source}, {username} and any other {metadata_key}
// placeholders. Unknown placeholders are left as is.
func TemplateFormatter(template string) Formatter {
	return func(message, userID string, metadata map[string]string) string {
		pairs := []string{
			"{message}", message,
			"{user_id}", userID,
			"{source}", metadata["source"],
			"{username}", metadata["username"],
		}
		for key, value := range metadata {
			switch key {
			case "message", "user_id", "source", "username":
				continue
			}
			pairs = append(pairs, "{"+key+"}", value)
		}
		return strings.NewReplacer(pairs...).Replace(template)
	}
}
