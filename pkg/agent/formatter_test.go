package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresetFormatters(t *testing.T) {
	meta := map[string]string{"source": "feishu", "username": "Eric"}

	tests := []struct {
		name     string
		expected string
	}{
		{"simple", "[user eric] hello"},
		{"imessage", "# The following is an iMessage message from user id eric\nhello"},
		{"feishu", "The following is a Feishu message from user_id=eric: hello"},
		{"platform", "# The following is a feishu message from user id eric\nhello"},
		{"detailed", "# Message context\n- Platform: feishu\n- User ID: eric\n- Display name: Eric\n\nUser message:\nhello"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, ok := FormatterByName(tt.name)
			require.True(t, ok)
			assert.Equal(t, tt.expected, f("hello", "eric", meta))
		})
	}
}

func TestFormatterByName(t *testing.T) {
	f, ok := FormatterByName("  Simple ")
	require.True(t, ok)
	assert.Equal(t, "[user bob] hi", f("hi", "bob", nil))

	_, ok = FormatterByName("markdown")
	assert.False(t, ok)

	assert.Equal(t, []string{"detailed", "feishu", "imessage", "platform", "simple"}, FormatterNames())
}

func TestPlatformFormatter_UnknownSource(t *testing.T) {
	got := PlatformFormatter("hi", "bob", nil)
	assert.Equal(t, "# The following is a unknown platform message from user id bob\nhi", got)
}

func TestDetailedFormatter_MinimalMetadata(t *testing.T) {
	got := DetailedFormatter("hi", "bob", map[string]string{"timestamp": "12:00"})
	assert.Equal(t, "# Message context\n- User ID: bob\n- Time: 12:00\n\nUser message:\nhi", got)
}

func TestTemplateFormatter(t *testing.T) {
	f := TemplateFormatter("# from {source} user {user_id} in {room}:\n{message} {missing}")

	got := f("hello {user_id}", "eric", map[string]string{"source": "slack", "room": "general"})
	assert.Equal(t, "# from slack user eric in general:\nhello {user_id} {missing}", got)
}
