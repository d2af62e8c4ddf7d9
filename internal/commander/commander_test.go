package commander

import "testing"

func strPtr(s string) *string { return &s }

func TestPlainText(t *testing.T) {
	cases := []struct {
		name string
		msg  *Message
		want string
		ok   bool
	}{
		{"nil message", nil, "", false},
		{"absent text", &Message{Chat: Chat{ID: 1}}, "", false},
		{"empty text", &Message{Text: strPtr("")}, "", false},
		{"start command", &Message{Text: strPtr("/start")}, "", false},
		{"command with args", &Message{Text: strPtr("/help me")}, "", false},
		{"plain text", &Message{Text: strPtr("explain tcp")}, "explain tcp", true},
		{"slash inside text", &Message{Text: strPtr("a/b testing")}, "a/b testing", true},
		{"whitespace only", &Message{Text: strPtr("  ")}, "  ", true},
	}
	for _, c := range cases {
		got, ok := c.msg.PlainText()
		if got != c.want || ok != c.ok {
			t.Fatalf("%s: got=(%q,%v) want=(%q,%v)", c.name, got, ok, c.want, c.ok)
		}
	}
}
