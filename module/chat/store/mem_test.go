package store

import "testing"

func TestMemConversations(t *testing.T) {
	runConversationSuite(t, NewMemConversations())
}

func TestMemMessages(t *testing.T) {
	runMessageSuite(t, NewMemMessages())
}
