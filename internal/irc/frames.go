package irc

import "strings"

// Outbound frame builders. Writers append CRLF; text is flattened first so a
// crafted message cannot smuggle extra commands onto the connection.

// CapReq requests the Twitch capabilities needed for tags and notices.
func CapReq() string {
	return "CAP REQ :twitch.tv/membership twitch.tv/tags twitch.tv/commands"
}

// Pass builds the PASS frame, tolerating tokens with or without the
// oauth: prefix.
func Pass(token string) string {
	token = strings.TrimSpace(token)
	if !strings.HasPrefix(token, "oauth:") {
		token = "oauth:" + token
	}
	return "PASS " + token
}

func Nick(nick string) string {
	return "NICK " + strings.TrimSpace(nick)
}

func Join(channel string) string {
	return "JOIN #" + normalizeChannel(channel)
}

func Ping(payload string) string {
	return "PING :" + payload
}

func Pong(payload string) string {
	return "PONG :" + payload
}

// Privmsg builds a plain channel message.
func Privmsg(channel, text string) string {
	return "PRIVMSG #" + normalizeChannel(channel) + " :" + flatten(text)
}

// Reply builds a channel message threaded under the given parent message id.
func Reply(channel, parentID, text string) string {
	return "@reply-parent-msg-id=" + parentID + " " + Privmsg(channel, text)
}

func normalizeChannel(channel string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(channel), "#"))
}

func flatten(text string) string {
	if !strings.ContainsAny(text, "\r\n") {
		return text
	}
	return strings.Join(strings.Fields(text), " ")
}
