package irc

import "strings"

// Message is one parsed inbound IRC line.
type Message struct {
	Tags     map[string]string
	Prefix   string
	Command  string
	Channel  string
	Trailing string
}

// Tag returns the tag value for key, or "" when the tag is absent.
func (m Message) Tag(key string) string {
	if m.Tags == nil {
		return ""
	}
	return m.Tags[key]
}

// ParseLine splits an inbound line of the shape
// [@tags ]:prefix COMMAND [params] [:trailing] into its parts. Twitch sends
// bare commands too (PING, RECONNECT), so prefix and channel are optional.
// Lines that cannot be split are rejected, never fatal.
func ParseLine(raw string) (Message, bool) {
	rest := strings.TrimRight(raw, "\r\n")
	if strings.TrimSpace(rest) == "" {
		return Message{}, false
	}

	var msg Message

	if strings.HasPrefix(rest, "@") {
		idx := strings.IndexByte(rest, ' ')
		if idx == -1 {
			return Message{}, false
		}
		msg.Tags = parseTags(rest[1:idx])
		rest = strings.TrimSpace(rest[idx+1:])
	}

	if strings.HasPrefix(rest, ":") {
		idx := strings.IndexByte(rest, ' ')
		if idx == -1 {
			return Message{}, false
		}
		msg.Prefix = rest[1:idx]
		rest = strings.TrimSpace(rest[idx+1:])
	}

	if rest == "" {
		return Message{}, false
	}

	cmd := rest
	params := ""
	if idx := strings.IndexByte(rest, ' '); idx != -1 {
		cmd = rest[:idx]
		params = strings.TrimSpace(rest[idx+1:])
	}
	msg.Command = strings.ToUpper(cmd)

	if strings.HasPrefix(params, ":") {
		msg.Trailing = params[1:]
		return msg, true
	}
	if idx := strings.Index(params, " :"); idx != -1 {
		msg.Trailing = params[idx+2:]
		params = strings.TrimSpace(params[:idx])
	}
	for _, p := range strings.Fields(params) {
		if strings.HasPrefix(p, "#") {
			msg.Channel = strings.TrimPrefix(p, "#")
			break
		}
	}
	return msg, true
}

func parseTags(tagPart string) map[string]string {
	tags := make(map[string]string)
	for _, kv := range strings.Split(tagPart, ";") {
		if kv == "" {
			continue
		}
		key, val, ok := strings.Cut(kv, "=")
		if !ok {
			tags[key] = ""
			continue
		}
		tags[key] = unescapeTag(val)
	}
	return tags
}

// unescapeTag reverses IRCv3 tag-value escaping.
func unescapeTag(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 >= len(s) {
			b.WriteByte(s[i])
			continue
		}
		i++
		switch s[i] {
		case 's':
			b.WriteByte(' ')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case ':':
			b.WriteByte(';')
		case '\\':
			b.WriteByte('\\')
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// PrefixNick extracts the sender nick from a :nick!user@host prefix.
func PrefixNick(prefix string) string {
	prefix = strings.TrimPrefix(prefix, ":")
	if idx := strings.IndexByte(prefix, '!'); idx != -1 {
		return prefix[:idx]
	}
	return prefix
}

// AuthFailure reports whether a parsed line is the server rejecting our
// credentials. Twitch announces these as NOTICE from tmi.twitch.tv rather
// than numeric replies. Only server NOTICE text is inspected; viewer-authored
// PRIVMSG text never qualifies, whatever it says.
func AuthFailure(msg Message) bool {
	if msg.Command != "NOTICE" || !strings.EqualFold(msg.Prefix, "tmi.twitch.tv") {
		return false
	}
	if msg.Tag("msg-id") == "login_auth_failed" {
		return true
	}
	lower := strings.ToLower(msg.Trailing)
	if strings.Contains(lower, "improperly formatted auth") {
		return true
	}
	return strings.Contains(lower, "authentication failed")
}
