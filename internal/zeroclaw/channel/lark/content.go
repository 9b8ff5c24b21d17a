package lark

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// larkEventHeader is the envelope wrapper every Lark event callback and
// long-connection DATA frame payload carries.
type larkEventHeader struct {
	EventType string `json:"event_type"`
	EventID   string `json:"event_id"`
}

type larkEvent struct {
	Header larkEventHeader `json:"header"`
	Event  json.RawMessage `json:"event"`
}

type larkSenderID struct {
	OpenID string `json:"open_id"`
}

type larkSender struct {
	SenderID   larkSenderID `json:"sender_id"`
	SenderType string       `json:"sender_type"`
}

type larkMessage struct {
	MessageID   string            `json:"message_id"`
	ChatID      string            `json:"chat_id"`
	ChatType    string            `json:"chat_type"`
	MessageType string            `json:"message_type"`
	Content     string            `json:"content"`
	CreateTime  string            `json:"create_time"`
	Mentions    []json.RawMessage `json:"mentions"`
}

type msgReceivePayload struct {
	Sender  larkSender  `json:"sender"`
	Message larkMessage `json:"message"`
}

const eventTypeMessageReceive = "im.message.receive_v1"

// isUserAllowed reports whether openID may interact with the channel,
// matching either an exact entry or the "*" wildcard. An empty openID is
// never allowed, regardless of the allowlist.
func isUserAllowed(allowedUsers []string, openID string) bool {
	if openID == "" {
		return false
	}
	for _, u := range allowedUsers {
		if u == "*" || u == openID {
			return true
		}
	}
	return false
}

// shouldRespondInGroup reports whether a group-chat message should be
// handled: direct chats always qualify, but group chats only qualify when
// the message carries at least one mention, to avoid responding to every
// message in a shared channel. Any mention counts; whether the bot itself is
// among the mentioned users is not checked.
func shouldRespondInGroup(chatType string, mentions []json.RawMessage) bool {
	if chatType != "group" {
		return true
	}
	return len(mentions) > 0
}

var atPlaceholderPattern = regexp.MustCompile(`@_user_\d+ ?`)

// stripAtPlaceholders removes the "@_user_N" mention placeholders Lark
// substitutes into message text, along with one trailing space each, so
// downstream consumers see natural prose instead of raw placeholder tokens.
func stripAtPlaceholders(s string) string {
	return atPlaceholderPattern.ReplaceAllString(s, "")
}

// extractMessageText converts a raw message_type/content pair into plain
// text, or reports ok=false when the type is unsupported or the extracted
// text is empty.
func extractMessageText(messageType, content string) (string, bool) {
	switch messageType {
	case "text":
		var body struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal([]byte(content), &body); err != nil {
			return "", false
		}
		text := strings.TrimSpace(stripAtPlaceholders(body.Text))
		return text, text != ""
	case "post":
		text, err := parsePostContent(content)
		if err != nil {
			return "", false
		}
		text = strings.TrimSpace(stripAtPlaceholders(text))
		return text, text != ""
	default:
		return "", false
	}
}

type postElement struct {
	Tag      string `json:"tag"`
	Text     string `json:"text"`
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
}

type postBody struct {
	Title   string          `json:"title"`
	Content [][]postElement `json:"content"`
}

// parsePostContent renders a Lark "post" rich-text message into plain
// text. The post body is keyed by locale (zh_cn, en_us, ...); this prefers
// zh_cn, falls back to en_us, and otherwise takes whichever locale key is
// present, since a post always carries exactly the locales the sender
// composed.
func parsePostContent(content string) (string, error) {
	var byLocale map[string]json.RawMessage
	if err := json.Unmarshal([]byte(content), &byLocale); err != nil {
		return "", fmt.Errorf("lark: malformed post content: %w", err)
	}

	raw, ok := byLocale["zh_cn"]
	if !ok {
		raw, ok = byLocale["en_us"]
	}
	if !ok {
		for _, v := range byLocale {
			raw = v
			ok = true
			break
		}
	}
	if !ok {
		return "", fmt.Errorf("lark: post content has no locale body")
	}

	var body postBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return "", fmt.Errorf("lark: malformed post body: %w", err)
	}

	var sb strings.Builder
	if body.Title != "" {
		sb.WriteString(body.Title)
		sb.WriteString("\n")
	}
	for _, paragraph := range body.Content {
		for _, el := range paragraph {
			switch el.Tag {
			case "text":
				sb.WriteString(el.Text)
			case "a":
				sb.WriteString(el.Text)
			case "at":
				name := el.UserName
				if name == "" {
					name = el.UserID
				}
				sb.WriteString("@")
				sb.WriteString(name)
			}
		}
		sb.WriteString("\n")
	}
	return sb.String(), nil
}
