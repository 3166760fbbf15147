// Package messaging talks to the LINE Messaging API: outbound reply, push and
// broadcast calls, and inbound webhook parsing and signature checks.
package messaging

// Message is one outbound message object.
type Message struct {
	Type       string      `json:"type"`
	Text       string      `json:"text"`
	QuickReply *QuickReply `json:"quickReply,omitempty"`
}

type QuickReply struct {
	Items []QuickReplyItem `json:"items"`
}

type QuickReplyItem struct {
	Type   string `json:"type"`
	Action Action `json:"action"`
}

type Action struct {
	Type        string `json:"type"`
	Label       string `json:"label"`
	Data        string `json:"data"`
	DisplayText string `json:"displayText"`
}

// TextMessage builds a plain text message.
func TextMessage(text string) Message {
	return Message{Type: "text", Text: text}
}

// QuickReplyMessage builds a text message with quick-reply buttons.
func QuickReplyMessage(text string, items ...QuickReplyItem) Message {
	return Message{Type: "text", Text: text, QuickReply: &QuickReply{Items: items}}
}

// PostbackAction builds a quick-reply button that posts data back. An empty
// displayText echoes the label.
func PostbackAction(label, data, displayText string) QuickReplyItem {
	if displayText == "" {
		displayText = label
	}
	return QuickReplyItem{
		Type: "action",
		Action: Action{
			Type:        "postback",
			Label:       label,
			Data:        data,
			DisplayText: displayText,
		},
	}
}
