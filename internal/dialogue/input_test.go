package dialogue

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kjstillabower/dailyreport-bot/internal/messaging"
)

func TestIsMenuToken(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"メニュー", true},
		{" menu ", true},
		{"MENU", true},
		{"ＭＥＮＵ", true},
		{"Help", true},
		{"ヘルプ", true},
		{"ﾒﾆｭｰ", true},
		{"menus", false},
		{"東京", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsMenuToken(tt.in), "%q", tt.in)
	}
}

func TestClassifyPostback(t *testing.T) {
	assert.Equal(t, InputSelectTimezone, ClassifyPostback("mode=tz"))
	assert.Equal(t, InputSelectWeather, ClassifyPostback("mode=weather"))
	assert.Equal(t, InputSelectWeather, ClassifyPostback("source=menu&mode=weather"))
	assert.Equal(t, InputUnknownPostback, ClassifyPostback("mode=stocks"))
	assert.Equal(t, InputUnknownPostback, ClassifyPostback(""))
	assert.Equal(t, InputUnknownPostback, ClassifyPostback("%zz"))
}

func TestFromWebhook(t *testing.T) {
	lat, lon := 35.0, 139.0
	src := messaging.Source{Type: "user", UserID: "U1"}

	tests := []struct {
		name   string
		in     messaging.Event
		wantOK bool
		want   Event
	}{
		{
			name:   "text",
			in:     messaging.Event{Type: "message", ReplyToken: "r", Source: src, Message: &messaging.InboundMessage{Type: "text", Text: "　Ｇｌａｓｇｏｗ "}},
			wantOK: true,
			want:   Event{UserID: "U1", ReplyToken: "r", Kind: InputText, Text: "Glasgow"},
		},
		{
			name:   "menu text",
			in:     messaging.Event{Type: "message", ReplyToken: "r", Source: src, Message: &messaging.InboundMessage{Type: "text", Text: "Menu"}},
			wantOK: true,
			want:   Event{UserID: "U1", ReplyToken: "r", Kind: InputMenu, Text: "Menu"},
		},
		{
			name:   "location",
			in:     messaging.Event{Type: "message", ReplyToken: "r", Source: src, Message: &messaging.InboundMessage{Type: "location", Latitude: &lat, Longitude: &lon}},
			wantOK: true,
			want:   Event{UserID: "U1", ReplyToken: "r", Kind: InputLocation, Latitude: 35, Longitude: 139},
		},
		{
			name:   "postback",
			in:     messaging.Event{Type: "postback", ReplyToken: "r", Source: src, Postback: &messaging.Postback{Data: "mode=tz"}},
			wantOK: true,
			want:   Event{UserID: "U1", ReplyToken: "r", Kind: InputSelectTimezone},
		},
		{
			name: "missing user",
			in:   messaging.Event{Type: "message", ReplyToken: "r", Message: &messaging.InboundMessage{Type: "text", Text: "hi"}},
		},
		{
			name: "missing reply token",
			in:   messaging.Event{Type: "message", Source: src, Message: &messaging.InboundMessage{Type: "text", Text: "hi"}},
		},
		{
			name: "sticker",
			in:   messaging.Event{Type: "message", ReplyToken: "r", Source: src, Message: &messaging.InboundMessage{Type: "sticker"}},
		},
		{
			name: "location without coordinates",
			in:   messaging.Event{Type: "message", ReplyToken: "r", Source: src, Message: &messaging.InboundMessage{Type: "location"}},
		},
		{
			name: "follow",
			in:   messaging.Event{Type: "follow", ReplyToken: "r", Source: src},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := FromWebhook(tt.in)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}
