package dialogue

import (
	"fmt"
	"strings"

	"github.com/kjstillabower/dailyreport-bot/internal/forecast"
	"github.com/kjstillabower/dailyreport-bot/internal/messaging"
	"github.com/kjstillabower/dailyreport-bot/internal/models"
)

const (
	menuPrompt          = "何をお手伝いしましょうか？"
	timezonePrompt      = "あなたの地点の地名や郵便番号を入力してください（例：横浜、Berlin、100-0001）"
	weatherPrompt       = "地名や郵便番号を入力するか、位置情報を送ってください（例：札幌、Osaka、NYC）"
	retryFooterTimezone = "2文字以上の地名や郵便番号で入力してください。"
	retryFooterWeather  = "2文字以上の地名や郵便番号を入力するか、位置情報を送ってください。"
	weatherAgainFooter  = "\n\nもう一度検索する場合は「メニュー」と入力してください。"
	timezoneAgainFooter = "もう一度計算する場合は「メニュー」と入力してください。"
)

func menuMessage() messaging.Message {
	return messaging.QuickReplyMessage(menuPrompt,
		messaging.PostbackAction("時差計算", PostbackTimezone, "時差計算"),
		messaging.PostbackAction("天気", PostbackWeather, "天気"),
	)
}

func notFoundMessage(input, footer string) messaging.Message {
	return messaging.TextMessage(fmt.Sprintf("「%s」に該当する場所が見つかりませんでした。\n%s", input, footer))
}

func fromConfirmedMessage(from models.ResolvedPlace) messaging.Message {
	return messaging.TextMessage(fmt.Sprintf("あなたの地点：%s\n\n時差を知りたい都市の地名や郵便番号を入力してください。", from.DisplayName))
}

func timezoneResultMessage(from, to models.ResolvedPlace, fromLocal, toLocal, diff string) messaging.Message {
	var b strings.Builder
	b.WriteString("【時差計算結果】\n\n")
	fmt.Fprintf(&b, "あなたの地点：%s (%s)\n%s\n\n", from.DisplayName, from.Timezone, fromLocal)
	fmt.Fprintf(&b, "目的地：%s (%s)\n%s\n\n", to.DisplayName, to.Timezone, toLocal)
	fmt.Fprintf(&b, "時差：%s\n\n", diff)
	b.WriteString(timezoneAgainFooter)
	return messaging.TextMessage(b.String())
}

// weatherMessage renders a forecast window. subtitle follows the date in the
// title ("横浜, 神奈川県, 日本" or "位置情報"); extra lines go below the title.
func weatherMessage(w models.ForecastWindow, subtitle string, extra ...string) messaging.Message {
	lines := []string{
		fmt.Sprintf("こちら%sの天気です。", w.HeaderLabel),
		fmt.Sprintf("【%s｜%sの天気】", w.DateLabel, subtitle),
	}
	lines = append(lines, extra...)
	for _, s := range w.Forecasts {
		lines = append(lines, SlotLine(s))
	}
	return messaging.TextMessage(strings.Join(lines, "\n") + weatherAgainFooter)
}

// SlotLine renders "09:00 🌤️ 晴れ 気温: 18.2℃ / 降水確率: 10%".
func SlotLine(s models.ForecastSlot) string {
	return fmt.Sprintf("%s %s %s 気温: %.1f℃ / 降水確率: %s", s.Time, s.Icon, s.WeatherLabel, s.Temperature, forecast.Probability(s.PrecipitationProbability))
}

func weatherFailedMessage(err error) messaging.Message {
	return messaging.TextMessage(fmt.Sprintf("天気情報の取得に失敗しました: %v", err))
}
