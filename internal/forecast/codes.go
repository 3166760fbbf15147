// Package forecast turns raw hourly upstream data into display-ready forecast
// slots: target-date selection, weather-code labels, icons and date labels.
package forecast

import "fmt"

// weatherLabels maps WMO weather codes to display labels. 24/29/32/35/38 are
// legacy codes some upstreams still emit for the same conditions.
var weatherLabels = map[int]string{
	0:  "快晴",
	1:  "晴れ",
	2:  "一部くもり",
	3:  "くもり",
	24: "くもり",
	45: "霧",
	48: "着氷性の霧",
	51: "霧雨（弱）",
	53: "霧雨（中）",
	55: "霧雨（強）",
	29: "霧雨（強）",
	61: "雨（弱）",
	63: "雨（中）",
	65: "雨（強）",
	32: "雨（強）",
	71: "雪（弱）",
	73: "雪（中）",
	75: "雪（強）",
	35: "雪（強）",
	80: "にわか雨（弱）",
	81: "にわか雨（中）",
	82: "にわか雨（強）",
	38: "にわか雨（強）",
}

// Label returns the display label for a weather code, or "天気コード:<n>" when
// the code is not in the table.
func Label(code int) string {
	if label, ok := weatherLabels[code]; ok {
		return label
	}
	return fmt.Sprintf("天気コード:%d", code)
}

// Icon returns an emoji for a weather code. Ranges do not overlap; anything
// unmatched gets the thermometer.
func Icon(code int) string {
	switch {
	case code == 0:
		return "☀️"
	case code == 1 || code == 2:
		return "🌤️"
	case code == 3:
		return "☁️"
	case code == 45 || code == 48:
		return "🌫️"
	case code >= 51 && code <= 57:
		return "🌦️"
	case (code >= 61 && code <= 67) || (code >= 80 && code <= 82):
		return "☂️"
	case (code >= 71 && code <= 77) || (code >= 85 && code <= 86):
		return "❄️"
	case code == 95 || code == 96 || code == 99:
		return "⛈️"
	default:
		return "🌡️"
	}
}

// Probability renders a precipitation probability, "不明" when unknown.
func Probability(p *int) string {
	if p == nil {
		return "不明"
	}
	return fmt.Sprintf("%d%%", *p)
}
