package dialogue

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjstillabower/dailyreport-bot/internal/messaging"
	"github.com/kjstillabower/dailyreport-bot/internal/models"
	"github.com/kjstillabower/dailyreport-bot/internal/state"
	"github.com/kjstillabower/dailyreport-bot/internal/tz"
)

type fakeResolver struct {
	places  map[string]models.ResolvedPlace
	queries []string
}

func (f *fakeResolver) Resolve(ctx context.Context, query string) (models.ResolvedPlace, bool) {
	f.queries = append(f.queries, query)
	p, ok := f.places[query]
	return p, ok
}

type fakeWeather struct {
	window models.ForecastWindow
	err    error
	gotTZ  string
	calls  int
}

func (f *fakeWeather) GetForecastWindow(ctx context.Context, lat, lon float64, tz string) (models.ForecastWindow, error) {
	f.calls++
	f.gotTZ = tz
	return f.window, f.err
}

type sentReply struct {
	token string
	msgs  []messaging.Message
}

type fakeNotifier struct {
	mu      sync.Mutex
	replies []sentReply
	err     error
}

func (f *fakeNotifier) Reply(ctx context.Context, replyToken string, msgs ...messaging.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, sentReply{token: replyToken, msgs: msgs})
	return f.err
}

func (f *fakeNotifier) Push(ctx context.Context, to string, msgs ...messaging.Message) error {
	return errors.New("push not expected")
}

func (f *fakeNotifier) Broadcast(ctx context.Context, msgs ...messaging.Message) error {
	return errors.New("broadcast not expected")
}

func (f *fakeNotifier) last(t *testing.T) messaging.Message {
	t.Helper()
	require.NotEmpty(t, f.replies)
	r := f.replies[len(f.replies)-1]
	require.Len(t, r.msgs, 1)
	return r.msgs[0]
}

var (
	placeTokyo   = models.ResolvedPlace{Name: "東京", Latitude: 35.6895, Longitude: 139.69171, Timezone: "Asia/Tokyo", DisplayName: "東京, 日本"}
	placeGlasgow = models.ResolvedPlace{Name: "グラスゴー", Latitude: 55.86515, Longitude: -4.25763, Timezone: "Europe/London", DisplayName: "グラスゴー, スコットランド, イギリス"}
)

func ip(v int) *int { return &v }

type harness struct {
	ctrl     *Controller
	store    *state.Store
	resolver *fakeResolver
	weather  *fakeWeather
	notifier *fakeNotifier
}

func newHarness() *harness {
	h := &harness{
		store: state.NewStore(0, 0, nil),
		resolver: &fakeResolver{places: map[string]models.ResolvedPlace{
			"東京":      placeTokyo,
			"Glasgow": placeGlasgow,
		}},
		weather: &fakeWeather{window: models.ForecastWindow{
			Forecasts: []models.ForecastSlot{
				{Time: "09:00", Icon: "🌤️", WeatherLabel: "晴れ", Temperature: 18.25, PrecipitationProbability: ip(10)},
				{Time: "12:00", Icon: "☁️", WeatherLabel: "くもり", Temperature: 21},
			},
			DateLabel:   "2026年10月16日(金)",
			HeaderLabel: "翌日",
			TargetDate:  "2026-10-16",
		}},
		notifier: &fakeNotifier{},
	}
	calc := tz.NewCalculator().WithClock(func() time.Time { return time.Date(2026, 10, 15, 12, 5, 0, 0, time.UTC) })
	h.ctrl = NewController(h.store, h.resolver, h.weather, calc, h.notifier, nil)
	return h
}

func (h *harness) send(t *testing.T, ev Event) messaging.Message {
	t.Helper()
	if ev.UserID == "" {
		ev.UserID = "U1"
	}
	if ev.ReplyToken == "" {
		ev.ReplyToken = "rt"
	}
	before := len(h.notifier.replies)
	require.NoError(t, h.ctrl.Handle(context.Background(), ev))
	require.Len(t, h.notifier.replies, before+1, "exactly one reply per event")
	return h.notifier.last(t)
}

func text(s string) Event { return Event{Kind: InputText, Text: s} }

func (h *harness) stateID() state.StateID {
	st, _ := h.store.Get("U1")
	return st.ID()
}

func TestController_MenuClearsState(t *testing.T) {
	h := newHarness()
	h.store.Set("U1", state.TimezoneFlow{Step: state.StepTZTo, From: &placeTokyo})

	msg := h.send(t, Event{Kind: InputMenu})

	assert.Equal(t, "何をお手伝いしましょうか？", msg.Text)
	require.NotNil(t, msg.QuickReply)
	require.Len(t, msg.QuickReply.Items, 2)
	assert.Equal(t, PostbackTimezone, msg.QuickReply.Items[0].Action.Data)
	assert.Equal(t, PostbackWeather, msg.QuickReply.Items[1].Action.Data)
	assert.Equal(t, state.StateNone, h.stateID())
}

func TestController_NoStateShowsMenu(t *testing.T) {
	h := newHarness()
	msg := h.send(t, text("東京"))
	assert.Equal(t, "何をお手伝いしましょうか？", msg.Text)
	assert.Empty(t, h.resolver.queries, "no resolution without a flow")
}

func TestController_LocationOutsideWeatherShowsMenu(t *testing.T) {
	h := newHarness()
	h.store.Set("U1", state.TimezoneFlow{Step: state.StepTZFrom})
	msg := h.send(t, Event{Kind: InputLocation, Latitude: 1, Longitude: 2})
	assert.Equal(t, "何をお手伝いしましょうか？", msg.Text)
	assert.Equal(t, state.StateNone, h.stateID())
	assert.Zero(t, h.weather.calls)
}

func TestController_UnknownPostbackShowsMenu(t *testing.T) {
	h := newHarness()
	h.store.Set("U1", state.WeatherFlow{})
	msg := h.send(t, Event{Kind: InputUnknownPostback})
	assert.Equal(t, "何をお手伝いしましょうか？", msg.Text)
	assert.Equal(t, state.StateNone, h.stateID())
}

func TestController_TimezoneFlow(t *testing.T) {
	h := newHarness()

	msg := h.send(t, Event{Kind: InputSelectTimezone})
	assert.Equal(t, timezonePrompt, msg.Text)
	st, ok := h.store.Get("U1")
	require.True(t, ok)
	assert.Equal(t, state.StateTZAwaitFrom, st.ID())
	flow := st.Flow.(state.TimezoneFlow)
	assert.Nil(t, flow.From)
	assert.Nil(t, flow.To)

	msg = h.send(t, text("Glasgow"))
	assert.Equal(t, "あなたの地点：グラスゴー, スコットランド, イギリス\n\n時差を知りたい都市の地名や郵便番号を入力してください。", msg.Text)
	st, ok = h.store.Get("U1")
	require.True(t, ok)
	assert.Equal(t, state.StateTZAwaitTo, st.ID())
	require.NotNil(t, st.Flow.(state.TimezoneFlow).From)
	assert.Equal(t, "Europe/London", st.Flow.(state.TimezoneFlow).From.Timezone)

	msg = h.send(t, text("東京"))
	want := "【時差計算結果】\n\n" +
		"あなたの地点：グラスゴー, スコットランド, イギリス (Europe/London)\n" +
		"2026年10月15日 (木) 13:05\n\n" +
		"目的地：東京, 日本 (Asia/Tokyo)\n" +
		"2026年10月15日 (木) 21:05\n\n" +
		"時差：+8時間\n\n" +
		"もう一度計算する場合は「メニュー」と入力してください。"
	assert.Equal(t, want, msg.Text)
	assert.Equal(t, state.StateNone, h.stateID())
}

func TestController_TimezoneFromMissLeavesStateUnchanged(t *testing.T) {
	h := newHarness()
	h.store.Set("U1", state.TimezoneFlow{Step: state.StepTZFrom})

	msg := h.send(t, text("x"))
	assert.Equal(t, "「x」に該当する場所が見つかりませんでした。\n2文字以上の地名や郵便番号で入力してください。", msg.Text)
	assert.Equal(t, state.StateTZAwaitFrom, h.stateID())
}

func TestController_TimezoneToMissIsIdempotent(t *testing.T) {
	h := newHarness()
	h.store.Set("U1", state.TimezoneFlow{Step: state.StepTZTo, From: &placeTokyo})
	before, _ := h.store.Get("U1")

	for i := 0; i < 3; i++ {
		msg := h.send(t, text("xyzzy123"))
		assert.Contains(t, msg.Text, "「xyzzy123」")
		after, ok := h.store.Get("U1")
		require.True(t, ok)
		assert.Equal(t, before.Flow, after.Flow)
		assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
	}
}

func TestController_TimezoneToWithoutFromShowsMenu(t *testing.T) {
	h := newHarness()
	h.store.Set("U1", state.TimezoneFlow{Step: state.StepTZTo})
	msg := h.send(t, text("東京"))
	assert.Equal(t, "何をお手伝いしましょうか？", msg.Text)
	assert.Equal(t, state.StateNone, h.stateID())
}

func TestController_WeatherByPlace(t *testing.T) {
	h := newHarness()
	msg := h.send(t, Event{Kind: InputSelectWeather})
	assert.Equal(t, weatherPrompt, msg.Text)
	assert.Equal(t, state.StateWeatherAwaitLocation, h.stateID())

	msg = h.send(t, text("東京"))
	want := "こちら翌日の天気です。\n" +
		"【2026年10月16日(金)｜東京, 日本の天気】\n" +
		"09:00 🌤️ 晴れ 気温: 18.2℃ / 降水確率: 10%\n" +
		"12:00 ☁️ くもり 気温: 21.0℃ / 降水確率: 不明" +
		"\n\nもう一度検索する場合は「メニュー」と入力してください。"
	assert.Equal(t, want, msg.Text)
	assert.Equal(t, "Asia/Tokyo", h.weather.gotTZ)
	assert.Equal(t, state.StateNone, h.stateID())
}

func TestController_WeatherUnresolvedKeepsState(t *testing.T) {
	h := newHarness()
	h.store.Set("U1", state.WeatherFlow{})

	msg := h.send(t, text("xyzzy123"))
	assert.Equal(t, "「xyzzy123」に該当する場所が見つかりませんでした。\n2文字以上の地名や郵便番号を入力するか、位置情報を送ってください。", msg.Text)
	assert.Equal(t, state.StateWeatherAwaitLocation, h.stateID())
	assert.Zero(t, h.weather.calls)
}

func TestController_WeatherFailureClearsState(t *testing.T) {
	h := newHarness()
	h.weather.err = errors.New("forecast: exhausted 3 attempts: upstream failure")
	h.store.Set("U1", state.WeatherFlow{})

	msg := h.send(t, text("東京"))
	assert.Equal(t, "天気情報の取得に失敗しました: forecast: exhausted 3 attempts: upstream failure", msg.Text)
	assert.Equal(t, state.StateNone, h.stateID())
}

func TestController_WeatherByCoordinates(t *testing.T) {
	h := newHarness()
	h.store.Set("U1", state.WeatherFlow{})

	msg := h.send(t, Event{Kind: InputLocation, Latitude: 43.06417, Longitude: 141.34694})
	lines := strings.Split(msg.Text, "\n")
	require.GreaterOrEqual(t, len(lines), 3)
	assert.Equal(t, "こちら翌日の天気です。", lines[0])
	assert.Equal(t, "【2026年10月16日(金)｜位置情報の天気】", lines[1])
	assert.Equal(t, "緯度: 43.0642, 経度: 141.3469", lines[2])
	assert.Equal(t, DefaultCoordinateTimezone, h.weather.gotTZ)
	assert.Empty(t, h.resolver.queries)
	assert.Equal(t, state.StateNone, h.stateID())
}

func TestController_CoordinateTimezoneOverride(t *testing.T) {
	h := newHarness()
	h.ctrl.WithCoordinateTimezone("Europe/Berlin")
	h.store.Set("U1", state.WeatherFlow{})
	h.send(t, Event{Kind: InputLocation, Latitude: 52.5, Longitude: 13.4})
	assert.Equal(t, "Europe/Berlin", h.weather.gotTZ)
}

func TestController_PostbackRestartsFlow(t *testing.T) {
	h := newHarness()
	h.store.Set("U1", state.TimezoneFlow{Step: state.StepTZTo, From: &placeTokyo})
	h.send(t, Event{Kind: InputSelectWeather})
	assert.Equal(t, state.StateWeatherAwaitLocation, h.stateID())
}

func TestController_ReplyErrorReturnedStateKept(t *testing.T) {
	h := newHarness()
	h.notifier.err = messaging.ErrSendFailed

	err := h.ctrl.Handle(context.Background(), Event{UserID: "U1", ReplyToken: "rt", Kind: InputSelectTimezone})
	assert.ErrorIs(t, err, messaging.ErrSendFailed)
	assert.Equal(t, state.StateTZAwaitFrom, h.stateID())
}

func TestLookup_Table(t *testing.T) {
	states := []state.StateID{state.StateNone, state.StateTZAwaitFrom, state.StateTZAwaitTo, state.StateWeatherAwaitLocation}
	kinds := []InputKind{InputText, InputLocation, InputMenu, InputSelectTimezone, InputSelectWeather, InputUnknownPostback}
	for _, s := range states {
		for _, k := range kinds {
			assert.NotNil(t, lookup(s, k), "%s x %s", s, k)
		}
	}
}
