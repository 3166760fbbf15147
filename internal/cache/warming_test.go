package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kjstillabower/dailyreport-bot/internal/models"
)

type mockWindowFetcher struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func (m *mockWindowFetcher) GetForecastWindow(ctx context.Context, lat, lon float64, tz string) (models.ForecastWindow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, tz)
	if err, ok := m.fail[tz]; ok {
		return models.ForecastWindow{}, err
	}
	return models.ForecastWindow{HeaderLabel: "翌日"}, nil
}

var warmTargets = []WarmTarget{
	{Name: "横浜", Latitude: 35.4437, Longitude: 139.6380, Timezone: "Asia/Tokyo"},
	{Name: "Berlin", Latitude: 52.52, Longitude: 13.405, Timezone: "Europe/Berlin"},
}

func TestCacheWarmer_Warm_Success(t *testing.T) {
	fetcher := &mockWindowFetcher{}
	warmer := NewCacheWarmer(fetcher, nil)

	if err := warmer.Warm(context.Background(), warmTargets); err != nil {
		t.Fatalf("Warm() error = %v, want nil", err)
	}
	if len(fetcher.calls) != 2 {
		t.Errorf("fetch calls = %d, want 2", len(fetcher.calls))
	}
}

func TestCacheWarmer_Warm_EmptyTargets(t *testing.T) {
	warmer := NewCacheWarmer(&mockWindowFetcher{}, nil)
	if err := warmer.Warm(context.Background(), nil); err != nil {
		t.Fatalf("Warm(nil) error = %v, want nil", err)
	}
}

func TestCacheWarmer_Warm_PartialFailure(t *testing.T) {
	apiDown := errors.New("api down")
	fetcher := &mockWindowFetcher{fail: map[string]error{"Europe/Berlin": apiDown}}
	warmer := NewCacheWarmer(fetcher, nil)

	err := warmer.Warm(context.Background(), warmTargets)
	if err == nil {
		t.Fatal("Warm() error = nil, want non-nil")
	}
	if !errors.Is(err, apiDown) {
		t.Errorf("Warm() error = %v, want wrapping %v", err, apiDown)
	}
	if !strings.Contains(err.Error(), "warm Berlin") {
		t.Errorf("Warm() error = %q, want target name", err.Error())
	}
	if len(fetcher.calls) != 2 {
		t.Errorf("fetch calls = %d, want 2 (failures do not stop other targets)", len(fetcher.calls))
	}
}

func TestCacheWarmer_WarmPeriodic_StopsOnCancel(t *testing.T) {
	fetcher := &mockWindowFetcher{}
	warmer := NewCacheWarmer(fetcher, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- warmer.WarmPeriodic(ctx, warmTargets[:1], time.Hour) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		fetcher.mu.Lock()
		n := len(fetcher.calls)
		fetcher.mu.Unlock()
		if n >= 1 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("WarmPeriodic() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("WarmPeriodic did not return after cancel")
	}
}
