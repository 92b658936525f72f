package rates

import (
	"context"
	"testing"

	"github.com/mohamedayman517/mangastore-orderflow/internal/dynamomock"
	"github.com/mohamedayman517/mangastore-orderflow/internal/money"
)

type settingRow struct {
	SettingKey string  `dynamodbav:"setting_key"`
	Value      float64 `dynamodbav:"value"`
}

func newTestStore() (*Store, *dynamomock.DB) {
	db := dynamomock.New()
	db.CreateTable("settings", "setting_key")
	return NewStore(db, "settings"), db
}

func TestGetRateSameCurrency(t *testing.T) {
	s, _ := newTestStore()

	rate, err := s.GetRate(context.Background(), money.EGP, money.EGP)
	if err != nil {
		t.Fatalf("GetRate: %v", err)
	}
	if !rate.Equal(money.FromInt(1)) {
		t.Fatalf("rate = %s, want 1", rate)
	}
}

func TestGetRateFromSettings(t *testing.T) {
	s, db := newTestStore()
	db.MustSeed("settings", settingRow{SettingKey: "exchange_rate_egp_usd", Value: 48.75})

	rate, err := s.GetRate(context.Background(), money.EGP, money.USD)
	if err != nil {
		t.Fatalf("GetRate: %v", err)
	}
	if !rate.Equal(money.MustParse("48.75")) {
		t.Fatalf("rate = %s, want 48.75", rate)
	}
}

func TestGetRateMissingSetting(t *testing.T) {
	s, _ := newTestStore()

	if _, err := s.GetRate(context.Background(), money.EGP, money.USD); err != ErrRateUnavailable {
		t.Fatalf("err = %v, want ErrRateUnavailable", err)
	}
}

func TestGetRateRejectsNonPositive(t *testing.T) {
	s, db := newTestStore()
	db.MustSeed("settings", settingRow{SettingKey: "exchange_rate_egp_usd", Value: 0})

	if _, err := s.GetRate(context.Background(), money.EGP, money.USD); err != ErrRateUnavailable {
		t.Fatalf("err = %v, want ErrRateUnavailable", err)
	}
}

func TestStaticProvider(t *testing.T) {
	p := Static{Rate: money.FromInt(50)}

	rate, err := p.GetRate(context.Background(), money.EGP, money.USD)
	if err != nil || !rate.Equal(money.FromInt(50)) {
		t.Fatalf("GetRate = (%s, %v), want 50", rate, err)
	}
	rate, err = p.GetRate(context.Background(), money.EGP, money.EGP)
	if err != nil || !rate.Equal(money.FromInt(1)) {
		t.Fatalf("same-currency rate = (%s, %v), want 1", rate, err)
	}
}
