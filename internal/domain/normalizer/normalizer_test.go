package normalizer

import (
	"math"
	"testing"

	"echoman/internal/domain"
)

func heat(v float64) *float64 { return &v }

func TestNormalize_EmptyPeriodErrors(t *testing.T) {
	n := Normalizer{}
	err := n.Normalize(nil)
	if err != ErrEmptyPeriod {
		t.Fatalf("expected ErrEmptyPeriod, got %v", err)
	}
}

func TestNormalize_SingleItem(t *testing.T) {
	n := Normalizer{}
	items := []domain.SourceItem{
		{Platform: domain.PlatformWeibo, HeatValue: heat(100)},
	}
	if err := n.Normalize(items); err != nil {
		t.Fatal(err)
	}
	if math.Abs(items[0].HeatNormalized-1.0) > 1e-9 {
		t.Errorf("single item should take the whole period's heat, got %v", items[0].HeatNormalized)
	}
}

func TestNormalize_AllNoHeatPlatform(t *testing.T) {
	n := Normalizer{}
	items := []domain.SourceItem{
		{Platform: domain.PlatformZhihu, HeatValue: nil},
		{Platform: domain.PlatformZhihu, HeatValue: nil},
	}
	if err := n.Normalize(items); err != nil {
		t.Fatal(err)
	}
	for _, it := range items {
		if math.Abs(it.HeatNormalized-0.5) > 1e-9 {
			t.Errorf("expected 0.5 before period scaling cancels out, got %v", it.HeatNormalized)
		}
	}
}

func TestNormalize_MaxEqualsMin(t *testing.T) {
	n := Normalizer{}
	items := []domain.SourceItem{
		{Platform: domain.PlatformBaidu, HeatValue: heat(50)},
		{Platform: domain.PlatformBaidu, HeatValue: heat(50)},
	}
	if err := n.Normalize(items); err != nil {
		t.Fatal(err)
	}
	for _, it := range items {
		if math.Abs(it.HeatNormalized-0.5) > 1e-9 {
			t.Errorf("tied platform values should each get 0.5 pre-scaling, got %v", it.HeatNormalized)
		}
	}
}

func TestNormalize_SumsToOne(t *testing.T) {
	n := Normalizer{Weights: map[domain.Platform]float64{
		domain.PlatformWeibo: 1.5,
		domain.PlatformZhihu: 0.8,
	}}
	items := []domain.SourceItem{
		{Platform: domain.PlatformWeibo, HeatValue: heat(10)},
		{Platform: domain.PlatformWeibo, HeatValue: heat(90)},
		{Platform: domain.PlatformZhihu, HeatValue: heat(5)},
		{Platform: domain.PlatformZhihu, HeatValue: heat(500)},
	}
	if err := n.Normalize(items); err != nil {
		t.Fatal(err)
	}
	var total float64
	for _, it := range items {
		total += it.HeatNormalized
	}
	if math.Abs(total-1.0) > 1e-9 {
		t.Errorf("expected sum to 1.0, got %v", total)
	}
}

func TestNormalize_UnknownPlatformWeightDefaultsToOne(t *testing.T) {
	n := Normalizer{Weights: map[domain.Platform]float64{}}
	items := []domain.SourceItem{
		{Platform: domain.PlatformHupu, HeatValue: heat(10)},
		{Platform: domain.PlatformHupu, HeatValue: heat(30)},
	}
	if err := n.Normalize(items); err != nil {
		t.Fatal(err)
	}
	var total float64
	for _, it := range items {
		total += it.HeatNormalized
	}
	if math.Abs(total-1.0) > 1e-9 {
		t.Errorf("expected sum to 1.0, got %v", total)
	}
}
