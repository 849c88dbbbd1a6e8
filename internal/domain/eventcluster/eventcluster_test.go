package eventcluster

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func item(title string, embedding []float32, fetchedAt time.Time) Item {
	return Item{ID: uuid.New(), Title: title, Embedding: embedding, FetchedAt: fetchedAt}
}

func TestCluster_GroupsSimilarItems(t *testing.T) {
	now := time.Now()
	items := []Item{
		item("台风摩羯登陆海南", []float32{1, 0, 0}, now),
		item("台风摩羯登陆海南！", []float32{0.99, 0.01, 0}, now.Add(time.Minute)),
		item("股市今日大涨收盘", []float32{0, 1, 0}, now.Add(2 * time.Minute)),
	}

	groups := Cluster(items, Thresholds{CosineSimilarity: 0.8, TitleJaccard: 0.4})
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}

	for _, g := range groups {
		if len(g.Members) == 2 && g.Representative.Title != "台风摩羯登陆海南" {
			t.Errorf("expected earliest-fetched item as representative, got %q", g.Representative.Title)
		}
	}
}

func TestCluster_AllSingletonsWhenDissimilar(t *testing.T) {
	now := time.Now()
	items := []Item{
		item("台风预警", []float32{1, 0}, now),
		item("股市大涨", []float32{0, 1}, now),
		item("足球比赛", []float32{0.5, 0.5}, now),
	}
	groups := Cluster(items, Thresholds{CosineSimilarity: 0.95, TitleJaccard: 0.9})
	if len(groups) != 3 {
		t.Fatalf("expected 3 singleton groups, got %d", len(groups))
	}
	for _, g := range groups {
		if len(g.Members) != 1 {
			t.Errorf("expected singleton group, got %d members", len(g.Members))
		}
	}
}

func TestCluster_RequiresBothThresholds(t *testing.T) {
	now := time.Now()
	// High cosine similarity but dissimilar titles: no edge.
	items := []Item{
		item("台风预警发布", []float32{1, 0}, now),
		item("股市行情走势", []float32{0.99, 0.01}, now),
	}
	groups := Cluster(items, Thresholds{CosineSimilarity: 0.8, TitleJaccard: 0.4})
	if len(groups) != 2 {
		t.Fatalf("expected no merge when titles diverge, got %d groups", len(groups))
	}
}

func TestCluster_Empty(t *testing.T) {
	groups := Cluster(nil, Thresholds{CosineSimilarity: 0.8, TitleJaccard: 0.4})
	if len(groups) != 0 {
		t.Errorf("expected no groups for empty input, got %d", len(groups))
	}
}
