package application

import (
	"testing"
	"time"

	insight "piam-analytics/internal/insights/domain"
)

func TestFeedExpiresEntries(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	feed := NewFeed(30 * time.Minute)
	feed.Publish("tenant-a", []insight.Insight{{ID: "i1", TenantID: "tenant-a"}}, now)

	if got := feed.List("tenant-a", now.Add(29*time.Minute)); len(got) != 1 {
		t.Fatalf("feed within ttl = %d insights, want 1", len(got))
	}
	if got := feed.List("tenant-a", now.Add(31*time.Minute)); len(got) != 0 {
		t.Fatalf("feed past ttl = %d insights, want none", len(got))
	}
}

func TestFeedPublishReplacesList(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	feed := NewFeed(time.Hour)
	feed.Publish("tenant-a", []insight.Insight{{ID: "i1"}, {ID: "i2"}}, now)
	feed.Publish("tenant-a", []insight.Insight{{ID: "i3"}}, now)

	got := feed.List("tenant-a", now)
	if len(got) != 1 || got[0].ID != "i3" {
		t.Fatalf("feed = %+v, want only i3", got)
	}

	feed.Publish("tenant-a", nil, now)
	if got := feed.List("tenant-a", now); len(got) != 0 {
		t.Fatalf("cleared feed = %d insights, want none", len(got))
	}
}
