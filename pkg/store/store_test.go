package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestUnconfiguredReportsUnavailable(t *testing.T) {
	ctx := context.Background()
	u := Unconfigured{}

	if _, err := u.UserInterests(ctx, "margaret"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("UserInterests err = %v, want ErrUnavailable", err)
	}
	if _, err := u.UpcomingEvents(ctx, []string{"hiking"}, time.Now()); !errors.Is(err, ErrUnavailable) {
		t.Errorf("UpcomingEvents err = %v, want ErrUnavailable", err)
	}
	if err := u.SaveConversation(ctx, "margaret", "USER: hi"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("SaveConversation err = %v, want ErrUnavailable", err)
	}
	if _, err := u.LatestDailyHealth(ctx, "margaret"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("LatestDailyHealth err = %v, want ErrUnavailable", err)
	}
	if _, err := u.DailyHealthRange(ctx, "margaret", 7); !errors.Is(err, ErrUnavailable) {
		t.Errorf("DailyHealthRange err = %v, want ErrUnavailable", err)
	}
}
