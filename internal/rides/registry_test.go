package rides

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

func testConfig() Config {
	return Config{FarePerKm: 20, MinimumFare: 50, Currency: "BDT", NoiseFloorKm: 0.01, Retention: time.Minute}
}

func newTestRide(g *Registry, id string) *models.Ride {
	return g.Create(id, models.Ride{
		RiderID: "rider1",
		Pickup:  models.Stop{Location: models.Location{Lat: 23.8103, Lon: 90.4125}, Address: "Uttara"},
		Dropoff: models.Stop{Location: models.Location{Lat: 23.7749, Lon: 90.3885}, Address: "Dhanmondi"},
	})
}

func TestCreateComputesEstimate(t *testing.T) {
	g := NewRegistry(testConfig())
	r := newTestRide(g, "r1")
	if r.Status != models.StatusSearching {
		t.Fatalf("expected searching, got %s", r.Status)
	}
	if r.EstimatedDistanceKm < 4.62 || r.EstimatedDistanceKm > 4.65 {
		t.Fatalf("unexpected estimated distance %f", r.EstimatedDistanceKm)
	}
	if r.EstimatedFare != 93 {
		t.Fatalf("unexpected estimated fare %d", r.EstimatedFare)
	}
}

func TestCreateAppliesMinimumFareFloor(t *testing.T) {
	g := NewRegistry(testConfig())
	r := g.Create("short", models.Ride{
		RiderID: "rider1",
		Pickup:  models.Stop{Location: models.Location{Lat: 23.8103, Lon: 90.4125}},
		Dropoff: models.Stop{Location: models.Location{Lat: 23.8110, Lon: 90.4130}},
	})
	if r.EstimatedFare != 50 {
		t.Fatalf("expected minimum fare 50, got %d", r.EstimatedFare)
	}
}

func TestConcurrentAcceptSingleWinner(t *testing.T) {
	g := NewRegistry(testConfig())
	r := newTestRide(g, "race")
	const attempts = 8
	drivers := make([]string, attempts)
	for i := range drivers {
		drivers[i] = fmt.Sprintf("d%d", i)
	}
	if err := g.SetCandidates(r.ID, drivers); err != nil {
		t.Fatalf("set candidates: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for _, d := range drivers {
		wg.Add(1)
		go func(driverID string) {
			defer wg.Done()
			_, _, err := g.Accept(r.ID, driverID, nil)
			errs <- err
		}(d)
	}
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		var ae *ActionError
		if !errors.As(err, &ae) || ae.Code != CodeStateConflict {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly 1 winner, got %d", success)
	}

	got, ok := g.Get(r.ID)
	if !ok || got.Status != models.StatusDriverAccepted || got.DriverID == "" {
		t.Fatalf("unexpected post-race ride: %+v", got)
	}
}

func TestAcceptRejectsNonCandidate(t *testing.T) {
	g := NewRegistry(testConfig())
	r := newTestRide(g, "r1")
	if err := g.SetCandidates(r.ID, []string{"d1"}); err != nil {
		t.Fatalf("set candidates: %v", err)
	}
	_, _, err := g.Accept(r.ID, "intruder", nil)
	var ae *ActionError
	if !errors.As(err, &ae) || ae.Code != CodeAuthorization {
		t.Fatalf("expected authorization error, got %v", err)
	}
}

func TestAcceptReturnsLosers(t *testing.T) {
	g := NewRegistry(testConfig())
	r := newTestRide(g, "r1")
	_ = g.SetCandidates(r.ID, []string{"d1", "d2", "d3"})
	_, losers, err := g.Accept(r.ID, "d2", nil)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if len(losers) != 2 || losers[0] != "d1" || losers[1] != "d3" {
		t.Fatalf("unexpected losers: %v", losers)
	}
}

func TestLifecycleResetsDistanceOnArriveAndStart(t *testing.T) {
	g := NewRegistry(testConfig())
	r := newTestRide(g, "r1")
	_ = g.SetCandidates(r.ID, []string{"d1"})
	seed := models.Location{Lat: 23.80, Lon: 90.41}
	if _, _, err := g.Accept(r.ID, "d1", &seed); err != nil {
		t.Fatalf("accept: %v", err)
	}

	// accrue some pre-pickup movement
	if _, accrued, err := g.RecordLocation(r.ID, models.Location{Lat: 23.81, Lon: 90.41}); err != nil || !accrued {
		t.Fatalf("expected accrual while en route, err=%v", err)
	}

	arr, err := g.Arrive(r.ID, "d1", &seed)
	if err != nil {
		t.Fatalf("arrive: %v", err)
	}
	if arr.ActualDistanceKm != 0 || arr.UpdatedFare != 0 {
		t.Fatalf("arrive must reset accrual, got %f / %d", arr.ActualDistanceKm, arr.UpdatedFare)
	}
	if len(arr.Route) != 1 {
		t.Fatalf("expected reseeded route of 1 point, got %d", len(arr.Route))
	}

	st, err := g.Start(r.ID, "d1", &seed)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if st.Status != models.StatusInProgress || st.StartedAt == nil {
		t.Fatalf("unexpected started ride: %+v", st)
	}
	if st.ActualDistanceKm != 0 {
		t.Fatalf("start must reset accrual, got %f", st.ActualDistanceKm)
	}
}

func TestRecordLocationIgnoresNoise(t *testing.T) {
	g := NewRegistry(testConfig())
	r := newTestRide(g, "r1")
	_ = g.SetCandidates(r.ID, []string{"d1"})
	seed := models.Location{Lat: 23.8, Lon: 90.4}
	_, _, _ = g.Accept(r.ID, "d1", &seed)

	// ~1 meter shift: below the 10 m noise floor
	got, accrued, err := g.RecordLocation(r.ID, models.Location{Lat: 23.800009, Lon: 90.4})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if accrued || got.ActualDistanceKm != 0 || got.UpdatedFare != 0 {
		t.Fatalf("noise must not accrue: accrued=%v dist=%f fare=%d", accrued, got.ActualDistanceKm, got.UpdatedFare)
	}
	if len(got.Route) != 2 {
		t.Fatalf("noise sample still joins the route, got %d points", len(got.Route))
	}
}

func TestRecordLocationAccruesAndNeverDecreases(t *testing.T) {
	g := NewRegistry(testConfig())
	r := newTestRide(g, "r1")
	_ = g.SetCandidates(r.ID, []string{"d1"})
	seed := models.Location{Lat: 23.8, Lon: 90.4}
	_, _, _ = g.Accept(r.ID, "d1", &seed)

	prev := 0.0
	lat := 23.8
	for i := 0; i < 5; i++ {
		lat += 0.005
		got, _, err := g.RecordLocation(r.ID, models.Location{Lat: lat, Lon: 90.4})
		if err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
		if got.ActualDistanceKm < prev {
			t.Fatalf("distance decreased: %f after %f", got.ActualDistanceKm, prev)
		}
		prev = got.ActualDistanceKm
	}
	if prev == 0 {
		t.Fatal("expected accrued distance")
	}
}

func TestRecordLocationRejectedOutsideActiveStates(t *testing.T) {
	g := NewRegistry(testConfig())
	r := newTestRide(g, "r1")
	_, _, err := g.RecordLocation(r.ID, models.Location{Lat: 23.8, Lon: 90.4})
	var ae *ActionError
	if !errors.As(err, &ae) || ae.Code != CodeStateConflict {
		t.Fatalf("expected state conflict while searching, got %v", err)
	}
}

func TestCompleteFallsBackToEstimate(t *testing.T) {
	g := NewRegistry(testConfig())
	r := newTestRide(g, "r1")
	_ = g.SetCandidates(r.ID, []string{"d1"})
	seed := models.Location{Lat: 23.8103, Lon: 90.4125}
	_, _, _ = g.Accept(r.ID, "d1", &seed)
	_, _ = g.Arrive(r.ID, "d1", &seed)
	_, _ = g.Start(r.ID, "d1", &seed)

	done, err := g.Complete(r.ID, "d1")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != models.StatusCompleted || done.EndedAt == nil {
		t.Fatalf("unexpected completed ride: %+v", done)
	}
	// no movement recorded, so the estimate prices the ride
	if done.FinalFare != done.EstimatedFare {
		t.Fatalf("expected fallback to estimate %d, got %d", done.EstimatedFare, done.FinalFare)
	}
}

func TestCompleteRequiresInProgressAndAssignedDriver(t *testing.T) {
	g := NewRegistry(testConfig())
	r := newTestRide(g, "r1")
	_ = g.SetCandidates(r.ID, []string{"d1"})
	_, _, _ = g.Accept(r.ID, "d1", nil)

	if _, err := g.Complete(r.ID, "d1"); err == nil {
		t.Fatal("expected state conflict before start")
	}
	_, _ = g.Arrive(r.ID, "d1", nil)
	_, _ = g.Start(r.ID, "d1", nil)
	_, err := g.Complete(r.ID, "someone-else")
	var ae *ActionError
	if !errors.As(err, &ae) || ae.Code != CodeAuthorization {
		t.Fatalf("expected authorization error, got %v", err)
	}
}

func TestCancelAuthorization(t *testing.T) {
	g := NewRegistry(testConfig())
	r := newTestRide(g, "r1")
	_ = g.SetCandidates(r.ID, []string{"d1"})
	_, _, _ = g.Accept(r.ID, "d1", nil)

	_, err := g.Cancel(r.ID, "stranger", "nope")
	var ae *ActionError
	if !errors.As(err, &ae) || ae.Code != CodeAuthorization {
		t.Fatalf("expected authorization error, got %v", err)
	}
	got, _ := g.Get(r.ID)
	if got.Status != models.StatusDriverAccepted {
		t.Fatalf("status must be unchanged after rejected cancel, got %s", got.Status)
	}

	done, err := g.Cancel(r.ID, "d1", "flat tire")
	if err != nil {
		t.Fatalf("driver cancel: %v", err)
	}
	if done.CancelledBy != "d1" || done.CancellationReason != "flat tire" {
		t.Fatalf("unexpected cancel record: %+v", done)
	}
	if _, err := g.Cancel(r.ID, "rider1", "again"); err == nil {
		t.Fatal("expected conflict cancelling a terminal ride")
	}
}

func TestExpireIfSearching(t *testing.T) {
	g := NewRegistry(testConfig())
	r := newTestRide(g, "r1")
	_ = g.SetCandidates(r.ID, []string{"d1"})

	expired, ok := g.ExpireIfSearching(r.ID)
	if !ok || expired.Status != models.StatusNoDriverFound {
		t.Fatalf("expected expiry, got ok=%v ride=%+v", ok, expired)
	}
	if _, found := g.Get(r.ID); found {
		t.Fatal("expired ride must be evicted immediately")
	}
	// late timer: ride gone, must no-op
	if _, ok := g.ExpireIfSearching(r.ID); ok {
		t.Fatal("second expiry must no-op")
	}
}

func TestExpireNoOpsAfterAccept(t *testing.T) {
	g := NewRegistry(testConfig())
	r := newTestRide(g, "r1")
	_ = g.SetCandidates(r.ID, []string{"d1"})
	_, _, _ = g.Accept(r.ID, "d1", nil)

	if _, ok := g.ExpireIfSearching(r.ID); ok {
		t.Fatal("timer firing after accept must no-op")
	}
	got, _ := g.Get(r.ID)
	if got.Status != models.StatusDriverAccepted {
		t.Fatalf("status corrupted by late timer: %s", got.Status)
	}
}

func TestTerminalRideEvictedAfterRetention(t *testing.T) {
	cfg := testConfig()
	cfg.Retention = 10 * time.Millisecond
	g := NewRegistry(cfg)
	r := newTestRide(g, "r1")
	_ = g.SetCandidates(r.ID, []string{"d1"})
	_, _, _ = g.Accept(r.ID, "d1", nil)
	if _, err := g.Cancel(r.ID, "rider1", ""); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, ok := g.Get(r.ID); !ok {
		t.Fatal("terminal ride must stay readable during the grace period")
	}
	time.Sleep(50 * time.Millisecond)
	if _, ok := g.Get(r.ID); ok {
		t.Fatal("terminal ride must be evicted after retention")
	}
}

func TestUnknownRide(t *testing.T) {
	g := NewRegistry(testConfig())
	_, _, err := g.Accept("ghost", "d1", nil)
	var ae *ActionError
	if !errors.As(err, &ae) || ae.Code != CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}
