package postgres_test

import (
	"context"
	"testing"

	"github.com/xiaonanln/wpeplayback/util/postgres"
	"github.com/xiaonanln/wpeplayback/util/testutil"
)

func TestDB_InitSchema_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping long-running integration test in short mode")
	}
	db := testutil.CreateTestDatabase(t)
	ctx := context.Background()

	if err := db.InitSchema(ctx); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	var count int
	if err := db.Connection().QueryRowContext(ctx, "SELECT COUNT(*) FROM wpe_computed_locations").Scan(&count); err != nil {
		t.Fatalf("Failed to query wpe_computed_locations table: %v", err)
	}
	if count != 0 {
		t.Fatalf("Expected 0 rows in new table, got %d", count)
	}

	// Idempotent
	if err := db.InitSchema(ctx); err != nil {
		t.Fatalf("InitSchema() second call failed: %v", err)
	}
}

func TestDB_SaveLoadLocations_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping long-running integration test in short mode")
	}
	db := testutil.CreateTestDatabase(t)
	ctx := context.Background()
	if err := db.InitSchema(ctx); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	rows := []postgres.LocationRow{
		{Address: 301, NetworkID: 42, Latitude: 61.45, Longitude: 23.85, Altitude: 110, Data: []byte(`{"address": 301}`)},
		{Address: 302, NetworkID: 42, Latitude: 61.46, Longitude: 23.86, Altitude: 111, Data: []byte(`{"address": 302}`)},
	}
	if err := db.SaveLocations(ctx, "run-1", 42, rows); err != nil {
		t.Fatalf("SaveLocations() failed: %v", err)
	}

	loaded, err := db.LoadLocations(ctx, "run-1")
	if err != nil {
		t.Fatalf("LoadLocations() failed: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("Expected 2 locations, got %d", len(loaded))
	}
	if loaded[0].Address != 301 || loaded[1].Address != 302 {
		t.Fatalf("Locations out of order: %d, %d", loaded[0].Address, loaded[1].Address)
	}
	if loaded[1].Latitude != 61.46 {
		t.Errorf("Expected latitude 61.46, got %f", loaded[1].Latitude)
	}

	run, err := db.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun() failed: %v", err)
	}
	if run.NetworkID != 42 || run.LocationCount != 2 {
		t.Errorf("Unexpected run summary: %+v", run)
	}

	// Saving again replaces the rows
	if err := db.SaveLocations(ctx, "run-1", 42, rows[:1]); err != nil {
		t.Fatalf("SaveLocations() second call failed: %v", err)
	}
	loaded, err = db.LoadLocations(ctx, "run-1")
	if err != nil {
		t.Fatalf("LoadLocations() failed: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("Expected 1 location after replace, got %d", len(loaded))
	}

	runs, err := db.ListRuns(ctx, 42)
	if err != nil {
		t.Fatalf("ListRuns() failed: %v", err)
	}
	if len(runs) != 1 || runs[0].RunID != "run-1" {
		t.Fatalf("Expected single run run-1, got %v", runs)
	}

	if err := db.DeleteRun(ctx, "run-1"); err != nil {
		t.Fatalf("DeleteRun() failed: %v", err)
	}
	loaded, err = db.LoadLocations(ctx, "run-1")
	if err != nil {
		t.Fatalf("LoadLocations() after delete failed: %v", err)
	}
	if len(loaded) != 0 {
		t.Fatalf("Expected locations to be deleted with the run, got %d", len(loaded))
	}
	if err := db.DeleteRun(ctx, "run-1"); err == nil {
		t.Fatal("DeleteRun() of a missing run should fail")
	}
}
