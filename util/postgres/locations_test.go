package postgres

import (
	"context"
	"testing"
)

func TestLocations_InvalidArguments(t *testing.T) {
	db := &DB{}
	ctx := context.Background()

	if err := db.SaveLocations(ctx, "", 42, nil); err == nil {
		t.Error("SaveLocations() should reject an empty run id")
	}
	if err := db.SaveLocations(ctx, "run", 0, nil); err == nil {
		t.Error("SaveLocations() should reject a non-positive network id")
	}
	if _, err := db.LoadLocations(ctx, ""); err == nil {
		t.Error("LoadLocations() should reject an empty run id")
	}
	if _, err := db.GetRun(ctx, ""); err == nil {
		t.Error("GetRun() should reject an empty run id")
	}
	if err := db.DeleteRun(ctx, ""); err == nil {
		t.Error("DeleteRun() should reject an empty run id")
	}
}
