package domain

import (
	"errors"
	"testing"
)

func TestBookKeyLowercasesTitleAndAuthor(t *testing.T) {
	if got := BookKey("Dune", "Frank HERBERT"); got != "dune#frank herbert" {
		t.Fatalf("BookKey() = %q", got)
	}
	if BookKey("DUNE", "frank herbert") != BookKey("dune", "Frank Herbert") {
		t.Fatalf("expected case-insensitive keys to match")
	}
}

func TestImportStageAdvance(t *testing.T) {
	if !StageProcessing.CanAdvanceTo(StageCompleted) || !StageProcessing.CanAdvanceTo(StageFailed) {
		t.Fatalf("processing should advance to terminal stages")
	}
	if StageCompleted.CanAdvanceTo(StageFailed) {
		t.Fatalf("terminal stage must not change")
	}
	if StageProcessing.CanAdvanceTo(StageProcessing) {
		t.Fatalf("processing -> processing is not an advance")
	}
}

func TestImportObjectKeyRoundTrip(t *testing.T) {
	key := ImportObjectKey("user-1", "imp-9")
	if key != "uploads/user-1/imp-9.csv" {
		t.Fatalf("ImportObjectKey() = %q", key)
	}
	userID, importID, err := ParseImportObjectKey(key)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if userID != "user-1" || importID != "imp-9" {
		t.Fatalf("parsed (%q, %q)", userID, importID)
	}
}

func TestParseImportObjectKeyRejectsMalformed(t *testing.T) {
	for _, key := range []string{"", "uploads/user-1", "other/user-1/imp.csv", "uploads//imp.csv", "uploads/u/x/imp.csv"} {
		userID, importID, err := ParseImportObjectKey(key)
		if !errors.Is(err, ErrMalformedObjectKey) {
			t.Fatalf("key %q: expected ErrMalformedObjectKey, got %v", key, err)
		}
		if userID != "" || importID != "" {
			t.Fatalf("key %q: ids should not be recovered", key)
		}
	}
}

func TestParseImportObjectKeyKeepsIDsOnBadExtension(t *testing.T) {
	userID, importID, err := ParseImportObjectKey("uploads/user-1/imp-9.txt")
	if !errors.Is(err, ErrMalformedObjectKey) {
		t.Fatalf("expected ErrMalformedObjectKey, got %v", err)
	}
	if userID != "user-1" || importID != "imp-9" {
		t.Fatalf("expected ids to be recovered, got (%q, %q)", userID, importID)
	}
}
