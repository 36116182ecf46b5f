package domain

import "testing"

func TestIdempotencyStatusValid(t *testing.T) {
	tests := []struct {
		name   string
		status IdempotencyStatus
		want   bool
	}{
		{name: "processing", status: IdempotencyStatusProcessing, want: true},
		{name: "done", status: IdempotencyStatusDone, want: true},
		{name: "failed", status: IdempotencyStatusFailed, want: true},
		{name: "invalid", status: IdempotencyStatus("broken"), want: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.status.Valid(); got != tc.want {
				t.Fatalf("status %q valid=%v, want %v", tc.status, got, tc.want)
			}
		})
	}
}

func TestIdempotencyRecordCompleted(t *testing.T) {
	if (IdempotencyRecord{Status: IdempotencyStatusProcessing}).Completed() {
		t.Fatal("processing record must not be replayable")
	}
	if (IdempotencyRecord{Status: IdempotencyStatusDone}).Completed() {
		t.Fatal("record without stored status must not be replayable")
	}
	if !(IdempotencyRecord{Status: IdempotencyStatusFailed, HTTPStatus: 422}).Completed() {
		t.Fatal("failed record with stored response must be replayable")
	}
}

func TestRequestHash(t *testing.T) {
	a := RequestHash("POST", "/orders", []byte(`{"product_id":1,"quantity":2}`))
	b := RequestHash("POST", "/orders", []byte(`{"product_id":1,"quantity":2}`))
	c := RequestHash("POST", "/orders", []byte(`{"product_id":1,"quantity":3}`))

	if a != b {
		t.Fatal("hash must be deterministic")
	}
	if a == c {
		t.Fatal("different bodies must produce different hashes")
	}
	if len(a) != 64 {
		t.Fatalf("expected hex sha256, got %d chars", len(a))
	}
}
