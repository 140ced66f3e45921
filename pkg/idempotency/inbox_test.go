package idempotency

import (
	"testing"
	"time"
)

func TestGenerateKeyDeterministic(t *testing.T) {
	ts := time.Date(2026, 3, 14, 10, 30, 15, 0, time.UTC)

	k1 := GenerateKey("1234567890", "pat-1", "00071-0222-23", ts)
	k2 := GenerateKey("1234567890", "pat-1", "00071-0222-23", ts.Add(20*time.Second))
	if k1 != k2 {
		t.Error("submissions within the same minute must share a key")
	}

	k3 := GenerateKey("1234567890", "pat-1", "00071-0222-23", ts.Add(time.Minute))
	if k1 == k3 {
		t.Error("submissions in different minutes must get distinct keys")
	}
}

func TestGenerateKeyDistinguishesIntent(t *testing.T) {
	ts := time.Now()
	base := GenerateKey("1234567890", "pat-1", "00071-0222-23", ts)

	if base == GenerateKey("0987654321", "pat-1", "00071-0222-23", ts) {
		t.Error("expected prescriber to affect the key")
	}
	if base == GenerateKey("1234567890", "pat-2", "00071-0222-23", ts) {
		t.Error("expected patient to affect the key")
	}
	if base == GenerateKey("1234567890", "pat-1", "99999-0000-01", ts) {
		t.Error("expected medication to affect the key")
	}
}

func TestGenerateKeyTimezoneInsensitive(t *testing.T) {
	utc := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)
	est := utc.In(time.FixedZone("EST", -5*3600))

	if GenerateKey("1234567890", "pat-1", "ndc", utc) != GenerateKey("1234567890", "pat-1", "ndc", est) {
		t.Error("expected the same key regardless of the clock's timezone")
	}
}
