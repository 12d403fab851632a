package clock

import "testing"

func TestOffsetZeroWhenClocksAligned(t *testing.T) {
	// Symmetric round trip, no clock skew: t0=100, t1=t2=150, t3=200.
	offset, rtt := Offset(100, 150, 150, 200)
	if offset != 0 {
		t.Errorf("expected zero offset, got %d", offset)
	}
	if rtt != 100 {
		t.Errorf("expected round trip of 100, got %d", rtt)
	}
}

func TestReplyStampsCoincide(t *testing.T) {
	t2, t3 := Reply(1000)
	if t2 != t3 {
		t.Errorf("expected t2 == t3, got %d != %d", t2, t3)
	}
	if t2 <= 0 {
		t.Errorf("expected a positive timestamp, got %d", t2)
	}
}
