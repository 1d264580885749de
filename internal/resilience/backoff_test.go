package resilience

import (
	"testing"
	"time"
)

func TestRetryPolicy_WithDefaults(t *testing.T) {
	p := RetryPolicy{}.WithDefaults()
	d := DefaultRetryPolicy()
	if p.MaxAttempts != d.MaxAttempts || p.InitialBackoff != d.InitialBackoff ||
		p.MaxBackoff != d.MaxBackoff || p.Multiplier != d.Multiplier {
		t.Errorf("zero policy should take defaults, got %+v", p)
	}

	custom := RetryPolicy{MaxAttempts: 7, JitterFraction: -1}.WithDefaults()
	if custom.MaxAttempts != 7 {
		t.Errorf("expected MaxAttempts 7, got %d", custom.MaxAttempts)
	}
	if custom.JitterFraction != 0 {
		t.Errorf("negative jitter should clamp to 0, got %v", custom.JitterFraction)
	}
}

func TestRetryPolicy_Exhausted(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3}
	for attempts, want := range map[int]bool{0: false, 1: false, 2: false, 3: true, 4: true} {
		if got := p.Exhausted(attempts); got != want {
			t.Errorf("Exhausted(%d) = %v, want %v", attempts, got, want)
		}
	}
}

func TestRetryPolicy_Delay_ExponentialWithoutJitter(t *testing.T) {
	p := RetryPolicy{
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     time.Second,
		Multiplier:     2,
	}
	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
		time.Second,
	}
	for i, w := range want {
		if got := p.Delay(i + 1); got != w {
			t.Errorf("Delay(%d) = %v, want %v", i+1, got, w)
		}
	}
	if got := p.Delay(0); got != 100*time.Millisecond {
		t.Errorf("Delay(0) should behave like Delay(1), got %v", got)
	}
}

func TestRetryPolicy_Delay_JitterBounds(t *testing.T) {
	p := RetryPolicy{
		InitialBackoff: time.Second,
		MaxBackoff:     time.Minute,
		Multiplier:     2,
		JitterFraction: 0.5,
	}
	for i := 0; i < 100; i++ {
		d := p.Delay(1)
		if d < 500*time.Millisecond || d > 1500*time.Millisecond {
			t.Fatalf("delay %v outside ±50%% of 1s", d)
		}
	}
}
