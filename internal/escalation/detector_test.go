package escalation

import (
	"slices"
	"sync"
	"testing"
)

func TestDetect(t *testing.T) {
	d := NewDetector(nil)

	tests := []struct {
		name           string
		message        string
		custom         []string
		wantEscalate   bool
		wantKeywords   []string
		wantConfidence float64
	}{
		{
			name:           "urgent help",
			message:        "this is urgent, please help",
			wantEscalate:   true,
			wantKeywords:   []string{"urgent", "help"},
			wantConfidence: 2.0 / 3.0,
		},
		{
			name:           "case insensitive phrase",
			message:        "It is NOT WORKING",
			wantEscalate:   true,
			wantKeywords:   []string{"not working"},
			wantConfidence: 1.0 / 3.0,
		},
		{
			name:           "confidence caps at one",
			message:        "urgent emergency, the app is broken and I am angry",
			wantEscalate:   true,
			wantKeywords:   []string{"urgent", "emergency", "angry", "broken"},
			wantConfidence: 1.0,
		},
		{
			name:           "no match",
			message:        "thanks, that answers my question",
			wantEscalate:   false,
			wantKeywords:   []string{},
			wantConfidence: 0,
		},
		{
			name:           "custom keyword",
			message:        "I want a Refund",
			custom:         []string{"refund"},
			wantEscalate:   true,
			wantKeywords:   []string{"refund"},
			wantConfidence: 1.0 / 3.0,
		},
		// A tenant keyword repeating a built-in one is matched once, so it
		// cannot double the confidence: 1/3 here, not 2/3.
		{
			name:           "tenant keyword overlapping built-in",
			message:        "this is urgent",
			custom:         []string{"urgent"},
			wantEscalate:   true,
			wantKeywords:   []string{"urgent"},
			wantConfidence: 1.0 / 3.0,
		},
		{
			name:           "duplicate custom keyword counts once",
			message:        "urgent",
			custom:         []string{"URGENT", " "},
			wantEscalate:   true,
			wantKeywords:   []string{"urgent"},
			wantConfidence: 1.0 / 3.0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := d.Detect(tt.message, tt.custom)
			if got.ShouldEscalate != tt.wantEscalate {
				t.Errorf("ShouldEscalate = %v, want %v", got.ShouldEscalate, tt.wantEscalate)
			}
			if !slices.Equal(got.DetectedKeywords, tt.wantKeywords) {
				t.Errorf("DetectedKeywords = %v, want %v", got.DetectedKeywords, tt.wantKeywords)
			}
			if got.Confidence != tt.wantConfidence {
				t.Errorf("Confidence = %v, want %v", got.Confidence, tt.wantConfidence)
			}
		})
	}
}

func TestDetectReasonListsFirstThree(t *testing.T) {
	got := NewDetector(nil).Detect("urgent emergency asap immediately", nil)
	want := "Detected 4 escalation keyword(s): urgent, emergency, asap"
	if got.Reason != want {
		t.Errorf("Reason = %q, want %q", got.Reason, want)
	}
	if none := NewDetector(nil).Detect("hello", nil); none.Reason != "" {
		t.Errorf("Reason without matches = %q, want empty", none.Reason)
	}
}

func TestDetectConfidenceInRange(t *testing.T) {
	d := NewDetector(nil)
	for _, msg := range []string{"help", "urgent help", "this is urgent, please help", "urgent help error crash"} {
		c := d.Detect(msg, nil).Confidence
		if c <= 0 || c > 1 {
			t.Errorf("Detect(%q).Confidence = %v, want in (0,1]", msg, c)
		}
	}
}

func TestDetectConcurrent(t *testing.T) {
	d := NewDetector(nil)
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !d.Detect("please escalate to a manager", []string{"refund"}).ShouldEscalate {
				t.Error("expected escalation")
			}
		}()
	}
	wg.Wait()
}
