package escalation

import (
	"fmt"
	"strings"
)

// DefaultKeywords is the built-in escalation vocabulary. Tenant keywords are
// appended to it, never substituted.
var DefaultKeywords = []string{
	// urgency
	"urgent", "emergency", "asap", "immediately", "critical",
	"help", "assistant", "support",
	// frustration
	"angry", "frustrated", "upset", "annoyed", "irritated",
	"unacceptable", "ridiculous", "terrible", "awful",
	// failures
	"broken", "crash", "error", "not working", "fail",
	"down", "offline", "issue", "problem",
	// asking for a person
	"manager", "supervisor", "escalate", "escalation",
	"speak to", "talk to", "human", "person",
}

// maxReasonKeywords bounds how many matches are listed in Detection.Reason.
const maxReasonKeywords = 3

// Detection is the detector verdict for one message.
type Detection struct {
	ShouldEscalate   bool     `json:"should_escalate"`
	DetectedKeywords []string `json:"detected_keywords"`
	Confidence       float64  `json:"confidence"`
	Reason           string   `json:"reason,omitempty"`
}

// Detector scores messages for escalation likelihood. It holds no mutable
// state and is safe for concurrent use.
type Detector struct {
	base []string
}

// NewDetector returns a detector over base, or DefaultKeywords when base is empty.
func NewDetector(base []string) *Detector {
	if len(base) == 0 {
		base = DefaultKeywords
	}
	return &Detector{base: base}
}

// Detect matches message against the base keywords plus custom, case-insensitively
// by substring. Each keyword counts once; confidence reaches 1.0 at three matches.
func (d *Detector) Detect(message string, custom []string) Detection {
	text := strings.ToLower(message)

	detected := []string{}
	seen := make(map[string]struct{}, len(d.base)+len(custom))
	match := func(keyword string) {
		kw := strings.ToLower(strings.TrimSpace(keyword))
		if kw == "" {
			return
		}
		if _, dup := seen[kw]; dup {
			return
		}
		seen[kw] = struct{}{}
		if strings.Contains(text, kw) {
			detected = append(detected, keyword)
		}
	}
	for _, kw := range d.base {
		match(kw)
	}
	for _, kw := range custom {
		match(kw)
	}

	confidence := float64(len(detected)) / 3.0
	if confidence > 1.0 {
		confidence = 1.0
	}

	result := Detection{
		ShouldEscalate:   len(detected) > 0,
		DetectedKeywords: detected,
		Confidence:       confidence,
	}
	if result.ShouldEscalate {
		listed := detected
		if len(listed) > maxReasonKeywords {
			listed = listed[:maxReasonKeywords]
		}
		result.Reason = fmt.Sprintf("Detected %d escalation keyword(s): %s", len(detected), strings.Join(listed, ", "))
	}
	return result
}
