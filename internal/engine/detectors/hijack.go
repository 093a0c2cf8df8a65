package detectors

// Hijack indicator names.
const (
	IndicatorHookScript   = "hookScript"
	IndicatorBeforeUnload = "beforeUnload"
	IndicatorPopupFlood   = "popupFlood"
)

// HijackReport is what the in-page probe sends for hijack heuristics.
type HijackReport struct {
	HookScripts  []string `json:"hookScripts"`
	BeforeUnload bool     `json:"beforeUnload"`
	PopupFlood   bool     `json:"popupFlood"`
}

// HijackAssessment summarizes a HijackReport.
type HijackAssessment struct {
	Suspect    bool         `json:"suspect"`
	Indicators []string     `json:"indicators"`
	Report     HijackReport `json:"report"`
}

// AssessHijack marks a page suspect when any indicator is present.
func AssessHijack(r HijackReport) HijackAssessment {
	indicators := []string{}
	if len(r.HookScripts) > 0 {
		indicators = append(indicators, IndicatorHookScript)
	}
	if r.BeforeUnload {
		indicators = append(indicators, IndicatorBeforeUnload)
	}
	if r.PopupFlood {
		indicators = append(indicators, IndicatorPopupFlood)
	}
	return HijackAssessment{
		Suspect:    len(indicators) > 0,
		Indicators: indicators,
		Report:     r,
	}
}
