package schema

import (
	"errors"
	"testing"
)

func TestLoad_CompilesEmbeddedSchemas(t *testing.T) {
	set, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	for _, name := range []string{RuleSet, ProbeStorage, ProbeCanvas, ProbeHijack, ProbeCookieSync} {
		if _, ok := set.schemas[name]; !ok {
			t.Errorf("expected schema %s to be compiled", name)
		}
	}
}

func TestValidate_ProbePayloads(t *testing.T) {
	tests := []struct {
		name    string
		schema  string
		payload string
		valid   bool
	}{
		{"canvas", ProbeCanvas, `{"reads":3,"suspect":true}`, true},
		{"canvas null", ProbeCanvas, `null`, false},
		{"canvas empty object", ProbeCanvas, `{}`, false},
		{"canvas unrelated keys only", ProbeCanvas, `{"foo":1}`, false},
		{"canvas wrong type", ProbeCanvas, `{"reads":"many"}`, false},
		{"canvas negative count", ProbeCanvas, `{"reads":-1}`, false},
		{"canvas array", ProbeCanvas, `[{"reads":1}]`, false},
		{"hijack", ProbeHijack, `{"hookScripts":["https://evil.example/h.js"],"popupFlood":true}`, true},
		{"hijack null", ProbeHijack, `null`, false},
		{"hijack string scripts", ProbeHijack, `{"hookScripts":"x"}`, false},
		{"storage", ProbeStorage, `{"localStorageKeys":["k1"]}`, true},
		{"storage number keys", ProbeStorage, `{"cacheBuckets":[1]}`, false},
		{"cookie sync", ProbeCookieSync, `[{"sourceCookieName":"uid","recipientDomain":"sync.example","kind":"raw"}]`, true},
		{"cookie sync empty list", ProbeCookieSync, `[]`, true},
		{"cookie sync object", ProbeCookieSync, `{"sourceCookieName":"uid"}`, false},
		{"cookie sync bad kind", ProbeCookieSync, `[{"sourceCookieName":"uid","recipientDomain":"a.example","kind":"fuzzy"}]`, false},
		{"cookie sync null", ProbeCookieSync, `null`, false},
		{"empty", ProbeCanvas, ``, false},
		{"whitespace", ProbeCanvas, "  \n", false},
		{"malformed", ProbeCanvas, `{"reads":`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.schema, []byte(tt.payload))
			if tt.valid && err != nil {
				t.Errorf("expected valid, got: %v", err)
			}
			if !tt.valid && !errors.Is(err, ErrInvalid) {
				t.Errorf("expected ErrInvalid, got: %v", err)
			}
		})
	}
}

func TestValidate_RuleSet(t *testing.T) {
	tests := []struct {
		name  string
		doc   string
		valid bool
	}{
		{"default", `{"enabled":true,"deepCookieSyncCheck":false,"allow":[],"block":[],"regex":[],"site":{}}`, true},
		{"with lists", `{"enabled":false,"block":["ads.example"],"customLists":{"social":{"enabled":true,"patterns":["*.fb.example"]}}}`, true},
		{"temp allows", `{"enabled":true,"site":{"disabled":["a.example"],"tempAllows":{"b.example":"2026-01-01T00:00:00Z"}}}`, true},
		{"missing enabled", `{"block":[]}`, false},
		{"unknown field", `{"enabled":true,"blok":["x"]}`, false},
		{"pattern not string", `{"enabled":true,"allow":[1]}`, false},
		{"empty pattern", `{"enabled":true,"regex":[""]}`, false},
		{"list without patterns", `{"enabled":true,"customLists":{"x":{"enabled":true}}}`, false},
		{"null", `null`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(RuleSet, []byte(tt.doc))
			if tt.valid && err != nil {
				t.Errorf("expected valid, got: %v", err)
			}
			if !tt.valid && !errors.Is(err, ErrInvalid) {
				t.Errorf("expected ErrInvalid, got: %v", err)
			}
		})
	}
}

func TestValidate_UnknownSchema(t *testing.T) {
	if err := Validate("battery.json", []byte(`{}`)); !errors.Is(err, ErrUnknownSchema) {
		t.Errorf("expected ErrUnknownSchema, got: %v", err)
	}
}

func BenchmarkValidate_Canvas(b *testing.B) {
	payload := []byte(`{"reads":12,"blobs":1,"measures":3,"suspect":true}`)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = Validate(ProbeCanvas, payload)
	}
}
