//go:build go1.18

package domain

import "testing"

// FuzzParseRunID checks parsing never panics and valid IDs round-trip.
func FuzzParseRunID(f *testing.F) {
	f.Add("")
	f.Add("550e8400-e29b-41d4-a716-446655440000")
	f.Add("00000000-0000-0000-0000-000000000000")
	f.Add("not-a-uuid")
	f.Add("'; DROP TABLE audit_events;--")
	f.Add(string([]byte{0x00, 0x01, 0x02}))

	f.Fuzz(func(t *testing.T, input string) {
		id, err := ParseRunID(input)
		if err != nil {
			return
		}
		if id.IsNil() {
			t.Fatal("parsed nil run id")
		}
		roundTrip, err := ParseRunID(id.String())
		if err != nil || roundTrip != id {
			t.Fatalf("round-trip failed for %q", input)
		}
	})
}

// FuzzParsePolicyID checks accepted IDs never carry whitespace.
func FuzzParsePolicyID(f *testing.F) {
	f.Add("POL-1")
	f.Add(" POL")
	f.Add("POL\n")

	f.Fuzz(func(t *testing.T, input string) {
		id, err := ParsePolicyID(input)
		if err != nil {
			return
		}
		for _, r := range string(id) {
			if r == ' ' || r == '\n' || r == '\t' {
				t.Fatalf("accepted whitespace in %q", input)
			}
		}
	})
}
