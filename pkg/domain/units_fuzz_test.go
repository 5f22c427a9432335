package domain

import "testing"

// FuzzParseUnits checks that parsing never panics and that anything accepted
// survives a FormatUnits round trip unchanged.
func FuzzParseUnits(f *testing.F) {
	f.Add("256.12903", 10)
	f.Add("1000", 18)
	f.Add("-0.0000000001", 10)
	f.Add("", 0)
	f.Add("1.", 2)

	f.Fuzz(func(t *testing.T, input string, decimals int) {
		if decimals < 0 || decimals > 77 {
			t.Skip()
		}
		v, err := ParseUnits(input, decimals)
		if err != nil {
			return
		}
		again, err := ParseUnits(FormatUnits(v, decimals), decimals)
		if err != nil {
			t.Fatalf("formatted value did not parse: %v", err)
		}
		if again.Cmp(v) != 0 {
			t.Fatalf("round trip changed %s into %s", v, again)
		}
	})
}
