package sanitize

import "testing"

func TestText(t *testing.T) {
	cases := map[string]string{
		"  Jane   Doe ":                     "Jane Doe",
		"<b>Nurse</b>":                      "Nurse",
		"&lt;script&gt;alert(1)&lt;/script&gt;": "alert(1)",
		"line\nbreak":                       "line break",
	}
	for in, want := range cases {
		if got := Text(in); got != want {
			t.Errorf("Text(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTextPtrDropsEmpty(t *testing.T) {
	blank := "  <br/> "
	if got := TextPtr(&blank); got != nil {
		t.Fatalf("expected nil for blank input, got %q", *got)
	}
	if got := TextPtr(nil); got != nil {
		t.Fatalf("expected nil passthrough")
	}
}
