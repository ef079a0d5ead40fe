package helpers

import "testing"

func TestTitleFromFilename(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"clip1.mov", "clip1"},
		{"some folder/clip2.MOV", "clip2"},
		{"no_extension", "no_extension"},
		{"dots.in.name.mov", "dots.in.name"},
		{".mov", ".mov"},
	}
	for _, c := range cases {
		if got := TitleFromFilename(c.in); got != c.want {
			t.Fatalf("TitleFromFilename(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestSanitizeFilename(t *testing.T) {
	if got := SanitizeFilename(`a/b:c*d?e"f>g<h|i.mov`); got != "a_b_c_d_e_f_g_h_i.mov" {
		t.Fatalf("sanitized = %q", got)
	}
}

func TestNormalizeExtensions(t *testing.T) {
	got := NormalizeExtensions([]string{"MOV", ".mp4", "", "  avi "})
	want := []string{".mov", ".mp4", ".avi"}
	if len(got) != len(want) {
		t.Fatalf("normalized = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("normalized[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestHasAllowedExtension(t *testing.T) {
	exts := []string{".mov"}
	if !HasAllowedExtension("CLIP.MOV", exts) {
		t.Fatal("uppercase extension should match")
	}
	if HasAllowedExtension("clip.mp4", exts) {
		t.Fatal("non-listed extension should not match")
	}
	if !HasAllowedExtension("anything.bin", nil) {
		t.Fatal("empty filter should allow everything")
	}
}
