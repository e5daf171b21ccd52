package sanitizer

import (
	"strings"
	"testing"
	"unicode/utf8"

	"pgregory.net/rapid"
)

func TestSanitize_KnownInputs(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		maxLength int
		expected  string
	}{
		{
			name:      "script block removed with content",
			input:     "<script>x</script>hello",
			maxLength: 100,
			expected:  "hello",
		},
		{
			name:      "denylisted characters stripped",
			input:     `a'b"c<d>e&f`,
			maxLength: 100,
			expected:  "abcef",
		},
		{
			name:      "uppercase script with attributes",
			input:     `<SCRIPT type="text/javascript">alert('x')</SCRIPT>park`,
			maxLength: 100,
			expected:  "park",
		},
		{
			name:      "inline tags dropped, text kept",
			input:     "<b>สวน</b><i>สาธารณะ</i>",
			maxLength: 100,
			expected:  "สวนสาธารณะ",
		},
		{
			name:      "escaped tags do not survive",
			input:     "&lt;img src=x onerror=alert(1)&gt;ok",
			maxLength: 100,
			expected:  "ok",
		},
		{
			name:      "whitespace trimmed",
			input:     "   lake view \n\t",
			maxLength: 100,
			expected:  "lake view",
		},
		{
			name:      "truncated by runes",
			input:     "สวนสาธารณะ",
			maxLength: 3,
			expected:  "สวน",
		},
		{
			name:      "default max length",
			input:     strings.Repeat("a", 500),
			maxLength: 0,
			expected:  strings.Repeat("a", DefaultMaxLength),
		},
		{
			name:      "empty input",
			input:     "",
			maxLength: 10,
			expected:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sanitize(tt.input, tt.maxLength); got != tt.expected {
				t.Errorf("Sanitize(%q, %d) = %q, want %q", tt.input, tt.maxLength, got, tt.expected)
			}
		})
	}
}

// For any input, the output contains no denied characters, is trimmed and
// fits within maxLength runes.
func TestProperty_SanitizeBounds(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		input := rapid.String().Draw(t, "input")
		maxLength := rapid.IntRange(1, 300).Draw(t, "maxLength")

		result := Sanitize(input, maxLength)

		if strings.ContainsAny(result, deniedChars) {
			t.Fatalf("denied character in output %q (input %q)", result, input)
		}
		if utf8.RuneCountInString(result) > maxLength {
			t.Fatalf("output %q longer than %d runes", result, maxLength)
		}
		if result != strings.TrimSpace(result) {
			t.Fatalf("output %q is not trimmed", result)
		}
		if !utf8.ValidString(result) {
			t.Fatalf("output %q is not valid UTF-8", result)
		}
	})
}

// Plain text without markup or denied characters passes through unchanged.
func TestProperty_SanitizePlainTextIdentity(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		input := rapid.StringMatching(`[a-zA-Z0-9ก-ฮ]([a-zA-Z0-9ก-ฮ ,.]{0,80}[a-zA-Z0-9ก-ฮ])?`).Draw(t, "input")

		if got := Sanitize(input, 200); got != input {
			t.Fatalf("Sanitize(%q) = %q, want unchanged", input, got)
		}
	})
}

func TestSanitize_Idempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		input := rapid.String().Draw(t, "input")
		once := Sanitize(input, 100)
		if twice := Sanitize(once, 100); twice != once {
			t.Fatalf("not idempotent: %q -> %q -> %q", input, once, twice)
		}
	})
}
