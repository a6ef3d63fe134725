package gemini

import (
	"slices"
	"testing"
)

func TestChunks(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		raw  string
		want []string
	}{
		{
			"chunked array",
			`[{"candidates":[{"content":{"parts":[{"text":"Hello"}]}}]},
			 {"candidates":[{"content":{"parts":[{"text":" world."}]}}]}]`,
			[]string{"Hello", " world."},
		},
		{
			"escapes",
			`{"text": "line\nbreak \"quoted\""}`,
			[]string{"line\nbreak \"quoted\""},
		},
		{
			"no chunks",
			`{"error":{"message":"boom"}}`,
			nil,
		},
		{
			"unicode escape",
			`{"text":"日本語"}`,
			[]string{"日本語"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var got []string
			for chunk := range Chunks([]byte(tc.raw)) {
				got = append(got, chunk)
			}
			if !slices.Equal(got, tc.want) {
				t.Errorf("Chunks = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestChunksEarlyStop(t *testing.T) {
	t.Parallel()
	raw := `[{"text":"a"},{"text":"b"},{"text":"c"}]`
	var got []string
	for chunk := range Chunks([]byte(raw)) {
		got = append(got, chunk)
		if len(got) == 2 {
			break
		}
	}
	if !slices.Equal(got, []string{"a", "b"}) {
		t.Errorf("got %q", got)
	}
}

func TestExtractErrorReason(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"api error", `{"error":{"code":400,"message":"API key not valid","status":"INVALID_ARGUMENT"}}`, "API key not valid"},
		{"block reason", `{"promptFeedback":{"blockReason":"SAFETY"}}`, "SAFETY"},
		{"nothing", `{"candidates":[]}`, ""},
		{"garbage", `not json at all`, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ExtractErrorReason([]byte(tc.raw)); got != tc.want {
				t.Errorf("ExtractErrorReason = %q, want %q", got, tc.want)
			}
		})
	}
}
