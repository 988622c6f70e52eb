package server

import "testing"

func TestShouldSkipJWT(t *testing.T) {
	t.Parallel()

	cases := []struct {
		path string
		want bool
	}{
		{path: "/healthz", want: true},
		{path: "/unified-webhook/whatsapp", want: true},
		{path: "/unified-webhook/telegram", want: true},
		{path: "/unified-webhook", want: false},
		{path: "/unified-inbox/conversations", want: false},
		{path: "/integrations", want: false},
	}

	for _, tc := range cases {
		got := shouldSkipJWT(tc.path)
		if got != tc.want {
			t.Fatalf("path=%q want=%v got=%v", tc.path, tc.want, got)
		}
	}
}
