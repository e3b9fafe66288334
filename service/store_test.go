package service

import (
	"encoding/base64"
	"testing"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

func TestSniffImage(t *testing.T) {
	cases := []struct {
		name    string
		encoded string
		want    string
		wantErr bool
	}{
		{
			name:    "png data url",
			encoded: "data:image/png;base64,iVBORw0KGgo=",
			want:    "image/png",
		},
		{
			name:    "jpeg data url",
			encoded: "data:image/jpeg;base64,/9j/4AAQ",
			want:    "image/jpeg",
		},
		{
			name:    "non-image data url",
			encoded: "data:text/plain;base64,aGVsbG8=",
			wantErr: true,
		},
		{
			name:    "bare base64 png",
			encoded: base64.StdEncoding.EncodeToString(pngHeader),
			want:    "image/png",
		},
		{
			name:    "bare base64 text",
			encoded: base64.StdEncoding.EncodeToString([]byte("just some text")),
			wantErr: true,
		},
		{
			name:    "not base64 at all",
			encoded: "!!not-base64!!",
			wantErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mime, err := SniffImage(tc.encoded)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", mime)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if mime != tc.want {
				t.Fatalf("expected %q got %q", tc.want, mime)
			}
		})
	}
}

func TestWatch_StopIsIdempotent(t *testing.T) {
	stops := 0
	w := NewWatch(func() { stops++ })

	w.Stop()
	w.Stop()

	if stops != 1 {
		t.Fatalf("stop must run once, ran %d times", stops)
	}

	var nilWatch *Watch
	nilWatch.Stop() // must not panic
}
