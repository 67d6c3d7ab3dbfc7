package creatorlane

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
)

func TestUploadAttachment(t *testing.T) {
	t.Run("happy path", func(t *testing.T) {
		data := []byte("hello upload")
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost || r.URL.Path != "/attachments" {
				t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			}
			if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
				t.Errorf("expected multipart content type, got %q", r.Header.Get("Content-Type"))
			}
			file, header, err := r.FormFile("file")
			if err != nil {
				t.Fatalf("FormFile: %v", err)
			}
			defer file.Close()
			if header.Filename != "notes.txt" {
				t.Errorf("expected filename notes.txt, got %s", header.Filename)
			}
			got, _ := io.ReadAll(file)
			if string(got) != string(data) {
				t.Errorf("file content mismatch")
			}
			json.NewEncoder(w).Encode(Attachment{
				ID: "att-1", Name: header.Filename, Size: int64(len(got)), MimeType: "text/plain",
			})
		})

		att, err := client.UploadAttachment(context.Background(), data, "notes.txt", "text/plain")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if att.ID != "att-1" || att.Size != int64(len(data)) {
			t.Fatalf("unexpected attachment: %+v", att)
		}
	})

	t.Run("missing filename", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			t.Error("server should not be reached")
		})
		_, err := client.UploadAttachment(context.Background(), []byte("x"), "", "")
		if err == nil || !strings.Contains(err.Error(), "filename") {
			t.Fatalf("expected filename error, got: %v", err)
		}
	})

	t.Run("oversized payload rejected locally", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			t.Error("server should not be reached")
		})
		big := make([]byte, MaxAttachmentSize+1)
		_, err := client.UploadAttachment(context.Background(), big, "big.bin", "")
		if err == nil || !strings.Contains(err.Error(), "maximum size") {
			t.Fatalf("expected size error, got: %v", err)
		}
	})

	t.Run("server rejection surfaces body", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnsupportedMediaType)
			w.Write([]byte(`{"message":"type not allowed"}`))
		})
		_, err := client.UploadAttachment(context.Background(), []byte("x"), "virus.exe", "")
		if err == nil || !strings.Contains(err.Error(), "415") {
			t.Fatalf("expected 415 error, got: %v", err)
		}
	})
}

func TestGuessMimeType(t *testing.T) {
	cases := []struct {
		filename string
		want     string
	}{
		{"photo.png", "image/png"},
		{"clip.webm", "video/webm"},
		{"readme.md", "text/markdown"},
		{"deck.pdf", "application/pdf"},
		{"noext", "application/octet-stream"},
		{"data.unknownext", "application/octet-stream"},
	}
	for _, tc := range cases {
		if got := guessMimeType(tc.filename); got != tc.want {
			t.Errorf("guessMimeType(%q) = %q, want %q", tc.filename, got, tc.want)
		}
	}
}
