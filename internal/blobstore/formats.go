package blobstore

import (
	"mime"
	"path"
	"strings"

	"github.com/rohits-web03/memoscribe/internal/apperr"
)

// FormatSet is an allow-list of file extensions, without the leading dot.
type FormatSet []string

var (
	AudioFormats = FormatSet{"mp4", "m4a", "mp3", "wav", "mpeg", "webm", "ogg"}
	ImageFormats = FormatSet{"jpg", "jpeg", "png"}
)

var contentTypes = map[string]string{
	"mp4":  "audio/mp4",
	"m4a":  "audio/mp4",
	"mp3":  "audio/mpeg",
	"mpeg": "audio/mpeg",
	"wav":  "audio/wav",
	"webm": "audio/webm",
	"ogg":  "audio/ogg",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
}

// aliases maps MIME subtypes that browsers send onto allow-listed extensions.
var aliases = map[string]string{
	"x-m4a":   "m4a",
	"x-wav":   "wav",
	"wave":    "wav",
	"vnd.wav": "wav",
	"mp3":     "mp3",
	"x-mp3":   "mp3",
}

func (f FormatSet) Contains(ext string) bool {
	for _, e := range f {
		if e == ext {
			return true
		}
	}
	return false
}

// Validate resolves a content hint to an allow-listed extension. The hint may
// be a MIME type ("audio/wav"), a bare extension ("wav", ".wav") or a file
// name ("memo.wav").
func (f FormatSet) Validate(hint string) (string, error) {
	raw := strings.ToLower(strings.TrimSpace(hint))
	if raw == "" {
		return "", apperr.UnsupportedFormat(hint)
	}

	var ext string
	if strings.Contains(raw, "/") {
		mediaType, _, err := mime.ParseMediaType(raw)
		if err != nil {
			return "", apperr.UnsupportedFormat(hint)
		}
		sub := mediaType[strings.Index(mediaType, "/")+1:]
		if a, ok := aliases[sub]; ok {
			sub = a
		}
		ext = sub
	} else if e := path.Ext(raw); e != "" {
		ext = strings.TrimPrefix(e, ".")
	} else {
		ext = raw
	}

	if !f.Contains(ext) {
		return "", apperr.UnsupportedFormat(hint)
	}
	return ext, nil
}
