package delivery

import "vk-telegram-mirror/content"

type firstKind int

const (
	firstMedia firstKind = iota
	firstPreview
	firstDocument
	firstAudios
	firstText
)

// firstMessage is what the opening message of a unit carries.
type firstMessage struct {
	kind     firstKind
	photos   []string
	videos   []content.Video
	document content.Document
	audios   []content.Audio
}

// captioned reports whether the unit text is the caption of a file.
func (f firstMessage) captioned() bool {
	switch f.kind {
	case firstMedia, firstDocument, firstAudios:
		return true
	default:
		return false
	}
}

// remaining is what is sent as replies after the opening message, in field order.
type remaining struct {
	geo       *content.Geo
	poll      *content.Poll
	audios    []content.Audio
	documents []content.Document
	playlist  *content.Playlist
}

// plan picks the opening message by priority: photos and uploaded videos, then a
// link preview, then the first document, then the first audio batch, then plain
// text. Whatever the opening message consumes is left out of remaining.
func plan(b content.Bundle) (firstMessage, remaining) {
	rest := remaining{
		geo:       b.Geo,
		poll:      b.Poll,
		audios:    b.Audios,
		documents: b.Documents,
		playlist:  b.Playlist,
	}

	uploads := b.UploadVideos()
	switch {
	case len(b.Photos) > 0 || len(uploads) > 0:
		return firstMessage{kind: firstMedia, photos: b.Photos, videos: uploads}, rest

	case b.HasLinkPreview():
		return firstMessage{kind: firstPreview}, rest

	case len(b.Documents) > 0:
		rest.documents = b.Documents[1:]
		return firstMessage{kind: firstDocument, document: b.Documents[0]}, rest

	case len(b.Audios) > 0:
		n := min(len(b.Audios), batchSize)
		rest.audios = b.Audios[n:]
		return firstMessage{kind: firstAudios, audios: b.Audios[:n]}, rest

	default:
		return firstMessage{kind: firstText}, rest
	}
}
