package bot

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"vk-telegram-mirror/storage"
)

var (
	wallRegex       = regexp.MustCompile(`(?:https?://)?(?:www\.|m\.)?vk\.com/\S*?wall(-?\d+)_(\d+)`)
	playlistIDRegex = regexp.MustCompile(`^(-?\d+)_(\d+)(?:[_/]([A-Za-z0-9]+))?$`)
)

var vkHosts = map[string]bool{
	"vk.com":     true,
	"www.vk.com": true,
	"m.vk.com":   true,
}

// Link identifies a wall post or a playlist referenced by a user.
type Link struct {
	Kind      storage.TaskKind `json:"kind"`
	OwnerID   int              `json:"owner_id"`
	ItemID    int              `json:"item_id"`
	AccessKey string           `json:"access_key,omitempty"`
}

// ParseLink extracts a wall post or playlist reference from a message.
// Playlists are recognized by /music/playlist/, /music/album/ paths and by
// z= or act= query values starting with audio_playlist.
func ParseLink(text string) (Link, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Link{}, false
	}
	if link, ok := parsePlaylist(text); ok {
		return link, true
	}
	return parseWall(text)
}

func parseWall(text string) (Link, bool) {
	m := wallRegex.FindStringSubmatch(text)
	if m == nil {
		return Link{}, false
	}
	owner, err := strconv.Atoi(m[1])
	if err != nil || owner == 0 {
		return Link{}, false
	}
	post, err := strconv.Atoi(m[2])
	if err != nil || post == 0 {
		return Link{}, false
	}
	return Link{Kind: storage.WallTask, OwnerID: owner, ItemID: post}, true
}

func parsePlaylist(text string) (Link, bool) {
	raw := strings.Fields(text)[0]
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || !vkHosts[strings.ToLower(u.Hostname())] {
		return Link{}, false
	}

	for _, prefix := range []string{"/music/playlist/", "/music/album/"} {
		if id, ok := strings.CutPrefix(u.Path, prefix); ok {
			return playlistLink(id)
		}
	}

	query := u.Query()
	for _, key := range []string{"z", "act"} {
		if id, ok := strings.CutPrefix(query.Get(key), "audio_playlist"); ok {
			return playlistLink(id)
		}
	}
	return Link{}, false
}

func playlistLink(id string) (Link, bool) {
	m := playlistIDRegex.FindStringSubmatch(strings.TrimSuffix(id, "/"))
	if m == nil {
		return Link{}, false
	}
	owner, err := strconv.Atoi(m[1])
	if err != nil || owner == 0 {
		return Link{}, false
	}
	playlist, err := strconv.Atoi(m[2])
	if err != nil {
		return Link{}, false
	}
	return Link{Kind: storage.PlaylistTask, OwnerID: owner, ItemID: playlist, AccessKey: m[3]}, true
}
