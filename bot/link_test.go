package bot

import (
	"testing"

	"vk-telegram-mirror/storage"
)

func TestParseLink(t *testing.T) {
	tests := []struct {
		input string
		want  Link
		ok    bool
	}{
		{"https://vk.com/wall-1_2", Link{Kind: storage.WallTask, OwnerID: -1, ItemID: 2}, true},
		{"vk.com/wall-1_2", Link{Kind: storage.WallTask, OwnerID: -1, ItemID: 2}, true},
		{"m.vk.com/wall-15_300", Link{Kind: storage.WallTask, OwnerID: -15, ItemID: 300}, true},
		{"https://www.vk.com/wall5_6", Link{Kind: storage.WallTask, OwnerID: 5, ItemID: 6}, true},
		{"https://vk.com/club1?w=wall-1_2", Link{Kind: storage.WallTask, OwnerID: -1, ItemID: 2}, true},
		{"look at this https://vk.com/wall-1_2 please", Link{Kind: storage.WallTask, OwnerID: -1, ItemID: 2}, true},
		{"https://vk.com/music/playlist/-1_2", Link{Kind: storage.PlaylistTask, OwnerID: -1, ItemID: 2}, true},
		{"vk.com/music/album/-1_2_abc", Link{Kind: storage.PlaylistTask, OwnerID: -1, ItemID: 2, AccessKey: "abc"}, true},
		{"https://m.vk.com/audio?act=audio_playlist-1_2", Link{Kind: storage.PlaylistTask, OwnerID: -1, ItemID: 2}, true},
		{"https://vk.com/audios1?z=audio_playlist-1_2%2Fdef", Link{Kind: storage.PlaylistTask, OwnerID: -1, ItemID: 2, AccessKey: "def"}, true},
		{"", Link{}, false},
		{"hello", Link{}, false},
		{"https://example.com/wall-1_2", Link{}, false},
		{"https://example.com/music/playlist/-1_2", Link{}, false},
		{"https://vk.com/music/playlist/abc", Link{}, false},
		{"https://vk.com/wall0_2", Link{}, false},
	}

	for _, tt := range tests {
		got, ok := ParseLink(tt.input)
		if ok != tt.ok {
			t.Errorf("ParseLink(%q) ok = %v, want %v", tt.input, ok, tt.ok)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLink(%q) = %+v, want %+v", tt.input, got, tt.want)
		}
	}
}
