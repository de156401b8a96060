package content

import (
	"context"
	"fmt"

	"vk-telegram-mirror/locale"
	"vk-telegram-mirror/vk"
)

type fakeSource struct {
	posts        *vk.ExtendedPosts
	postErr      error
	audios       []vk.Audio
	videos       []vk.Video
	users        map[int]vk.User
	groups       map[int]vk.Group
	usersErr     error
	playlist     *vk.Playlist
	plAudios     []vk.Audio
	plErr        error
	audioCall    int
	videoCall    int
	plAudioCall  int
	plAudioCount int
	lastDepth    int
}

func (f *fakeSource) GetExtendedPost(ctx context.Context, ownerID, postID, historyDepth int) (*vk.ExtendedPosts, error) {
	f.lastDepth = historyDepth
	if f.postErr != nil {
		return nil, f.postErr
	}
	return f.posts, nil
}

func (f *fakeSource) GetAudiosByIDs(ctx context.Context, ids []string) ([]vk.Audio, error) {
	f.audioCall++
	var out []vk.Audio
	for _, a := range f.audios {
		if a.URL != "" {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeSource) GetVideosByIDs(ctx context.Context, ids []string) ([]vk.Video, error) {
	f.videoCall++
	return f.videos, nil
}

func (f *fakeSource) GetUsers(ctx context.Context, ids []int) ([]vk.User, error) {
	if f.usersErr != nil {
		return nil, f.usersErr
	}
	u, ok := f.users[ids[0]]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", ids[0], vk.ErrNotFound)
	}
	return []vk.User{u}, nil
}

func (f *fakeSource) GetGroups(ctx context.Context, ids []int) ([]vk.Group, error) {
	g, ok := f.groups[ids[0]]
	if !ok {
		return nil, fmt.Errorf("group %d: %w", ids[0], vk.ErrNotFound)
	}
	return []vk.Group{g}, nil
}

func (f *fakeSource) GetPlaylist(ctx context.Context, ownerID, playlistID int, accessKey string) (*vk.Playlist, error) {
	if f.plErr != nil {
		return nil, f.plErr
	}
	return f.playlist, nil
}

func (f *fakeSource) GetPlaylistAudios(ctx context.Context, ownerID, playlistID int, accessKey string, count int) ([]vk.Audio, error) {
	f.plAudioCall++
	f.plAudioCount = count
	return f.plAudios, nil
}

type fakeTitles struct {
	title string
	err   error
}

func (f fakeTitles) Title(ctx context.Context, pageURL string) (string, error) {
	return f.title, f.err
}

func english() locale.Strings {
	s, _ := locale.For("en")
	return s
}

func singlePost(p vk.Post) *vk.ExtendedPosts {
	return &vk.ExtendedPosts{Items: []vk.Post{p}}
}
