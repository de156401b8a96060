package content

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vk-telegram-mirror/markup"
	"vk-telegram-mirror/vk"
)

func TestConvertLinks(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"hello [https://vk.com/wall-1_2|post]", `hello <a href="https://vk.com/wall-1_2">post</a>`},
		{"[id1|Pavel]", `<a href="https://vk.com/id1">Pavel</a>`},
		{"[club42|Club]", `<a href="https://vk.com/club42">Club</a>`},
		{"[https://evil.example|click]", "[https://evil.example|click]"},
		{"a < b & c", "a &lt; b &amp; c"},
		{"[id1|<b>]", `<a href="https://vk.com/id1">&lt;b&gt;</a>`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ConvertLinks(tt.in), tt.in)
	}
}

func TestComposedLinkSurvivesSplit(t *testing.T) {
	header := ConvertLinks("hello [https://vk.com/wall-1_2|post]")

	parts := markup.Split(header, "", DefaultLimits.Message)
	require.Len(t, parts, 1)
	assert.Equal(t, `hello <a href="https://vk.com/wall-1_2">post</a>`, markup.Unparse(parts[0]))
}

func TestComposePostFooterOrder(t *testing.T) {
	src := &fakeSource{
		users:  map[int]vk.User{7: {ID: 7, FirstName: "Ann", LastName: "Lee"}},
		groups: map[int]vk.Group{5: {ID: 5, Name: "Commenters"}},
	}
	post := vk.Post{
		ID: 2, OwnerID: -1, FromID: -5, SignerID: 7,
		PostType:  vk.PostTypeReply,
		Text:      "body",
		Copyright: &vk.Copyright{Link: "https://src.example", Name: "Src"},
	}
	bundle := &Bundle{
		Market: &Market{ID: 3, OwnerID: -1, Title: "Shirt"},
		Link:   &Link{Caption: "example.com", URL: "https://example.com"},
	}

	text, err := NewComposer(src, english()).ComposePost(context.Background(), post, bundle, nil, false)
	require.NoError(t, err)

	assert.Equal(t, "body", text.Header)
	markers := []string{"📝", "🛍️", "🔗", "📎", "👤", "📌"}
	last := -1
	for _, m := range markers {
		i := strings.Index(text.Footer, m)
		require.GreaterOrEqual(t, i, 0, m)
		assert.Greater(t, i, last, m)
		last = i
	}
	assert.Contains(t, text.Footer, `<a href="https://vk.com/public5">Commenters</a>`)
	assert.Contains(t, text.Footer, `<a href="https://vk.com/id7">Ann Lee</a>`)
	assert.Contains(t, text.Footer, `<a href="https://src.example">Source: Src</a>`)
	assert.True(t, strings.HasSuffix(text.Footer, `<a href="https://vk.com/wall-1_2">VK post</a>`))
}

func TestComposePostRepostBadge(t *testing.T) {
	groups := []vk.Group{{ID: 9, Name: "Music &amp; more"}, {ID: 1, Name: "Origin"}}
	post := vk.Post{ID: 456, OwnerID: -1, PostType: vk.PostTypeVideo}

	text, err := NewComposer(&fakeSource{}, english()).ComposePost(context.Background(), post, &Bundle{}, groups, true)
	require.NoError(t, err)

	assert.Equal(t, "\n\n🔁 "+`<a href="https://vk.com/video-1_456">VK repost: Origin</a>`, text.Footer)
}

func TestComposePostPreviewableVideosLeadTheHeader(t *testing.T) {
	bundle := &Bundle{Videos: []Video{
		{Title: "Clip", URL: "https://youtube.com/watch?v=1", Platform: "YouTube"},
		{Title: "File", URL: "https://cdn/file.mp4"},
	}}
	post := vk.Post{ID: 1, OwnerID: 1, Text: "words"}

	text, err := NewComposer(&fakeSource{}, english()).ComposePost(context.Background(), post, bundle, nil, false)
	require.NoError(t, err)

	assert.Equal(t, `📺 <a href="https://youtube.com/watch?v=1">Clip</a>`+"\n\nwords", text.Header)
}

func TestComposePostNameLookupFailureFailsUnit(t *testing.T) {
	src := &fakeSource{usersErr: errors.New("rate limited")}
	post := vk.Post{ID: 1, OwnerID: -1, SignerID: 7}

	_, err := NewComposer(src, english()).ComposePost(context.Background(), post, &Bundle{}, nil, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestComposePlaylist(t *testing.T) {
	pl := &vk.Playlist{ID: 71, OwnerID: -2000, AccessKey: "k", Description: "see [id1|me]"}

	text := NewComposer(&fakeSource{}, english()).ComposePlaylist(pl, "A, B - Best")

	assert.Equal(t, "A, B - Best\n\nsee "+`<a href="https://vk.com/id1">me</a>`, text.Header)
	assert.Equal(t, "\n\n📌 "+`<a href="https://vk.com/music/playlist/-2000_71_k">VK playlist</a>`, text.Footer)
}
