package content

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"vk-telegram-mirror/locale"
	"vk-telegram-mirror/vk"
)

var (
	bracketLinkPattern = regexp.MustCompile(`\[([^\[|]+)\|([^\]]+)\]`)
	shortIDPattern     = regexp.MustCompile(`^(id|club)\d+$`)
	vkLinkPattern      = regexp.MustCompile(`^(https?://)?(m\.)?vk\.com(/[\w\-.~:/?#\[\]@&()*+,;%="ёЁа-яА-Я]*)?$`)
)

// NameResolver looks up display names of users and communities.
type NameResolver interface {
	GetUsers(ctx context.Context, ids []int) ([]vk.User, error)
	GetGroups(ctx context.Context, ids []int) ([]vk.Group, error)
}

// Composer builds the header and footer of posts and playlists.
type Composer struct {
	names   NameResolver
	strings locale.Strings
}

// NewComposer creates a Composer.
func NewComposer(names NameResolver, texts locale.Strings) *Composer {
	return &Composer{names: names, strings: texts}
}

// ComposePost builds the text of one post. groups is the community list returned with
// the post and is used to name the owner of a repost. Name lookups are not optional:
// if one fails, the whole unit fails.
func (c *Composer) ComposePost(ctx context.Context, post vk.Post, bundle *Bundle, groups []vk.Group, isRepost bool) (TextBlock, error) {
	footer, err := c.postFooter(ctx, post, bundle, groups, isRepost)
	if err != nil {
		return TextBlock{}, err
	}
	return TextBlock{Header: postHeader(post, bundle), Footer: footer}, nil
}

// ComposePlaylist builds the text of a playlist.
func (c *Composer) ComposePlaylist(pl *vk.Playlist, title string) TextBlock {
	header := html.EscapeString(title)
	if pl.Description != "" {
		header += "\n\n" + ConvertLinks(pl.Description)
	}
	footer := "\n\n📌 " + htmlLink(playlistURL(pl.OwnerID, pl.ID, pl.AccessKey), c.strings.VKPlaylist)
	return TextBlock{Header: header, Footer: footer}
}

// Link previews only work when the URL is on the first line, so previewable videos go
// above the text.
func postHeader(post vk.Post, bundle *Bundle) string {
	var b strings.Builder
	for _, v := range bundle.Videos {
		if v.Previewable() {
			b.WriteString("\n📺 " + htmlLink(v.URL, v.Title))
		}
	}
	if post.Text != "" {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(ConvertLinks(post.Text))
	}
	return strings.TrimLeft(b.String(), " \t\r\n")
}

func (c *Composer) postFooter(ctx context.Context, post vk.Post, bundle *Bundle, groups []vk.Group, isRepost bool) (string, error) {
	var b strings.Builder

	if post.PostType == vk.PostTypeReply && post.FromID != 0 {
		link, err := c.commentatorLink(ctx, post.FromID)
		if err != nil {
			return "", err
		}
		b.WriteString("\n\n📝 " + link)
	}

	if bundle.Market != nil {
		b.WriteString("\n\n🛍️ " + htmlLink(bundle.Market.URL(), bundle.Market.Title))
	}

	if bundle.Link != nil {
		b.WriteString("\n\n🔗 " + htmlLink(bundle.Link.URL, bundle.Link.Caption))
	}

	if post.Copyright != nil && post.Copyright.Link != "" {
		b.WriteString("\n\n📎 " + htmlLink(post.Copyright.Link, c.strings.Source+": "+post.Copyright.Name))
	}

	if post.SignerID != 0 {
		users, err := c.names.GetUsers(ctx, []int{post.SignerID})
		if err != nil {
			return "", fmt.Errorf("get signer %d: %w", post.SignerID, err)
		}
		b.WriteString("\n\n👤 " + htmlLink(fmt.Sprintf("https://vk.com/id%d", post.SignerID), users[0].FullName()))
	}

	b.WriteString(c.selfLink(post, groups, isRepost))
	return b.String(), nil
}

func (c *Composer) commentatorLink(ctx context.Context, fromID int) (string, error) {
	if fromID < 0 {
		groups, err := c.names.GetGroups(ctx, []int{-fromID})
		if err != nil {
			return "", fmt.Errorf("get commentator group %d: %w", -fromID, err)
		}
		return htmlLink(fmt.Sprintf("https://vk.com/public%d", -fromID), groups[0].Name), nil
	}

	users, err := c.names.GetUsers(ctx, []int{fromID})
	if err != nil {
		return "", fmt.Errorf("get commentator %d: %w", fromID, err)
	}
	return htmlLink(fmt.Sprintf("https://vk.com/id%d", fromID), users[0].FullName()), nil
}

func (c *Composer) selfLink(post vk.Post, groups []vk.Group, isRepost bool) string {
	href := fmt.Sprintf("https://vk.com/wall%d_%d", post.OwnerID, post.ID)
	if !isRepost {
		return "\n\n📌 " + htmlLink(href, c.strings.VKPost)
	}

	switch post.PostType {
	case vk.PostTypeVideo:
		href = fmt.Sprintf("https://vk.com/video%d_%d", post.OwnerID, post.ID)
	case vk.PostTypePhoto:
		href = fmt.Sprintf("https://vk.com/photo%d_%d", post.OwnerID, post.ID)
	}

	title := c.strings.VKRepost
	for _, g := range groups {
		if g.ID == abs(post.OwnerID) {
			title += ": " + g.Name
			break
		}
	}
	return "\n\n🔁 " + htmlLink(href, title)
}

// ConvertLinks escapes text and turns VK "[target|title]" mentions into links. Targets
// like id123 and club123 are expanded to vk.com URLs; targets that are not VK URLs are
// left as they were.
func ConvertLinks(text string) string {
	escaped := html.EscapeString(text)
	return bracketLinkPattern.ReplaceAllStringFunc(escaped, func(m string) string {
		sub := bracketLinkPattern.FindStringSubmatch(m)
		target, title := sub[1], sub[2]

		if shortIDPattern.MatchString(target) {
			target = "https://vk.com/" + target
		}
		if vkLinkPattern.MatchString(target) {
			// Both parts come from already escaped text.
			return `<a href="` + target + `">` + title + `</a>`
		}
		return "[" + target + "|" + title + "]"
	})
}

func htmlLink(href, title string) string {
	return `<a href="` + html.EscapeString(href) + `">` + html.EscapeString(title) + `</a>`
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
